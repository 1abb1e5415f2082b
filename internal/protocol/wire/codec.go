// Package wire encodes request arguments and decodes event payloads using the
// argument type tags of a schema model.
package wire

import (
	"bytes"

	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/frame"
	"github.com/danmuck/wlproto/internal/protocol/schema"
)

var byteOrder = frame.ByteOrder

// EncodeRequest builds the complete message for request opcode on the object
// with the given id.
func EncodeRequest(objectID uint32, iface *schema.Interface, opcode uint16, values []Value) ([]byte, error) {
	req, ok := iface.RequestByOpcode(opcode)
	if !ok {
		return nil, &protocol.CodecError{
			Interface: iface.Name,
			Reason:    "no request with opcode " + itoa(int(opcode)),
		}
	}
	payload, err := EncodeArgs(nil, req.Args, values)
	if err != nil {
		return nil, withMessage(err, iface.Name, req.Name)
	}
	msg, err := frame.Encode(frame.Message{
		Header:  frame.Header{ObjectID: objectID, Opcode: opcode},
		Payload: payload,
	})
	if err != nil {
		return nil, &protocol.CodecError{Interface: iface.Name, Message: req.Name, Err: err}
	}
	return msg, nil
}

// DecodeEvent decodes payload as event opcode of iface.
func DecodeEvent(iface *schema.Interface, opcode uint16, payload []byte) (schema.Message, []Value, error) {
	ev, ok := iface.EventByOpcode(opcode)
	if !ok {
		return schema.Message{}, nil, &protocol.CodecError{
			Interface: iface.Name,
			Reason:    "no event with opcode " + itoa(int(opcode)),
		}
	}
	values, err := DecodeArgs(ev.Args, payload)
	if err != nil {
		return ev, nil, withMessage(err, iface.Name, ev.Name)
	}
	return ev, values, nil
}

// EncodeArgs appends the encoded values to dst in argument order.
func EncodeArgs(dst []byte, args []schema.Arg, values []Value) ([]byte, error) {
	if len(args) != len(values) {
		return nil, &protocol.CodecError{
			Reason: "argument count mismatch: want " + itoa(len(args)) + " got " + itoa(len(values)),
		}
	}
	for i, arg := range args {
		v := values[i]
		if arg.Type == schema.ArgFD || v.Type == schema.ArgFD {
			return nil, &protocol.CodecError{Arg: arg.Name, Err: protocol.ErrUnsupportedFD}
		}
		if !compatible(arg.Type, v.Type) {
			return nil, &protocol.CodecError{
				Arg:    arg.Name,
				Reason: "value type " + v.Type.String() + " does not match " + arg.Type.String(),
			}
		}
		var err error
		switch arg.Type {
		case schema.ArgInt, schema.ArgFixed:
			if v.Type == schema.ArgInt || v.Type == schema.ArgFixed {
				dst = byteOrder.AppendUint32(dst, uint32(v.Int))
			} else {
				dst = byteOrder.AppendUint32(dst, v.Uint)
			}
		case schema.ArgUint, schema.ArgEnum, schema.ArgObject:
			if v.Type == schema.ArgInt {
				dst = byteOrder.AppendUint32(dst, uint32(v.Int))
			} else {
				dst = byteOrder.AppendUint32(dst, v.Uint)
			}
		case schema.ArgNewID:
			if arg.Dynamic() {
				if v.Interface == "" {
					return nil, &protocol.CodecError{Arg: arg.Name, Reason: "dynamic new_id requires an interface name"}
				}
				if dst, err = appendString(dst, v.Interface); err != nil {
					return nil, &protocol.CodecError{Arg: arg.Name, Err: err}
				}
				dst = byteOrder.AppendUint32(dst, v.Version)
			}
			dst = byteOrder.AppendUint32(dst, v.Uint)
		case schema.ArgString:
			if dst, err = appendString(dst, v.Str); err != nil {
				return nil, &protocol.CodecError{Arg: arg.Name, Err: err}
			}
		case schema.ArgArray:
			dst = appendArray(dst, v.Bytes)
		default:
			return nil, &protocol.CodecError{Arg: arg.Name, Reason: "unsupported type " + arg.Type.String()}
		}
	}
	return dst, nil
}

// EncodeEvent builds the complete message for event opcode. Servers and
// test peers use it; a client only decodes events.
func EncodeEvent(objectID uint32, iface *schema.Interface, opcode uint16, values []Value) ([]byte, error) {
	ev, ok := iface.EventByOpcode(opcode)
	if !ok {
		return nil, &protocol.CodecError{
			Interface: iface.Name,
			Reason:    "no event with opcode " + itoa(int(opcode)),
		}
	}
	payload, err := EncodeArgs(nil, ev.Args, values)
	if err != nil {
		return nil, withMessage(err, iface.Name, ev.Name)
	}
	msg, err := frame.Encode(frame.Message{
		Header:  frame.Header{ObjectID: objectID, Opcode: opcode},
		Payload: payload,
	})
	if err != nil {
		return nil, &protocol.CodecError{Interface: iface.Name, Message: ev.Name, Err: err}
	}
	return msg, nil
}

// DecodeRequest decodes payload as request opcode of iface, including
// new_id arguments. It is the server side counterpart of EncodeRequest.
func DecodeRequest(iface *schema.Interface, opcode uint16, payload []byte) (schema.Message, []Value, error) {
	req, ok := iface.RequestByOpcode(opcode)
	if !ok {
		return schema.Message{}, nil, &protocol.CodecError{
			Interface: iface.Name,
			Reason:    "no request with opcode " + itoa(int(opcode)),
		}
	}
	values, err := decodeArgs(req.Args, payload, true)
	if err != nil {
		return req, nil, withMessage(err, iface.Name, req.Name)
	}
	return req, values, nil
}

// DecodeArgs decodes payload against args. Every declared length is checked
// against the remaining payload and the payload must be consumed exactly.
func DecodeArgs(args []schema.Arg, payload []byte) ([]Value, error) {
	return decodeArgs(args, payload, false)
}

func decodeArgs(args []schema.Arg, payload []byte, newIDs bool) ([]Value, error) {
	r := reader{buf: payload}
	values := make([]Value, 0, len(args))
	for _, arg := range args {
		switch arg.Type {
		case schema.ArgInt:
			u, err := r.uint32(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, Int(int32(u)))
		case schema.ArgFixed:
			u, err := r.uint32(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, FixedValue(Fixed(int32(u))))
		case schema.ArgUint:
			u, err := r.uint32(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, Uint(u))
		case schema.ArgEnum:
			u, err := r.uint32(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, Enum(u))
		case schema.ArgObject:
			u, err := r.uint32(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, Object(u))
		case schema.ArgString:
			s, err := r.string(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, String(s))
		case schema.ArgArray:
			b, err := r.array(arg.Name)
			if err != nil {
				return nil, err
			}
			values = append(values, Value{Type: schema.ArgArray, Bytes: b})
		case schema.ArgNewID:
			if !newIDs {
				return nil, &protocol.CodecError{Arg: arg.Name, Reason: "new_id cannot be decoded from an event payload"}
			}
			v, err := r.newID(arg)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		case schema.ArgFD:
			return nil, &protocol.CodecError{Arg: arg.Name, Err: protocol.ErrUnsupportedFD}
		default:
			return nil, &protocol.CodecError{Arg: arg.Name, Reason: "unsupported type " + arg.Type.String()}
		}
	}
	if r.remaining() != 0 {
		return nil, &protocol.MalformedMessageError{
			Size:      len(payload),
			Available: r.remaining(),
			Reason:    "trailing bytes after last argument",
		}
	}
	return values, nil
}

func compatible(argType, valueType schema.ArgType) bool {
	if argType == valueType {
		return true
	}
	switch argType {
	case schema.ArgUint, schema.ArgEnum:
		return valueType == schema.ArgUint || valueType == schema.ArgEnum
	case schema.ArgInt:
		return valueType == schema.ArgEnum
	}
	return false
}

func appendString(dst []byte, s string) ([]byte, error) {
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return nil, errEmbeddedNUL
	}
	n := len(s) + 1
	dst = byteOrder.AppendUint32(dst, uint32(n))
	dst = append(dst, s...)
	dst = append(dst, 0)
	return appendPadding(dst, n), nil
}

func appendArray(dst []byte, b []byte) []byte {
	dst = byteOrder.AppendUint32(dst, uint32(len(b)))
	dst = append(dst, b...)
	return appendPadding(dst, len(b))
}

func appendPadding(dst []byte, n int) []byte {
	for i := 0; i < padding(n); i++ {
		dst = append(dst, 0)
	}
	return dst
}

func padding(n int) int {
	return (4 - n%4) % 4
}

func withMessage(err error, iface, message string) error {
	if cErr, ok := err.(*protocol.CodecError); ok {
		cErr.Interface = iface
		cErr.Message = message
	}
	return err
}
