// Package frame splits the byte stream into messages and encodes the fixed
// 8-byte message header.
//
// Header layout, host byte order:
//
//	[0:4] object id
//	[4:8] size<<16 | opcode, size counting the header itself
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/wlproto/internal/protocol"
)

const (
	HeaderLen = 8
	// MaxMessageSize is the largest size the 16-bit field can carry while
	// staying 4-byte aligned.
	MaxMessageSize = 0xfffc
)

var ErrShortHeader = errors.New("frame: short message header")

// ByteOrder is the host byte order. Both peers share a machine, so the
// protocol never converts to network order.
var ByteOrder = binary.NativeEndian

// Header is the fixed message header.
type Header struct {
	ObjectID uint32
	Size     uint16
	Opcode   uint16
}

// Message is one complete wire message. Payload excludes the header.
type Message struct {
	Header  Header
	Payload []byte
}

// Validate checks the declared size against the framing rules.
func (h Header) Validate() error {
	if h.Size < HeaderLen {
		return &protocol.MalformedMessageError{
			ObjectID: h.ObjectID,
			Size:     int(h.Size),
			Reason:   "declared size smaller than header",
		}
	}
	if h.Size%4 != 0 {
		return &protocol.MalformedMessageError{
			ObjectID: h.ObjectID,
			Size:     int(h.Size),
			Reason:   "declared size not 4-byte aligned",
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), h)
}

func AppendHeader(dst []byte, h Header) []byte {
	dst = ByteOrder.AppendUint32(dst, h.ObjectID)
	return ByteOrder.AppendUint32(dst, uint32(h.Size)<<16|uint32(h.Opcode))
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	word := ByteOrder.Uint32(b[4:8])
	return Header{
		ObjectID: ByteOrder.Uint32(b[0:4]),
		Size:     uint16(word >> 16),
		Opcode:   uint16(word & 0xffff),
	}, nil
}

// Split frames every complete message in buf strictly by the declared size
// field. Bytes of a trailing incomplete message are returned as rest so the
// caller can prepend them to the next read. Payloads alias buf.
func Split(buf []byte) (msgs []Message, rest []byte, err error) {
	for len(buf) >= HeaderLen {
		h, err := DecodeHeader(buf[:HeaderLen])
		if err != nil {
			return msgs, buf, err
		}
		if err := h.Validate(); err != nil {
			return msgs, buf, withAvailable(err, len(buf))
		}
		if int(h.Size) > len(buf) {
			break
		}
		msgs = append(msgs, Message{Header: h, Payload: buf[HeaderLen:h.Size]})
		buf = buf[h.Size:]
	}
	return msgs, buf, nil
}

// SplitExact frames buf and treats any incomplete trailing message as
// malformed.
func SplitExact(buf []byte) ([]Message, error) {
	msgs, rest, err := Split(buf)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		return msgs, nil
	}
	mErr := &protocol.MalformedMessageError{Available: len(rest), Reason: "truncated message"}
	if len(rest) >= HeaderLen {
		h, _ := DecodeHeader(rest[:HeaderLen])
		mErr.ObjectID = h.ObjectID
		mErr.Size = int(h.Size)
		mErr.Reason = "declared size exceeds available bytes"
	}
	return nil, mErr
}

// ReadMessage reads exactly one message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}
	h, err := DecodeHeader(head[:])
	if err != nil {
		return Message{}, err
	}
	if err := h.Validate(); err != nil {
		return Message{}, err
	}
	payload := make([]byte, int(h.Size)-HeaderLen)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, &protocol.MalformedMessageError{
				ObjectID: h.ObjectID,
				Size:     int(h.Size),
				Reason:   "truncated payload: " + err.Error(),
			}
		}
	}
	return Message{Header: h, Payload: payload}, nil
}

// Encode builds the wire bytes for m, filling in the header size.
func Encode(m Message) ([]byte, error) {
	size := HeaderLen + len(m.Payload)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("frame: message size %d exceeds %d", size, MaxMessageSize)
	}
	if size%4 != 0 {
		return nil, fmt.Errorf("frame: message size %d not 4-byte aligned", size)
	}
	h := m.Header
	h.Size = uint16(size)
	out := AppendHeader(make([]byte, 0, size), h)
	return append(out, m.Payload...), nil
}

// WriteMessage writes m with a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func withAvailable(err error, available int) error {
	var mErr *protocol.MalformedMessageError
	if errors.As(err, &mErr) {
		mErr.Available = available
	}
	return err
}
