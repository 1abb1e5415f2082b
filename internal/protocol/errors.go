package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrSchema           = errors.New("protocol: schema error")
	ErrCodec            = errors.New("protocol: codec error")
	ErrUnsupportedFD    = errors.New("protocol: file descriptor arguments are not supported")
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrUnknownObject    = errors.New("protocol: unknown object")
	ErrUnknownGlobal    = errors.New("protocol: unknown global")
	ErrProtocol         = errors.New("protocol: server reported error")
	ErrConnectionClosed = errors.New("protocol: connection closed")
)

// SchemaError reports a malformed or incomplete interface description.
type SchemaError struct {
	Source  string
	Element string
	Attr    string
	Reason  string
	Err     error
}

func (e *SchemaError) Error() string {
	msg := "schema"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Element != "" {
		msg += ": " + e.Element
	}
	switch {
	case e.Attr != "":
		msg += fmt.Sprintf(": missing required attribute %q", e.Attr)
	case e.Reason != "":
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// CodecError reports an argument that cannot be encoded or decoded.
// It is fatal to the offending call only.
type CodecError struct {
	Interface string
	Message   string
	Arg       string
	Reason    string
	Err       error
}

func (e *CodecError) Error() string {
	msg := "codec"
	if e.Interface != "" || e.Message != "" {
		msg += fmt.Sprintf(" %s.%s", e.Interface, e.Message)
	}
	if e.Arg != "" {
		msg += fmt.Sprintf(" arg=%s", e.Arg)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) Is(target error) bool { return target == ErrCodec }

// MalformedMessageError reports a frame or length violation. The stream is
// desynchronized after one of these and the connection must be closed.
type MalformedMessageError struct {
	ObjectID  uint32
	Size      int
	Available int
	Reason    string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf(
		"malformed message object_id=%d size=%d available=%d: %s",
		e.ObjectID,
		e.Size,
		e.Available,
		e.Reason,
	)
}

func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }

// UnknownObjectError reports an id with no live registry binding.
type UnknownObjectError struct {
	ID uint32
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown object id=%d", e.ID)
}

func (e *UnknownObjectError) Is(target error) bool { return target == ErrUnknownObject }

// UnknownGlobalError reports a global name or interface the server has not
// announced (or has since retracted).
type UnknownGlobalError struct {
	Name      uint32
	Interface string
}

func (e *UnknownGlobalError) Error() string {
	if e.Interface != "" {
		return fmt.Sprintf("unknown global interface=%q", e.Interface)
	}
	return fmt.Sprintf("unknown global name=%d", e.Name)
}

func (e *UnknownGlobalError) Is(target error) bool { return target == ErrUnknownGlobal }

// ProtocolError is the payload of the display error event.
type ProtocolError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error object_id=%d code=%d: %s", e.ObjectID, e.Code, e.Message)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
