package session

import (
	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Event is one decoded inbound message.
type Event struct {
	ObjectID  uint32
	Interface *schema.Interface
	Message   schema.Message
	Args      []wire.Value
}

// Arg returns the value of the named argument.
func (e Event) Arg(name string) (wire.Value, bool) {
	for i, a := range e.Message.Args {
		if a.Name == name && i < len(e.Args) {
			return e.Args[i], true
		}
	}
	return wire.Value{}, false
}

// Handler receives events for one (object, event) key. A returned error is
// logged and does not stop dispatch.
type Handler func(Event) error

type subKey struct {
	objectID uint32
	opcode   uint16
}

type subscription struct {
	seq     uint64
	handler Handler
}

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
