package session

import (
	"strconv"

	"github.com/go-faster/errors"

	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/frame"
	"github.com/danmuck/wlproto/internal/protocol/registry"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// dispatchBuffer dispatches every complete message in buf in order and
// returns the incomplete tail. A framing error is returned after the
// messages preceding it have been dispatched.
func (c *Conn) dispatchBuffer(buf []byte) ([]byte, error) {
	msgs, rest, err := frame.Split(buf)
	for _, m := range msgs {
		if c.isClosed() {
			return nil, nil
		}
		if derr := c.dispatch(m); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	return rest, nil
}

// dispatch decodes one message and runs the built-in bookkeeping before any
// subscriber. Only a malformed payload is returned; other failures are
// reported and dispatch continues with the next message.
func (c *Conn) dispatch(m frame.Message) error {
	iface, err := c.objects.Lookup(m.Header.ObjectID)
	if err != nil {
		c.reportDispatchError("unknown_object", err)
		return nil
	}
	ev, args, err := wire.DecodeEvent(iface, m.Header.Opcode, m.Payload)
	if err != nil {
		var mErr *protocol.MalformedMessageError
		if errors.As(err, &mErr) {
			mErr.ObjectID = m.Header.ObjectID
			return err
		}
		c.reportDispatchError("codec", errors.Wrapf(err, "object_id=%d", m.Header.ObjectID))
		return nil
	}
	e := Event{ObjectID: m.Header.ObjectID, Interface: iface, Message: ev, Args: args}

	c.logger.Trace().
		Uint32("object_id", e.ObjectID).
		Str("interface", iface.Name).
		Str("message", ev.Name).
		Uint16("opcode", ev.Opcode).
		Msg("session.dispatch")
	if c.metrics {
		observability.RecordMessage(observability.DirectionIn, iface.Name, ev.Name)
	}

	c.handleBuiltin(e)
	c.publish(e)
	return nil
}

func (c *Conn) handleBuiltin(e Event) {
	switch {
	case e.ObjectID == registry.DisplayID && e.Message.Opcode == c.core.displayError:
		pErr := &protocol.ProtocolError{
			ObjectID: e.Args[0].Uint,
			Code:     e.Args[1].Uint,
			Message:  e.Args[2].Str,
		}
		c.logger.Error().
			Uint32("object_id", pErr.ObjectID).
			Uint32("code", pErr.Code).
			Str("message", pErr.Message).
			Msg("session.dispatch protocol error")
		c.errMu.Lock()
		c.lastProto = pErr
		c.errMu.Unlock()
		if c.onError != nil {
			c.onError(pErr)
		}

	case e.ObjectID == registry.DisplayID && e.Message.Opcode == c.core.displayDeleteID:
		id := e.Args[0].Uint
		if !c.objects.Release(id) {
			c.logger.Warn().Uint32("object_id", id).Msg("session.dispatch delete_id for unbound id")
		}
		c.dropSubscriptions(id)
		c.logger.Trace().Uint32("object_id", id).Msg("session.dispatch released id")

	case e.ObjectID == c.registryID.Load() && e.Message.Opcode == c.core.registryGlobal:
		c.addGlobal(Global{
			Name:      e.Args[0].Uint,
			Interface: e.Args[1].Str,
			Version:   e.Args[2].Uint,
		})

	case e.ObjectID == c.registryID.Load() && e.Message.Opcode == c.core.registryGlobalRemove:
		c.removeGlobal(e.Args[0].Uint)

	case e.Interface == c.core.callback && e.Message.Opcode == c.core.callbackDone:
		if _, ok := c.syncs.resolve(e.ObjectID, e.Args[0].Uint); !ok {
			c.logger.Trace().Uint32("callback_id", e.ObjectID).Msg("session.dispatch done without waiter")
		}
	}
}

func (c *Conn) publish(e Event) {
	for _, s := range c.handlers(subKey{objectID: e.ObjectID, opcode: e.Message.Opcode}) {
		if err := s.handler(e); err != nil {
			c.logger.Warn().
				Err(err).
				Uint32("object_id", e.ObjectID).
				Str("interface", e.Interface.Name).
				Str("message", e.Message.Name).
				Msg("session.dispatch handler failed")
		}
	}
}

func (c *Conn) reportDispatchError(kind string, err error) {
	c.logger.Warn().Err(err).Str("kind", kind).Msg("session.dispatch dropped message")
	if c.metrics {
		observability.RecordDispatchError(kind)
	}
	if c.onError != nil {
		c.onError(err)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
