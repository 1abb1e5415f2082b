package session

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/registry"
	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Conn is one client connection to a compositor.
type Conn struct {
	cfg     Config
	logger  zerolog.Logger
	metrics bool
	onError func(error)

	sock    net.Conn
	set     *schema.Set
	core    coreProtocol
	objects *registry.Registry
	writeMu sync.Mutex

	subMu  sync.Mutex
	subSeq uint64
	subs   map[subKey][]subscription

	syncs *syncTable

	globalsMu      sync.RWMutex
	globals        []globalEntry
	onGlobal       []func(Global)
	onGlobalRemove []func(Global)
	registryID     atomic.Uint32

	state     atomic.Int32
	closed    chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	lastProto *protocol.ProtocolError
}

// NewConn takes ownership of sock, binds the display at id 1 and runs the
// handshake: get_registry followed by a sync, so every initial global
// announcement has been dispatched when NewConn returns.
func NewConn(ctx context.Context, sock net.Conn, set *schema.Set, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	core, err := resolveCore(set)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	c := &Conn{
		cfg:            o.config,
		logger:         o.logger,
		metrics:        o.metrics,
		onError:        o.onError,
		sock:           sock,
		set:            set,
		core:           core,
		objects:        registry.New(),
		subs:           make(map[subKey][]subscription),
		syncs:          newSyncTable(),
		onGlobal:       o.onGlobal,
		onGlobalRemove: o.onGlobalRemove,
		closed:         make(chan struct{}),
		readDone:       make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	if err := c.objects.Register(registry.DisplayID, core.display); err != nil {
		_ = sock.Close()
		return nil, err
	}

	c.state.Store(int32(StateHandshaking))
	go c.readLoop()
	if err := c.handshake(ctx); err != nil {
		c.closeWithErr(err)
		<-c.readDone
		return nil, err
	}
	if err := c.markReady(); err != nil {
		return nil, err
	}
	c.logger.Info().
		Int("globals", len(c.Globals())).
		Uint32("registry_id", c.registryID.Load()).
		Msg("session.NewConn ready")
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	// The id must be known before the request is written: global events
	// can be dispatched before SendRequest returns.
	id := c.objects.AllocateRegister(c.core.registry)
	c.registryID.Store(id)
	if _, err := c.SendRequest(registry.DisplayID, c.core.displayGetRegistry, wire.NewID(id)); err != nil {
		return errors.Wrap(err, "get_registry")
	}
	if _, err := c.Sync(hctx); err != nil {
		return errors.Wrap(err, "handshake sync")
	}
	return nil
}

// markReady ends the handshake. A connection closed before this point is
// torn down completely, read loop included, before the error is returned.
func (c *Conn) markReady() error {
	if c.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady)) {
		return nil
	}
	c.closeWithErr(nil)
	<-c.readDone
	return protocol.ErrConnectionClosed
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns nil while the connection is open, otherwise the close cause.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
	default:
		return nil
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return protocol.ErrConnectionClosed
	}
	return c.err
}

// LastProtocolError returns the most recent display error event, if any.
func (c *Conn) LastProtocolError() *protocol.ProtocolError {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastProto
}

// Close shuts the socket, fails pending syncs and waits for the read loop
// to exit.
func (c *Conn) Close() error {
	c.closeWithErr(nil)
	<-c.readDone
	return nil
}

func (c *Conn) closeWithErr(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()
		c.state.Store(int32(StateClosed))
		close(c.closed)
		_ = c.sock.Close()
		dropped := c.syncs.drain()

		ev := c.logger.Info()
		if cause != nil {
			ev = c.logger.Warn().Err(cause)
		}
		ev.Int("pending_syncs", len(dropped)).Msg("session.Conn closed")
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Schemas returns the interface set the connection decodes with.
func (c *Conn) Schemas() *schema.Set {
	return c.set
}

// AllocateID returns the lowest free object id without binding it.
func (c *Conn) AllocateID() uint32 {
	return c.objects.Allocate()
}

// Register binds id to the named interface.
func (c *Conn) Register(id uint32, ifaceName string) error {
	iface, err := c.lookupSchema(ifaceName)
	if err != nil {
		return err
	}
	return c.objects.Register(id, iface)
}

// NewObject allocates an id and binds it to the named interface in one
// step. Callers use it to install handlers before the request that creates
// the object is written.
func (c *Conn) NewObject(ifaceName string) (uint32, error) {
	iface, err := c.lookupSchema(ifaceName)
	if err != nil {
		return 0, err
	}
	return c.objects.AllocateRegister(iface), nil
}

// ReleaseID unbinds an id the server never learned about and drops its
// subscriptions. Ids the server created or acknowledged are released by
// its delete_id instead.
func (c *Conn) ReleaseID(id uint32) {
	if !c.objects.Release(id) {
		c.logger.Warn().Uint32("object_id", id).Msg("session.ReleaseID id not bound")
	}
	c.dropSubscriptions(id)
}

// Interface returns the descriptor currently bound to id.
func (c *Conn) Interface(id uint32) (*schema.Interface, error) {
	return c.objects.Lookup(id)
}

func (c *Conn) lookupSchema(name string) (*schema.Interface, error) {
	iface, ok := c.set.Lookup(name)
	if !ok {
		return nil, &protocol.SchemaError{Element: "interface " + name, Reason: "not loaded"}
	}
	return iface, nil
}

// Subscribe registers h for event on the object currently bound to
// objectID. The event name is resolved against that object's interface now;
// subscriptions are dropped when the server deletes the id.
func (c *Conn) Subscribe(objectID uint32, event string, h Handler) (func(), error) {
	iface, err := c.objects.Lookup(objectID)
	if err != nil {
		return nil, err
	}
	ev, ok := iface.Event(event)
	if !ok {
		return nil, &protocol.CodecError{Interface: iface.Name, Message: event, Reason: "no such event"}
	}
	key := subKey{objectID: objectID, opcode: ev.Opcode}

	c.subMu.Lock()
	c.subSeq++
	seq := c.subSeq
	c.subs[key] = append(c.subs[key], subscription{seq: seq, handler: h})
	c.subMu.Unlock()

	return func() { c.unsubscribe(key, seq) }, nil
}

func (c *Conn) unsubscribe(key subKey, seq uint64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := c.subs[key]
	for i, s := range subs {
		if s.seq == seq {
			c.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subs[key]) == 0 {
		delete(c.subs, key)
	}
}

func (c *Conn) dropSubscriptions(objectID uint32) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for key := range c.subs {
		if key.objectID == objectID {
			delete(c.subs, key)
		}
	}
}

func (c *Conn) handlers(key subKey) []subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := c.subs[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscription, len(subs))
	copy(out, subs)
	return out
}

// Sync sends a display sync request and waits for its done event. It
// returns the done event's callback data.
func (c *Conn) Sync(ctx context.Context) (uint32, error) {
	if c.isClosed() {
		return 0, protocol.ErrConnectionClosed
	}
	id := c.objects.AllocateRegister(c.core.callback)
	pending := c.syncs.add(id, time.Now())
	if _, err := c.SendRequest(registry.DisplayID, c.core.displaySync, wire.NewID(id)); err != nil {
		c.syncs.remove(id)
		_ = c.objects.Release(id)
		return 0, err
	}

	select {
	case data := <-pending.done:
		c.recordRoundtrip(pending)
		return data, nil
	case <-c.closed:
		select {
		case data := <-pending.done:
			c.recordRoundtrip(pending)
			return data, nil
		default:
		}
		return 0, protocol.ErrConnectionClosed
	case <-ctx.Done():
		c.syncs.remove(id)
		return 0, errors.Wrapf(ctx.Err(), "sync callback_id=%d", id)
	}
}

func (c *Conn) recordRoundtrip(p *pendingSync) {
	d := time.Since(p.IssuedAt)
	c.logger.Trace().Uint32("callback_id", p.CallbackID).Dur("elapsed", d).Msg("session.Sync done")
	if c.metrics {
		observability.RecordRoundtrip(d)
	}
}

// SendRequest encodes request opcode for objectID and writes it in one
// write. A new_id argument with id 0 is allocated here; every new_id is
// registered under its interface before the bytes are written. A caller
// supplied new_id must be free or already bound to the same interface. The
// first new_id's object id is returned, or 0 when the request creates
// nothing. On failure the registry is left as it was.
func (c *Conn) SendRequest(objectID uint32, opcode uint16, args ...wire.Value) (uint32, error) {
	if c.isClosed() {
		return 0, protocol.ErrConnectionClosed
	}
	iface, err := c.objects.Lookup(objectID)
	if err != nil {
		return 0, err
	}
	req, ok := iface.RequestByOpcode(opcode)
	if !ok {
		return 0, &protocol.CodecError{Interface: iface.Name, Reason: "no request with opcode " + itoa(int(opcode))}
	}
	values := append([]wire.Value(nil), args...)
	targets, err := c.newIDTargets(iface, req, values)
	if err != nil {
		return 0, err
	}

	// Ids allocated or claimed by this call; released again on failure.
	var owned []uint32
	rollback := func() {
		for _, id := range owned {
			_ = c.objects.Release(id)
		}
	}
	for _, nt := range targets {
		if values[nt.index].Uint == 0 {
			values[nt.index].Uint = c.objects.AllocateRegister(nt.iface)
			owned = append(owned, values[nt.index].Uint)
		}
	}
	msg, err := wire.EncodeRequest(objectID, iface, opcode, values)
	if err != nil {
		rollback()
		return 0, err
	}
	for _, nt := range targets {
		id := values[nt.index].Uint
		claimed, conflict := c.objects.Claim(id, nt.iface)
		if conflict != nil {
			rollback()
			return 0, newIDInUse(iface, req, nt, id, conflict)
		}
		if claimed {
			owned = append(owned, id)
		}
	}
	if err := c.write(msg); err != nil {
		rollback()
		return 0, err
	}

	c.logger.Trace().
		Uint32("object_id", objectID).
		Str("interface", iface.Name).
		Str("message", req.Name).
		Uint16("opcode", opcode).
		Msg("session.send")
	if c.metrics {
		observability.RecordMessage(observability.DirectionOut, iface.Name, req.Name)
	}
	if len(targets) == 0 {
		return 0, nil
	}
	return values[targets[0].index].Uint, nil
}

// SendRequestByName is SendRequest with the request named instead of
// numbered.
func (c *Conn) SendRequestByName(objectID uint32, request string, args ...wire.Value) (uint32, error) {
	iface, err := c.objects.Lookup(objectID)
	if err != nil {
		return 0, err
	}
	req, ok := iface.Request(request)
	if !ok {
		return 0, &protocol.CodecError{Interface: iface.Name, Message: request, Reason: "no such request"}
	}
	return c.SendRequest(objectID, req.Opcode, args...)
}

type newIDTarget struct {
	index int
	arg   string
	iface *schema.Interface
}

// newIDTargets resolves the interface of every new_id value without
// touching the registry. A caller supplied id bound to a different
// interface is rejected here.
func (c *Conn) newIDTargets(iface *schema.Interface, req schema.Message, values []wire.Value) ([]newIDTarget, error) {
	var out []newIDTarget
	for i, arg := range req.Args {
		if arg.Type != schema.ArgNewID || i >= len(values) || values[i].Type != schema.ArgNewID {
			continue
		}
		name := arg.Interface
		if arg.Dynamic() {
			name = values[i].Interface
		}
		if name == "" {
			continue
		}
		target, err := c.lookupSchema(name)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", iface.Name, req.Name)
		}
		nt := newIDTarget{index: i, arg: arg.Name, iface: target}
		if id := values[i].Uint; id != 0 {
			if cur, err := c.objects.Lookup(id); err == nil && cur != target {
				return nil, newIDInUse(iface, req, nt, id, cur)
			}
		}
		out = append(out, nt)
	}
	return out, nil
}

func newIDInUse(iface *schema.Interface, req schema.Message, nt newIDTarget, id uint32, cur *schema.Interface) error {
	return &protocol.CodecError{
		Interface: iface.Name,
		Message:   req.Name,
		Arg:       nt.arg,
		Reason:    "new_id " + itoa(int(id)) + " is bound to " + cur.Name,
	}
}

func (c *Conn) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return protocol.ErrConnectionClosed
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.sock.Write(msg); err != nil {
		c.closeWithErr(errors.Wrap(err, "write"))
		return errors.Wrap(protocol.ErrConnectionClosed, err.Error())
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	buf := make([]byte, c.cfg.ReadBufferBytes)
	var pending []byte
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			rest, ferr := c.dispatchBuffer(pending)
			if ferr != nil {
				c.logger.Error().Err(ferr).Msg("session.readLoop malformed message")
				if c.metrics {
					observability.RecordDispatchError("malformed")
				}
				c.closeWithErr(ferr)
				return
			}
			pending = append(pending[:0], rest...)
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			if errors.Is(err, io.EOF) {
				c.closeWithErr(errors.Wrap(protocol.ErrConnectionClosed, "server closed the connection"))
			} else {
				c.closeWithErr(errors.Wrap(err, "read"))
			}
			return
		}
	}
}
