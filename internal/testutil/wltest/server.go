package wltest

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/wlproto/internal/protocol/frame"
	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

const displayID uint32 = 1

// Global is an announcement the fake compositor makes on get_registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Request is one request the fake compositor decoded.
type Request struct {
	ObjectID  uint32
	Interface string
	Message   string
	Args      []wire.Value
}

// Server is a minimal compositor: it answers get_registry with its globals,
// sync with done followed by delete_id, records bind, and acknowledges
// destructor requests with delete_id. Everything else is only recorded.
type Server struct {
	t    testing.TB
	conn net.Conn
	set  *schema.Set

	mu         sync.Mutex
	globals    []Global
	objects    map[uint32]*schema.Interface
	registries []uint32
	requests   []Request
	holdSyncs  bool
	heldSyncs  []uint32
	serial     uint32
	onBind     map[string]func(id uint32)

	out  chan []byte
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Start runs a fake compositor on one end of an in-memory pipe and returns
// it with the client end. Both are closed on test cleanup.
func Start(t testing.TB, globals ...Global) (*Server, net.Conn) {
	t.Helper()
	client, peer := net.Pipe()
	s := Serve(t, peer, Core(t), globals...)
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

// Serve runs the fake compositor on conn.
func Serve(t testing.TB, conn net.Conn, set *schema.Set, globals ...Global) *Server {
	t.Helper()
	s := newServer(t, conn, set, globals)
	s.start()
	return s
}

func newServer(t testing.TB, conn net.Conn, set *schema.Set, globals []Global) *Server {
	t.Helper()
	display, ok := set.Lookup("wl_display")
	if !ok {
		t.Fatalf("wltest: schema set has no wl_display")
	}
	return &Server{
		t:       t,
		conn:    conn,
		set:     set,
		globals: append([]Global(nil), globals...),
		objects: map[uint32]*schema.Interface{displayID: display},
		onBind:  make(map[string]func(id uint32)),
		out:     make(chan []byte, 256),
		stop:    make(chan struct{}),
	}
}

func (s *Server) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	s.t.Cleanup(s.Close)
}

// Close disconnects the client and stops the server goroutines.
func (s *Server) Close() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
	s.wg.Wait()
}

// HoldSyncs makes the server record sync callbacks instead of answering
// them until ReleaseSync is called.
func (s *Server) HoldSyncs(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdSyncs = hold
}

// HeldSyncs returns the callback ids of unanswered syncs.
func (s *Server) HeldSyncs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.heldSyncs...)
}

// ReleaseSync answers the held sync for callback id.
func (s *Server) ReleaseSync(id uint32) {
	s.mu.Lock()
	for i, held := range s.heldSyncs {
		if held == id {
			s.heldSyncs = append(s.heldSyncs[:i], s.heldSyncs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.finishCallback(id)
}

// OnBind runs fn with the new object id whenever the client binds a global
// of the interface, the way a compositor describes an object right after
// the bind.
func (s *Server) OnBind(iface string, fn func(id uint32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBind[iface] = fn
}

// Requests returns every decoded request so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsNamed returns the decoded requests for interface.message.
func (s *Server) RequestsNamed(iface, message string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Interface == iface && r.Message == message {
			out = append(out, r)
		}
	}
	return out
}

// ObjectInterface returns the interface the server believes id has.
func (s *Server) ObjectInterface(id uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface, ok := s.objects[id]
	if !ok {
		return "", false
	}
	return iface.Name, true
}

// Announce adds a global and sends it to every registry object.
func (s *Server) Announce(g Global) {
	s.mu.Lock()
	s.globals = append(s.globals, g)
	registries := append([]uint32(nil), s.registries...)
	s.mu.Unlock()
	for _, id := range registries {
		s.SendEvent(id, "wl_registry", "global", wire.Uint(g.Name), wire.String(g.Interface), wire.Uint(g.Version))
	}
}

// Retract removes a global and sends global_remove to every registry.
func (s *Server) Retract(name uint32) {
	s.mu.Lock()
	for i, g := range s.globals {
		if g.Name == name {
			s.globals = append(s.globals[:i], s.globals[i+1:]...)
			break
		}
	}
	registries := append([]uint32(nil), s.registries...)
	s.mu.Unlock()
	for _, id := range registries {
		s.SendEvent(id, "wl_registry", "global_remove", wire.Uint(name))
	}
}

// DeleteID sends display delete_id and forgets the object.
func (s *Server) DeleteID(id uint32) {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	s.SendEvent(displayID, "wl_display", "delete_id", wire.Uint(id))
}

// SendError sends a display error event.
func (s *Server) SendError(objectID, code uint32, message string) {
	s.SendEvent(displayID, "wl_display", "error", wire.Object(objectID), wire.Uint(code), wire.String(message))
}

// SendEvent encodes and queues one event.
func (s *Server) SendEvent(objectID uint32, ifaceName, event string, values ...wire.Value) {
	s.SendRaw(s.EncodeEvent(objectID, ifaceName, event, values...))
}

// EncodeEvent encodes one event without sending it.
func (s *Server) EncodeEvent(objectID uint32, ifaceName, event string, values ...wire.Value) []byte {
	iface, ok := s.set.Lookup(ifaceName)
	if !ok {
		s.t.Fatalf("wltest: unknown interface %q", ifaceName)
	}
	ev, ok := iface.Event(event)
	if !ok {
		s.t.Fatalf("wltest: %s has no event %q", ifaceName, event)
	}
	msg, err := wire.EncodeEvent(objectID, iface, ev.Opcode, values)
	if err != nil {
		s.t.Fatalf("wltest: encode %s.%s: %v", ifaceName, event, err)
	}
	return msg
}

// SendRaw queues bytes to be written to the client in one write.
func (s *Server) SendRaw(b []byte) {
	select {
	case s.out <- b:
	case <-s.stop:
	}
}

func (s *Server) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := s.conn.Write(b); err != nil {
				log.Debug().Err(err).Msg("wltest.writeLoop stopped")
				return
			}
		}
	}
}

func (s *Server) readLoop() {
	defer s.wg.Done()
	for {
		m, err := frame.ReadMessage(s.conn)
		if err != nil {
			log.Debug().Err(err).Msg("wltest.readLoop stopped")
			return
		}
		s.handle(m)
	}
}

func (s *Server) handle(m frame.Message) {
	s.mu.Lock()
	iface, ok := s.objects[m.Header.ObjectID]
	s.mu.Unlock()
	if !ok {
		s.SendError(m.Header.ObjectID, 0, "invalid object")
		return
	}
	req, values, err := wire.DecodeRequest(iface, m.Header.Opcode, m.Payload)
	if err != nil {
		s.SendError(m.Header.ObjectID, 1, err.Error())
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		ObjectID:  m.Header.ObjectID,
		Interface: iface.Name,
		Message:   req.Name,
		Args:      values,
	})
	for i, arg := range req.Args {
		if arg.Type != schema.ArgNewID {
			continue
		}
		name := arg.Interface
		if arg.Dynamic() {
			name = values[i].Interface
		}
		if created, ok := s.set.Lookup(name); ok {
			s.objects[values[i].Uint] = created
		}
	}
	s.mu.Unlock()

	switch {
	case iface.Name == "wl_display" && req.Name == "sync":
		id := values[0].Uint
		s.mu.Lock()
		hold := s.holdSyncs
		if hold {
			s.heldSyncs = append(s.heldSyncs, id)
		}
		s.mu.Unlock()
		if !hold {
			s.finishCallback(id)
		}
	case iface.Name == "wl_display" && req.Name == "get_registry":
		id := values[0].Uint
		s.mu.Lock()
		s.registries = append(s.registries, id)
		globals := append([]Global(nil), s.globals...)
		s.mu.Unlock()
		for _, g := range globals {
			s.SendEvent(id, "wl_registry", "global", wire.Uint(g.Name), wire.String(g.Interface), wire.Uint(g.Version))
		}
	case iface.Name == "wl_registry" && req.Name == "bind":
		id := values[1]
		s.mu.Lock()
		fn := s.onBind[id.Interface]
		s.mu.Unlock()
		if fn != nil {
			fn(id.Uint)
		}
	case req.Destructor():
		s.DeleteID(m.Header.ObjectID)
	}
}

func (s *Server) finishCallback(id uint32) {
	s.mu.Lock()
	s.serial++
	serial := s.serial
	s.mu.Unlock()
	s.SendEvent(id, "wl_callback", "done", wire.Uint(serial))
	s.DeleteID(id)
}
