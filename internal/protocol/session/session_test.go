package session

import (
	"context"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/frame"
	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/testutil/testlog"
	"github.com/danmuck/wlproto/internal/testutil/wltest"
)

var defaultGlobals = []wltest.Global{
	{Name: 1, Interface: "wl_compositor", Version: 6},
	{Name: 2, Interface: "wl_shm", Version: 2},
	{Name: 3, Interface: "wl_output", Version: 4},
}

func connect(t *testing.T, opts ...Option) (*Conn, *wltest.Server) {
	t.Helper()
	srv, client := wltest.Start(t, defaultGlobals...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := NewConn(ctx, client, wltest.Core(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, srv
}

func roundtrip(t *testing.T, conn *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := conn.Sync(ctx)
	require.NoError(t, err)
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		require.GreaterOrEqual(t, got, 200*time.Millisecond)
		require.Less(t, got, 600*time.Millisecond)
	}
}

func TestHandshakeCollectsInitialGlobals(t *testing.T) {
	testlog.Start(t)
	var announced []Global
	conn, srv := connect(t, OnGlobal(func(g Global) { announced = append(announced, g) }))

	require.Equal(t, StateReady, conn.State())
	want := []Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 2, Interface: "wl_shm", Version: 2},
		{Name: 3, Interface: "wl_output", Version: 4},
	}
	require.Equal(t, want, conn.Globals())
	require.Equal(t, want, announced)
	require.Equal(t, uint32(2), conn.registryID.Load())

	reqs := srv.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	require.Equal(t, "get_registry", reqs[0].Message)
	require.Equal(t, "sync", reqs[1].Message)
}

func TestHandshakeRequiresCoreInterfaces(t *testing.T) {
	testlog.Start(t)
	client, peer := net.Pipe()
	defer peer.Close()
	set, err := schema.NewSet(schema.NewInterface("wl_display", 1, nil, nil, nil))
	require.NoError(t, err)

	_, err = NewConn(context.Background(), client, set)
	require.ErrorIs(t, err, protocol.ErrSchema)
}

func TestHandshakeTimesOutWithoutServer(t *testing.T) {
	testlog.Start(t)
	client, peer := net.Pipe()
	defer peer.Close()
	go func() { _, _ = io.Copy(io.Discard, peer) }()

	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	_, err := NewConn(context.Background(), client, wltest.Core(t), WithConfig(cfg))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackToBackEventsDispatchInOrder(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	id, g, err := conn.BindInterface("wl_shm", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), g.Name)

	var formats []uint32
	_, err = conn.Subscribe(id, "format", func(e Event) error {
		v, ok := e.Arg("format")
		require.True(t, ok)
		formats = append(formats, v.Uint)
		return nil
	})
	require.NoError(t, err)

	first := srv.EncodeEvent(id, "wl_shm", "format", wire.Uint(0))
	second := srv.EncodeEvent(id, "wl_shm", "format", wire.Uint(0x34324258))
	srv.SendRaw(append(append([]byte(nil), first...), second...))

	roundtrip(t, conn)
	require.Equal(t, []uint32{0, 0x34324258}, formats)
}

func TestPartialMessageIsBuffered(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReadBufferBytes = 8
	conn, srv := connect(t, WithConfig(cfg))

	id, _, err := conn.BindInterface("wl_output", 0)
	require.NoError(t, err)

	type mode struct{ w, h, r int32 }
	var modes []mode
	_, err = conn.Subscribe(id, "mode", func(e Event) error {
		modes = append(modes, mode{e.Args[1].Int, e.Args[2].Int, e.Args[3].Int})
		return nil
	})
	require.NoError(t, err)

	msg := srv.EncodeEvent(id, "wl_output", "mode", wire.Uint(3), wire.Int(1920), wire.Int(1080), wire.Int(60000))
	srv.SendRaw(msg[:10])
	srv.SendRaw(msg[10:])

	roundtrip(t, conn)
	require.Equal(t, []mode{{1920, 1080, 60000}}, modes)
}

func TestSyncResolvesOnlyForItsOwnCallback(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)
	srv.HoldSyncs(true)

	type result struct {
		data uint32
		err  error
	}
	start := func() chan result {
		ch := make(chan result, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			data, err := conn.Sync(ctx)
			ch <- result{data, err}
		}()
		return ch
	}

	a := start()
	require.Eventually(t, func() bool { return len(srv.HeldSyncs()) == 1 }, time.Second, 5*time.Millisecond)
	b := start()
	require.Eventually(t, func() bool { return len(srv.HeldSyncs()) == 2 }, time.Second, 5*time.Millisecond)
	held := srv.HeldSyncs()

	srv.ReleaseSync(held[1])
	select {
	case r := <-b:
		require.NoError(t, r.err)
	case <-time.After(2 * time.Second):
		t.Fatalf("sync b did not resolve")
	}
	select {
	case <-a:
		t.Fatalf("sync a resolved on another callback's done")
	case <-time.After(50 * time.Millisecond):
	}

	srv.ReleaseSync(held[0])
	select {
	case r := <-a:
		require.NoError(t, r.err)
	case <-time.After(2 * time.Second):
		t.Fatalf("sync a did not resolve")
	}
}

func TestDeleteIDThenEventIsUnknownObject(t *testing.T) {
	testlog.Start(t)
	errs := make(chan error, 4)
	conn, srv := connect(t, WithDispatchErrorHandler(func(err error) { errs <- err }))

	id, _, err := conn.BindInterface("wl_output", 0)
	require.NoError(t, err)
	roundtrip(t, conn)

	srv.DeleteID(id)
	srv.SendEvent(id, "wl_output", "done")
	roundtrip(t, conn)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, protocol.ErrUnknownObject)
	default:
		t.Fatalf("expected a dispatch error")
	}
	_, err = conn.Interface(id)
	require.ErrorIs(t, err, protocol.ErrUnknownObject)
	require.Equal(t, StateReady, conn.State())
}

func TestDeleteIDDropsSubscriptions(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	id, _, err := conn.BindInterface("wl_output", 0)
	require.NoError(t, err)
	_, err = conn.Subscribe(id, "done", func(Event) error { return nil })
	require.NoError(t, err)
	roundtrip(t, conn)

	srv.DeleteID(id)
	roundtrip(t, conn)
	require.Empty(t, conn.handlers(subKey{objectID: id, opcode: 2}))
}

func TestSubscribeCancel(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	id, _, err := conn.BindInterface("wl_output", 0)
	require.NoError(t, err)

	var calls int
	cancel, err := conn.Subscribe(id, "done", func(Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	srv.SendEvent(id, "wl_output", "done")
	roundtrip(t, conn)
	cancel()
	srv.SendEvent(id, "wl_output", "done")
	roundtrip(t, conn)
	require.Equal(t, 1, calls)

	_, err = conn.Subscribe(id, "no_such_event", func(Event) error { return nil })
	require.ErrorIs(t, err, protocol.ErrCodec)
	_, err = conn.Subscribe(999, "done", func(Event) error { return nil })
	require.ErrorIs(t, err, protocol.ErrUnknownObject)
}

func TestProtocolErrorKeepsConnectionOpen(t *testing.T) {
	testlog.Start(t)
	errs := make(chan error, 4)
	conn, srv := connect(t, WithDispatchErrorHandler(func(err error) { errs <- err }))

	srv.SendError(1, 3, "implementation error")
	roundtrip(t, conn)

	pErr := conn.LastProtocolError()
	require.NotNil(t, pErr)
	require.Equal(t, uint32(1), pErr.ObjectID)
	require.Equal(t, uint32(3), pErr.Code)
	require.Equal(t, "implementation error", pErr.Message)
	require.ErrorIs(t, <-errs, protocol.ErrProtocol)
	require.Equal(t, StateReady, conn.State())
	require.NoError(t, conn.Err())
}

func TestMalformedMessageClosesConnection(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	srv.SendRaw(frame.AppendHeader(nil, frame.Header{ObjectID: 1, Size: 4}))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection not closed")
	}
	require.ErrorIs(t, conn.Err(), protocol.ErrMalformedMessage)
	require.Equal(t, StateClosed, conn.State())

	_, err := conn.Sync(context.Background())
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestCloseFailsPendingSync(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)
	srv.HoldSyncs(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Sync(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(srv.HeldSyncs()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("pending sync hung after close")
	}
	require.ErrorIs(t, conn.Err(), protocol.ErrConnectionClosed)
	require.Zero(t, conn.syncs.len())

	_, err := conn.SendRequestByName(1, "sync", wire.NewID(0))
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestServerDisconnectFailsPendingSync(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)
	srv.HoldSyncs(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Sync(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(srv.HeldSyncs()) == 1 }, time.Second, 5*time.Millisecond)

	srv.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("pending sync hung after disconnect")
	}
	<-conn.Done()
	require.ErrorIs(t, conn.Err(), protocol.ErrConnectionClosed)
}

func TestSyncContextCancel(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)
	srv.HoldSyncs(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := conn.Sync(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, conn.syncs.len())
	require.Equal(t, StateReady, conn.State())
}

func TestGlobalRemoveMarksAbsence(t *testing.T) {
	testlog.Start(t)
	var removed []Global
	conn, srv := connect(t, OnGlobalRemove(func(g Global) { removed = append(removed, g) }))

	srv.Retract(2)
	roundtrip(t, conn)

	require.Equal(t, []Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 3, Interface: "wl_output", Version: 4},
	}, conn.Globals())
	require.Equal(t, []Global{{Name: 2, Interface: "wl_shm", Version: 2}}, removed)

	_, err := conn.BindGlobal(2, 0)
	require.ErrorIs(t, err, protocol.ErrUnknownGlobal)
	_, _, err = conn.BindInterface("wl_shm", 0)
	require.ErrorIs(t, err, protocol.ErrUnknownGlobal)

	// A later global with a fresh name is appended, the removed slot stays.
	srv.Announce(wltest.Global{Name: 4, Interface: "wl_shm", Version: 1})
	roundtrip(t, conn)
	g, err := conn.FindGlobal("wl_shm")
	require.NoError(t, err)
	require.Equal(t, uint32(4), g.Name)
	require.Len(t, conn.globals, 4)
}

func TestBindRegistersBeforeWriting(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	id := conn.AllocateID()
	require.NoError(t, conn.Bind(3, 2, id))

	iface, err := conn.Interface(id)
	require.NoError(t, err)
	require.Equal(t, "wl_output", iface.Name)

	roundtrip(t, conn)
	binds := srv.RequestsNamed("wl_registry", "bind")
	require.Len(t, binds, 1)
	require.Equal(t, uint32(3), binds[0].Args[0].Uint)
	require.Equal(t, wire.DynamicNewID("wl_output", 2, id), binds[0].Args[1])

	name, ok := srv.ObjectInterface(id)
	require.True(t, ok)
	require.Equal(t, "wl_output", name)
}

func TestBindValidation(t *testing.T) {
	testlog.Start(t)
	conn, _ := connect(t)

	require.ErrorIs(t, conn.Bind(42, 1, 0), protocol.ErrUnknownGlobal)
	require.ErrorIs(t, conn.Bind(2, 9, 0), protocol.ErrCodec)
}

func TestBindVersionDefaultsToCommonMaximum(t *testing.T) {
	testlog.Start(t)
	srv, client := wltest.Start(t, wltest.Global{Name: 7, Interface: "wl_output", Version: 9})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := NewConn(ctx, client, wltest.Core(t))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.BindGlobal(7, 0)
	require.NoError(t, err)
	roundtrip(t, conn)

	binds := srv.RequestsNamed("wl_registry", "bind")
	require.Len(t, binds, 1)
	require.Equal(t, uint32(4), binds[0].Args[1].Version)
}

func TestStaticNewIDIsRegisteredBySend(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	compositor, _, err := conn.BindInterface("wl_compositor", 0)
	require.NoError(t, err)
	surface, err := conn.SendRequestByName(compositor, "create_surface", wire.NewID(0))
	require.NoError(t, err)
	require.NotZero(t, surface)

	iface, err := conn.Interface(surface)
	require.NoError(t, err)
	require.Equal(t, "wl_surface", iface.Name)

	roundtrip(t, conn)
	name, ok := srv.ObjectInterface(surface)
	require.True(t, ok)
	require.Equal(t, "wl_surface", name)
}

func TestFDRequestFailsWithoutClosing(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	shm, _, err := conn.BindInterface("wl_shm", 0)
	require.NoError(t, err)

	_, err = conn.SendRequestByName(shm, "create_pool", wire.NewID(0), wire.FD(3), wire.Int(4096))
	require.ErrorIs(t, err, protocol.ErrCodec)
	require.ErrorIs(t, err, protocol.ErrUnsupportedFD)

	roundtrip(t, conn)
	require.Empty(t, srv.RequestsNamed("wl_shm", "create_pool"))
	require.Equal(t, StateReady, conn.State())
}

func TestFailedRequestLeavesRegistryUnchanged(t *testing.T) {
	testlog.Start(t)
	conn, srv := connect(t)

	compositor, _, err := conn.BindInterface("wl_compositor", 0)
	require.NoError(t, err)
	shm, _, err := conn.BindInterface("wl_shm", 0)
	require.NoError(t, err)
	surface, err := conn.SendRequestByName(compositor, "create_surface", wire.NewID(0))
	require.NoError(t, err)

	// A live id of another interface is refused before anything changes.
	_, err = conn.SendRequestByName(shm, "create_pool", wire.NewID(surface), wire.FD(3), wire.Int(4096))
	require.ErrorIs(t, err, protocol.ErrCodec)
	iface, err := conn.Interface(surface)
	require.NoError(t, err)
	require.Equal(t, "wl_surface", iface.Name)

	// A free id is not left bound when encoding fails.
	free := conn.AllocateID()
	_, err = conn.SendRequestByName(shm, "create_pool", wire.NewID(free), wire.FD(3), wire.Int(4096))
	require.ErrorIs(t, err, protocol.ErrUnsupportedFD)
	_, err = conn.Interface(free)
	require.ErrorIs(t, err, protocol.ErrUnknownObject)
	require.Equal(t, free, conn.AllocateID())

	roundtrip(t, conn)
	require.Empty(t, srv.RequestsNamed("wl_shm", "create_pool"))
}

func TestReleaseIDDropsBindingAndHandlers(t *testing.T) {
	testlog.Start(t)
	conn, _ := connect(t)

	id, err := conn.NewObject("wl_output")
	require.NoError(t, err)
	_, err = conn.Subscribe(id, "done", func(Event) error { return nil })
	require.NoError(t, err)

	iface, err := conn.Interface(id)
	require.NoError(t, err)
	done, ok := iface.Event("done")
	require.True(t, ok)
	require.Len(t, conn.handlers(subKey{objectID: id, opcode: done.Opcode}), 1)

	conn.ReleaseID(id)
	_, err = conn.Interface(id)
	require.ErrorIs(t, err, protocol.ErrUnknownObject)
	require.Empty(t, conn.handlers(subKey{objectID: id, opcode: done.Opcode}))
	require.Equal(t, id, conn.AllocateID())
}

func TestMarkReadyAfterCloseWaitsForReadLoop(t *testing.T) {
	testlog.Start(t)
	conn, _ := connect(t)

	conn.closeWithErr(io.ErrClosedPipe)
	require.ErrorIs(t, conn.markReady(), protocol.ErrConnectionClosed)
	select {
	case <-conn.readDone:
	default:
		t.Fatalf("read loop still running after markReady returned")
	}
	require.Equal(t, StateClosed, conn.State())
}

func TestDialUnixSocket(t *testing.T) {
	testlog.Start(t)
	ln := wltest.Listen(t, "wayland-test", defaultGlobals...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, ln.Path(), wltest.Core(t))
	require.NoError(t, err)
	defer conn.Close()

	require.Len(t, conn.Globals(), 3)
}

func TestDialMissingSocketRetries(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}

	start := time.Now()
	_, err := Dial(context.Background(), "/nonexistent/wayland-missing", wltest.Core(t), WithConfig(cfg))
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}
