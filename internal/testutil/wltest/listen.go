package wltest

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// Listener is a unix socket inside a temporary runtime directory. Each
// accepted connection gets its own fake compositor.
type Listener struct {
	RuntimeDir string
	Display    string
	Servers    chan *Server
	ln         net.Listener
}

// Path is the socket path clients dial.
func (l *Listener) Path() string {
	return filepath.Join(l.RuntimeDir, l.Display)
}

// Listen creates the runtime directory and starts accepting. Socket paths
// are length limited, so the directory lives under the system temp root
// instead of t.TempDir.
func Listen(t testing.TB, display string, globals ...Global) *Listener {
	t.Helper()
	return ListenWith(t, display, nil, globals...)
}

// ListenWith is Listen with setup applied to each server before it reads
// its first request.
func ListenWith(t testing.TB, display string, setup func(*Server), globals ...Global) *Listener {
	t.Helper()
	dir, err := os.MkdirTemp("", "wlt")
	if err != nil {
		t.Fatalf("create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	l := &Listener{RuntimeDir: dir, Display: display, Servers: make(chan *Server, 8)}
	l.ln, err = net.Listen("unix", l.Path())
	if err != nil {
		t.Fatalf("listen %s: %v", l.Path(), err)
	}
	t.Cleanup(func() { _ = l.ln.Close() })

	set := Core(t)
	go func() {
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				return
			}
			srv := newServer(t, conn, set, globals)
			if setup != nil {
				setup(srv)
			}
			srv.start()
			select {
			case l.Servers <- srv:
			default:
			}
		}
	}()
	return l
}
