package proxy

import (
	"github.com/danmuck/wlproto/internal/protocol/session"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Pixel formats from the shm format enum that callers commonly check for.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

type Shm struct {
	Object
}

// BindShm binds the advertised shm global. The compositor lists its
// formats right after the bind, so OnFormat belongs in setup.
func BindShm(conn Conn, version uint32, setup func(*Shm) error) (*Shm, error) {
	obj, err := bindLatest(conn, "wl_shm", version, func(obj Object) error {
		if setup == nil {
			return nil
		}
		return setup(&Shm{obj})
	})
	if err != nil {
		return nil, err
	}
	return &Shm{obj}, nil
}

// OnFormat reports every pixel format the compositor supports.
func (s *Shm) OnFormat(fn func(format uint32)) (func(), error) {
	return s.on("format", func(e session.Event) { fn(e.Args[0].Uint) })
}

// CreatePool always fails: the pool is backed by a file descriptor and
// descriptor passing is not supported.
func (s *Shm) CreatePool(fd int, size int32) (uint32, error) {
	return s.send("create_pool", wire.NewID(0), wire.FD(fd), wire.Int(size))
}
