package proxy

import (
	"github.com/danmuck/wlproto/internal/protocol/session"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

type Compositor struct {
	Object
}

// BindCompositor binds the advertised compositor global. A version of 0
// selects the highest common version.
func BindCompositor(conn Conn, version uint32) (*Compositor, error) {
	obj, err := bindLatest(conn, "wl_compositor", version, nil)
	if err != nil {
		return nil, err
	}
	return &Compositor{obj}, nil
}

func (c *Compositor) CreateSurface() (*Surface, error) {
	id, err := c.send("create_surface", wire.NewID(0))
	if err != nil {
		return nil, err
	}
	return &Surface{Object{id: id, conn: c.conn}}, nil
}

func (c *Compositor) CreateRegion() (*Region, error) {
	id, err := c.send("create_region", wire.NewID(0))
	if err != nil {
		return nil, err
	}
	return &Region{Object{id: id, conn: c.conn}}, nil
}

type Surface struct {
	Object
}

func (s *Surface) Attach(buffer uint32, x, y int32) error {
	_, err := s.send("attach", wire.Object(buffer), wire.Int(x), wire.Int(y))
	return err
}

func (s *Surface) Damage(x, y, width, height int32) error {
	_, err := s.send("damage", wire.Int(x), wire.Int(y), wire.Int(width), wire.Int(height))
	return err
}

// Frame requests a frame callback.
func (s *Surface) Frame() (*Callback, error) {
	id, err := s.send("frame", wire.NewID(0))
	if err != nil {
		return nil, err
	}
	return NewCallback(s.conn, id), nil
}

func (s *Surface) SetOpaqueRegion(region *Region) error {
	_, err := s.send("set_opaque_region", wire.Object(regionID(region)))
	return err
}

func (s *Surface) SetInputRegion(region *Region) error {
	_, err := s.send("set_input_region", wire.Object(regionID(region)))
	return err
}

func (s *Surface) SetBufferScale(scale int32) error {
	_, err := s.send("set_buffer_scale", wire.Int(scale))
	return err
}

func (s *Surface) Commit() error {
	_, err := s.send("commit")
	return err
}

// Destroy sends the destructor. The id stays bound until the server
// acknowledges it with delete_id.
func (s *Surface) Destroy() error {
	_, err := s.send("destroy")
	return err
}

// OnEnter reports the output id the surface entered.
func (s *Surface) OnEnter(fn func(output uint32)) (func(), error) {
	return s.on("enter", func(e session.Event) { fn(e.Args[0].Uint) })
}

func (s *Surface) OnLeave(fn func(output uint32)) (func(), error) {
	return s.on("leave", func(e session.Event) { fn(e.Args[0].Uint) })
}

type Region struct {
	Object
}

func (r *Region) Add(x, y, width, height int32) error {
	_, err := r.send("add", wire.Int(x), wire.Int(y), wire.Int(width), wire.Int(height))
	return err
}

func (r *Region) Subtract(x, y, width, height int32) error {
	_, err := r.send("subtract", wire.Int(x), wire.Int(y), wire.Int(width), wire.Int(height))
	return err
}

func (r *Region) Destroy() error {
	_, err := r.send("destroy")
	return err
}

// regionID maps a nil region to the null object.
func regionID(r *Region) uint32 {
	if r == nil {
		return 0
	}
	return r.id
}
