package proxy

import "github.com/danmuck/wlproto/internal/protocol/session"

type Output struct {
	Object
}

// Geometry is the payload of the output geometry event.
type Geometry struct {
	X, Y           int32
	PhysicalWidth  int32
	PhysicalHeight int32
	Subpixel       int32
	Make           string
	Model          string
	Transform      int32
}

// Mode is the payload of the output mode event. Refresh is in mHz.
type Mode struct {
	Flags   uint32
	Width   int32
	Height  int32
	Refresh int32
}

const (
	ModeCurrent   uint32 = 0x1
	ModePreferred uint32 = 0x2
)

func (m Mode) Current() bool   { return m.Flags&ModeCurrent != 0 }
func (m Mode) Preferred() bool { return m.Flags&ModePreferred != 0 }

// BindOutput binds one output global. Outputs describe themselves right
// after the bind, so event handlers belong in setup.
func BindOutput(conn Conn, g session.Global, version uint32, setup func(*Output) error) (*Output, error) {
	obj, err := bind(conn, g, version, func(obj Object) error {
		if setup == nil {
			return nil
		}
		return setup(&Output{obj})
	})
	if err != nil {
		return nil, err
	}
	return &Output{obj}, nil
}

func (o *Output) OnGeometry(fn func(Geometry)) (func(), error) {
	return o.on("geometry", func(e session.Event) {
		fn(Geometry{
			X:              e.Args[0].Int,
			Y:              e.Args[1].Int,
			PhysicalWidth:  e.Args[2].Int,
			PhysicalHeight: e.Args[3].Int,
			Subpixel:       e.Args[4].Int,
			Make:           e.Args[5].Str,
			Model:          e.Args[6].Str,
			Transform:      e.Args[7].Int,
		})
	})
}

func (o *Output) OnMode(fn func(Mode)) (func(), error) {
	return o.on("mode", func(e session.Event) {
		fn(Mode{
			Flags:   e.Args[0].Uint,
			Width:   e.Args[1].Int,
			Height:  e.Args[2].Int,
			Refresh: e.Args[3].Int,
		})
	})
}

func (o *Output) OnScale(fn func(factor int32)) (func(), error) {
	return o.on("scale", func(e session.Event) { fn(e.Args[0].Int) })
}

func (o *Output) OnName(fn func(name string)) (func(), error) {
	return o.on("name", func(e session.Event) { fn(e.Args[0].Str) })
}

// OnDone fires after each batch of output properties.
func (o *Output) OnDone(fn func()) (func(), error) {
	return o.on("done", func(session.Event) { fn() })
}

func (o *Output) Release() error {
	_, err := o.send("release")
	return err
}
