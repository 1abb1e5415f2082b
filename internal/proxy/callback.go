package proxy

import "github.com/danmuck/wlproto/internal/protocol/session"

type Callback struct {
	Object
}

func NewCallback(conn Conn, id uint32) *Callback {
	return &Callback{Object{id: id, conn: conn}}
}

// OnDone subscribes to the single done event.
func (c *Callback) OnDone(fn func(data uint32)) (func(), error) {
	return c.on("done", func(e session.Event) {
		fn(e.Args[0].Uint)
	})
}
