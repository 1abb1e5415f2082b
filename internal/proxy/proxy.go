// Package proxy layers typed wrappers for core interfaces over a session
// connection. A proxy holds only an object id and the connection; every
// request and event goes through the connection's generic operations.
package proxy

import (
	"github.com/danmuck/wlproto/internal/protocol/session"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Conn is the part of *session.Conn proxies use.
type Conn interface {
	SendRequestByName(objectID uint32, request string, args ...wire.Value) (uint32, error)
	Subscribe(objectID uint32, event string, h session.Handler) (func(), error)
	FindGlobal(iface string) (session.Global, error)
	NewObject(iface string) (uint32, error)
	ReleaseID(id uint32)
	Bind(name, version, id uint32) error
}

// Object is the id plus connection every proxy embeds.
type Object struct {
	id   uint32
	conn Conn
}

func (o Object) ID() uint32 { return o.id }

func (o Object) send(request string, args ...wire.Value) (uint32, error) {
	return o.conn.SendRequestByName(o.id, request, args...)
}

func (o Object) on(event string, fn func(session.Event)) (func(), error) {
	return o.conn.Subscribe(o.id, event, func(e session.Event) error {
		fn(e)
		return nil
	})
}

// bind registers a fresh id for g, runs setup, then writes the bind
// request. Handlers installed by setup see the events the compositor sends
// in reply to the bind. The id and its handlers are released again if
// setup or the bind fails.
func bind(conn Conn, g session.Global, version uint32, setup func(Object) error) (Object, error) {
	id, err := conn.NewObject(g.Interface)
	if err != nil {
		return Object{}, err
	}
	obj := Object{id: id, conn: conn}
	if setup != nil {
		if err := setup(obj); err != nil {
			conn.ReleaseID(id)
			return Object{}, err
		}
	}
	if err := conn.Bind(g.Name, version, id); err != nil {
		conn.ReleaseID(id)
		return Object{}, err
	}
	return obj, nil
}

func bindLatest(conn Conn, iface string, version uint32, setup func(Object) error) (Object, error) {
	g, err := conn.FindGlobal(iface)
	if err != nil {
		return Object{}, err
	}
	return bind(conn, g, version, setup)
}
