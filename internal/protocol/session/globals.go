package session

import (
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Global is one server announcement from the registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// globalEntry keeps its slot after removal; positions are never reused.
type globalEntry struct {
	Global
	removed bool
}

func (c *Conn) addGlobal(g Global) {
	c.globalsMu.Lock()
	for i := range c.globals {
		if c.globals[i].Name == g.Name && !c.globals[i].removed {
			c.globals[i].removed = true
			c.logger.Warn().
				Uint32("name", g.Name).
				Str("previous", c.globals[i].Interface).
				Str("interface", g.Interface).
				Msg("session.globals name re-announced")
		}
	}
	c.globals = append(c.globals, globalEntry{Global: g})
	hooks := c.onGlobal
	c.globalsMu.Unlock()

	c.logger.Debug().
		Uint32("name", g.Name).
		Str("interface", g.Interface).
		Uint32("version", g.Version).
		Msg("session.globals announced")
	for _, fn := range hooks {
		fn(g)
	}
}

func (c *Conn) removeGlobal(name uint32) {
	c.globalsMu.Lock()
	var (
		g     Global
		found bool
	)
	for i := len(c.globals) - 1; i >= 0; i-- {
		if c.globals[i].Name == name && !c.globals[i].removed {
			c.globals[i].removed = true
			g, found = c.globals[i].Global, true
			break
		}
	}
	hooks := c.onGlobalRemove
	c.globalsMu.Unlock()

	if !found {
		c.logger.Warn().Uint32("name", name).Msg("session.globals remove for unknown name")
		return
	}
	c.logger.Debug().Uint32("name", name).Str("interface", g.Interface).Msg("session.globals removed")
	for _, fn := range hooks {
		fn(g)
	}
}

// Globals returns the live announcements in announcement order.
func (c *Conn) Globals() []Global {
	c.globalsMu.RLock()
	defer c.globalsMu.RUnlock()
	out := make([]Global, 0, len(c.globals))
	for _, e := range c.globals {
		if !e.removed {
			out = append(out, e.Global)
		}
	}
	return out
}

// LookupGlobal finds the live global with the server-assigned name.
func (c *Conn) LookupGlobal(name uint32) (Global, error) {
	c.globalsMu.RLock()
	defer c.globalsMu.RUnlock()
	for i := len(c.globals) - 1; i >= 0; i-- {
		if e := c.globals[i]; e.Name == name && !e.removed {
			return e.Global, nil
		}
	}
	return Global{}, &protocol.UnknownGlobalError{Name: name}
}

// FindGlobal finds the most recently announced live global for an
// interface.
func (c *Conn) FindGlobal(iface string) (Global, error) {
	c.globalsMu.RLock()
	defer c.globalsMu.RUnlock()
	for i := len(c.globals) - 1; i >= 0; i-- {
		if e := c.globals[i]; e.Interface == iface && !e.removed {
			return e.Global, nil
		}
	}
	return Global{}, &protocol.UnknownGlobalError{Interface: iface}
}

// Bind sends registry bind for global name into id. The id is registered
// under the global's interface before the request is written. An id of 0
// is allocated; a version of 0 selects the highest version both sides
// support.
func (c *Conn) Bind(name, version, id uint32) error {
	_, err := c.bind(name, version, id)
	return err
}

// BindGlobal allocates an id and binds global name into it.
func (c *Conn) BindGlobal(name, version uint32) (uint32, error) {
	return c.bind(name, version, 0)
}

// BindInterface binds the latest live global announcing iface.
func (c *Conn) BindInterface(iface string, version uint32) (uint32, Global, error) {
	g, err := c.FindGlobal(iface)
	if err != nil {
		return 0, Global{}, err
	}
	id, err := c.bind(g.Name, version, 0)
	return id, g, err
}

func (c *Conn) bind(name, version, id uint32) (uint32, error) {
	g, err := c.LookupGlobal(name)
	if err != nil {
		return 0, err
	}
	model, err := c.lookupSchema(g.Interface)
	if err != nil {
		return 0, err
	}
	switch {
	case version == 0:
		version = min(g.Version, model.Version)
	case version > g.Version:
		return 0, &protocol.CodecError{
			Interface: g.Interface,
			Message:   "bind",
			Reason:    "version " + itoa(int(version)) + " exceeds advertised " + itoa(int(g.Version)),
		}
	}
	return c.SendRequest(
		c.registryID.Load(),
		c.core.registryBind,
		wire.Uint(name),
		wire.DynamicNewID(g.Interface, version, id),
	)
}
