package session

import (
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/schema"
)

// coreProtocol holds the descriptors and opcodes the engine itself speaks,
// resolved once from the schema set.
type coreProtocol struct {
	display  *schema.Interface
	registry *schema.Interface
	callback *schema.Interface

	displaySync        uint16
	displayGetRegistry uint16
	displayError       uint16
	displayDeleteID    uint16

	registryBind         uint16
	registryGlobal       uint16
	registryGlobalRemove uint16

	callbackDone uint16
}

type messageRef struct {
	name  string
	nargs int
	out   *uint16
}

func resolveCore(set *schema.Set) (coreProtocol, error) {
	var core coreProtocol
	lookup := func(name string) (*schema.Interface, error) {
		iface, ok := set.Lookup(name)
		if !ok {
			return nil, &protocol.SchemaError{
				Element: "interface " + name,
				Reason:  "required by the connection but not loaded",
			}
		}
		return iface, nil
	}
	var err error
	if core.display, err = lookup("wl_display"); err != nil {
		return core, err
	}
	if core.registry, err = lookup("wl_registry"); err != nil {
		return core, err
	}
	if core.callback, err = lookup("wl_callback"); err != nil {
		return core, err
	}

	checks := []struct {
		iface    *schema.Interface
		requests []messageRef
		events   []messageRef
	}{
		{
			iface: core.display,
			requests: []messageRef{
				{"sync", 1, &core.displaySync},
				{"get_registry", 1, &core.displayGetRegistry},
			},
			events: []messageRef{
				{"error", 3, &core.displayError},
				{"delete_id", 1, &core.displayDeleteID},
			},
		},
		{
			iface:    core.registry,
			requests: []messageRef{{"bind", 2, &core.registryBind}},
			events: []messageRef{
				{"global", 3, &core.registryGlobal},
				{"global_remove", 1, &core.registryGlobalRemove},
			},
		},
		{
			iface:  core.callback,
			events: []messageRef{{"done", 1, &core.callbackDone}},
		},
	}
	for _, check := range checks {
		for _, ref := range check.requests {
			msg, ok := check.iface.Request(ref.name)
			if err := checkMessage(check.iface, "request", ref, msg, ok); err != nil {
				return core, err
			}
			*ref.out = msg.Opcode
		}
		for _, ref := range check.events {
			msg, ok := check.iface.Event(ref.name)
			if err := checkMessage(check.iface, "event", ref, msg, ok); err != nil {
				return core, err
			}
			*ref.out = msg.Opcode
		}
	}
	return core, nil
}

func checkMessage(iface *schema.Interface, kind string, ref messageRef, msg schema.Message, ok bool) error {
	element := "interface " + iface.Name + " " + kind + " " + ref.name
	if !ok {
		return &protocol.SchemaError{Element: element, Reason: "required by the connection but not declared"}
	}
	if len(msg.Args) != ref.nargs {
		return &protocol.SchemaError{Element: element, Reason: "unexpected argument count"}
	}
	return nil
}
