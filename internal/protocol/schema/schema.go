package schema

import (
	"fmt"
	"sort"

	"github.com/danmuck/wlproto/internal/protocol"
)

// ArgType is the wire type tag of one request or event argument.
type ArgType uint8

const (
	ArgInvalid ArgType = iota
	ArgInt
	ArgUint
	ArgFixed
	ArgObject
	ArgNewID
	ArgString
	ArgArray
	ArgEnum
	ArgFD
)

var argTypeNames = map[string]ArgType{
	"int":    ArgInt,
	"uint":   ArgUint,
	"fixed":  ArgFixed,
	"object": ArgObject,
	"new_id": ArgNewID,
	"string": ArgString,
	"array":  ArgArray,
	"enum":   ArgEnum,
	"fd":     ArgFD,
}

// ParseArgType maps a document type name to its tag.
func ParseArgType(name string) (ArgType, bool) {
	t, ok := argTypeNames[name]
	return t, ok
}

var argTypeStrings = [...]string{
	ArgInvalid: "invalid",
	ArgInt:     "int",
	ArgUint:    "uint",
	ArgFixed:   "fixed",
	ArgObject:  "object",
	ArgNewID:   "new_id",
	ArgString:  "string",
	ArgArray:   "array",
	ArgEnum:    "enum",
	ArgFD:      "fd",
}

func (t ArgType) String() string {
	if int(t) < len(argTypeStrings) {
		return argTypeStrings[t]
	}
	return fmt.Sprintf("ArgType(%d)", uint8(t))
}

// Arg describes one typed argument. Interface is empty for a new_id whose
// target interface is named at call time (registry bind).
type Arg struct {
	Name      string
	Type      ArgType
	Interface string
	Enum      string
	AllowNull bool
	Summary   string
}

// Dynamic reports whether a new_id argument carries its interface on the wire.
func (a Arg) Dynamic() bool {
	return a.Type == ArgNewID && a.Interface == ""
}

// Message is a request or event descriptor. Opcode is its position in the
// owning list.
type Message struct {
	Name            string
	Opcode          uint16
	Type            string
	Since           uint32
	DeprecatedSince uint32
	Description     string
	Summary         string
	Args            []Arg
}

// Destructor reports whether the request destroys the object it is sent to.
func (m Message) Destructor() bool {
	return m.Type == "destructor"
}

type EnumEntry struct {
	Name    string
	Value   uint32
	Since   uint32
	Summary string
}

type Enum struct {
	Name        string
	Bitfield    bool
	Description string
	Summary     string
	Entries     []EnumEntry
}

// Entry looks up an entry by name.
func (e Enum) Entry(name string) (EnumEntry, bool) {
	for _, entry := range e.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return EnumEntry{}, false
}

// Interface is the immutable model of one protocol interface.
type Interface struct {
	Name        string
	Version     uint32
	Description string
	Summary     string
	Requests    []Message
	Events      []Message
	Enums       []Enum

	requests map[string]uint16
	events   map[string]uint16
}

// NewInterface assigns positional opcodes and builds the name indexes.
// The input order is the wire order and is preserved exactly.
func NewInterface(name string, version uint32, requests, events []Message, enums []Enum) *Interface {
	i := &Interface{
		Name:     name,
		Version:  version,
		Requests: append([]Message(nil), requests...),
		Events:   append([]Message(nil), events...),
		Enums:    append([]Enum(nil), enums...),
	}
	i.index()
	return i
}

func (i *Interface) index() {
	i.requests = make(map[string]uint16, len(i.Requests))
	for op := range i.Requests {
		i.Requests[op].Opcode = uint16(op)
		i.requests[i.Requests[op].Name] = uint16(op)
	}
	i.events = make(map[string]uint16, len(i.Events))
	for op := range i.Events {
		i.Events[op].Opcode = uint16(op)
		i.events[i.Events[op].Name] = uint16(op)
	}
}

func (i *Interface) Request(name string) (Message, bool) {
	op, ok := i.requests[name]
	if !ok {
		return Message{}, false
	}
	return i.Requests[op], true
}

func (i *Interface) Event(name string) (Message, bool) {
	op, ok := i.events[name]
	if !ok {
		return Message{}, false
	}
	return i.Events[op], true
}

func (i *Interface) RequestByOpcode(op uint16) (Message, bool) {
	if int(op) >= len(i.Requests) {
		return Message{}, false
	}
	return i.Requests[op], true
}

func (i *Interface) EventByOpcode(op uint16) (Message, bool) {
	if int(op) >= len(i.Events) {
		return Message{}, false
	}
	return i.Events[op], true
}

func (i *Interface) Enum(name string) (Enum, bool) {
	for _, e := range i.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return Enum{}, false
}

func (i *Interface) String() string {
	return fmt.Sprintf("%s v%d", i.Name, i.Version)
}

// Set is the collection of known interfaces, keyed by name.
type Set struct {
	byName map[string]*Interface
	order  []*Interface
}

func NewSet(ifaces ...*Interface) (*Set, error) {
	s := &Set{byName: make(map[string]*Interface, len(ifaces))}
	if err := s.Add(ifaces...); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends interfaces. A name already present is a SchemaError.
func (s *Set) Add(ifaces ...*Interface) error {
	for _, iface := range ifaces {
		if iface == nil {
			continue
		}
		if _, dup := s.byName[iface.Name]; dup {
			return &protocol.SchemaError{
				Element: "interface " + iface.Name,
				Reason:  "duplicate interface name",
			}
		}
		s.byName[iface.Name] = iface
		s.order = append(s.order, iface)
	}
	return nil
}

func (s *Set) Lookup(name string) (*Interface, bool) {
	if s == nil {
		return nil, false
	}
	iface, ok := s.byName[name]
	return iface, ok
}

// Interfaces returns the set in load order.
func (s *Set) Interfaces() []*Interface {
	out := make([]*Interface, len(s.order))
	copy(out, s.order)
	return out
}

// Names returns the sorted interface names.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Set) Len() int {
	return len(s.order)
}
