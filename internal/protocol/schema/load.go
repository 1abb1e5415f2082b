package schema

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/wlproto/internal/protocol"
)

// DefaultPath is the system location of the core protocol description.
const DefaultPath = "/usr/share/wayland/wayland.xml"

type xmlProtocol struct {
	XMLName    xml.Name       `xml:"protocol"`
	Name       string         `xml:"name,attr"`
	Interfaces []xmlInterface `xml:"interface"`
}

type xmlDescription struct {
	Summary string `xml:"summary,attr"`
	Text    string `xml:",chardata"`
}

type xmlInterface struct {
	Name        string          `xml:"name,attr"`
	Version     string          `xml:"version,attr"`
	Description *xmlDescription `xml:"description"`
	Requests    []xmlMessage    `xml:"request"`
	Events      []xmlMessage    `xml:"event"`
	Enums       []xmlEnum       `xml:"enum"`
}

type xmlMessage struct {
	Name            string          `xml:"name,attr"`
	Type            string          `xml:"type,attr"`
	Since           string          `xml:"since,attr"`
	DeprecatedSince string          `xml:"deprecated-since,attr"`
	Description     *xmlDescription `xml:"description"`
	Args            []xmlArg        `xml:"arg"`
}

type xmlArg struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Interface string `xml:"interface,attr"`
	Enum      string `xml:"enum,attr"`
	AllowNull string `xml:"allow-null,attr"`
	Summary   string `xml:"summary,attr"`
}

type xmlEnum struct {
	Name        string          `xml:"name,attr"`
	Bitfield    string          `xml:"bitfield,attr"`
	Description *xmlDescription `xml:"description"`
	Entries     []xmlEntry      `xml:"entry"`
}

type xmlEntry struct {
	Name    string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
	Since   string `xml:"since,attr"`
	Summary string `xml:"summary,attr"`
}

// Load parses the document at path.
func Load(path string) ([]*Interface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &protocol.SchemaError{Source: path, Reason: "read document", Err: err}
	}
	return Parse(bytes.NewReader(data), path)
}

// LoadSet parses every document into one set. Interface names must be unique
// across documents.
func LoadSet(paths ...string) (*Set, error) {
	set, err := NewSet()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		ifaces, err := Load(path)
		if err != nil {
			return nil, err
		}
		if err := set.Add(ifaces...); err != nil {
			return nil, errors.Wrapf(err, "load %s", path)
		}
	}
	return set, nil
}

// Parse reads one protocol document. source names the document in errors.
// Interfaces are returned in document order.
func Parse(r io.Reader, source string) ([]*Interface, error) {
	var doc xmlProtocol
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &protocol.SchemaError{Source: source, Reason: "parse document", Err: err}
	}
	if err := checkTrailer(dec); err != nil {
		return nil, &protocol.SchemaError{Source: source, Reason: "parse document", Err: err}
	}
	p := parser{source: source}
	out := make([]*Interface, 0, len(doc.Interfaces))
	for _, xi := range doc.Interfaces {
		iface, err := p.parseInterface(xi)
		if err != nil {
			return nil, err
		}
		out = append(out, iface)
	}
	log.Debug().
		Str("source", source).
		Str("protocol", doc.Name).
		Int("interfaces", len(out)).
		Msg("schema document loaded")
	return out, nil
}

// checkTrailer reads the rest of the document after the root element. Only
// whitespace, comments and processing instructions may follow it.
func checkTrailer(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return errors.Errorf("text %q after root element", strings.TrimSpace(string(t)))
			}
		default:
			return errors.Errorf("content after root element at offset %d", dec.InputOffset())
		}
	}
}

type parser struct {
	source string
}

func (p parser) missing(element, attr string) error {
	return &protocol.SchemaError{Source: p.source, Element: element, Attr: attr}
}

func (p parser) invalid(element, reason string, err error) error {
	return &protocol.SchemaError{Source: p.source, Element: element, Reason: reason, Err: err}
}

func (p parser) parseInterface(xi xmlInterface) (*Interface, error) {
	name := strings.TrimSpace(xi.Name)
	if name == "" {
		return nil, p.missing("interface", "name")
	}
	element := "interface " + name
	if strings.TrimSpace(xi.Version) == "" {
		return nil, p.missing(element, "version")
	}
	version, err := strconv.ParseUint(strings.TrimSpace(xi.Version), 10, 32)
	if err != nil || version == 0 {
		return nil, p.invalid(element, "version must be a positive integer", err)
	}

	requests := make([]Message, 0, len(xi.Requests))
	for _, xr := range xi.Requests {
		msg, err := p.parseMessage(element+" request", xr)
		if err != nil {
			return nil, err
		}
		requests = append(requests, msg)
	}
	events := make([]Message, 0, len(xi.Events))
	for _, xe := range xi.Events {
		msg, err := p.parseMessage(element+" event", xe)
		if err != nil {
			return nil, err
		}
		events = append(events, msg)
	}
	enums := make([]Enum, 0, len(xi.Enums))
	for _, xe := range xi.Enums {
		e, err := p.parseEnum(element, xe)
		if err != nil {
			return nil, err
		}
		enums = append(enums, e)
	}

	iface := NewInterface(name, uint32(version), requests, events, enums)
	iface.Description, iface.Summary = description(xi.Description)
	return iface, nil
}

func (p parser) parseMessage(kind string, xm xmlMessage) (Message, error) {
	name := strings.TrimSpace(xm.Name)
	if name == "" {
		return Message{}, p.missing(kind, "name")
	}
	element := kind + " " + name
	since, err := optionalUint(xm.Since)
	if err != nil {
		return Message{}, p.invalid(element, "invalid since", err)
	}
	deprecated, err := optionalUint(xm.DeprecatedSince)
	if err != nil {
		return Message{}, p.invalid(element, "invalid deprecated-since", err)
	}
	msg := Message{
		Name:            name,
		Type:            strings.TrimSpace(xm.Type),
		Since:           since,
		DeprecatedSince: deprecated,
		Args:            make([]Arg, 0, len(xm.Args)),
	}
	msg.Description, msg.Summary = description(xm.Description)
	for _, xa := range xm.Args {
		arg, err := p.parseArg(element, xa)
		if err != nil {
			return Message{}, err
		}
		msg.Args = append(msg.Args, arg)
	}
	return msg, nil
}

func (p parser) parseArg(parent string, xa xmlArg) (Arg, error) {
	name := strings.TrimSpace(xa.Name)
	if name == "" {
		return Arg{}, p.missing(parent+" arg", "name")
	}
	element := parent + " arg " + name
	typeName := strings.TrimSpace(xa.Type)
	if typeName == "" {
		return Arg{}, p.missing(element, "type")
	}
	t, ok := ParseArgType(typeName)
	if !ok {
		return Arg{}, p.invalid(element, "unknown type "+strconv.Quote(typeName), nil)
	}
	return Arg{
		Name:      name,
		Type:      t,
		Interface: strings.TrimSpace(xa.Interface),
		Enum:      strings.TrimSpace(xa.Enum),
		AllowNull: strings.TrimSpace(xa.AllowNull) == "true",
		Summary:   xa.Summary,
	}, nil
}

func (p parser) parseEnum(parent string, xe xmlEnum) (Enum, error) {
	name := strings.TrimSpace(xe.Name)
	if name == "" {
		return Enum{}, p.missing(parent+" enum", "name")
	}
	element := parent + " enum " + name
	e := Enum{
		Name:     name,
		Bitfield: strings.TrimSpace(xe.Bitfield) == "true",
		Entries:  make([]EnumEntry, 0, len(xe.Entries)),
	}
	e.Description, e.Summary = description(xe.Description)
	for _, xentry := range xe.Entries {
		entryName := strings.TrimSpace(xentry.Name)
		if entryName == "" {
			return Enum{}, p.missing(element+" entry", "name")
		}
		raw := strings.TrimSpace(xentry.Value)
		if raw == "" {
			return Enum{}, p.missing(element+" entry "+entryName, "value")
		}
		value, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return Enum{}, p.invalid(element+" entry "+entryName, "invalid value", err)
		}
		since, err := optionalUint(xentry.Since)
		if err != nil {
			return Enum{}, p.invalid(element+" entry "+entryName, "invalid since", err)
		}
		e.Entries = append(e.Entries, EnumEntry{
			Name:    entryName,
			Value:   uint32(value),
			Since:   since,
			Summary: xentry.Summary,
		})
	}
	return e, nil
}

func description(d *xmlDescription) (text, summary string) {
	if d == nil {
		return "", ""
	}
	return strings.TrimSpace(d.Text), d.Summary
}

func optionalUint(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
