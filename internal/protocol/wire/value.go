package wire

import (
	"fmt"
	"math"

	"github.com/danmuck/wlproto/internal/protocol/schema"
)

// Value is one typed argument value. Type selects which field is meaningful:
// Int for int and fixed, Uint for uint/enum/object/new_id, Str for string,
// Bytes for array. A dynamic new_id also carries Interface and Version.
type Value struct {
	Type      schema.ArgType
	Int       int32
	Uint      uint32
	Str       string
	Bytes     []byte
	Interface string
	Version   uint32
	FD        int
}

func Int(v int32) Value { return Value{Type: schema.ArgInt, Int: v} }

func Uint(v uint32) Value { return Value{Type: schema.ArgUint, Uint: v} }

func Enum(v uint32) Value { return Value{Type: schema.ArgEnum, Uint: v} }

func FixedValue(f Fixed) Value { return Value{Type: schema.ArgFixed, Int: int32(f)} }

func Object(id uint32) Value { return Value{Type: schema.ArgObject, Uint: id} }

func NewID(id uint32) Value { return Value{Type: schema.ArgNewID, Uint: id} }

// DynamicNewID is a new_id whose interface is named on the wire, as the
// registry bind request requires.
func DynamicNewID(iface string, version, id uint32) Value {
	return Value{Type: schema.ArgNewID, Uint: id, Interface: iface, Version: version}
}

func String(s string) Value { return Value{Type: schema.ArgString, Str: s} }

func Array(b []byte) Value {
	buf := make([]byte, len(b))
	copy(buf, b)
	return Value{Type: schema.ArgArray, Bytes: buf}
}

// FD exists so callers can express fd arguments; encoding one always fails.
func FD(fd int) Value { return Value{Type: schema.ArgFD, FD: fd} }

// Fixed returns the value as a 24.8 fixed point number.
func (v Value) Fixed() Fixed { return Fixed(v.Int) }

func (v Value) String() string {
	switch v.Type {
	case schema.ArgInt:
		return fmt.Sprintf("%d", v.Int)
	case schema.ArgFixed:
		return fmt.Sprintf("%g", Fixed(v.Int).Float())
	case schema.ArgUint, schema.ArgEnum:
		return fmt.Sprintf("%d", v.Uint)
	case schema.ArgObject:
		return fmt.Sprintf("object#%d", v.Uint)
	case schema.ArgNewID:
		if v.Interface != "" {
			return fmt.Sprintf("new_id#%d(%s v%d)", v.Uint, v.Interface, v.Version)
		}
		return fmt.Sprintf("new_id#%d", v.Uint)
	case schema.ArgString:
		return fmt.Sprintf("%q", v.Str)
	case schema.ArgArray:
		return fmt.Sprintf("array[%d]", len(v.Bytes))
	case schema.ArgFD:
		return fmt.Sprintf("fd(%d)", v.FD)
	default:
		return "invalid"
	}
}

// Fixed is the protocol's signed 24.8 fixed point number.
type Fixed int32

func FixedFromInt(v int) Fixed { return Fixed(v << 8) }

func FixedFromFloat(v float64) Fixed { return Fixed(math.Round(v * 256)) }

func (f Fixed) Int() int { return int(f >> 8) }

func (f Fixed) Float() float64 { return float64(f) / 256 }
