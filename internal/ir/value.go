package ir

import (
	"fmt"
	"strconv"
)

// Kind identifies a value variant. The byte value doubles as the canonical
// single-character type tag used by both the token grammar and the binary
// encoding.
type Kind byte

const (
	// KindMissing is the binary tag of a missing value. It is never the kind
	// of a non-nil Value.
	KindMissing Kind = 0

	KindBool        Kind = 'b'
	KindByte        Kind = 'y'
	KindInt32       Kind = 'i'
	KindInt64       Kind = 'l'
	KindFloat32     Kind = 'f'
	KindNodeAddress Kind = 'n'
)

// kindInfo is the fixed per-variant table consulted by the codecs.
var kindInfo = map[Kind]struct {
	name  string
	width int
	rank  int // promotion rank; -1 for non-arithmetic kinds
}{
	KindBool:        {"Bool", 1, 0},
	KindByte:        {"Byte", 1, 1},
	KindInt32:       {"Int32", 4, 2},
	KindInt64:       {"Int64", 8, 3},
	KindFloat32:     {"Float32", 4, 4},
	KindNodeAddress: {"NodeAddress", 8, -1},
}

// Valid reports whether k names one of the six value variants.
func (k Kind) Valid() bool {
	_, ok := kindInfo[k]
	return ok
}

// Width is the size in bytes of the kind's binary payload.
func (k Kind) Width() int {
	return kindInfo[k].width
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	if k == KindMissing {
		return "Missing"
	}
	return fmt.Sprintf("Kind(%#x)", byte(k))
}

func (k Kind) numeric() bool {
	info, ok := kindInfo[k]
	return ok && info.rank >= 0
}

// wider returns the promotion result of two numeric kinds.
func wider(a, b Kind) Kind {
	if kindInfo[a].rank >= kindInfo[b].rank {
		return a
	}
	return b
}

// Value is a sealed interface over the closed set of sensor value variants.
// Only *Bool, *Byte, *Int32, *Int64, *Float32 and *NodeAddress implement it.
type Value interface {
	Kind() Kind
	// String renders the value as a grammar token, e.g. "i(12)".
	String() string
	sensorValue()
}

// Addr is a 64-bit node address.
type Addr uint64

func (a Addr) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Bool is a boolean value. It takes part in arithmetic as 0 or 1.
type Bool struct{ V bool }

// Byte is a signed 8-bit value.
type Byte struct{ V int8 }

// Int32 is a signed 32-bit value.
type Int32 struct{ V int32 }

// Int64 is a signed 64-bit value.
type Int64 struct{ V int64 }

// Float32 is a 32-bit IEEE-754 value.
type Float32 struct{ V float32 }

// NodeAddress is a node address carried as a value. It compares against
// Int64 and NodeAddress and never takes part in arithmetic.
type NodeAddress struct{ V Addr }

func (*Bool) sensorValue()        {}
func (*Byte) sensorValue()        {}
func (*Int32) sensorValue()       {}
func (*Int64) sensorValue()       {}
func (*Float32) sensorValue()     {}
func (*NodeAddress) sensorValue() {}

func (*Bool) Kind() Kind        { return KindBool }
func (*Byte) Kind() Kind        { return KindByte }
func (*Int32) Kind() Kind       { return KindInt32 }
func (*Int64) Kind() Kind       { return KindInt64 }
func (*Float32) Kind() Kind     { return KindFloat32 }
func (*NodeAddress) Kind() Kind { return KindNodeAddress }

func (v *Bool) String() string        { return token(v) }
func (v *Byte) String() string        { return token(v) }
func (v *Int32) String() string       { return token(v) }
func (v *Int64) String() string       { return token(v) }
func (v *Float32) String() string     { return token(v) }
func (v *NodeAddress) String() string { return token(v) }

// NewBool creates a Bool value.
func NewBool(b bool) *Bool { return &Bool{V: b} }

// NewByte creates a Byte value.
func NewByte(b int8) *Byte { return &Byte{V: b} }

// NewInt32 creates an Int32 value.
func NewInt32(n int32) *Int32 { return &Int32{V: n} }

// NewInt64 creates an Int64 value.
func NewInt64(n int64) *Int64 { return &Int64{V: n} }

// NewFloat32 creates a Float32 value.
func NewFloat32(f float32) *Float32 { return &Float32{V: f} }

// NewNodeAddress creates a NodeAddress value.
func NewNodeAddress(a Addr) *NodeAddress { return &NodeAddress{V: a} }

// Zero returns the zero value of kind k, or nil if k is not a value kind.
func Zero(k Kind) Value {
	switch k {
	case KindBool:
		return NewBool(false)
	case KindByte:
		return NewByte(0)
	case KindInt32:
		return NewInt32(0)
	case KindInt64:
		return NewInt64(0)
	case KindFloat32:
		return NewFloat32(0)
	case KindNodeAddress:
		return NewNodeAddress(0)
	default:
		return nil
	}
}

// Clone returns an independent copy of v. Clone(nil) is nil.
func Clone(v Value) Value {
	switch val := v.(type) {
	case *Bool:
		return NewBool(val.V)
	case *Byte:
		return NewByte(val.V)
	case *Int32:
		return NewInt32(val.V)
	case *Int64:
		return NewInt64(val.V)
	case *Float32:
		return NewFloat32(val.V)
	case *NodeAddress:
		return NewNodeAddress(val.V)
	default:
		return nil
	}
}

// Negate flips the sign of v in place and returns the same instance.
// For Bool the flip is a logical not. NodeAddress and missing values cannot
// be negated.
func Negate(v Value) (Value, error) {
	switch val := v.(type) {
	case *Bool:
		val.V = !val.V
	case *Byte:
		val.V = -val.V
	case *Int32:
		val.V = -val.V
	case *Int64:
		val.V = -val.V
	case *Float32:
		val.V = -val.V
	default:
		return nil, Incompatible("negate", v, nil)
	}
	return v, nil
}

// ToInt64 returns the integral content of v. Bool maps to 0/1, Float32 is
// truncated and NodeAddress is reinterpreted.
func ToInt64(v Value) (int64, bool) {
	switch val := v.(type) {
	case *Bool:
		if val.V {
			return 1, true
		}
		return 0, true
	case *Byte:
		return int64(val.V), true
	case *Int32:
		return int64(val.V), true
	case *Int64:
		return val.V, true
	case *Float32:
		return int64(val.V), true
	case *NodeAddress:
		return int64(val.V), true
	default:
		return 0, false
	}
}

func toFloat64(v Value) float64 {
	if f, ok := v.(*Float32); ok {
		return float64(f.V)
	}
	n, _ := ToInt64(v)
	return float64(n)
}

// fromInt64 narrows n to kind k with two's-complement wrap-around.
func fromInt64(k Kind, n int64) Value {
	switch k {
	case KindBool:
		return NewBool(n != 0)
	case KindByte:
		return NewByte(int8(n))
	case KindInt32:
		return NewInt32(int32(n))
	case KindInt64:
		return NewInt64(n)
	case KindFloat32:
		return NewFloat32(float32(n))
	case KindNodeAddress:
		return NewNodeAddress(Addr(n))
	default:
		return nil
	}
}

// Cast converts v to kind k. Numeric kinds convert freely between each
// other; NodeAddress converts only to and from Int64. Casting a missing
// value yields a missing value.
func Cast(v Value, k Kind) (Value, error) {
	if v == nil {
		return nil, nil
	}
	from := v.Kind()
	if from == k {
		return v, nil
	}
	switch {
	case from.numeric() && k.numeric():
		if k == KindFloat32 {
			return NewFloat32(float32(toFloat64(v))), nil
		}
		n, _ := ToInt64(v)
		return fromInt64(k, n), nil
	case from == KindNodeAddress && k == KindInt64,
		from == KindInt64 && k == KindNodeAddress:
		n, _ := ToInt64(v)
		return fromInt64(k, n), nil
	default:
		return nil, Incompatible("cast to "+k.String(), v, nil)
	}
}
