package ir

import (
	"math"
	"strconv"
	"strings"
)

// token renders v as "tag(literal)". It never fails; FormatToken is the
// checked variant used when the text must parse back.
func token(v Value) string {
	return string(v.Kind()) + "(" + literal(v) + ")"
}

func literal(v Value) string {
	switch val := v.(type) {
	case *Bool:
		if val.V {
			return "1"
		}
		return "0"
	case *Byte:
		return strconv.FormatInt(int64(val.V), 10)
	case *Int32:
		return strconv.FormatInt(int64(val.V), 10)
	case *Int64:
		return strconv.FormatInt(val.V, 10)
	case *Float32:
		return strconv.FormatFloat(float64(val.V), 'f', -1, 32)
	case *NodeAddress:
		return strconv.FormatUint(uint64(val.V), 10)
	default:
		return ""
	}
}

// FormatToken renders v as a grammar token. Missing values and non-finite
// floats have no token form.
func FormatToken(v Value) (string, error) {
	if v == nil {
		return "", Incompatible("format token", nil, nil)
	}
	if f, ok := v.(*Float32); ok && (math.IsNaN(float64(f.V)) || math.IsInf(float64(f.V), 0)) {
		return "", Incompatible("format token", v, nil)
	}
	return token(v), nil
}

// ParseToken parses a complete "tag(literal)" token.
func ParseToken(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[1] != '(' || s[len(s)-1] != ')' {
		return nil, DecodeError("parse token", "malformed token %q", s)
	}
	return ParseLiteral(Kind(s[0]), s[2:len(s)-1])
}

// ParseLiteral converts the literal text of a token into a value of kind k.
// Literals are optionally signed decimal numbers; Float32 literals may carry
// a decimal point. Exponents and named values (NaN, Inf) are rejected.
func ParseLiteral(k Kind, lit string) (Value, error) {
	if !k.Valid() {
		return nil, DecodeError("parse literal", "unknown type tag %q", string(k))
	}
	if !isNumber(lit, k == KindFloat32) {
		return nil, DecodeError("parse literal", "invalid %s literal %q", k, lit)
	}
	switch k {
	case KindBool:
		switch lit {
		case "1":
			return NewBool(true), nil
		case "0":
			return NewBool(false), nil
		}
		return nil, DecodeError("parse literal", "invalid Bool literal %q", lit)
	case KindFloat32:
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return nil, DecodeError("parse literal", "invalid Float32 literal %q", lit)
		}
		return NewFloat32(float32(f)), nil
	case KindNodeAddress:
		n, err := strconv.ParseUint(lit, 10, 64)
		if err != nil {
			return nil, DecodeError("parse literal", "invalid NodeAddress literal %q", lit)
		}
		return NewNodeAddress(Addr(n)), nil
	default:
		n, err := strconv.ParseInt(lit, 10, k.Width()*8)
		if err != nil {
			return nil, DecodeError("parse literal", "invalid %s literal %q", k, lit)
		}
		return fromInt64(k, n), nil
	}
}

// isNumber reports whether s is an optionally signed run of digits with at
// most one decimal point (when allowed) and at least one digit.
func isNumber(s string, allowPoint bool) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	digits, points := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && allowPoint:
			points++
		default:
			return false
		}
	}
	return digits > 0 && points <= 1
}

// Schema is the ordered column kinds of a table, written as a string of type
// tags such as "nii".
type Schema []Kind

// ParseSchema parses a string of type tags.
func ParseSchema(s string) (Schema, error) {
	schema := make(Schema, 0, len(s))
	for i := 0; i < len(s); i++ {
		k := Kind(s[i])
		if !k.Valid() {
			return nil, DecodeError("parse schema", "unknown type tag %q at %d", s[i], i)
		}
		schema = append(schema, k)
	}
	return schema, nil
}

func (s Schema) String() string {
	b := make([]byte, len(s))
	for i, k := range s {
		b[i] = byte(k)
	}
	return string(b)
}

// Conform casts each present value in row to the kind of its schema column.
// The row must be exactly as wide as the schema.
func (s Schema) Conform(row Row) (Row, error) {
	if len(row) != len(s) {
		return nil, DecodeError("conform row", "row has %d columns, schema %q has %d", len(row), s.String(), len(s))
	}
	out := make(Row, len(row))
	for i, v := range row {
		c, err := Cast(v, s[i])
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
