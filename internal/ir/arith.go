package ir

// Add returns a + b. Bool + Bool is logical OR; every other pair of numeric
// kinds promotes to the wider kind.
func Add(a, b Value) (Value, error) {
	if x, y, ok := bothBool(a, b); ok {
		return NewBool(x || y), nil
	}
	return arith("add", a, b,
		func(x, y int64) int64 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Sub returns a - b.
func Sub(a, b Value) (Value, error) {
	return arith("subtract", a, b,
		func(x, y int64) int64 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// Mul returns a × b. Bool × Bool is logical AND.
func Mul(a, b Value) (Value, error) {
	if x, y, ok := bothBool(a, b); ok {
		return NewBool(x && y), nil
	}
	return arith("multiply", a, b,
		func(x, y int64) int64 { return x * y },
		func(x, y float64) float64 { return x * y })
}

// Div returns a / b with integer division for integral kinds.
//
// Safe divide: a zero divisor does not fail. The result is the zero value of
// the dividend's kind, whatever the promoted kind would have been. This holds
// for Float32 too, so no infinities are produced by division.
func Div(a, b Value) (Value, error) {
	if err := checkArith("divide", a, b); err != nil {
		return nil, err
	}
	if isZero(b) {
		return Zero(a.Kind()), nil
	}
	return arith("divide", a, b,
		func(x, y int64) int64 {
			if y == -1 {
				// MinInt64 / -1 overflows; negation wraps identically.
				return -x
			}
			return x / y
		},
		func(x, y float64) float64 { return x / y })
}

// Equal reports whether a and b are equal after promotion.
func Equal(a, b Value) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}

// Less reports whether a < b after promotion.
func Less(a, b Value) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// Compare orders a against b, returning -1, 0 or +1.
//
// Numeric kinds (Bool included, as 0/1) compare after promotion.
// NodeAddress compares only against NodeAddress and Int64; any other pairing
// fails with an incompatible-operand error.
func Compare(a, b Value) (int, error) {
	if a == nil || b == nil {
		return 0, Incompatible("compare", a, b)
	}
	ak, bk := a.Kind(), b.Kind()
	if ak == KindNodeAddress || bk == KindNodeAddress {
		return compareAddress(a, b)
	}
	if wider(ak, bk) == KindFloat32 {
		return cmpFloat(toFloat64(a), toFloat64(b)), nil
	}
	x, _ := ToInt64(a)
	y, _ := ToInt64(b)
	return cmpInt(x, y), nil
}

func compareAddress(a, b Value) (int, error) {
	switch {
	case a.Kind() == KindNodeAddress && b.Kind() == KindNodeAddress:
		x, y := a.(*NodeAddress).V, b.(*NodeAddress).V
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.Kind() == KindNodeAddress && b.Kind() == KindInt64:
		return cmpAddrInt(a.(*NodeAddress).V, b.(*Int64).V), nil
	case a.Kind() == KindInt64 && b.Kind() == KindNodeAddress:
		return -cmpAddrInt(b.(*NodeAddress).V, a.(*Int64).V), nil
	default:
		return 0, Incompatible("compare", a, b)
	}
}

// cmpAddrInt compares an unsigned address with a signed integer without
// wrapping either into the other's range.
func cmpAddrInt(addr Addr, n int64) int {
	if n < 0 {
		return 1
	}
	switch {
	case uint64(addr) < uint64(n):
		return -1
	case uint64(addr) > uint64(n):
		return 1
	}
	return 0
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func bothBool(a, b Value) (bool, bool, bool) {
	x, ok1 := a.(*Bool)
	y, ok2 := b.(*Bool)
	if !ok1 || !ok2 {
		return false, false, false
	}
	return x.V, y.V, true
}

func checkArith(op string, a, b Value) error {
	if a == nil || b == nil || !a.Kind().numeric() || !b.Kind().numeric() {
		return Incompatible(op, a, b)
	}
	return nil
}

func arith(op string, a, b Value, ints func(x, y int64) int64, floats func(x, y float64) float64) (Value, error) {
	if err := checkArith(op, a, b); err != nil {
		return nil, err
	}
	k := wider(a.Kind(), b.Kind())
	if k == KindFloat32 {
		return NewFloat32(float32(floats(toFloat64(a), toFloat64(b)))), nil
	}
	x, _ := ToInt64(a)
	y, _ := ToInt64(b)
	return fromInt64(k, ints(x, y)), nil
}

func isZero(v Value) bool {
	if f, ok := v.(*Float32); ok {
		return f.V == 0
	}
	n, _ := ToInt64(v)
	return n == 0
}
