package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Arithmetic, comparison, and coercion. Every operator returns either a
// result or a throwable describing the type error; the dispatch loop
// raises the latter.

// toNumber coerces a value for arithmetic: int or float out.
func (vm *VM) toNumber(v Value, op string) (Value, *Object) {
	switch v.Kind() {
	case KindInt, KindFloat:
		return v, nil
	case KindNull:
		return Int(0), nil
	case KindBool:
		if v.AsBool() {
			return Int(1), nil
		}
		return Int(0), nil
	case KindString:
		if n, ok := IsNumericString(v.AsString()); ok {
			return n, nil
		}
		return Undef(), vm.newThrowable("TypeError",
			"unsupported operand string for "+op)
	default:
		return Undef(), vm.newThrowable("TypeError",
			"unsupported operand type "+v.TypeName()+" for "+op)
	}
}

func bothInt(a, b Value) bool {
	return a.Kind() == KindInt && b.Kind() == KindInt
}

func asFloat(v Value) float64 {
	if v.Kind() == KindInt {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

// arith evaluates one eager numeric operator with promotion on overflow.
func (vm *VM) arith(op bytecode.Opcode, a, b Value) (Value, *Object) {
	if op == bytecode.OpAdd && a.Kind() == KindArray && b.Kind() == KindArray {
		return vm.arrayUnion(a.Array(), b.Array()), nil
	}

	na, exc := vm.toNumber(a, op.String())
	if exc != nil {
		return Undef(), exc
	}
	nb, exc := vm.toNumber(b, op.String())
	if exc != nil {
		return Undef(), exc
	}

	switch op {
	case bytecode.OpAdd:
		if bothInt(na, nb) {
			x, y := na.AsInt(), nb.AsInt()
			sum := x + y
			if (x > 0 && y > 0 && sum < 0) || (x < 0 && y < 0 && sum >= 0) {
				return Float(float64(x) + float64(y)), nil
			}
			return Int(sum), nil
		}
		return Float(asFloat(na) + asFloat(nb)), nil

	case bytecode.OpSub:
		if bothInt(na, nb) {
			x, y := na.AsInt(), nb.AsInt()
			diff := x - y
			if (x >= 0 && y < 0 && diff < 0) || (x < 0 && y > 0 && diff > 0) {
				return Float(float64(x) - float64(y)), nil
			}
			return Int(diff), nil
		}
		return Float(asFloat(na) - asFloat(nb)), nil

	case bytecode.OpMul:
		if bothInt(na, nb) {
			x, y := na.AsInt(), nb.AsInt()
			if x != 0 && y != 0 {
				prod := x * y
				if prod/y != x {
					return Float(float64(x) * float64(y)), nil
				}
				return Int(prod), nil
			}
			return Int(0), nil
		}
		return Float(asFloat(na) * asFloat(nb)), nil

	case bytecode.OpDiv:
		if asFloat(nb) == 0 {
			return Undef(), vm.newThrowable("DivisionByZeroError", "Division by zero")
		}
		if bothInt(na, nb) && na.AsInt()%nb.AsInt() == 0 {
			return Int(na.AsInt() / nb.AsInt()), nil
		}
		return Float(asFloat(na) / asFloat(nb)), nil

	case bytecode.OpMod:
		x, y := truncInt(na), truncInt(nb)
		if y == 0 {
			return Undef(), vm.newThrowable("DivisionByZeroError", "Modulo by zero")
		}
		return Int(x % y), nil

	case bytecode.OpPow:
		if bothInt(na, nb) && nb.AsInt() >= 0 {
			result := int64(1)
			base, exp := na.AsInt(), nb.AsInt()
			overflow := false
			for n := exp; n > 0; n-- {
				next := result * base
				if base != 0 && next/base != result {
					overflow = true
					break
				}
				result = next
			}
			if !overflow {
				return Int(result), nil
			}
		}
		return Float(math.Pow(asFloat(na), asFloat(nb))), nil
	}
	return Undef(), vm.newThrowable("Error", "unknown arithmetic operator")
}

func truncInt(v Value) int64 {
	if v.Kind() == KindInt {
		return v.AsInt()
	}
	return int64(v.AsFloat())
}

// bitwise evaluates an integer bit operator.
func (vm *VM) bitwise(op bytecode.Opcode, a, b Value) (Value, *Object) {
	na, exc := vm.toNumber(a, op.String())
	if exc != nil {
		return Undef(), exc
	}
	nb, exc := vm.toNumber(b, op.String())
	if exc != nil {
		return Undef(), exc
	}
	x, y := truncInt(na), truncInt(nb)
	switch op {
	case bytecode.OpBitAnd:
		return Int(x & y), nil
	case bytecode.OpBitOr:
		return Int(x | y), nil
	case bytecode.OpBitXor:
		return Int(x ^ y), nil
	case bytecode.OpShiftLeft:
		if y < 0 {
			return Undef(), vm.newThrowable("ArithmeticError", "Bit shift by negative number")
		}
		return Int(x << uint(y)), nil
	case bytecode.OpShiftRight:
		if y < 0 {
			return Undef(), vm.newThrowable("ArithmeticError", "Bit shift by negative number")
		}
		return Int(x >> uint(y)), nil
	}
	return Undef(), vm.newThrowable("Error", "unknown bitwise operator")
}

// arrayUnion implements `+` on arrays: left operand wins on key collision.
func (vm *VM) arrayUnion(a, b *Array) Value {
	out := a.Clone()
	for _, k := range b.Keys() {
		if _, exists := out.Get(k); !exists {
			v, _ := b.Get(k)
			out.Set(k, v)
		}
	}
	return ArrayVal(out)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// strictEqual is === : same type, same value, arrays element-wise in
// order, objects by identity.
func strictEqual(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull, KindUndef:
		return true
	case KindBool:
		return a.AsBool() == b.AsBool()
	case KindInt:
		return a.AsInt() == b.AsInt()
	case KindFloat:
		return a.AsFloat() == b.AsFloat()
	case KindString:
		return a.AsString() == b.AsString()
	case KindArray:
		x, y := a.Array(), b.Array()
		if x.Len() != y.Len() {
			return false
		}
		xk, yk := x.Keys(), y.Keys()
		for i := range xk {
			if xk[i] != yk[i] {
				return false
			}
			xv, _ := x.Get(xk[i])
			yv, _ := y.Get(yk[i])
			if !strictEqual(xv.Deref(), yv.Deref()) {
				return false
			}
		}
		return true
	case KindObject:
		return a.Object() == b.Object()
	case KindClosure:
		return a.Closure() == b.Closure()
	}
	return false
}

// looseCompare orders two values under type juggling, returning -1, 0, or
// 1 and whether the pair is comparable. Numeric strings compare as
// numbers; a number against a non-numeric string compares as strings.
func (vm *VM) looseCompare(a, b Value) (int, bool) {
	ka, kb := a.Kind(), b.Kind()

	if ka == KindNull && kb == KindNull {
		return 0, true
	}
	// Bool on either side compares truthiness.
	if ka == KindBool || kb == KindBool {
		return boolCompare(a.Truthy(), b.Truthy()), true
	}
	if ka == KindNull {
		switch kb {
		case KindString:
			return strings.Compare("", b.AsString()), true
		default:
			return boolCompare(false, b.Truthy()), true
		}
	}
	if kb == KindNull {
		c, ok := vm.looseCompare(b, a)
		return -c, ok
	}

	if isNumericKind(ka) && isNumericKind(kb) {
		return floatCompare(asFloat(a), asFloat(b)), true
	}
	if isNumericKind(ka) && kb == KindString {
		if n, ok := IsNumericString(b.AsString()); ok {
			return floatCompare(asFloat(a), asFloat(n)), true
		}
		return strings.Compare(vm.scalarString(a), b.AsString()), true
	}
	if ka == KindString && isNumericKind(kb) {
		c, ok := vm.looseCompare(b, a)
		return -c, ok
	}
	if ka == KindString && kb == KindString {
		x, xok := IsNumericString(a.AsString())
		y, yok := IsNumericString(b.AsString())
		if xok && yok {
			return floatCompare(asFloat(x), asFloat(y)), true
		}
		return strings.Compare(a.AsString(), b.AsString()), true
	}
	if ka == KindArray && kb == KindArray {
		x, y := a.Array(), b.Array()
		if x.Len() != y.Len() {
			return boolCompare(x.Len() > y.Len(), x.Len() < y.Len()), true
		}
		for _, k := range x.Keys() {
			yv, ok := y.Get(k)
			if !ok {
				return 0, false
			}
			xv, _ := x.Get(k)
			if c, ok := vm.looseCompare(xv.Deref(), yv.Deref()); !ok || c != 0 {
				return c, ok
			}
		}
		return 0, true
	}
	if ka == KindObject && kb == KindObject {
		if a.Object() == b.Object() {
			return 0, true
		}
		return 0, false
	}
	return 0, false
}

func isNumericKind(k Kind) bool { return k == KindInt || k == KindFloat }

func boolCompare(x, y bool) int {
	switch {
	case x == y:
		return 0
	case x:
		return 1
	default:
		return -1
	}
}

func floatCompare(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// looseEqual is == under type juggling.
func (vm *VM) looseEqual(a, b Value) bool {
	if a.Kind() == KindObject && b.Kind() == KindObject {
		x, y := a.Object(), b.Object()
		if x == y {
			return true
		}
		if x.Class != y.Class {
			return false
		}
		for _, name := range x.PropNames() {
			xv, _ := x.getRaw(name)
			yv, ok := y.getRaw(name)
			if !ok || !vm.looseEqual(xv.Deref(), yv.Deref()) {
				return false
			}
		}
		return len(x.PropNames()) == len(y.PropNames())
	}
	c, ok := vm.looseCompare(a, b)
	return ok && c == 0
}

// scalarString converts a non-object value to its string form.
func (vm *VM) scalarString(v Value) string {
	switch v.Kind() {
	case KindUndef, KindNull:
		return ""
	case KindBool:
		if v.AsBool() {
			return "1"
		}
		return ""
	case KindInt:
		return formatInt(v.AsInt())
	case KindFloat:
		return FormatFloat(v.AsFloat())
	case KindString:
		return v.AsString()
	case KindArray:
		return "Array"
	default:
		return v.TypeName()
	}
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
