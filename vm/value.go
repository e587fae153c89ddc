package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	// KindUndef is the zero Value: a local slot that was never assigned.
	// Reading one raises; isset() reports false. Distinct from KindNull,
	// which is an assigned null.
	KindUndef Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
	KindClosure
	// KindRef appears in storage slots bound by reference and transiently
	// on the operand stack. Loads always dereference; a Ref never nests
	// inside another Ref's cell.
	KindRef
	// KindIter is internal: a live foreach iterator parked on the operand
	// stack between ITER_NEW and loop exit. Never observable by scripts.
	KindIter
)

func (k Kind) String() string {
	switch k {
	case KindUndef:
		return "undef"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindClosure:
		return "closure"
	case KindRef:
		return "reference"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a Peridot runtime value. The zero Value is undefined.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	p    any // *Array, *Object, *Closure, or Ref for KindRef
}

// Constructors.

func Undef() Value                { return Value{} }
func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func ArrayVal(a *Array) Value     { return Value{kind: KindArray, p: a} }
func ObjectVal(o *Object) Value   { return Value{kind: KindObject, p: o} }
func ClosureVal(c *Closure) Value { return Value{kind: KindClosure, p: c} }
func RefVal(r Ref) Value          { return Value{kind: KindRef, p: r} }
func iterVal(it iterator) Value   { return Value{kind: KindIter, p: it} }

// Accessors. Each panics on kind mismatch; callers check Kind first or
// rely on the compiler's invariants.

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsUndef() bool     { return v.kind == KindUndef }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsRef() bool       { return v.kind == KindRef }
func (v Value) AsBool() bool      { return v.b }
func (v Value) AsInt() int64      { return v.i }
func (v Value) AsFloat() float64  { return v.f }
func (v Value) AsString() string  { return v.s }
func (v Value) Array() *Array     { return v.p.(*Array) }
func (v Value) Object() *Object   { return v.p.(*Object) }
func (v Value) Closure() *Closure { return v.p.(*Closure) }
func (v Value) Ref() Ref          { return v.p.(Ref) }
func (v Value) iter() iterator    { return v.p.(iterator) }

// TypeName is the user-visible type name used in diagnostics.
func (v Value) TypeName() string {
	switch v.kind {
	case KindUndef, KindNull:
		return "null"
	case KindObject:
		return v.Object().Class.Name
	case KindClosure:
		return "Closure"
	default:
		return v.kind.String()
	}
}

// Deref follows a reference to its current value. Non-references pass
// through unchanged.
func (v Value) Deref() Value {
	if v.kind == KindRef {
		return v.Ref().Get()
	}
	return v
}

// Truthy applies boolean coercion: null, false, 0, 0.0, "", "0", and the
// empty array are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUndef, KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != "" && v.s != "0"
	case KindArray:
		return v.Array().Len() > 0
	default:
		return true
	}
}

// Ref is a readable, writable storage location. Slot and capture cells,
// array elements, and properties all present this surface, so one store
// path serves every reference form.
type Ref interface {
	Get() Value
	Set(Value)
}

// Cell is a shared mutable location backing reference-bound variables,
// captured closure variables, and global table entries.
type Cell struct {
	v Value
}

// NewCell creates a cell holding the given value.
func NewCell(v Value) *Cell {
	return &Cell{v: v.Deref()}
}

// Get returns the cell's current value.
func (c *Cell) Get() Value { return c.v }

// Set stores into the cell, dereferencing so references never nest.
func (c *Cell) Set(v Value) { c.v = v.Deref() }

// ---------------------------------------------------------------------------
// String conversion
// ---------------------------------------------------------------------------

// FormatFloat renders a float the way echo does: integral floats keep no
// trailing ".0", and precision follows shortest round-trip form.
func FormatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "INF"
	}
	if math.IsInf(f, -1) {
		return "-INF"
	}
	if math.IsNaN(f) {
		return "NAN"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'G', 14, 64)
}

// IsNumericString reports whether a string parses as a number under
// leading/trailing whitespace rules, returning the parsed value.
func IsNumericString(s string) (Value, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Undef(), false
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Int(i), true
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Float(f), true
	}
	return Undef(), false
}
