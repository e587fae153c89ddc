package bytecode

import (
	"encoding/binary"
	"fmt"
)

// FormatVersion is the current compiled-program format version.
// Increment when making incompatible changes to instruction encoding or
// the CodeObject layout.
const FormatVersion uint16 = 1

// placeholder is the provisional operand emitted for forward jumps before
// the target is known.
const placeholder uint16 = 0xFFFF

// NoTarget marks an absent jump target in try-region tables.
const NoTarget uint16 = 0xFFFF

// ConstKind identifies the type of a pooled constant.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
	ConstArray
)

// Constant is a compile-time value: a scalar from the constant pool, or an
// array of constants used for parameter and property defaults. Initializer
// expressions are folded into Constants at compile time; no bytecode runs
// for them.
type Constant struct {
	Kind  ConstKind   `cbor:"1,keyasint"`
	Bool  bool        `cbor:"2,keyasint,omitempty"`
	Int   int64       `cbor:"3,keyasint,omitempty"`
	Float float64     `cbor:"4,keyasint,omitempty"`
	Str   string      `cbor:"5,keyasint,omitempty"`
	Arr   []ConstPair `cbor:"6,keyasint,omitempty"`
}

// ConstPair is one element of an array constant. HasKey false means the
// element takes the next integer key at construction time.
type ConstPair struct {
	HasKey bool     `cbor:"1,keyasint,omitempty"`
	Key    Constant `cbor:"2,keyasint,omitempty"`
	Value  Constant `cbor:"3,keyasint"`
}

// Convenience constructors used by the compiler and tests.

func NullConst() Constant           { return Constant{Kind: ConstNull} }
func BoolConst(b bool) Constant     { return Constant{Kind: ConstBool, Bool: b} }
func IntConst(n int64) Constant     { return Constant{Kind: ConstInt, Int: n} }
func FloatConst(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }

func (c Constant) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstArray:
		return fmt.Sprintf("array(%d)", len(c.Arr))
	default:
		return fmt.Sprintf("Constant(%d)", c.Kind)
	}
}

// sameScalar reports whether two constants are identical scalars.
// Array constants are never pooled together.
func sameScalar(a, b Constant) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ConstNull:
		return true
	case ConstBool:
		return a.Bool == b.Bool
	case ConstInt:
		return a.Int == b.Int
	case ConstFloat:
		return a.Float == b.Float
	case ConstString:
		return a.Str == b.Str
	default:
		return false
	}
}

// ParamDesc describes one declared parameter of a CodeObject.
// Parameters occupy the first len(Params) local slots.
type ParamDesc struct {
	Name       string   `cbor:"1,keyasint"`
	HasDefault bool     `cbor:"2,keyasint,omitempty"`
	Default    Constant `cbor:"3,keyasint,omitempty"`
	ByRef      bool     `cbor:"4,keyasint,omitempty"`
	Variadic   bool     `cbor:"5,keyasint,omitempty"`
}

// UpvalueDesc describes one variable captured by a closure, resolved
// against the enclosing CodeObject at compile time.
type UpvalueDesc struct {
	Name        string `cbor:"1,keyasint"`
	FromUpvalue bool   `cbor:"2,keyasint,omitempty"` // capture the enclosing frame's upvalue, not a local
	Index       uint16 `cbor:"3,keyasint"`           // slot or upvalue index in the enclosing frame
	ByRef       bool   `cbor:"4,keyasint,omitempty"`
}

// CatchClause is one catch arm of a try region.
type CatchClause struct {
	Types  []string `cbor:"1,keyasint"` // class/interface names the clause matches
	Slot   uint16   `cbor:"2,keyasint"` // local slot receiving the exception (NoTarget when discarded)
	Target uint16   `cbor:"3,keyasint"` // bytecode offset of the handler body
}

// TryRegion describes one try statement. FinallyTarget is the
// exception-path entry of the finally block (NoTarget when the statement
// has no finally); the normal, return, break and continue exits have the
// finally body inlined by the compiler.
type TryRegion struct {
	Catches       []CatchClause `cbor:"1,keyasint,omitempty"`
	FinallyTarget uint16        `cbor:"2,keyasint"`
}

// CallShape carries named-argument metadata for a call site: the names of
// the trailing len(Names) arguments. Shape index NoShape means a purely
// positional call.
type CallShape struct {
	Names []string `cbor:"1,keyasint"`
}

// NoShape marks a positional call site.
const NoShape uint16 = 0xFFFF

// CodeObject is one compiled function, method, closure, or top-level body:
// an instruction sequence with its constant pool, slot layout, and side
// tables. Slot indices are stable for the object's lifetime.
type CodeObject struct {
	Name        string        `cbor:"1,keyasint"` // "{main}", "f", "Cls::m", "{closure}"
	Code        []byte        `cbor:"2,keyasint"`
	Constants   []Constant    `cbor:"3,keyasint,omitempty"`
	Params      []ParamDesc   `cbor:"4,keyasint,omitempty"`
	LocalCount  int           `cbor:"5,keyasint"` // includes parameter slots
	LocalNames  []string      `cbor:"6,keyasint,omitempty"`
	Upvalues    []UpvalueDesc `cbor:"7,keyasint,omitempty"`
	TryRegions  []TryRegion   `cbor:"8,keyasint,omitempty"`
	Shapes      []CallShape   `cbor:"9,keyasint,omitempty"`
	IsGenerator bool          `cbor:"10,keyasint,omitempty"`
	Line        int           `cbor:"11,keyasint,omitempty"` // declaration line, for diagnostics

	// lastOp is the opcode of the last full instruction appended, tracked
	// so the compiler can test terminators without decoding the stream.
	// Jump operands may alias opcode byte values, so the raw tail byte is
	// not usable for this. Compile-time only; not serialized.
	lastOp  Opcode
	emitted bool
}

// NewCodeObject creates an empty code object.
func NewCodeObject(name string) *CodeObject {
	return &CodeObject{
		Name: name,
		Code: make([]byte, 0, 64),
	}
}

// AddConstant pools a constant and returns its index. Scalar constants are
// deduplicated; array constants always get a fresh slot.
func (c *CodeObject) AddConstant(v Constant) uint16 {
	if v.Kind != ConstArray {
		for i, existing := range c.Constants {
			if sameScalar(existing, v) {
				return uint16(i)
			}
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, v)
	return idx
}

// AddString pools a string constant and returns its index.
func (c *CodeObject) AddString(s string) uint16 {
	return c.AddConstant(StringConst(s))
}

// AddShape records a call shape and returns its index.
func (c *CodeObject) AddShape(names []string) uint16 {
	idx := uint16(len(c.Shapes))
	c.Shapes = append(c.Shapes, CallShape{Names: names})
	return idx
}

// AddTryRegion records a try region and returns its index. The region's
// targets are patched as the compiler reaches them.
func (c *CodeObject) AddTryRegion() uint16 {
	idx := uint16(len(c.TryRegions))
	c.TryRegions = append(c.TryRegions, TryRegion{FinallyTarget: NoTarget})
	return idx
}

// Emit appends an instruction and returns its offset.
func (c *CodeObject) Emit(op Opcode, operands ...uint16) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	for _, operand := range operands {
		c.Code = binary.BigEndian.AppendUint16(c.Code, operand)
	}
	c.lastOp = op
	c.emitted = true
	return offset
}

// lastEmitted returns the opcode of the most recently appended
// instruction. Patching operands does not change it.
func (c *CodeObject) lastEmitted() (Opcode, bool) {
	return c.lastOp, c.emitted
}

// EmitJump appends a jump with a placeholder target and returns the byte
// offset of the target operand for later patching. Extra operands (for
// OpIterNext) follow the target.
func (c *CodeObject) EmitJump(op Opcode, extra ...uint16) int {
	c.Code = append(c.Code, byte(op))
	c.lastOp = op
	c.emitted = true
	operandPos := len(c.Code)
	c.Code = binary.BigEndian.AppendUint16(c.Code, placeholder)
	for _, operand := range extra {
		c.Code = binary.BigEndian.AppendUint16(c.Code, operand)
	}
	return operandPos
}

// PatchJump points a placeholder emitted by EmitJump at the current offset.
func (c *CodeObject) PatchJump(operandPos int) {
	c.PatchJumpTo(operandPos, len(c.Code))
}

// PatchJumpTo points a placeholder at an explicit absolute offset.
func (c *CodeObject) PatchJumpTo(operandPos, target int) {
	binary.BigEndian.PutUint16(c.Code[operandPos:], uint16(target))
}

// CurrentOffset returns the offset the next instruction will occupy.
func (c *CodeObject) CurrentOffset() int {
	return len(c.Code)
}

// ReadU16 decodes the big-endian operand at the given byte offset.
func (c *CodeObject) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// ConstantAt returns the pooled constant at index.
func (c *CodeObject) ConstantAt(idx uint16) Constant {
	return c.Constants[idx]
}

// StringAt returns the pooled string constant at index.
// Panics if the constant is not a string; the compiler only emits string
// indices for name operands.
func (c *CodeObject) StringAt(idx uint16) string {
	k := c.Constants[idx]
	if k.Kind != ConstString {
		panic(fmt.Sprintf("bytecode: constant %d is %v, not a string", idx, k))
	}
	return k.Str
}

// RequiredParams returns the number of parameters without defaults,
// excluding a trailing variadic.
func (c *CodeObject) RequiredParams() int {
	n := 0
	for _, p := range c.Params {
		if !p.HasDefault && !p.Variadic {
			n++
		}
	}
	return n
}
