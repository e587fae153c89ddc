package bytecode

import "fmt"

// Opcode identifies a bytecode instruction.
// Opcodes are organized into numeric ranges by category. Every operand is a
// big-endian uint16: a local slot, a constant-pool index, a code-table
// index, a try-region index, or an absolute jump target.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation and constants (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpPop   Opcode = 0x01 // Pop top of stack
	OpDup   Opcode = 0x02 // Duplicate top of stack
	OpSwap  Opcode = 0x03 // Swap top two stack elements
	OpConst Opcode = 0x04 // Push constant: OpConst <pool:u16>
	OpNull  Opcode = 0x05 // Push null
	OpTrue  Opcode = 0x06 // Push true
	OpFalse Opcode = 0x07 // Push false

	// ========================================================================
	// Local variables and globals (0x10-0x1F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x10 // Push local (dereferencing): OpLoadLocal <slot:u16>
	OpStoreLocal Opcode = 0x11 // Pop into local (through references): OpStoreLocal <slot:u16>
	OpLocalRef   Opcode = 0x12 // Push reference to local cell: OpLocalRef <slot:u16>
	OpBindGlobal Opcode = 0x13 // Alias local slot to global: OpBindGlobal <name:u16> <slot:u16>
	OpIssetLocal Opcode = 0x14 // Push whether local is set and non-null: OpIssetLocal <slot:u16>
	OpUnsetLocal Opcode = 0x15 // Clear local slot: OpUnsetLocal <slot:u16>
	OpLoadThis   Opcode = 0x16 // Push bound $this

	// ========================================================================
	// Upvalues (0x20-0x2F)
	// ========================================================================

	OpLoadUpvalue  Opcode = 0x20 // Push captured variable: OpLoadUpvalue <idx:u16>
	OpStoreUpvalue Opcode = 0x21 // Pop into captured variable: OpStoreUpvalue <idx:u16>
	OpUpvalueRef   Opcode = 0x22 // Push reference to capture cell: OpUpvalueRef <idx:u16>

	// ========================================================================
	// Arithmetic, string, and bitwise (0x30-0x3F)
	// ========================================================================

	OpAdd        Opcode = 0x30 // Pop two, push sum (numeric coercion; arrays union)
	OpSub        Opcode = 0x31
	OpMul        Opcode = 0x32
	OpDiv        Opcode = 0x33 // Raises DivisionByZeroError on zero divisor
	OpMod        Opcode = 0x34 // Integer modulo; raises on zero divisor
	OpPow        Opcode = 0x35
	OpNeg        Opcode = 0x36 // Arithmetic negation of top
	OpConcat     Opcode = 0x37 // Pop two, push string concatenation
	OpBitAnd     Opcode = 0x38
	OpBitOr      Opcode = 0x39
	OpBitXor     Opcode = 0x3A
	OpBitNot     Opcode = 0x3B
	OpShiftLeft  Opcode = 0x3C
	OpShiftRight Opcode = 0x3D

	// ========================================================================
	// Comparison and logic (0x40-0x4F)
	// ========================================================================

	OpEqual        Opcode = 0x40 // Loose equality (type juggling)
	OpNotEqual     Opcode = 0x41
	OpIdentical    Opcode = 0x42 // Strict equality (no coercion)
	OpNotIdentical Opcode = 0x43
	OpLess         Opcode = 0x44
	OpLessEq       Opcode = 0x45
	OpGreater      Opcode = 0x46
	OpGreaterEq    Opcode = 0x47
	OpCompare      Opcode = 0x48 // Spaceship: push -1/0/1
	OpNot          Opcode = 0x49 // Boolean negation of top

	// ========================================================================
	// Control flow (0x50-0x5F)
	// ========================================================================

	OpJump        Opcode = 0x50 // Unconditional: OpJump <target:u16>
	OpJumpIfFalse Opcode = 0x51 // Pop, jump when falsy: OpJumpIfFalse <target:u16>
	OpJumpIfTrue  Opcode = 0x52 // Pop, jump when truthy: OpJumpIfTrue <target:u16>
	OpJumpIfNull  Opcode = 0x53 // Peek (no pop), jump when null: OpJumpIfNull <target:u16>
	OpJumpNotNull Opcode = 0x54 // Peek (no pop), jump when not null: OpJumpNotNull <target:u16>

	// ========================================================================
	// Calls (0x60-0x6F)
	// ========================================================================

	OpCall        Opcode = 0x60 // Call declared function: OpCall <name:u16> <argc:u16> <shape:u16>
	OpCallValue   Opcode = 0x61 // Call callable under args: OpCallValue <argc:u16> <shape:u16>
	OpCallBuiltin Opcode = 0x62 // Call native builtin: OpCallBuiltin <name:u16> <argc:u16>
	OpEcho        Opcode = 0x63 // Pop and write N values: OpEcho <count:u16>
	OpMakeClosure Opcode = 0x64 // Push closure over code table entry: OpMakeClosure <code:u16>

	// ========================================================================
	// Arrays and references (0x70-0x8F)
	// ========================================================================

	OpNewArray     Opcode = 0x70 // Push empty array
	OpArrayPush    Opcode = 0x71 // [arr val] -> [arr], append with next integer key
	OpArrayKeyPush Opcode = 0x72 // [arr key val] -> [arr]
	OpIndexGet     Opcode = 0x73 // [arr key] -> [val]; undefined key raises
	OpIndexIsset   Opcode = 0x74 // [arr key] -> [bool]
	OpElemRef      Opcode = 0x75 // [ref key] -> [ref to element], unsharing the owning slot
	OpAppendRef    Opcode = 0x76 // [ref] -> [ref to appended element]
	OpLoadDeref    Opcode = 0x77 // [ref] -> [val]
	OpStoreRef     Opcode = 0x78 // [ref val] -> []
	OpStoreRefKeep Opcode = 0x79 // [ref val] -> [val]
	OpUnsetElem    Opcode = 0x7A // [ref key] -> []
	OpIterNew      Opcode = 0x80 // [subject] -> [iter]
	OpIterNext     Opcode = 0x81 // [iter] -> [iter (key)? val] or jump: OpIterNext <end:u16> <flags:u16>

	// ========================================================================
	// Objects and classes (0x90-0xAF)
	// ========================================================================

	OpNew        Opcode = 0x90 // [args...] -> [obj]: OpNew <class:u16> <argc:u16> <shape:u16>
	OpGetProp    Opcode = 0x91 // [obj] -> [val]: OpGetProp <name:u16>
	OpSetProp    Opcode = 0x92 // [obj val] -> [val]: OpSetProp <name:u16>
	OpPropRef    Opcode = 0x93 // [obj] -> [ref]: OpPropRef <name:u16>
	OpIssetProp  Opcode = 0x94 // [obj] -> [bool]: OpIssetProp <name:u16>
	OpUnsetProp  Opcode = 0x95 // [obj] -> []: OpUnsetProp <name:u16>
	OpCallMethod Opcode = 0x96 // [obj args...] -> [ret]: OpCallMethod <name:u16> <argc:u16> <shape:u16>
	OpCallStatic Opcode = 0x97 // [args...] -> [ret]: OpCallStatic <class:u16> <name:u16> <argc:u16> <shape:u16>
	OpGetStatic  Opcode = 0x98 // -> [val]: OpGetStatic <class:u16> <name:u16>
	OpSetStatic  Opcode = 0x99 // [val] -> [val]: OpSetStatic <class:u16> <name:u16>
	OpStaticRef  Opcode = 0x9A // -> [ref]: OpStaticRef <class:u16> <name:u16>
	OpClassConst Opcode = 0x9B // -> [val]: OpClassConst <class:u16> <name:u16>
	OpInstanceOf Opcode = 0x9C // [obj] -> [bool]: OpInstanceOf <class:u16>
	OpClone      Opcode = 0x9D // [obj] -> [copy]

	// ========================================================================
	// Exceptions (0xC0-0xCF)
	// ========================================================================

	OpTryPush    Opcode = 0xC0 // Activate try region: OpTryPush <region:u16>
	OpTryPop     Opcode = 0xC1 // Deactivate innermost try region
	OpThrow      Opcode = 0xC2 // Pop exception object and raise
	OpEndFinally Opcode = 0xC3 // Resume a raise suspended by a finally block
	OpMatchError Opcode = 0xC4 // Pop subject, raise UnhandledMatchError

	// ========================================================================
	// Coroutines (0xD0-0xDF)
	// ========================================================================

	OpYield     Opcode = 0xD0 // Suspend generator: OpYield <haskey:u16>; pushes resume value
	OpYieldFrom Opcode = 0xD1 // [iterable] -> [return value], forwarding inner yields

	// ========================================================================
	// Returns (0xF0-0xFF)
	// ========================================================================

	OpReturn     Opcode = 0xF0 // Pop and return top of stack
	OpReturnNull Opcode = 0xF1 // Return null
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// static verification.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // Values popped (-1 = depends on operands)
	StackPush int    // Values pushed (-1 = depends on operands)
	Operands  int    // Number of uint16 operands following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:   {"NOP", 0, 0, 0},
	OpPop:   {"POP", 1, 0, 0},
	OpDup:   {"DUP", 1, 2, 0},
	OpSwap:  {"SWAP", 2, 2, 0},
	OpConst: {"CONST", 0, 1, 1},
	OpNull:  {"NULL", 0, 1, 0},
	OpTrue:  {"TRUE", 0, 1, 0},
	OpFalse: {"FALSE", 0, 1, 0},

	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},
	OpLocalRef:   {"LOCAL_REF", 0, 1, 1},
	OpBindGlobal: {"BIND_GLOBAL", 0, 0, 2},
	OpIssetLocal: {"ISSET_LOCAL", 0, 1, 1},
	OpUnsetLocal: {"UNSET_LOCAL", 0, 0, 1},
	OpLoadThis:   {"LOAD_THIS", 0, 1, 0},

	OpLoadUpvalue:  {"LOAD_UPVALUE", 0, 1, 1},
	OpStoreUpvalue: {"STORE_UPVALUE", 1, 0, 1},
	OpUpvalueRef:   {"UPVALUE_REF", 0, 1, 1},

	OpAdd:        {"ADD", 2, 1, 0},
	OpSub:        {"SUB", 2, 1, 0},
	OpMul:        {"MUL", 2, 1, 0},
	OpDiv:        {"DIV", 2, 1, 0},
	OpMod:        {"MOD", 2, 1, 0},
	OpPow:        {"POW", 2, 1, 0},
	OpNeg:        {"NEG", 1, 1, 0},
	OpConcat:     {"CONCAT", 2, 1, 0},
	OpBitAnd:     {"BIT_AND", 2, 1, 0},
	OpBitOr:      {"BIT_OR", 2, 1, 0},
	OpBitXor:     {"BIT_XOR", 2, 1, 0},
	OpBitNot:     {"BIT_NOT", 1, 1, 0},
	OpShiftLeft:  {"SHL", 2, 1, 0},
	OpShiftRight: {"SHR", 2, 1, 0},

	OpEqual:        {"EQ", 2, 1, 0},
	OpNotEqual:     {"NE", 2, 1, 0},
	OpIdentical:    {"IDENTICAL", 2, 1, 0},
	OpNotIdentical: {"NOT_IDENTICAL", 2, 1, 0},
	OpLess:         {"LT", 2, 1, 0},
	OpLessEq:       {"LE", 2, 1, 0},
	OpGreater:      {"GT", 2, 1, 0},
	OpGreaterEq:    {"GE", 2, 1, 0},
	OpCompare:      {"CMP", 2, 1, 0},
	OpNot:          {"NOT", 1, 1, 0},

	OpJump:        {"JUMP", 0, 0, 1},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, 1},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 1, 0, 1},
	OpJumpIfNull:  {"JUMP_IF_NULL", 0, 0, 1},
	OpJumpNotNull: {"JUMP_NOT_NULL", 0, 0, 1},

	OpCall:        {"CALL", -1, 1, 3},
	OpCallValue:   {"CALL_VALUE", -1, 1, 2},
	OpCallBuiltin: {"CALL_BUILTIN", -1, 1, 2},
	OpEcho:        {"ECHO", -1, 0, 1},
	OpMakeClosure: {"MAKE_CLOSURE", 0, 1, 1},

	OpNewArray:     {"NEW_ARRAY", 0, 1, 0},
	OpArrayPush:    {"ARRAY_PUSH", 2, 1, 0},
	OpArrayKeyPush: {"ARRAY_KEY_PUSH", 3, 1, 0},
	OpIndexGet:     {"INDEX_GET", 2, 1, 0},
	OpIndexIsset:   {"INDEX_ISSET", 2, 1, 0},
	OpElemRef:      {"ELEM_REF", 2, 1, 0},
	OpAppendRef:    {"APPEND_REF", 1, 1, 0},
	OpLoadDeref:    {"LOAD_DEREF", 1, 1, 0},
	OpStoreRef:     {"STORE_REF", 2, 0, 0},
	OpStoreRefKeep: {"STORE_REF_KEEP", 2, 1, 0},
	OpUnsetElem:    {"UNSET_ELEM", 2, 0, 0},
	OpIterNew:      {"ITER_NEW", 1, 1, 0},
	OpIterNext:     {"ITER_NEXT", -1, -1, 2},

	OpNew:        {"NEW", -1, 1, 3},
	OpGetProp:    {"GET_PROP", 1, 1, 1},
	OpSetProp:    {"SET_PROP", 2, 1, 1},
	OpPropRef:    {"PROP_REF", 1, 1, 1},
	OpIssetProp:  {"ISSET_PROP", 1, 1, 1},
	OpUnsetProp:  {"UNSET_PROP", 1, 0, 1},
	OpCallMethod: {"CALL_METHOD", -1, 1, 3},
	OpCallStatic: {"CALL_STATIC", -1, 1, 4},
	OpGetStatic:  {"GET_STATIC", 0, 1, 2},
	OpSetStatic:  {"SET_STATIC", 1, 1, 2},
	OpStaticRef:  {"STATIC_REF", 0, 1, 2},
	OpClassConst: {"CLASS_CONST", 0, 1, 2},
	OpInstanceOf: {"INSTANCE_OF", 1, 1, 1},
	OpClone:      {"CLONE", 1, 1, 0},

	OpTryPush:    {"TRY_PUSH", 0, 0, 1},
	OpTryPop:     {"TRY_POP", 0, 0, 0},
	OpThrow:      {"THROW", 1, 0, 0},
	OpEndFinally: {"END_FINALLY", 0, 0, 0},
	OpMatchError: {"MATCH_ERROR", 1, 0, 0},

	OpYield:     {"YIELD", -1, 1, 1},
	OpYieldFrom: {"YIELD_FROM", 1, 1, 0},

	OpReturn:     {"RETURN", 1, 0, 0},
	OpReturnNull: {"RETURN_NULL", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Unknown opcodes yield a zero OpcodeInfo with a diagnostic name.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Operands returns the number of uint16 operands for this opcode.
func (op Opcode) Operands() int {
	return GetOpcodeInfo(op).Operands
}

// InstructionLen returns the encoded length of an instruction in bytes.
func (op Opcode) InstructionLen() int {
	return 1 + 2*op.Operands()
}

// IsJump reports whether this opcode may transfer control to its first
// operand.
func (op Opcode) IsJump() bool {
	return (op >= OpJump && op <= OpJumpNotNull) || op == OpIterNext
}

// IsReturn reports whether this opcode terminates the current frame.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNull
}

// IsCall reports whether this opcode invokes another code object.
func (op Opcode) IsCall() bool {
	switch op {
	case OpCall, OpCallValue, OpCallBuiltin, OpCallMethod, OpCallStatic, OpNew:
		return true
	}
	return false
}

// AllOpcodes returns every defined opcode. Useful for metadata tests.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
