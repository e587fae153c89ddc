package bytecode

import (
	"strings"
	"testing"
)

func TestOpcodeTableIsComplete(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has no name", byte(op))
		}
		if strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("opcode 0x%02X reports %s", byte(op), info.Name)
		}
		if info.Operands < 0 || info.Operands > 4 {
			t.Errorf("%s: implausible operand count %d", info.Name, info.Operands)
		}
		if got := op.InstructionLen(); got != 1+2*info.Operands {
			t.Errorf("%s: InstructionLen() = %d, want %d", info.Name, got, 1+2*info.Operands)
		}
	}
	if OpcodeCount() != len(AllOpcodes()) {
		t.Errorf("OpcodeCount() = %d, len(AllOpcodes()) = %d", OpcodeCount(), len(AllOpcodes()))
	}
}

func TestUnknownOpcodeMetadata(t *testing.T) {
	info := GetOpcodeInfo(Opcode(0xEE))
	if info.Name != "UNKNOWN(0xEE)" {
		t.Errorf("Name = %q", info.Name)
	}
	if Opcode(0xEE).String() != "UNKNOWN(0xEE)" {
		t.Errorf("String() = %q", Opcode(0xEE).String())
	}
}

func TestOpcodePredicates(t *testing.T) {
	jumps := []Opcode{OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNull, OpJumpNotNull, OpIterNext}
	for _, op := range jumps {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false", op)
		}
	}
	if OpConst.IsJump() || OpReturn.IsJump() {
		t.Error("non-jump opcode reports IsJump")
	}

	if !OpReturn.IsReturn() || !OpReturnNull.IsReturn() {
		t.Error("return opcodes not flagged")
	}
	if OpThrow.IsReturn() {
		t.Error("OpThrow.IsReturn() = true")
	}

	calls := []Opcode{OpCall, OpCallValue, OpCallBuiltin, OpCallMethod, OpCallStatic, OpNew}
	for _, op := range calls {
		if !op.IsCall() {
			t.Errorf("%s.IsCall() = false", op)
		}
	}
	if OpAdd.IsCall() {
		t.Error("OpAdd.IsCall() = true")
	}
}

func TestOpcodeNamesAreUnique(t *testing.T) {
	seen := map[string]Opcode{}
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, dup := seen[name]; dup {
			t.Errorf("name %q shared by 0x%02X and 0x%02X", name, byte(prev), byte(op))
		}
		seen[name] = op
	}
}
