package bytecode

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Layout checks
// ---------------------------------------------------------------------------

func TestVerifyAcceptsMinimalCode(t *testing.T) {
	code := NewCodeObject("ok")
	idx := code.AddConstant(IntConst(7))
	code.Emit(OpConst, idx)
	code.Emit(OpReturn)
	if err := VerifyCode(code); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
}

func TestVerifyRejectsUnknownOpcode(t *testing.T) {
	code := NewCodeObject("bad")
	code.Code = append(code.Code, 0xEE)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "unknown opcode 0xEE") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsTruncatedInstruction(t *testing.T) {
	code := NewCodeObject("bad")
	// OpConst wants a u16 operand; give it one byte.
	code.Code = append(code.Code, byte(OpConst), 0x00)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "truncated instruction") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsConstantOutOfRange(t *testing.T) {
	code := NewCodeObject("bad")
	code.Emit(OpConst, 9)
	code.Emit(OpReturn)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "constant 9 out of range") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsSlotOutOfRange(t *testing.T) {
	code := NewCodeObject("bad")
	code.LocalCount = 1
	code.Emit(OpLoadLocal, 4)
	code.Emit(OpReturn)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "slot 4 out of range") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsJumpIntoOperand(t *testing.T) {
	code := NewCodeObject("bad")
	idx := code.AddConstant(IntConst(1))
	code.Emit(OpJump, 4)    // 0000, lands inside the OpConst encoding
	code.Emit(OpConst, idx) // 0003
	code.Emit(OpReturn)     // 0006
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "not an instruction boundary") {
		t.Fatalf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Stack-depth dataflow
// ---------------------------------------------------------------------------

func TestVerifyRejectsStackUnderflow(t *testing.T) {
	code := NewCodeObject("bad")
	code.Emit(OpAdd)
	code.Emit(OpReturn)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "pops 2 with stack depth 0") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsDepthMismatchAtJoin(t *testing.T) {
	// One branch reaches the join with depth 1, the other with depth 2.
	code := NewCodeObject("bad")
	idx := code.AddConstant(IntConst(1))
	code.Emit(OpTrue)               // 0000 depth 1
	jump := code.EmitJump(OpJumpIfFalse) // 0001 pops -> depth 0 fallthrough
	code.Emit(OpConst, idx)         // 0004 depth 1
	code.Emit(OpConst, idx)         // 0007 depth 2
	code.PatchJump(jump)            // else path enters the join at depth 0
	code.Emit(OpConst, idx)
	code.Emit(OpReturn)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "stack depth mismatch") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsRunningOffTheEnd(t *testing.T) {
	code := NewCodeObject("bad")
	code.Emit(OpNull)
	code.Emit(OpPop)
	err := VerifyCode(code)
	if err == nil || !strings.Contains(err.Error(), "runs off the end") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyErrorNamesCodeAndOffset(t *testing.T) {
	code := NewCodeObject("frag")
	code.Emit(OpPop)
	code.Emit(OpReturnNull)
	err := VerifyCode(code)
	if err == nil {
		t.Fatal("VerifyCode accepted an underflowing POP")
	}
	ve, ok := err.(*VerifyError)
	if !ok {
		t.Fatalf("err = %T, want *VerifyError", err)
	}
	if ve.Code != "frag" || ve.Offset != 0 {
		t.Errorf("Code=%q Offset=%d", ve.Code, ve.Offset)
	}
	if !strings.HasPrefix(err.Error(), "verify frag at 0000:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestVerifyBranchesBalance(t *testing.T) {
	// if/else producing one value on each path, then consumed.
	code := NewCodeObject("ok")
	a := code.AddConstant(IntConst(1))
	b := code.AddConstant(IntConst(2))
	code.Emit(OpTrue)
	elseJump := code.EmitJump(OpJumpIfFalse)
	code.Emit(OpConst, a)
	endJump := code.EmitJump(OpJump)
	code.PatchJump(elseJump)
	code.Emit(OpConst, b)
	code.PatchJump(endJump)
	code.Emit(OpReturn)
	if err := VerifyCode(code); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
}

func TestVerifyTryRegionHandlers(t *testing.T) {
	// try { null; } catch { null; } with the handler entering at try depth.
	code := NewCodeObject("ok")
	region := code.AddTryRegion()
	code.Emit(OpTryPush, region)
	code.Emit(OpNull)
	code.Emit(OpPop)
	code.Emit(OpTryPop)
	endJump := code.EmitJump(OpJump)
	// The handler enters at the try's stack depth; the exception itself is
	// delivered through the clause slot, not the operand stack.
	handler := code.CurrentOffset()
	code.Emit(OpNull)
	code.Emit(OpPop)
	code.PatchJump(endJump)
	code.Emit(OpReturnNull)
	code.TryRegions[region].Catches = []CatchClause{
		{Types: []string{"Throwable"}, Slot: NoTarget, Target: uint16(handler)},
	}
	if err := VerifyCode(code); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
}
