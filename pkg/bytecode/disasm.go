package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders a code object as human-readable text, one
// instruction per line with decoded operands.
func Disassemble(code *CodeObject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", code.Name)
	fmt.Fprintf(&b, "locals=%d params=%d", code.LocalCount, len(code.Params))
	if len(code.Upvalues) > 0 {
		fmt.Fprintf(&b, " upvalues=%d", len(code.Upvalues))
	}
	if code.IsGenerator {
		b.WriteString(" generator")
	}
	b.WriteByte('\n')

	for i, region := range code.TryRegions {
		fmt.Fprintf(&b, "try[%d]:", i)
		for _, clause := range region.Catches {
			fmt.Fprintf(&b, " catch(%s)@%04d", strings.Join(clause.Types, "|"), clause.Target)
		}
		if region.FinallyTarget != NoTarget {
			fmt.Fprintf(&b, " finally@%04d", region.FinallyTarget)
		}
		b.WriteByte('\n')
	}

	for offset := 0; offset < len(code.Code); {
		offset = disassembleInstruction(&b, code, offset)
	}
	return b.String()
}

// DisassembleProgram renders every code object in a program.
func DisassembleProgram(p *Program) string {
	var b strings.Builder
	for i, code := range p.AllCode() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Disassemble(code))
	}
	return b.String()
}

func disassembleInstruction(b *strings.Builder, code *CodeObject, offset int) int {
	op := Opcode(code.Code[offset])
	info := GetOpcodeInfo(op)
	fmt.Fprintf(b, "%04d %-16s", offset, info.Name)

	for i := 0; i < info.Operands; i++ {
		operand := code.ReadU16(offset + 1 + 2*i)
		fmt.Fprintf(b, " %5d", operand)
	}
	if note := operandNote(code, op, offset); note != "" {
		fmt.Fprintf(b, "  ; %s", note)
	}
	b.WriteByte('\n')
	return offset + op.InstructionLen()
}

// operandNote decodes the interesting operand of an instruction for the
// trailing comment.
func operandNote(code *CodeObject, op Opcode, offset int) string {
	operand := func(i int) uint16 { return code.ReadU16(offset + 1 + 2*i) }
	constNote := func(idx uint16) string {
		if int(idx) < len(code.Constants) {
			return code.Constants[idx].String()
		}
		return "?"
	}
	localNote := func(slot uint16) string {
		if int(slot) < len(code.LocalNames) && code.LocalNames[slot] != "" {
			return "$" + code.LocalNames[slot]
		}
		return ""
	}

	switch op {
	case OpConst:
		return constNote(operand(0))
	case OpLoadLocal, OpStoreLocal, OpLocalRef, OpIssetLocal, OpUnsetLocal:
		return localNote(operand(0))
	case OpBindGlobal:
		return constNote(operand(0))
	case OpLoadUpvalue, OpStoreUpvalue, OpUpvalueRef:
		idx := operand(0)
		if int(idx) < len(code.Upvalues) {
			return "$" + code.Upvalues[idx].Name
		}
	case OpCall, OpCallBuiltin, OpCallMethod:
		return constNote(operand(0))
	case OpCallStatic, OpGetStatic, OpSetStatic, OpStaticRef, OpClassConst:
		return fmt.Sprintf("%s::%s", trimQuotes(constNote(operand(0))), trimQuotes(constNote(operand(1))))
	case OpNew, OpGetProp, OpSetProp, OpPropRef, OpIssetProp, OpUnsetProp, OpInstanceOf:
		return constNote(operand(0))
	}
	return ""
}

func trimQuotes(s string) string {
	return strings.Trim(s, "\"")
}
