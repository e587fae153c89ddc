package bytecode

import "fmt"

// Static bytecode verification. Every compiled code object is checked
// before it can run: instruction stream well-formedness, operand bounds,
// and a stack-depth dataflow that proves the operand stack is balanced on
// every path, including catch and finally entries.

// VerifyError describes a defect found in a compiled code object.
type VerifyError struct {
	Code   string // code object name
	Offset int
	Msg    string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s at %04d: %s", e.Code, e.Offset, e.Msg)
}

// VerifyProgram checks every code object in a program.
func VerifyProgram(p *Program) error {
	for _, code := range p.AllCode() {
		if err := VerifyCode(code); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCode statically checks one code object.
func VerifyCode(code *CodeObject) error {
	v := &verifier{code: code, depths: make(map[int]int)}
	if err := v.scanLayout(); err != nil {
		return err
	}
	return v.flow()
}

type verifier struct {
	code   *CodeObject
	starts map[int]bool // valid instruction boundaries
	depths map[int]int  // established stack depth per reached offset
	work   []flowPoint
}

type flowPoint struct {
	offset int
	depth  int
}

func (v *verifier) fail(offset int, format string, args ...any) error {
	return &VerifyError{Code: v.code.Name, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// scanLayout walks the instruction stream linearly, recording boundaries
// and bounds-checking every operand.
func (v *verifier) scanLayout() error {
	code := v.code
	v.starts = make(map[int]bool)
	for offset := 0; offset < len(code.Code); {
		op := Opcode(code.Code[offset])
		if _, known := opcodeInfoTable[op]; !known {
			return v.fail(offset, "unknown opcode 0x%02X", byte(op))
		}
		v.starts[offset] = true
		length := op.InstructionLen()
		if offset+length > len(code.Code) {
			return v.fail(offset, "%s: truncated instruction", op)
		}
		if err := v.checkOperands(op, offset); err != nil {
			return err
		}
		offset += length
	}

	// Jump targets must land on instruction boundaries.
	for offset := 0; offset < len(code.Code); {
		op := Opcode(code.Code[offset])
		if op.IsJump() {
			target := int(code.ReadU16(offset + 1))
			if target != len(code.Code) && !v.starts[target] {
				return v.fail(offset, "%s: target %04d is not an instruction boundary", op, target)
			}
		}
		offset += op.InstructionLen()
	}
	for i, region := range code.TryRegions {
		for _, clause := range region.Catches {
			if !v.starts[int(clause.Target)] {
				return v.fail(0, "try region %d: catch target %04d is not an instruction boundary", i, clause.Target)
			}
		}
		if region.FinallyTarget != NoTarget && !v.starts[int(region.FinallyTarget)] {
			return v.fail(0, "try region %d: finally target %04d is not an instruction boundary", i, region.FinallyTarget)
		}
	}
	return nil
}

func (v *verifier) checkOperands(op Opcode, offset int) error {
	code := v.code
	operand := func(i int) uint16 { return code.ReadU16(offset + 1 + 2*i) }

	checkConst := func(idx uint16) error {
		if int(idx) >= len(code.Constants) {
			return v.fail(offset, "%s: constant %d out of range", op, idx)
		}
		return nil
	}
	checkString := func(idx uint16) error {
		if err := checkConst(idx); err != nil {
			return err
		}
		if code.Constants[idx].Kind != ConstString {
			return v.fail(offset, "%s: constant %d is not a string", op, idx)
		}
		return nil
	}
	checkSlot := func(slot uint16) error {
		if int(slot) >= code.LocalCount {
			return v.fail(offset, "%s: slot %d out of range (%d locals)", op, slot, code.LocalCount)
		}
		return nil
	}

	switch op {
	case OpConst:
		return checkConst(operand(0))
	case OpLoadLocal, OpStoreLocal, OpLocalRef, OpIssetLocal, OpUnsetLocal:
		return checkSlot(operand(0))
	case OpBindGlobal:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		return checkSlot(operand(1))
	case OpLoadUpvalue, OpStoreUpvalue, OpUpvalueRef:
		if int(operand(0)) >= len(code.Upvalues) {
			return v.fail(offset, "%s: upvalue %d out of range", op, operand(0))
		}
	case OpCall:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		return v.checkShape(op, offset, operand(2))
	case OpCallValue:
		return v.checkShape(op, offset, operand(1))
	case OpCallBuiltin:
		return checkString(operand(0))
	case OpCallMethod:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		return v.checkShape(op, offset, operand(2))
	case OpCallStatic:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		if err := checkString(operand(1)); err != nil {
			return err
		}
		return v.checkShape(op, offset, operand(3))
	case OpNew:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		return v.checkShape(op, offset, operand(2))
	case OpGetProp, OpSetProp, OpPropRef, OpIssetProp, OpUnsetProp, OpInstanceOf:
		return checkString(operand(0))
	case OpGetStatic, OpSetStatic, OpStaticRef, OpClassConst:
		if err := checkString(operand(0)); err != nil {
			return err
		}
		return checkString(operand(1))
	case OpTryPush:
		if int(operand(0)) >= len(code.TryRegions) {
			return v.fail(offset, "%s: try region %d out of range", op, operand(0))
		}
	case OpStoreRef, OpStoreRefKeep, OpLoadDeref, OpElemRef, OpAppendRef:
		// no static operands
	}
	return nil
}

func (v *verifier) checkShape(op Opcode, offset int, shape uint16) error {
	if shape != NoShape && int(shape) >= len(v.code.Shapes) {
		return v.fail(offset, "%s: shape %d out of range", op, shape)
	}
	return nil
}

// flow runs the stack-depth dataflow from the entry point and every
// exception handler entry.
func (v *verifier) flow() error {
	v.push(0, 0)
	for len(v.work) > 0 {
		pt := v.work[len(v.work)-1]
		v.work = v.work[:len(v.work)-1]
		if err := v.walk(pt.offset, pt.depth); err != nil {
			return err
		}
	}

	// Unreached try region entries mean the region's OpTryPush was never
	// executed on any path, which the compiler should not produce.
	for i, region := range v.code.TryRegions {
		for _, clause := range region.Catches {
			if _, reached := v.depths[int(clause.Target)]; !reached {
				return v.fail(int(clause.Target), "try region %d: catch handler unreachable", i)
			}
		}
	}
	return nil
}

func (v *verifier) push(offset, depth int) {
	v.work = append(v.work, flowPoint{offset, depth})
}

// merge records the depth at an offset, returning false when the offset
// was already walked at this depth.
func (v *verifier) merge(offset, depth int) (bool, error) {
	if prev, seen := v.depths[offset]; seen {
		if prev != depth {
			return false, v.fail(offset, "stack depth mismatch: %d vs %d", prev, depth)
		}
		return false, nil
	}
	v.depths[offset] = depth
	return true, nil
}

func (v *verifier) walk(offset, depth int) error {
	code := v.code
	for offset < len(code.Code) {
		fresh, err := v.merge(offset, depth)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		op := Opcode(code.Code[offset])
		operand := func(i int) uint16 { return code.ReadU16(offset + 1 + 2*i) }
		pop, push := v.stackEffect(op, operand)

		if depth < pop {
			return v.fail(offset, "%s: pops %d with stack depth %d", op, pop, depth)
		}
		next := depth - pop + push

		switch op {
		case OpReturn, OpReturnNull, OpThrow, OpMatchError, OpEndFinally:
			return nil

		case OpTryPush:
			// Handlers enter with the stack truncated to this depth.
			region := code.TryRegions[operand(0)]
			for _, clause := range region.Catches {
				v.push(int(clause.Target), depth)
			}
			if region.FinallyTarget != NoTarget {
				v.push(int(region.FinallyTarget), depth)
			}

		case OpJump:
			v.push(int(operand(0)), next)
			return nil

		case OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNull, OpJumpNotNull:
			v.push(int(operand(0)), next)

		case OpIterNext:
			// Exhaustion pops the iterator and jumps; the fallthrough
			// keeps it and pushes the element.
			v.push(int(operand(0)), depth-1)
			next = depth + 1
			if operand(1)&IterWantKey != 0 {
				next = depth + 2
			}
		}

		offset += op.InstructionLen()
		depth = next
	}
	return v.fail(offset, "execution runs off the end of the code")
}

// stackEffect resolves an opcode's pop/push counts, consulting operands
// for the variadic cases. OpIterNext is handled by the caller.
func (v *verifier) stackEffect(op Opcode, operand func(int) uint16) (pop, push int) {
	info := opcodeInfoTable[op]
	pop, push = info.StackPop, info.StackPush
	switch op {
	case OpCall:
		pop = int(operand(1))
	case OpCallValue:
		pop = int(operand(0)) + 1
	case OpCallBuiltin:
		pop = int(operand(1))
	case OpCallMethod:
		pop = int(operand(1)) + 1
	case OpCallStatic:
		pop = int(operand(2))
	case OpNew:
		pop = int(operand(1))
	case OpEcho:
		pop = int(operand(0))
	case OpYield:
		pop = 1 + int(operand(0))
	case OpIterNext:
		pop, push = 0, 0
	}
	return pop, push
}
