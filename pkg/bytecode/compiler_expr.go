package bytecode

import (
	"fmt"
	"strings"

	"github.com/peridot-lang/peridot/pkg/ast"
)

// binaryOps maps eager binary operators to their opcode. Short-circuit
// operators ("&&", "||", "??") are compiled with jumps instead.
var binaryOps = map[string]Opcode{
	"+":   OpAdd,
	"-":   OpSub,
	"*":   OpMul,
	"/":   OpDiv,
	"%":   OpMod,
	"**":  OpPow,
	".":   OpConcat,
	"==":  OpEqual,
	"!=":  OpNotEqual,
	"===": OpIdentical,
	"!==": OpNotIdentical,
	"<":   OpLess,
	"<=":  OpLessEq,
	">":   OpGreater,
	">=":  OpGreaterEq,
	"<=>": OpCompare,
	"&":   OpBitAnd,
	"|":   OpBitOr,
	"^":   OpBitXor,
	"<<":  OpShiftLeft,
	">>":  OpShiftRight,
}

// builtinRefParams lists builtins whose first parameter is taken by
// reference. The builtin bridge mutates through the passed reference.
var builtinRefParams = map[string]bool{
	"sort":          true,
	"rsort":         true,
	"usort":         true,
	"uasort":        true,
	"uksort":        true,
	"ksort":         true,
	"krsort":        true,
	"shuffle":       true,
	"array_push":    true,
	"array_pop":     true,
	"array_shift":   true,
	"array_unshift": true,
	"array_splice":  true,
}

// compileExpr emits code leaving exactly one value on the operand stack.
func (fn *fnCompiler) compileExpr(expr ast.Expr) {
	code := fn.code
	switch e := expr.(type) {
	case *ast.IntLit:
		code.Emit(OpConst, code.AddConstant(IntConst(e.Value)))
	case *ast.FloatLit:
		code.Emit(OpConst, code.AddConstant(FloatConst(e.Value)))
	case *ast.StringLit:
		code.Emit(OpConst, code.AddString(e.Value))
	case *ast.BoolLit:
		if e.Value {
			code.Emit(OpTrue)
		} else {
			code.Emit(OpFalse)
		}
	case *ast.NullLit:
		code.Emit(OpNull)

	case *ast.InterpString:
		fn.compileInterp(e)

	case *ast.ArrayLit:
		code.Emit(OpNewArray)
		for _, item := range e.Items {
			if item.Key != nil {
				fn.compileExpr(item.Key)
				fn.compileExpr(item.Value)
				code.Emit(OpArrayKeyPush)
			} else {
				fn.compileExpr(item.Value)
				code.Emit(OpArrayPush)
			}
		}

	case *ast.Var:
		fn.compileVarLoad(e)

	case *ast.Assign:
		fn.compileAssign(e)

	case *ast.AssignRef:
		fn.compileAssignRef(e)

	case *ast.Binary:
		fn.compileBinary(e)

	case *ast.Unary:
		fn.compileUnary(e)

	case *ast.IncDec:
		fn.compileIncDec(e)

	case *ast.Ternary:
		fn.compileTernary(e)

	case *ast.Index:
		if e.Key == nil {
			fn.errorf(e.Position, "cannot read an append target")
			code.Emit(OpNull)
			return
		}
		fn.compileExpr(e.Array)
		fn.compileExpr(e.Key)
		code.Emit(OpIndexGet)

	case *ast.Name:
		fn.errorf(e.Position, "undefined constant %q", e.Value)
		code.Emit(OpNull)

	case *ast.Call:
		fn.compileCall(e)

	case *ast.MethodCall:
		fn.compileExpr(e.Object)
		argc, shape := fn.compileArgs(e.Args, nil, e.Position)
		code.Emit(OpCallMethod, code.AddString(e.Method), argc, shape)

	case *ast.StaticCall:
		fn.checkClassDesignator(e.Class, e.Position)
		argc, shape := fn.compileArgs(e.Args, nil, e.Position)
		code.Emit(OpCallStatic, code.AddString(e.Class), code.AddString(e.Method), argc, shape)

	case *ast.New:
		fn.checkClassDesignator(e.Class, e.Position)
		argc, shape := fn.compileArgs(e.Args, nil, e.Position)
		code.Emit(OpNew, code.AddString(e.Class), argc, shape)

	case *ast.PropFetch:
		fn.compileExpr(e.Object)
		code.Emit(OpGetProp, code.AddString(e.Name))

	case *ast.StaticPropFetch:
		fn.checkClassDesignator(e.Class, e.Position)
		code.Emit(OpGetStatic, code.AddString(e.Class), code.AddString(e.Name))

	case *ast.ClassConstFetch:
		fn.checkClassDesignator(e.Class, e.Position)
		code.Emit(OpClassConst, code.AddString(e.Class), code.AddString(e.Name))

	case *ast.Closure:
		fn.compileClosure(e)

	case *ast.Match:
		fn.compileMatch(e)

	case *ast.Yield:
		fn.compileYield(e)

	case *ast.YieldFrom:
		if fn.isMain {
			fn.errorf(e.Position, "yield from is only valid inside a function")
		}
		fn.sawYield = true
		fn.compileExpr(e.Expr)
		code.Emit(OpYieldFrom)

	case *ast.InstanceOf:
		fn.compileExpr(e.Object)
		code.Emit(OpInstanceOf, code.AddString(e.Class))

	case *ast.Isset:
		fn.compileIsset(e)

	case *ast.Clone:
		fn.compileExpr(e.Operand)
		code.Emit(OpClone)

	default:
		fn.errorf(expr.Pos(), "unsupported expression %T", expr)
		code.Emit(OpNull)
	}
}

func (fn *fnCompiler) compileInterp(e *ast.InterpString) {
	code := fn.code
	if len(e.Parts) == 0 {
		code.Emit(OpConst, code.AddString(""))
		return
	}
	// A leading empty string forces coercion when the first part is not
	// already a string literal.
	if _, lit := e.Parts[0].(*ast.StringLit); !lit {
		code.Emit(OpConst, code.AddString(""))
		fn.compileExpr(e.Parts[0])
		code.Emit(OpConcat)
	} else {
		fn.compileExpr(e.Parts[0])
	}
	for _, part := range e.Parts[1:] {
		fn.compileExpr(part)
		code.Emit(OpConcat)
	}
}

// compileVarLoad pushes a variable's current value.
func (fn *fnCompiler) compileVarLoad(e *ast.Var) {
	code := fn.code
	if e.Name == "this" {
		if !fn.inMethod && fn.enclosing == nil {
			fn.errorf(e.Position, "$this is only valid inside a method")
		}
		code.Emit(OpLoadThis)
		return
	}
	if idx, ok := fn.upvalues[e.Name]; ok {
		code.Emit(OpLoadUpvalue, idx)
		return
	}
	code.Emit(OpLoadLocal, fn.allocSlot(e.Name))
}

// compileVarStore pops into a variable. Writes through a bound reference.
func (fn *fnCompiler) compileVarStore(e *ast.Var) {
	if e.Name == "this" {
		fn.errorf(e.Position, "cannot assign to $this")
		fn.code.Emit(OpPop)
		return
	}
	if idx, ok := fn.upvalues[e.Name]; ok {
		fn.code.Emit(OpStoreUpvalue, idx)
		return
	}
	fn.code.Emit(OpStoreLocal, fn.allocSlot(e.Name))
}

// compileLvalRef pushes a reference to an assignable place.
func (fn *fnCompiler) compileLvalRef(target ast.Expr) {
	code := fn.code
	switch t := target.(type) {
	case *ast.Var:
		if t.Name == "this" {
			fn.errorf(t.Position, "cannot take a reference to $this")
			code.Emit(OpNull)
			return
		}
		if idx, ok := fn.upvalues[t.Name]; ok {
			code.Emit(OpUpvalueRef, idx)
			return
		}
		code.Emit(OpLocalRef, fn.allocSlot(t.Name))
	case *ast.Index:
		fn.compileLvalRef(t.Array)
		if t.Key == nil {
			code.Emit(OpAppendRef)
		} else {
			fn.compileExpr(t.Key)
			code.Emit(OpElemRef)
		}
	case *ast.PropFetch:
		fn.compileExpr(t.Object)
		code.Emit(OpPropRef, code.AddString(t.Name))
	case *ast.StaticPropFetch:
		fn.checkClassDesignator(t.Class, t.Position)
		code.Emit(OpStaticRef, code.AddString(t.Class), code.AddString(t.Name))
	default:
		fn.errorf(target.Pos(), "cannot use %T as an assignment target", target)
		code.Emit(OpNull)
	}
}

func isLvalue(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Var, *ast.Index, *ast.PropFetch, *ast.StaticPropFetch:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (fn *fnCompiler) compileAssign(e *ast.Assign) {
	code := fn.code
	if e.Op != "" {
		fn.compileCompoundAssign(e)
		return
	}

	switch t := e.Target.(type) {
	case *ast.Var:
		fn.compileExpr(e.Value)
		code.Emit(OpDup)
		fn.compileVarStore(t)
	case *ast.Index:
		fn.compileLvalRef(t)
		fn.compileExpr(e.Value)
		code.Emit(OpStoreRefKeep)
	case *ast.PropFetch:
		fn.compileExpr(t.Object)
		fn.compileExpr(e.Value)
		code.Emit(OpSetProp, code.AddString(t.Name))
	case *ast.StaticPropFetch:
		fn.checkClassDesignator(t.Class, t.Position)
		fn.compileExpr(e.Value)
		code.Emit(OpSetStatic, code.AddString(t.Class), code.AddString(t.Name))
	default:
		fn.errorf(e.Position, "cannot assign to %T", e.Target)
		code.Emit(OpNull)
	}
}

func (fn *fnCompiler) compileCompoundAssign(e *ast.Assign) {
	code := fn.code
	if e.Op == "??" {
		fn.compileCoalesceAssign(e)
		return
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		fn.errorf(e.Position, "unknown compound assignment operator %q=", e.Op)
		code.Emit(OpNull)
		return
	}

	if t, isVar := e.Target.(*ast.Var); isVar {
		fn.compileVarLoad(t)
		fn.compileExpr(e.Value)
		code.Emit(op)
		code.Emit(OpDup)
		fn.compileVarStore(t)
		return
	}
	if !isLvalue(e.Target) {
		fn.errorf(e.Position, "cannot assign to %T", e.Target)
		code.Emit(OpNull)
		return
	}
	fn.compileLvalRef(e.Target)
	code.Emit(OpDup)
	code.Emit(OpLoadDeref)
	fn.compileExpr(e.Value)
	code.Emit(op)
	code.Emit(OpStoreRefKeep)
}

// compileCoalesceAssign compiles `target ??= value`: the value expression
// is evaluated only when the target is unset or null.
func (fn *fnCompiler) compileCoalesceAssign(e *ast.Assign) {
	code := fn.code
	if t, isVar := e.Target.(*ast.Var); isVar {
		fn.compileIssetOne(t)
		useOld := code.EmitJump(OpJumpIfTrue)
		fn.compileExpr(e.Value)
		code.Emit(OpDup)
		fn.compileVarStore(t)
		end := code.EmitJump(OpJump)
		code.PatchJump(useOld)
		fn.compileVarLoad(t)
		code.PatchJump(end)
		return
	}
	if !isLvalue(e.Target) {
		fn.errorf(e.Position, "cannot assign to %T", e.Target)
		code.Emit(OpNull)
		return
	}

	// References autovivify a missing element as null, so a deref plus
	// null test gives isset semantics without re-evaluating the target.
	fn.compileLvalRef(e.Target)
	code.Emit(OpDup)
	code.Emit(OpLoadDeref)
	useOld := code.EmitJump(OpJumpNotNull)
	code.Emit(OpPop)
	fn.compileExpr(e.Value)
	code.Emit(OpStoreRefKeep)
	end := code.EmitJump(OpJump)
	code.PatchJump(useOld)
	code.Emit(OpSwap)
	code.Emit(OpPop)
	code.PatchJump(end)
}

func (fn *fnCompiler) compileAssignRef(e *ast.AssignRef) {
	code := fn.code
	if !isLvalue(e.Value) {
		fn.errorf(e.Position, "cannot take a reference to %T", e.Value)
		code.Emit(OpNull)
		return
	}
	fn.compileLvalRef(e.Value)
	code.Emit(OpDup)
	switch t := e.Target.(type) {
	case *ast.Var:
		// A popped reference value rebinds the slot instead of writing
		// through it.
		fn.compileVarStore(t)
	default:
		fn.errorf(e.Position, "cannot bind a reference to %T", e.Target)
		code.Emit(OpPop)
	}
	code.Emit(OpLoadDeref)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (fn *fnCompiler) compileBinary(e *ast.Binary) {
	code := fn.code
	switch e.Op {
	case "&&":
		fn.compileExpr(e.Left)
		f1 := code.EmitJump(OpJumpIfFalse)
		fn.compileExpr(e.Right)
		f2 := code.EmitJump(OpJumpIfFalse)
		code.Emit(OpTrue)
		end := code.EmitJump(OpJump)
		code.PatchJump(f1)
		code.PatchJump(f2)
		code.Emit(OpFalse)
		code.PatchJump(end)
	case "||":
		fn.compileExpr(e.Left)
		t1 := code.EmitJump(OpJumpIfTrue)
		fn.compileExpr(e.Right)
		t2 := code.EmitJump(OpJumpIfTrue)
		code.Emit(OpFalse)
		end := code.EmitJump(OpJump)
		code.PatchJump(t1)
		code.PatchJump(t2)
		code.Emit(OpTrue)
		code.PatchJump(end)
	case "??":
		fn.compileCoalesce(e)
	default:
		op, ok := binaryOps[e.Op]
		if !ok {
			fn.errorf(e.Position, "unknown binary operator %q", e.Op)
			code.Emit(OpNull)
			return
		}
		fn.compileExpr(e.Left)
		fn.compileExpr(e.Right)
		code.Emit(op)
	}
}

// compileCoalesce compiles `left ?? right`. When the left side is a
// variable, element, or property access it gets isset semantics: an unset
// place selects the right side without raising. An unset place and a null
// value are indistinguishable to ??, so the left side lowers to a single
// fetch-or-null followed by a null test.
func (fn *fnCompiler) compileCoalesce(e *ast.Binary) {
	code := fn.code
	if isLvalue(e.Left) {
		fn.compileFetchOrNull(e.Left)
	} else {
		fn.compileExpr(e.Left)
	}
	end := code.EmitJump(OpJumpNotNull)
	code.Emit(OpPop)
	fn.compileExpr(e.Right)
	code.PatchJump(end)
}

// compileFetchOrNull pushes the value of a place, or null when any link in
// the chain is missing. Every container and key subexpression is evaluated
// exactly once; side-effecting keys under ?? must not fire twice.
func (fn *fnCompiler) compileFetchOrNull(target ast.Expr) {
	code := fn.code
	switch t := target.(type) {
	case *ast.Var:
		if t.Name == "this" {
			code.Emit(OpLoadThis)
			return
		}
		if idx, ok := fn.upvalues[t.Name]; ok {
			code.Emit(OpLoadUpvalue, idx)
			return
		}
		slot := fn.allocSlot(t.Name)
		code.Emit(OpIssetLocal, slot)
		miss := code.EmitJump(OpJumpIfFalse)
		code.Emit(OpLoadLocal, slot)
		end := code.EmitJump(OpJump)
		code.PatchJump(miss)
		code.Emit(OpNull)
		code.PatchJump(end)
	case *ast.Index:
		if t.Key == nil {
			fn.errorf(t.Position, "cannot read an append target")
			code.Emit(OpNull)
			return
		}
		fn.compileFetchOrNull(t.Array)
		fn.compileExpr(t.Key)
		keySlot := fn.allocHidden()
		code.Emit(OpStoreLocal, keySlot)
		arrSlot := fn.allocHidden()
		code.Emit(OpStoreLocal, arrSlot)
		code.Emit(OpLoadLocal, arrSlot)
		code.Emit(OpLoadLocal, keySlot)
		code.Emit(OpIndexIsset)
		miss := code.EmitJump(OpJumpIfFalse)
		code.Emit(OpLoadLocal, arrSlot)
		code.Emit(OpLoadLocal, keySlot)
		code.Emit(OpIndexGet)
		end := code.EmitJump(OpJump)
		code.PatchJump(miss)
		code.Emit(OpNull)
		code.PatchJump(end)
	case *ast.PropFetch:
		fn.compileFetchOrNull(t.Object)
		objSlot := fn.allocHidden()
		code.Emit(OpStoreLocal, objSlot)
		name := code.AddString(t.Name)
		code.Emit(OpLoadLocal, objSlot)
		code.Emit(OpIssetProp, name)
		miss := code.EmitJump(OpJumpIfFalse)
		code.Emit(OpLoadLocal, objSlot)
		code.Emit(OpGetProp, name)
		end := code.EmitJump(OpJump)
		code.PatchJump(miss)
		code.Emit(OpNull)
		code.PatchJump(end)
	case *ast.StaticPropFetch:
		fn.checkClassDesignator(t.Class, t.Position)
		code.Emit(OpGetStatic, code.AddString(t.Class), code.AddString(t.Name))
	default:
		// Not a place: a missing value can only be an ordinary null.
		fn.compileExpr(target)
	}
}

func (fn *fnCompiler) compileUnary(e *ast.Unary) {
	code := fn.code
	switch e.Op {
	case "-":
		fn.compileExpr(e.Operand)
		code.Emit(OpNeg)
	case "+":
		// Unary plus is a numeric cast: 0 + x.
		code.Emit(OpConst, code.AddConstant(IntConst(0)))
		fn.compileExpr(e.Operand)
		code.Emit(OpAdd)
	case "!":
		fn.compileExpr(e.Operand)
		code.Emit(OpNot)
	case "~":
		fn.compileExpr(e.Operand)
		code.Emit(OpBitNot)
	default:
		fn.errorf(e.Position, "unknown unary operator %q", e.Op)
		code.Emit(OpNull)
	}
}

func (fn *fnCompiler) compileIncDec(e *ast.IncDec) {
	code := fn.code
	op := OpAdd
	if e.Op == "--" {
		op = OpSub
	}
	one := code.AddConstant(IntConst(1))

	if t, isVar := e.Target.(*ast.Var); isVar {
		if e.Prefix {
			fn.compileVarLoad(t)
			code.Emit(OpConst, one)
			code.Emit(op)
			code.Emit(OpDup)
			fn.compileVarStore(t)
		} else {
			fn.compileVarLoad(t)
			code.Emit(OpDup)
			code.Emit(OpConst, one)
			code.Emit(op)
			fn.compileVarStore(t)
		}
		return
	}
	if !isLvalue(e.Target) {
		fn.errorf(e.Position, "cannot increment %T", e.Target)
		code.Emit(OpNull)
		return
	}

	if e.Prefix {
		fn.compileLvalRef(e.Target)
		code.Emit(OpDup)
		code.Emit(OpLoadDeref)
		code.Emit(OpConst, one)
		code.Emit(op)
		code.Emit(OpStoreRefKeep)
		return
	}
	// Postfix on a reference target parks the old value in a hidden slot.
	tmp := fn.allocHidden()
	fn.compileLvalRef(e.Target)
	code.Emit(OpDup)
	code.Emit(OpLoadDeref)
	code.Emit(OpDup)
	code.Emit(OpStoreLocal, tmp)
	code.Emit(OpConst, one)
	code.Emit(op)
	code.Emit(OpStoreRef)
	code.Emit(OpLoadLocal, tmp)
}

func (fn *fnCompiler) compileTernary(e *ast.Ternary) {
	code := fn.code
	if e.Then == nil {
		// `a ?: b` evaluates a once.
		fn.compileExpr(e.Cond)
		code.Emit(OpDup)
		end := code.EmitJump(OpJumpIfTrue)
		code.Emit(OpPop)
		fn.compileExpr(e.Else)
		code.PatchJump(end)
		return
	}
	fn.compileExpr(e.Cond)
	elseJump := code.EmitJump(OpJumpIfFalse)
	fn.compileExpr(e.Then)
	end := code.EmitJump(OpJump)
	code.PatchJump(elseJump)
	fn.compileExpr(e.Else)
	code.PatchJump(end)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// compileArgs compiles a call's arguments in source order and returns the
// argument count and shape index. byRef, when non-nil, marks the positional
// parameters that must receive references.
func (fn *fnCompiler) compileArgs(args []ast.Arg, byRef func(pos int, name string) bool, pos ast.Position) (argc, shape uint16) {
	var names []string
	for i, a := range args {
		if a.Name == "" {
			if len(names) > 0 {
				fn.errorf(pos, "positional argument after named argument")
			}
			fn.compileArgValue(a.Value, byRef != nil && byRef(i, ""), pos)
			continue
		}
		names = append(names, a.Name)
		fn.compileArgValue(a.Value, byRef != nil && byRef(-1, a.Name), pos)
	}
	shape = NoShape
	if len(names) > 0 {
		shape = fn.code.AddShape(names)
	}
	return uint16(len(args)), shape
}

func (fn *fnCompiler) compileArgValue(value ast.Expr, wantRef bool, pos ast.Position) {
	if !wantRef {
		fn.compileExpr(value)
		return
	}
	if !isLvalue(value) {
		fn.errorf(pos, "cannot pass %T by reference", value)
		fn.code.Emit(OpNull)
		return
	}
	fn.compileLvalRef(value)
}

func (fn *fnCompiler) compileCall(e *ast.Call) {
	code := fn.code
	name, isName := e.Callee.(*ast.Name)
	if !isName {
		fn.compileExpr(e.Callee)
		argc, shape := fn.compileArgs(e.Args, nil, e.Position)
		code.Emit(OpCallValue, argc, shape)
		return
	}

	lower := strings.ToLower(name.Value)
	if target, declared := fn.c.functions[lower]; declared {
		byRef := func(pos int, argName string) bool {
			if argName != "" {
				for _, p := range target.Params {
					if p.Name == argName {
						return p.ByRef
					}
				}
				return false
			}
			if pos < len(target.Params) {
				return target.Params[pos].ByRef
			}
			return false
		}
		argc, shape := fn.compileArgs(e.Args, byRef, e.Position)
		code.Emit(OpCall, code.AddString(name.Value), argc, shape)
		return
	}

	// Builtin. The bridge resolves the name at call time so scripts can
	// run against hosts with different builtin sets.
	byRef := func(pos int, argName string) bool {
		return pos == 0 && builtinRefParams[lower]
	}
	for _, a := range e.Args {
		if a.Name != "" {
			fn.errorf(e.Position, "named arguments are not supported for builtin %s()", name.Value)
		}
	}
	argc, _ := fn.compileArgs(e.Args, byRef, e.Position)
	code.Emit(OpCallBuiltin, code.AddString(lower), argc)
}

// checkClassDesignator validates the relative class names.
func (fn *fnCompiler) checkClassDesignator(class string, pos ast.Position) {
	switch strings.ToLower(class) {
	case "self", "parent", "static":
		if !fn.inMethod {
			fn.errorf(pos, "%s:: is only valid inside a class", class)
		}
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// compileClosure compiles a closure body into the program's code table and
// emits OpMakeClosure. Capture slot layout: parameters occupy the first
// slots; each by-value capture takes the next slot, in declaration order.
// By-reference captures stay in cells addressed by upvalue index.
func (fn *fnCompiler) compileClosure(e *ast.Closure) {
	c := fn.c
	code := NewCodeObject("{closure}")
	code.Line = e.Position.Line
	c.compileSignature(code, e.Params, e.Position)

	uses := e.Uses
	if e.IsArrow {
		uses = arrowCaptures(e)
	}

	sub := c.newFnCompiler(code, fn, false, fn.className)
	sub.inMethod = fn.inMethod
	for _, p := range e.Params {
		sub.allocSlot(p.Name)
	}
	for _, u := range uses {
		if _, dup := sub.slots[u.Name]; dup {
			fn.errorf(e.Position, "cannot use $%s: the name is already a parameter", u.Name)
			continue
		}
		if _, dup := sub.upvalues[u.Name]; dup {
			continue
		}
		desc := fn.resolveCapture(u.Name, u.ByRef)
		idx := uint16(len(code.Upvalues))
		code.Upvalues = append(code.Upvalues, desc)
		if u.ByRef {
			sub.upvalues[u.Name] = idx
		} else {
			sub.allocSlot(u.Name)
		}
	}

	sub.compileStmts(e.Body)
	if !sub.endsWithReturn() {
		code.Emit(OpReturnNull)
	}
	sub.resolveGotos()
	code.LocalCount = len(sub.slots) + sub.hiddenSlots
	code.IsGenerator = sub.sawYield

	idx := uint16(len(c.prog.Codes))
	c.prog.Codes = append(c.prog.Codes, code)
	fn.code.Emit(OpMakeClosure, idx)
}

// resolveCapture locates a captured name in the enclosing scope. An
// unknown name gets a fresh enclosing local so the capture still binds
// (to null), matching reference capture of a not-yet-set variable.
func (fn *fnCompiler) resolveCapture(name string, byRef bool) UpvalueDesc {
	if slot, ok := fn.slots[name]; ok {
		return UpvalueDesc{Name: name, Index: slot, ByRef: byRef}
	}
	if idx, ok := fn.upvalues[name]; ok {
		return UpvalueDesc{Name: name, FromUpvalue: true, Index: idx, ByRef: byRef}
	}
	return UpvalueDesc{Name: name, Index: fn.allocSlot(name), ByRef: byRef}
}

// arrowCaptures computes the implicit by-value captures of an arrow
// function: every free variable of the body.
func arrowCaptures(e *ast.Closure) []ast.ClosureUse {
	bound := make(map[string]bool)
	for _, p := range e.Params {
		bound[p.Name] = true
	}
	bound["this"] = true

	var uses []ast.ClosureUse
	seen := make(map[string]bool)
	for _, name := range collectTopLevelVars(e.Body) {
		if bound[name] || seen[name] {
			continue
		}
		seen[name] = true
		uses = append(uses, ast.ClosureUse{Name: name})
	}
	return uses
}

// ---------------------------------------------------------------------------
// Match, yield, isset
// ---------------------------------------------------------------------------

func (fn *fnCompiler) compileMatch(e *ast.Match) {
	code := fn.code
	subject := fn.allocHidden()
	fn.compileExpr(e.Subject)
	code.Emit(OpStoreLocal, subject)

	armJumps := make([][]int, len(e.Arms))
	defaultIdx := -1
	for i, arm := range e.Arms {
		if arm.Conds == nil {
			if defaultIdx >= 0 {
				fn.errorf(e.Position, "match expression may only contain one default arm")
			}
			defaultIdx = i
			continue
		}
		for _, cond := range arm.Conds {
			code.Emit(OpLoadLocal, subject)
			fn.compileExpr(cond)
			code.Emit(OpIdentical)
			armJumps[i] = append(armJumps[i], code.EmitJump(OpJumpIfTrue))
		}
	}
	if defaultIdx >= 0 {
		armJumps[defaultIdx] = append(armJumps[defaultIdx], code.EmitJump(OpJump))
	} else {
		code.Emit(OpLoadLocal, subject)
		code.Emit(OpMatchError)
	}

	var endJumps []int
	for i, arm := range e.Arms {
		for _, j := range armJumps[i] {
			code.PatchJump(j)
		}
		fn.compileExpr(arm.Body)
		endJumps = append(endJumps, code.EmitJump(OpJump))
	}
	for _, j := range endJumps {
		code.PatchJump(j)
	}
}

func (fn *fnCompiler) compileYield(e *ast.Yield) {
	if fn.isMain {
		fn.errorf(e.Position, "yield is only valid inside a function")
	}
	fn.sawYield = true
	code := fn.code
	if e.Key != nil {
		fn.compileExpr(e.Key)
		fn.compileExpr(e.Value)
		code.Emit(OpYield, 1)
		return
	}
	if e.Value != nil {
		fn.compileExpr(e.Value)
	} else {
		code.Emit(OpNull)
	}
	code.Emit(OpYield, 0)
}

func (fn *fnCompiler) compileIsset(e *ast.Isset) {
	code := fn.code
	if len(e.Targets) == 1 {
		fn.compileIssetOne(e.Targets[0])
		return
	}
	var falseJumps []int
	for _, t := range e.Targets {
		fn.compileIssetOne(t)
		falseJumps = append(falseJumps, code.EmitJump(OpJumpIfFalse))
	}
	code.Emit(OpTrue)
	end := code.EmitJump(OpJump)
	for _, j := range falseJumps {
		code.PatchJump(j)
	}
	code.Emit(OpFalse)
	code.PatchJump(end)
}

// compileIssetOne pushes whether one place is set and non-null, without
// raising for any missing link in the chain.
func (fn *fnCompiler) compileIssetOne(target ast.Expr) {
	code := fn.code
	switch t := target.(type) {
	case *ast.Var:
		if t.Name == "this" {
			code.Emit(OpLoadThis)
			fn.emitNonNullTest()
			return
		}
		if idx, ok := fn.upvalues[t.Name]; ok {
			code.Emit(OpLoadUpvalue, idx)
			fn.emitNonNullTest()
			return
		}
		code.Emit(OpIssetLocal, fn.allocSlot(t.Name))
	case *ast.Index:
		if t.Key == nil {
			fn.errorf(t.Position, "cannot isset an append target")
			code.Emit(OpFalse)
			return
		}
		// Guard the base first so a missing intermediate element yields
		// false instead of raising.
		if inner, nested := t.Array.(*ast.Index); nested {
			fn.compileIssetOne(inner)
			falseJump := code.EmitJump(OpJumpIfFalse)
			fn.compileExpr(t.Array)
			fn.compileExpr(t.Key)
			code.Emit(OpIndexIsset)
			end := code.EmitJump(OpJump)
			code.PatchJump(falseJump)
			code.Emit(OpFalse)
			code.PatchJump(end)
			return
		}
		fn.compileExpr(t.Array)
		fn.compileExpr(t.Key)
		code.Emit(OpIndexIsset)
	case *ast.PropFetch:
		fn.compileExpr(t.Object)
		code.Emit(OpIssetProp, code.AddString(t.Name))
	case *ast.StaticPropFetch:
		fn.checkClassDesignator(t.Class, t.Position)
		code.Emit(OpGetStatic, code.AddString(t.Class), code.AddString(t.Name))
		fn.emitNonNullTest()
	default:
		fn.errorf(target.Pos(), "cannot isset %T", target)
		code.Emit(OpFalse)
	}
}

// emitNonNullTest replaces the value on top of the stack with whether it
// is non-null.
func (fn *fnCompiler) emitNonNullTest() {
	code := fn.code
	notNull := code.EmitJump(OpJumpNotNull)
	code.Emit(OpPop)
	code.Emit(OpFalse)
	end := code.EmitJump(OpJump)
	code.PatchJump(notNull)
	code.Emit(OpPop)
	code.Emit(OpTrue)
	code.PatchJump(end)
}

// ---------------------------------------------------------------------------
// Constant folding
// ---------------------------------------------------------------------------

// foldConstExpr evaluates an initializer expression at compile time.
// Defaults, property initializers, class constants, and enum backing values
// must fold; anything effectful is rejected.
func (c *Compiler) foldConstExpr(expr ast.Expr) (Constant, error) {
	switch e := expr.(type) {
	case *ast.IntLit:
		return IntConst(e.Value), nil
	case *ast.FloatLit:
		return FloatConst(e.Value), nil
	case *ast.StringLit:
		return StringConst(e.Value), nil
	case *ast.BoolLit:
		return BoolConst(e.Value), nil
	case *ast.NullLit:
		return NullConst(), nil
	case *ast.Unary:
		operand, err := c.foldConstExpr(e.Operand)
		if err != nil {
			return Constant{}, err
		}
		switch {
		case e.Op == "-" && operand.Kind == ConstInt:
			return IntConst(-operand.Int), nil
		case e.Op == "-" && operand.Kind == ConstFloat:
			return FloatConst(-operand.Float), nil
		case e.Op == "!" && operand.Kind == ConstBool:
			return BoolConst(!operand.Bool), nil
		}
		return Constant{}, fmt.Errorf("cannot fold unary %q", e.Op)
	case *ast.Binary:
		left, err := c.foldConstExpr(e.Left)
		if err != nil {
			return Constant{}, err
		}
		right, err := c.foldConstExpr(e.Right)
		if err != nil {
			return Constant{}, err
		}
		if e.Op == "." && left.Kind == ConstString && right.Kind == ConstString {
			return StringConst(left.Str + right.Str), nil
		}
		if left.Kind == ConstInt && right.Kind == ConstInt {
			switch e.Op {
			case "+":
				return IntConst(left.Int + right.Int), nil
			case "-":
				return IntConst(left.Int - right.Int), nil
			case "*":
				return IntConst(left.Int * right.Int), nil
			}
		}
		return Constant{}, fmt.Errorf("cannot fold binary %q", e.Op)
	case *ast.ArrayLit:
		arr := Constant{Kind: ConstArray}
		for _, item := range e.Items {
			pair := ConstPair{}
			if item.Key != nil {
				key, err := c.foldConstExpr(item.Key)
				if err != nil {
					return Constant{}, err
				}
				pair.HasKey = true
				pair.Key = key
			}
			val, err := c.foldConstExpr(item.Value)
			if err != nil {
				return Constant{}, err
			}
			pair.Value = val
			arr.Arr = append(arr.Arr, pair)
		}
		return arr, nil
	default:
		return Constant{}, fmt.Errorf("expression is not constant")
	}
}
