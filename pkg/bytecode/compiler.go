package bytecode

import (
	"fmt"
	"strings"

	"github.com/peridot-lang/peridot/pkg/ast"
)

// TraitPolicy selects how a conflict between two used traits is resolved
// when the class itself does not override the conflicting member.
type TraitPolicy int

const (
	// TraitConflictError makes an unresolved conflict a compile error.
	TraitConflictError TraitPolicy = iota

	// TraitConflictPrecedence lets the first-listed trait win.
	TraitConflictPrecedence
)

// Options configure compilation.
type Options struct {
	TraitPolicy TraitPolicy
}

// Compiler lowers a parsed program into a bytecode Program. One Compiler
// compiles one program; it is not reusable.
type Compiler struct {
	opts Options
	prog *Program

	// Hoisted declarations, keyed by lower-cased name.
	functions map[string]*CodeObject
	classes   map[string]*ast.ClassDecl
	traits    map[string]*ast.ClassDecl

	errs []error
}

// Compile lowers a program with default options.
func Compile(program *ast.Program) (*Program, error) {
	return CompileWithOptions(program, Options{})
}

// CompileWithOptions lowers a program. Any compile error is fatal: the
// returned Program is nil and must not be executed in part.
func CompileWithOptions(program *ast.Program, opts Options) (*Program, error) {
	c := &Compiler{
		opts:      opts,
		prog:      &Program{Version: FormatVersion},
		functions: make(map[string]*CodeObject),
		classes:   make(map[string]*ast.ClassDecl),
		traits:    make(map[string]*ast.ClassDecl),
	}

	// Hoisting pass: function and class declarations are visible to code
	// that precedes them in source order.
	var topLevel []ast.Stmt
	for _, stmt := range program.Stmts {
		switch d := stmt.(type) {
		case *ast.FunctionDecl:
			name := strings.ToLower(d.Name)
			if _, dup := c.functions[name]; dup {
				c.errorf(d.Position, "cannot redeclare function %s()", d.Name)
				continue
			}
			// Signature skeleton first so call sites can bind by-ref
			// arguments; the body is compiled below.
			code := NewCodeObject(d.Name)
			code.Line = d.Position.Line
			c.compileSignature(code, d.Params, d.Position)
			c.functions[name] = code
		case *ast.ClassDecl:
			name := strings.ToLower(d.Name)
			if _, dup := c.classes[name]; dup {
				c.errorf(d.Position, "cannot redeclare class %s", d.Name)
				continue
			}
			if _, dup := c.traits[name]; dup {
				c.errorf(d.Position, "cannot redeclare trait %s", d.Name)
				continue
			}
			if d.Kind == ast.KindTrait {
				c.traits[name] = d
			} else {
				c.classes[name] = d
			}
		default:
			topLevel = append(topLevel, stmt)
		}
	}

	// Function bodies.
	for _, stmt := range program.Stmts {
		if d, ok := stmt.(*ast.FunctionDecl); ok {
			code := c.functions[strings.ToLower(d.Name)]
			c.compileFunctionBody(code, d.Params, d.Body, nil, false, "")
			c.prog.Functions = append(c.prog.Functions, FunctionInfo{Name: d.Name, Code: code})
		}
	}

	// Classes (traits are flattened away, never emitted).
	for _, stmt := range program.Stmts {
		if d, ok := stmt.(*ast.ClassDecl); ok && d.Kind != ast.KindTrait {
			if decl := c.compileClass(d); decl != nil {
				c.prog.Classes = append(c.prog.Classes, decl)
			}
		}
	}

	// Top level.
	main := NewCodeObject("{main}")
	c.compileFunctionBody(main, nil, topLevel, nil, true, "")
	c.prog.Main = main

	if len(c.errs) > 0 {
		return nil, c.errs[0]
	}
	if err := VerifyProgram(c.prog); err != nil {
		return nil, err
	}
	return c.prog, nil
}

func (c *Compiler) errorf(pos ast.Position, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{
		Msg:    fmt.Sprintf(format, args...),
		Line:   pos.Line,
		Column: pos.Column,
	})
}

// compileSignature fills a code object's parameter descriptors, folding
// default expressions to constants.
func (c *Compiler) compileSignature(code *CodeObject, params []ast.Param, pos ast.Position) {
	for i, p := range params {
		desc := ParamDesc{Name: p.Name, ByRef: p.ByRef, Variadic: p.Variadic}
		if p.Variadic && i != len(params)-1 {
			c.errorf(pos, "only the last parameter can be variadic")
		}
		if p.Default != nil {
			k, err := c.foldConstExpr(p.Default)
			if err != nil {
				c.errorf(pos, "default value of $%s: %v", p.Name, err)
			} else {
				desc.HasDefault = true
				desc.Default = k
			}
		}
		code.Params = append(code.Params, desc)
	}
}

// ---------------------------------------------------------------------------
// Per-function compilation state
// ---------------------------------------------------------------------------

// loopCtx tracks one active loop or switch for break/continue patching.
type loopCtx struct {
	breaks      []int // operand positions patched to the break target
	continues   []int // operand positions patched to the continue target
	isSwitch    bool
	hasIterator bool // foreach keeps its iterator on the operand stack
	tryDepth    int  // len(tryStack) when the loop was entered
}

// tryCtx tracks one active try statement so early exits can run its
// finally block and goto validation can reject boundary crossings.
type tryCtx struct {
	region  uint16
	finally []ast.Stmt // nil when the statement has no finally
}

// labelInfo records a declared goto target.
type labelInfo struct {
	offset int
	scope  string // encoded loop/switch/try nesting at the declaration
	pos    ast.Position
}

// pendingGoto is a forward or backward goto awaiting resolution.
type pendingGoto struct {
	operandPos int
	label      string
	scope      string
	pos        ast.Position
}

// fnCompiler compiles one function, method, closure, or top-level body.
type fnCompiler struct {
	c         *Compiler
	code      *CodeObject
	enclosing *fnCompiler // non-nil while compiling a closure body

	slots    map[string]uint16
	upvalues map[string]uint16 // by-ref captures, name to Upvalues index
	loops    []loopCtx
	trys     []tryCtx
	labels   map[string]labelInfo
	gotos    []pendingGoto

	// scope is the encoded construct nesting used for goto validation:
	// one rune per enclosing loop/switch/try body.
	scope string

	isMain    bool
	inMethod  bool
	className string // lexically defining class, for self:: diagnostics
	sawYield  bool

	hiddenSlots int
}

func (c *Compiler) newFnCompiler(code *CodeObject, enclosing *fnCompiler, isMain bool, className string) *fnCompiler {
	return &fnCompiler{
		c:         c,
		code:      code,
		enclosing: enclosing,
		slots:     make(map[string]uint16),
		upvalues:  make(map[string]uint16),
		labels:    make(map[string]labelInfo),
		isMain:    isMain,
		inMethod:  className != "",
		className: className,
	}
}

// compileFunctionBody compiles params + body into code. uses is non-nil
// for closures; isMain binds every top-level variable to the global table.
func (c *Compiler) compileFunctionBody(code *CodeObject, params []ast.Param, body []ast.Stmt, enclosing *fnCompiler, isMain bool, className string) *fnCompiler {
	fn := c.newFnCompiler(code, enclosing, isMain, className)

	// Parameters occupy the first slots.
	for _, p := range params {
		fn.allocSlot(p.Name)
	}

	if isMain {
		// Top-level scope is the global scope: bind every variable the
		// body mentions before any of it runs.
		for _, name := range collectTopLevelVars(body) {
			slot := fn.allocSlot(name)
			code.Emit(OpBindGlobal, code.AddString(name), slot)
		}
	}

	fn.compileStmts(body)

	if !fn.endsWithReturn() {
		code.Emit(OpReturnNull)
	}

	fn.resolveGotos()
	code.LocalCount = len(fn.slots) + fn.hiddenSlots
	code.IsGenerator = fn.sawYield
	return fn
}

func (fn *fnCompiler) errorf(pos ast.Position, format string, args ...any) {
	fn.c.errorf(pos, format, args...)
}

// allocSlot returns the slot for a variable, allocating on first use.
// Slots are never reused across disjoint lifetimes.
func (fn *fnCompiler) allocSlot(name string) uint16 {
	if slot, ok := fn.slots[name]; ok {
		return slot
	}
	slot := uint16(len(fn.slots) + fn.hiddenSlots)
	fn.slots[name] = slot
	fn.code.LocalNames = append(fn.code.LocalNames, name)
	return slot
}

// allocHidden returns a compiler-temporary slot invisible to user code.
func (fn *fnCompiler) allocHidden() uint16 {
	slot := uint16(len(fn.slots) + fn.hiddenSlots)
	fn.hiddenSlots++
	fn.code.LocalNames = append(fn.code.LocalNames, "")
	return slot
}

func (fn *fnCompiler) endsWithReturn() bool {
	op, ok := fn.code.lastEmitted()
	return ok && (op == OpReturn || op == OpReturnNull)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (fn *fnCompiler) compileStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		fn.compileStmt(s)
	}
}

func (fn *fnCompiler) compileStmt(stmt ast.Stmt) {
	code := fn.code
	switch s := stmt.(type) {
	case *ast.EchoStmt:
		for _, e := range s.Exprs {
			fn.compileExpr(e)
		}
		code.Emit(OpEcho, uint16(len(s.Exprs)))

	case *ast.ExprStmt:
		fn.compileExpr(s.Expr)
		code.Emit(OpPop)

	case *ast.BlockStmt:
		fn.compileStmts(s.Stmts)

	case *ast.IfStmt:
		fn.compileIf(s)

	case *ast.WhileStmt:
		fn.compileWhile(s)

	case *ast.DoWhileStmt:
		fn.compileDoWhile(s)

	case *ast.ForStmt:
		fn.compileFor(s)

	case *ast.ForeachStmt:
		fn.compileForeach(s)

	case *ast.SwitchStmt:
		fn.compileSwitch(s)

	case *ast.BreakStmt:
		fn.compileBreakContinue(s.Position, s.Level, true)

	case *ast.ContinueStmt:
		fn.compileBreakContinue(s.Position, s.Level, false)

	case *ast.ReturnStmt:
		fn.compileReturn(s)

	case *ast.GlobalStmt:
		for _, name := range s.Names {
			slot := fn.allocSlot(name)
			code.Emit(OpBindGlobal, code.AddString(name), slot)
		}

	case *ast.ThrowStmt:
		fn.compileExpr(s.Expr)
		code.Emit(OpThrow)

	case *ast.TryStmt:
		fn.compileTry(s)

	case *ast.GotoStmt:
		pos := code.EmitJump(OpJump)
		fn.gotos = append(fn.gotos, pendingGoto{
			operandPos: pos,
			label:      s.Label,
			scope:      fn.scope,
			pos:        s.Position,
		})

	case *ast.LabelStmt:
		if prev, dup := fn.labels[s.Name]; dup {
			fn.errorf(s.Position, "label %q already defined at %s", s.Name, prev.pos)
			return
		}
		fn.labels[s.Name] = labelInfo{
			offset: code.CurrentOffset(),
			scope:  fn.scope,
			pos:    s.Position,
		}

	case *ast.UnsetStmt:
		fn.compileUnset(s)

	case *ast.FunctionDecl:
		fn.errorf(s.Position, "function declarations are only allowed at the top level")

	case *ast.ClassDecl:
		fn.errorf(s.Position, "class declarations are only allowed at the top level")

	default:
		fn.errorf(stmt.Pos(), "unsupported statement %T", stmt)
	}
}

func (fn *fnCompiler) compileIf(s *ast.IfStmt) {
	code := fn.code
	var endJumps []int

	fn.compileExpr(s.Cond)
	nextArm := code.EmitJump(OpJumpIfFalse)
	fn.compileStmts(s.Then)
	endJumps = append(endJumps, code.EmitJump(OpJump))
	code.PatchJump(nextArm)

	for _, arm := range s.ElseIfs {
		fn.compileExpr(arm.Cond)
		nextArm = code.EmitJump(OpJumpIfFalse)
		fn.compileStmts(arm.Body)
		endJumps = append(endJumps, code.EmitJump(OpJump))
		code.PatchJump(nextArm)
	}

	fn.compileStmts(s.Else)
	for _, j := range endJumps {
		code.PatchJump(j)
	}
}

// enterLoop pushes loop context and marks the goto scope.
func (fn *fnCompiler) enterLoop(isSwitch, hasIterator bool) {
	fn.loops = append(fn.loops, loopCtx{
		isSwitch:    isSwitch,
		hasIterator: hasIterator,
		tryDepth:    len(fn.trys),
	})
	if isSwitch {
		fn.scope += "s"
	} else {
		fn.scope += "l"
	}
}

// exitLoop pops the loop context, patching breaks to the current offset
// and continues to the given target.
func (fn *fnCompiler) exitLoop(continueTarget int) {
	loop := fn.loops[len(fn.loops)-1]
	fn.loops = fn.loops[:len(fn.loops)-1]
	fn.scope = fn.scope[:len(fn.scope)-1]
	for _, pos := range loop.breaks {
		fn.code.PatchJump(pos)
	}
	for _, pos := range loop.continues {
		fn.code.PatchJumpTo(pos, continueTarget)
	}
}

func (fn *fnCompiler) compileWhile(s *ast.WhileStmt) {
	code := fn.code
	start := code.CurrentOffset()
	fn.compileExpr(s.Cond)
	exit := code.EmitJump(OpJumpIfFalse)

	fn.enterLoop(false, false)
	fn.compileStmts(s.Body)
	code.Emit(OpJump, uint16(start))
	code.PatchJump(exit)
	fn.exitLoop(start)
}

func (fn *fnCompiler) compileDoWhile(s *ast.DoWhileStmt) {
	code := fn.code
	start := code.CurrentOffset()

	fn.enterLoop(false, false)
	fn.compileStmts(s.Body)
	condTarget := code.CurrentOffset()
	fn.compileExpr(s.Cond)
	code.Emit(OpJumpIfTrue, uint16(start))
	fn.exitLoop(condTarget)
}

func (fn *fnCompiler) compileFor(s *ast.ForStmt) {
	code := fn.code
	if s.Init != nil {
		fn.compileExpr(s.Init)
		code.Emit(OpPop)
	}
	start := code.CurrentOffset()
	var exit int
	if s.Cond != nil {
		fn.compileExpr(s.Cond)
		exit = code.EmitJump(OpJumpIfFalse)
	}

	fn.enterLoop(false, false)
	fn.compileStmts(s.Body)
	stepTarget := code.CurrentOffset()
	if s.Step != nil {
		fn.compileExpr(s.Step)
		code.Emit(OpPop)
	}
	code.Emit(OpJump, uint16(start))
	if s.Cond != nil {
		code.PatchJump(exit)
	}
	fn.exitLoop(stepTarget)
}

// Iterator flags for OpIterNext.
const (
	IterWantKey uint16 = 1 << 0
	IterByRef   uint16 = 1 << 1
)

func (fn *fnCompiler) compileForeach(s *ast.ForeachStmt) {
	code := fn.code
	if s.ByRef {
		// Iterating by reference mutates the subject in place, so it
		// must be an assignable place, not a temporary.
		if !isLvalue(s.Subject) {
			fn.errorf(s.Position, "cannot iterate %T by reference", s.Subject)
		}
		fn.compileLvalRef(s.Subject)
	} else {
		fn.compileExpr(s.Subject)
	}
	code.Emit(OpIterNew)

	var flags uint16
	if s.KeyVar != "" {
		flags |= IterWantKey
	}
	if s.ByRef {
		flags |= IterByRef
	}

	start := code.CurrentOffset()
	exit := code.EmitJump(OpIterNext, flags)

	// OpIterNext pushes the key (when requested) then the value, so the
	// value is on top.
	valSlot := fn.allocSlot(s.ValueVar)
	code.Emit(OpStoreLocal, valSlot)
	if s.KeyVar != "" {
		code.Emit(OpStoreLocal, fn.allocSlot(s.KeyVar))
	}

	fn.enterLoop(false, true)
	fn.compileStmts(s.Body)
	code.Emit(OpJump, uint16(start))

	// Breaks land here, where the iterator is still on the stack.
	loop := &fn.loops[len(fn.loops)-1]
	if len(loop.breaks) > 0 {
		for _, pos := range loop.breaks {
			code.PatchJump(pos)
		}
		loop.breaks = nil
		code.Emit(OpPop)
	}
	code.PatchJump(exit)
	fn.exitLoop(start)
}

func (fn *fnCompiler) compileSwitch(s *ast.SwitchStmt) {
	code := fn.code
	subject := fn.allocHidden()
	fn.compileExpr(s.Subject)
	code.Emit(OpStoreLocal, subject)

	// Dispatch chain first, then the bodies, so fallthrough is the
	// natural instruction order.
	bodyJumps := make([]int, len(s.Cases))
	defaultIdx := -1
	for i, cs := range s.Cases {
		if cs.Match == nil {
			if defaultIdx >= 0 {
				fn.errorf(s.Position, "switch statement may only contain one default")
			}
			defaultIdx = i
			continue
		}
		code.Emit(OpLoadLocal, subject)
		fn.compileExpr(cs.Match)
		code.Emit(OpEqual)
		bodyJumps[i] = code.EmitJump(OpJumpIfTrue)
	}
	tail := code.EmitJump(OpJump) // default, or past the switch

	fn.enterLoop(true, false)
	for i, cs := range s.Cases {
		if i == defaultIdx {
			code.PatchJump(tail)
		} else {
			code.PatchJump(bodyJumps[i])
		}
		fn.compileStmts(cs.Body)
	}
	if defaultIdx < 0 {
		code.PatchJump(tail)
	}
	// `continue` inside switch behaves as `break`, as in PHP.
	end := code.CurrentOffset()
	fn.exitLoop(end)
}

// inlineFinallys emits OpTryPop plus a copy of the finally body for every
// try region at depth >= tryFloor, innermost first. While a body is being
// copied the try stack is truncated below it, so a return inside a finally
// re-runs only the finallys outer to it.
func (fn *fnCompiler) inlineFinallys(tryFloor int) {
	saved := fn.trys
	for i := len(saved) - 1; i >= tryFloor; i-- {
		fn.code.Emit(OpTryPop)
		if saved[i].finally != nil {
			fn.trys = saved[:i]
			fn.compileStmts(saved[i].finally)
		}
	}
	fn.trys = saved
}

func (fn *fnCompiler) compileBreakContinue(pos ast.Position, level int, isBreak bool) {
	if level < 1 {
		level = 1
	}
	if level > len(fn.loops) {
		word := "continue"
		if isBreak {
			word = "break"
		}
		fn.errorf(pos, "cannot %s %d levels, only %d enclosing loop(s)", word, level, len(fn.loops))
		return
	}

	target := &fn.loops[len(fn.loops)-level]
	fn.inlineFinallys(target.tryDepth)

	// Iterators of the loops being fully exited stay on the operand
	// stack and have to be popped here. The target loop's own iterator
	// is handled at its break target.
	for i := 0; i < level-1; i++ {
		if fn.loops[len(fn.loops)-1-i].hasIterator {
			fn.code.Emit(OpPop)
		}
	}

	j := fn.code.EmitJump(OpJump)
	if isBreak || target.isSwitch {
		target.breaks = append(target.breaks, j)
	} else {
		target.continues = append(target.continues, j)
	}
}

func (fn *fnCompiler) compileReturn(s *ast.ReturnStmt) {
	// The return value is evaluated before any finally body runs.
	if s.Value != nil {
		fn.compileExpr(s.Value)
	} else {
		fn.code.Emit(OpNull)
	}
	fn.inlineFinallys(0)
	fn.code.Emit(OpReturn)
}

func (fn *fnCompiler) compileTry(s *ast.TryStmt) {
	code := fn.code
	region := code.AddTryRegion()
	hasFinally := len(s.Finally) > 0

	fn.trys = append(fn.trys, tryCtx{region: region, finally: s.Finally})
	if !hasFinally {
		fn.trys[len(fn.trys)-1].finally = nil
	}
	fn.scope += "t"

	code.Emit(OpTryPush, region)
	fn.compileStmts(s.Body)
	code.Emit(OpTryPop)
	if hasFinally {
		fn.compileStmts(s.Finally)
	}
	var endJumps []int
	endJumps = append(endJumps, code.EmitJump(OpJump))

	// Catch bodies. When the region has a finally, the VM keeps a
	// finally-only entry active during the handler, so the context stays
	// on the compiler's stack too.
	if !hasFinally {
		fn.scope = fn.scope[:len(fn.scope)-1]
		fn.trys = fn.trys[:len(fn.trys)-1]
	}
	for _, clause := range s.Catches {
		target := code.CurrentOffset()
		slot := NoTarget
		if clause.Var != "" {
			slot = fn.allocSlot(clause.Var)
		}
		code.TryRegions[region].Catches = append(code.TryRegions[region].Catches, CatchClause{
			Types:  clause.Types,
			Slot:   slot,
			Target: uint16(target),
		})
		fn.compileStmts(clause.Body)
		if hasFinally {
			code.Emit(OpTryPop)
			fn.compileStmts(s.Finally)
		}
		endJumps = append(endJumps, code.EmitJump(OpJump))
	}
	if hasFinally {
		fn.scope = fn.scope[:len(fn.scope)-1]
		fn.trys = fn.trys[:len(fn.trys)-1]

		// Exception path: the VM jumps here with the raise suspended.
		code.TryRegions[region].FinallyTarget = uint16(code.CurrentOffset())
		fn.compileStmts(s.Finally)
		code.Emit(OpEndFinally)
	}

	for _, j := range endJumps {
		code.PatchJump(j)
	}
}

func (fn *fnCompiler) compileUnset(s *ast.UnsetStmt) {
	code := fn.code
	for _, target := range s.Targets {
		switch t := target.(type) {
		case *ast.Var:
			if t.Name == "this" {
				fn.errorf(t.Position, "cannot unset $this")
				continue
			}
			code.Emit(OpUnsetLocal, fn.allocSlot(t.Name))
		case *ast.Index:
			if t.Key == nil {
				fn.errorf(t.Position, "cannot unset append target")
				continue
			}
			fn.compileLvalRef(t.Array)
			fn.compileExpr(t.Key)
			code.Emit(OpUnsetElem)
		case *ast.PropFetch:
			fn.compileExpr(t.Object)
			code.Emit(OpUnsetProp, code.AddString(t.Name))
		default:
			fn.errorf(target.Pos(), "cannot unset %T", target)
		}
	}
}

// resolveGotos patches goto jumps after the whole body is compiled.
// A goto is valid only when its loop/switch/try nesting exactly matches
// its label's: crossing into or out of any of those bodies is an error.
func (fn *fnCompiler) resolveGotos() {
	for _, g := range fn.gotos {
		label, ok := fn.labels[g.label]
		if !ok {
			fn.errorf(g.pos, "goto to undefined label %q", g.label)
			continue
		}
		if label.scope != g.scope {
			fn.errorf(g.pos, "goto into or out of a loop, switch, or try body is not allowed")
			continue
		}
		fn.code.PatchJumpTo(g.operandPos, label.offset)
	}
}

// collectTopLevelVars gathers every variable name the top-level body can
// touch, in first-appearance order, so {main} can bind them to the global
// table up front. Closure bodies do not contribute: their variables are
// locals of the closure.
func collectTopLevelVars(stmts []ast.Stmt) []string {
	var order []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && name != "this" && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	var walkExpr func(e ast.Expr)
	var walkStmt func(s ast.Stmt)
	walkExprs := func(es []ast.Expr) {
		for _, e := range es {
			walkExpr(e)
		}
	}
	walkArgs := func(args []ast.Arg) {
		for _, a := range args {
			walkExpr(a.Value)
		}
	}
	walkExpr = func(e ast.Expr) {
		switch x := e.(type) {
		case nil:
		case *ast.Var:
			add(x.Name)
		case *ast.Assign:
			walkExpr(x.Target)
			walkExpr(x.Value)
		case *ast.AssignRef:
			walkExpr(x.Target)
			walkExpr(x.Value)
		case *ast.Binary:
			walkExpr(x.Left)
			walkExpr(x.Right)
		case *ast.Unary:
			walkExpr(x.Operand)
		case *ast.IncDec:
			walkExpr(x.Target)
		case *ast.Ternary:
			walkExpr(x.Cond)
			walkExpr(x.Then)
			walkExpr(x.Else)
		case *ast.Index:
			walkExpr(x.Array)
			walkExpr(x.Key)
		case *ast.Call:
			walkExpr(x.Callee)
			walkArgs(x.Args)
		case *ast.MethodCall:
			walkExpr(x.Object)
			walkArgs(x.Args)
		case *ast.StaticCall:
			walkArgs(x.Args)
		case *ast.New:
			walkArgs(x.Args)
		case *ast.PropFetch:
			walkExpr(x.Object)
		case *ast.InterpString:
			walkExprs(x.Parts)
		case *ast.ArrayLit:
			for _, item := range x.Items {
				walkExpr(item.Key)
				walkExpr(item.Value)
			}
		case *ast.Closure:
			// Captures resolve against the enclosing scope.
			for _, u := range x.Uses {
				add(u.Name)
			}
		case *ast.Match:
			walkExpr(x.Subject)
			for _, arm := range x.Arms {
				walkExprs(arm.Conds)
				walkExpr(arm.Body)
			}
		case *ast.Yield:
			walkExpr(x.Key)
			walkExpr(x.Value)
		case *ast.YieldFrom:
			walkExpr(x.Expr)
		case *ast.InstanceOf:
			walkExpr(x.Object)
		case *ast.Isset:
			walkExprs(x.Targets)
		case *ast.Clone:
			walkExpr(x.Operand)
		}
	}
	walkStmt = func(s ast.Stmt) {
		switch x := s.(type) {
		case *ast.EchoStmt:
			walkExprs(x.Exprs)
		case *ast.ExprStmt:
			walkExpr(x.Expr)
		case *ast.BlockStmt:
			for _, inner := range x.Stmts {
				walkStmt(inner)
			}
		case *ast.IfStmt:
			walkExpr(x.Cond)
			for _, inner := range x.Then {
				walkStmt(inner)
			}
			for _, arm := range x.ElseIfs {
				walkExpr(arm.Cond)
				for _, inner := range arm.Body {
					walkStmt(inner)
				}
			}
			for _, inner := range x.Else {
				walkStmt(inner)
			}
		case *ast.WhileStmt:
			walkExpr(x.Cond)
			for _, inner := range x.Body {
				walkStmt(inner)
			}
		case *ast.DoWhileStmt:
			for _, inner := range x.Body {
				walkStmt(inner)
			}
			walkExpr(x.Cond)
		case *ast.ForStmt:
			walkExpr(x.Init)
			walkExpr(x.Cond)
			walkExpr(x.Step)
			for _, inner := range x.Body {
				walkStmt(inner)
			}
		case *ast.ForeachStmt:
			walkExpr(x.Subject)
			add(x.KeyVar)
			add(x.ValueVar)
			for _, inner := range x.Body {
				walkStmt(inner)
			}
		case *ast.SwitchStmt:
			walkExpr(x.Subject)
			for _, cs := range x.Cases {
				walkExpr(cs.Match)
				for _, inner := range cs.Body {
					walkStmt(inner)
				}
			}
		case *ast.ReturnStmt:
			walkExpr(x.Value)
		case *ast.GlobalStmt:
			for _, n := range x.Names {
				add(n)
			}
		case *ast.ThrowStmt:
			walkExpr(x.Expr)
		case *ast.TryStmt:
			for _, inner := range x.Body {
				walkStmt(inner)
			}
			for _, clause := range x.Catches {
				add(clause.Var)
				for _, inner := range clause.Body {
					walkStmt(inner)
				}
			}
			for _, inner := range x.Finally {
				walkStmt(inner)
			}
		case *ast.UnsetStmt:
			walkExprs(x.Targets)
		}
	}
	for _, s := range stmts {
		walkStmt(s)
	}
	return order
}
