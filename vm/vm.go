package vm

import (
	"errors"
	"fmt"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// signal is how runFrames reports why a routine stopped executing.
type signalKind uint8

const (
	sigReturn signalKind = iota
	sigYield
	sigYieldFrom
	sigSuspend
)

type signal struct {
	kind   signalKind
	hasKey bool
	key    Value
	value  Value
}

// fiberSuspendSignal travels from the Fiber::suspend native out of the
// dispatch loop without unwinding the fiber's frames.
type fiberSuspendSignal struct {
	value Value
}

func (fiberSuspendSignal) Error() string { return "fiber suspended" }

const cancelCheckInterval = 4096

func (vm *VM) currentRoutine() *routine {
	if len(vm.rts) == 0 {
		return nil
	}
	return vm.rts[len(vm.rts)-1]
}

// runFrames executes a routine until its root frame returns, a generator
// frame yields, or a fiber suspends. Script-level calls push frames onto
// the routine instead of recursing in Go, so suspension can cross any call
// depth. An unhandled raise unwinds every frame and comes back as a *Raise
// error.
func (vm *VM) runFrames(rt *routine) (signal, error) {
	vm.rts = append(vm.rts, rt)
	defer func() { vm.rts = vm.rts[:len(vm.rts)-1] }()

	var result Value
	for len(rt.frames) > 0 {
		f := rt.top()

		vm.checkCounter++
		if vm.checkCounter >= cancelCheckInterval {
			vm.checkCounter = 0
			if vm.runCtx != nil {
				if err := vm.runCtx.Err(); err != nil {
					return signal{}, err
				}
			}
		}

		op := f.readOp()
		if vm.trace {
			vm.log.Debugf("%s %04d %s depth=%d", f.code.Name, f.ip-1, op, len(f.stack))
		}

		switch op {

		// ------------------------------------------------------------
		// Stack and constants
		// ------------------------------------------------------------

		case bytecode.OpNop:

		case bytecode.OpPop:
			f.popVal()

		case bytecode.OpDup:
			f.pushVal(f.peekVal())

		case bytecode.OpSwap:
			n := len(f.stack)
			f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

		case bytecode.OpConst:
			f.pushVal(constantValue(f.code.ConstantAt(f.readU16())))

		case bytecode.OpNull:
			f.pushVal(Null())
		case bytecode.OpTrue:
			f.pushVal(Bool(true))
		case bytecode.OpFalse:
			f.pushVal(Bool(false))

		// ------------------------------------------------------------
		// Locals, globals, upvalues
		// ------------------------------------------------------------

		case bytecode.OpLoadLocal:
			slot := f.readU16()
			v := f.locals[slot]
			if v.IsRef() {
				v = v.Deref()
			}
			if v.IsUndef() {
				vm.raise(rt, vm.newThrowable("Error", "Undefined variable $"+f.localName(slot)))
				continue
			}
			f.pushVal(v)

		case bytecode.OpStoreLocal:
			slot := f.readU16()
			v := f.popVal()
			if v.IsRef() {
				f.locals[slot] = v
			} else if f.locals[slot].IsRef() {
				f.locals[slot].Ref().Set(shareValue(v))
			} else {
				f.locals[slot] = shareValue(v)
			}

		case bytecode.OpLocalRef:
			slot := f.readU16()
			cur := f.locals[slot]
			if cur.IsRef() {
				f.pushVal(cur)
				break
			}
			if cur.IsUndef() {
				cur = Null()
			}
			cell := NewCell(cur)
			f.locals[slot] = RefVal(cell)
			f.pushVal(RefVal(cell))

		case bytecode.OpBindGlobal:
			name := f.code.StringAt(f.readU16())
			slot := f.readU16()
			cell, ok := vm.globals[name]
			if !ok {
				cell = &Cell{}
				vm.globals[name] = cell
			}
			f.locals[slot] = RefVal(cell)

		case bytecode.OpIssetLocal:
			slot := f.readU16()
			v := f.locals[slot].Deref()
			f.pushVal(Bool(!v.IsUndef() && !v.IsNull()))

		case bytecode.OpUnsetLocal:
			f.locals[f.readU16()] = Undef()

		case bytecode.OpLoadThis:
			if f.this == nil {
				vm.raise(rt, vm.newThrowable("Error", "Using $this when not in object context"))
				continue
			}
			f.pushVal(ObjectVal(f.this))

		case bytecode.OpLoadUpvalue:
			v := f.cells[f.readU16()].Get()
			if v.IsUndef() {
				v = Null()
			}
			f.pushVal(v)

		case bytecode.OpStoreUpvalue:
			f.cells[f.readU16()].Set(shareValue(f.popVal().Deref()))

		case bytecode.OpUpvalueRef:
			f.pushVal(RefVal(f.cells[f.readU16()]))

		// ------------------------------------------------------------
		// Arithmetic, string, bitwise
		// ------------------------------------------------------------

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
			bytecode.OpMod, bytecode.OpPow:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			res, exc := vm.arith(op, a, b)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(res)

		case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor,
			bytecode.OpShiftLeft, bytecode.OpShiftRight:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			res, exc := vm.bitwise(op, a, b)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(res)

		case bytecode.OpNeg:
			v, exc := vm.toNumber(f.popVal().Deref(), "-")
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			if v.Kind() == KindInt {
				f.pushVal(Int(-v.AsInt()))
			} else {
				f.pushVal(Float(-v.AsFloat()))
			}

		case bytecode.OpBitNot:
			v, exc := vm.toNumber(f.popVal().Deref(), "~")
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(Int(^truncInt(v)))

		case bytecode.OpConcat:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			sa, err := vm.toStringValue(a)
			var sb string
			if err == nil {
				sb, err = vm.toStringValue(b)
			}
			if err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
				continue
			}
			f.pushVal(String(sa + sb))

		// ------------------------------------------------------------
		// Comparison and logic
		// ------------------------------------------------------------

		case bytecode.OpEqual:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			f.pushVal(Bool(vm.looseEqual(a, b)))

		case bytecode.OpNotEqual:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			f.pushVal(Bool(!vm.looseEqual(a, b)))

		case bytecode.OpIdentical:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			f.pushVal(Bool(strictEqual(a, b)))

		case bytecode.OpNotIdentical:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			f.pushVal(Bool(!strictEqual(a, b)))

		case bytecode.OpLess, bytecode.OpLessEq, bytecode.OpGreater, bytecode.OpGreaterEq:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			c, ok := vm.looseCompare(a, b)
			if !ok {
				f.pushVal(Bool(false))
				break
			}
			switch op {
			case bytecode.OpLess:
				f.pushVal(Bool(c < 0))
			case bytecode.OpLessEq:
				f.pushVal(Bool(c <= 0))
			case bytecode.OpGreater:
				f.pushVal(Bool(c > 0))
			default:
				f.pushVal(Bool(c >= 0))
			}

		case bytecode.OpCompare:
			b := f.popVal().Deref()
			a := f.popVal().Deref()
			c, ok := vm.looseCompare(a, b)
			if !ok {
				c = 1
			}
			f.pushVal(Int(int64(c)))

		case bytecode.OpNot:
			f.pushVal(Bool(!f.popVal().Deref().Truthy()))

		// ------------------------------------------------------------
		// Control flow
		// ------------------------------------------------------------

		case bytecode.OpJump:
			f.ip = int(f.readU16())

		case bytecode.OpJumpIfFalse:
			target := f.readU16()
			if !f.popVal().Deref().Truthy() {
				f.ip = int(target)
			}

		case bytecode.OpJumpIfTrue:
			target := f.readU16()
			if f.popVal().Deref().Truthy() {
				f.ip = int(target)
			}

		case bytecode.OpJumpIfNull:
			target := f.readU16()
			if v := f.peekVal().Deref(); v.IsNull() || v.IsUndef() {
				f.ip = int(target)
			}

		case bytecode.OpJumpNotNull:
			target := f.readU16()
			if v := f.peekVal().Deref(); !v.IsNull() && !v.IsUndef() {
				f.ip = int(target)
			}

		// ------------------------------------------------------------
		// Calls
		// ------------------------------------------------------------

		case bytecode.OpCall:
			name := f.code.StringAt(f.readU16())
			argc := int(f.readU16())
			shape := f.shapeAt(f.readU16())
			args := f.popArgs(argc)
			if err := vm.callFunction(rt, name, args, shape); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpCallValue:
			argc := int(f.readU16())
			shape := f.shapeAt(f.readU16())
			args := f.popArgs(argc)
			callee := f.popVal().Deref()
			if err := vm.callValue(rt, callee, args, shape); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpCallBuiltin:
			name := f.code.StringAt(f.readU16())
			argc := int(f.readU16())
			args := f.popArgs(argc)
			res, err := vm.callBuiltin(name, args)
			if err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
				continue
			}
			f.pushVal(res)

		case bytecode.OpEcho:
			count := int(f.readU16())
			vals := f.popArgs(count)
			var echoErr error
			for _, v := range vals {
				s, err := vm.toStringValue(v.Deref())
				if err != nil {
					echoErr = err
					break
				}
				fmt.Fprint(vm.stdout, s)
			}
			if echoErr != nil {
				sig, done, fatal := vm.routeCallError(rt, echoErr)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpMakeClosure:
			idx := f.readU16()
			f.pushVal(ClosureVal(vm.makeClosure(f, vm.program.Codes[idx])))

		// ------------------------------------------------------------
		// Arrays and references
		// ------------------------------------------------------------

		case bytecode.OpNewArray:
			f.pushVal(ArrayVal(NewArray()))

		case bytecode.OpArrayPush:
			v := f.popVal().Deref()
			arr := f.peekVal().Array()
			arr.Append(shareValue(v))

		case bytecode.OpArrayKeyPush:
			v := f.popVal().Deref()
			keyVal := f.popVal().Deref()
			arr := f.peekVal().Array()
			key, ok := NormalizeKey(keyVal)
			if !ok {
				vm.raise(rt, vm.newThrowable("TypeError", "Illegal offset type "+keyVal.TypeName()))
				continue
			}
			arr.Set(key, shareValue(v))

		case bytecode.OpIndexGet:
			keyVal := f.popVal().Deref()
			base := f.popVal().Deref()
			res, exc := vm.indexGet(base, keyVal)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(res)

		case bytecode.OpIndexIsset:
			keyVal := f.popVal().Deref()
			base := f.popVal().Deref()
			f.pushVal(Bool(vm.indexIsset(base, keyVal)))

		case bytecode.OpElemRef:
			keyVal := f.popVal().Deref()
			ref := f.popVal()
			arr, exc := vm.arrayForWrite(ref.Ref())
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			key, ok := NormalizeKey(keyVal)
			if !ok {
				vm.raise(rt, vm.newThrowable("TypeError", "Illegal offset type "+keyVal.TypeName()))
				continue
			}
			f.pushVal(RefVal(elemRef{arr: arr, key: key}))

		case bytecode.OpAppendRef:
			ref := f.popVal()
			arr, exc := vm.arrayForWrite(ref.Ref())
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			key := arr.Append(Null())
			f.pushVal(RefVal(elemRef{arr: arr, key: key}))

		case bytecode.OpLoadDeref:
			v := f.popVal().Ref().Get()
			if v.IsUndef() {
				v = Null()
			}
			f.pushVal(v)

		case bytecode.OpStoreRef:
			v := f.popVal().Deref()
			f.popVal().Ref().Set(shareValue(v))

		case bytecode.OpStoreRefKeep:
			v := f.popVal().Deref()
			f.popVal().Ref().Set(shareValue(v))
			f.pushVal(v)

		case bytecode.OpUnsetElem:
			keyVal := f.popVal().Deref()
			ref := f.popVal().Ref()
			if exc := vm.unsetElem(ref, keyVal); exc != nil {
				vm.raise(rt, exc)
				continue
			}

		case bytecode.OpIterNew:
			subject := f.popVal()
			it, exc := vm.newIterator(subject)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(iterVal(it))

		case bytecode.OpIterNext:
			end := f.readU16()
			flags := f.readU16()
			it := f.peekVal().iter()
			key, val, ok, err := it.next(vm)
			if err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
				continue
			}
			if !ok {
				f.popVal()
				f.ip = int(end)
				break
			}
			if flags&bytecode.IterWantKey != 0 {
				f.pushVal(key)
			}
			if flags&bytecode.IterByRef == 0 {
				val = val.Deref()
			}
			f.pushVal(val)

		// ------------------------------------------------------------
		// Objects
		// ------------------------------------------------------------

		case bytecode.OpNew:
			className := f.code.StringAt(f.readU16())
			argc := int(f.readU16())
			shape := f.shapeAt(f.readU16())
			args := f.popArgs(argc)
			if err := vm.instantiate(rt, f, className, args, shape); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpGetProp:
			name := f.code.StringAt(f.readU16())
			base := f.popVal().Deref()
			if err := vm.getProp(rt, f, base, name); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpSetProp:
			name := f.code.StringAt(f.readU16())
			v := f.popVal().Deref()
			base := f.popVal().Deref()
			if err := vm.setProp(f, base, name, v); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
				continue
			}
			f.pushVal(v)

		case bytecode.OpPropRef:
			name := f.code.StringAt(f.readU16())
			base := f.popVal().Deref()
			ref, exc := vm.propRefFor(f, base, name)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(RefVal(ref))

		case bytecode.OpIssetProp:
			name := f.code.StringAt(f.readU16())
			base := f.popVal().Deref()
			if base.Kind() != KindObject {
				f.pushVal(Bool(false))
				break
			}
			v, ok := base.Object().getRaw(name)
			f.pushVal(Bool(ok && !v.Deref().IsNull() && !v.Deref().IsUndef()))

		case bytecode.OpUnsetProp:
			name := f.code.StringAt(f.readU16())
			base := f.popVal().Deref()
			if exc := vm.unsetProp(f, base, name); exc != nil {
				vm.raise(rt, exc)
				continue
			}

		case bytecode.OpCallMethod:
			name := f.code.StringAt(f.readU16())
			argc := int(f.readU16())
			shape := f.shapeAt(f.readU16())
			args := f.popArgs(argc)
			base := f.popVal().Deref()
			if err := vm.callMethod(rt, f, base, name, args, shape); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpCallStatic:
			className := f.code.StringAt(f.readU16())
			name := f.code.StringAt(f.readU16())
			argc := int(f.readU16())
			shape := f.shapeAt(f.readU16())
			args := f.popArgs(argc)
			if err := vm.callStatic(rt, f, className, name, args, shape); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		case bytecode.OpGetStatic:
			className := f.code.StringAt(f.readU16())
			name := f.code.StringAt(f.readU16())
			cell, exc := vm.staticCell(f, className, name)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			v := cell.Get()
			if v.IsUndef() {
				v = Null()
			}
			f.pushVal(v)

		case bytecode.OpSetStatic:
			className := f.code.StringAt(f.readU16())
			name := f.code.StringAt(f.readU16())
			v := f.popVal().Deref()
			cell, exc := vm.staticCell(f, className, name)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			cell.Set(shareValue(v))
			f.pushVal(v)

		case bytecode.OpStaticRef:
			className := f.code.StringAt(f.readU16())
			name := f.code.StringAt(f.readU16())
			cell, exc := vm.staticCell(f, className, name)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(RefVal(cell))

		case bytecode.OpClassConst:
			className := f.code.StringAt(f.readU16())
			name := f.code.StringAt(f.readU16())
			v, exc := vm.classConst(f, className, name)
			if exc != nil {
				vm.raise(rt, exc)
				continue
			}
			f.pushVal(v)

		case bytecode.OpInstanceOf:
			className := f.code.StringAt(f.readU16())
			v := f.popVal().Deref()
			cls := vm.designatedClass(f, className)
			f.pushVal(Bool(v.Kind() == KindObject && cls != nil && v.Object().Class.IsSubclassOf(cls)))

		case bytecode.OpClone:
			base := f.popVal().Deref()
			if err := vm.cloneObject(rt, base); err != nil {
				sig, done, fatal := vm.routeCallError(rt, err)
				if fatal != nil {
					return signal{}, fatal
				}
				if done {
					return sig, nil
				}
			}

		// ------------------------------------------------------------
		// Exceptions
		// ------------------------------------------------------------

		case bytecode.OpTryPush:
			region := f.readU16()
			f.trys = append(f.trys, tryActivation{region: region, stackDepth: len(f.stack)})

		case bytecode.OpTryPop:
			f.trys = f.trys[:len(f.trys)-1]

		case bytecode.OpThrow:
			v := f.popVal().Deref()
			throwable := vm.LookupClass("Throwable")
			if v.Kind() != KindObject || throwable == nil || !v.Object().Class.IsSubclassOf(throwable) {
				vm.raise(rt, vm.newThrowable("TypeError", "Can only throw objects implementing Throwable"))
				continue
			}
			vm.raise(rt, v.Object())

		case bytecode.OpEndFinally:
			act := f.trys[len(f.trys)-1]
			f.trys = f.trys[:len(f.trys)-1]
			if act.pending != nil {
				vm.raise(rt, act.pending)
			}

		case bytecode.OpMatchError:
			subject := f.popVal().Deref()
			vm.raise(rt, vm.newThrowable("UnhandledMatchError",
				"Unhandled match case "+vm.scalarString(subject)))

		// ------------------------------------------------------------
		// Coroutines
		// ------------------------------------------------------------

		case bytecode.OpYield:
			hasKey := f.readU16() != 0
			val := f.popVal().Deref()
			sig := signal{kind: sigYield, value: val}
			if hasKey {
				sig.key = f.popVal().Deref()
				sig.hasKey = true
			}
			return sig, nil

		case bytecode.OpYieldFrom:
			v := f.popVal().Deref()
			return signal{kind: sigYieldFrom, value: v}, nil

		// ------------------------------------------------------------
		// Returns
		// ------------------------------------------------------------

		case bytecode.OpReturn, bytecode.OpReturnNull:
			var ret Value
			if op == bytecode.OpReturn {
				ret = f.popVal().Deref()
			} else {
				ret = Null()
			}
			rt.pop()
			if len(rt.frames) == 0 {
				result = ret
				break
			}
			if f.discardReturn {
				break
			}
			rt.top().pushVal(ret)

		default:
			return signal{}, fmt.Errorf("vm: unknown opcode 0x%02X in %s", byte(op), f.code.Name)
		}
	}

	if rt.escaped != nil {
		err := rt.escaped
		rt.escaped = nil
		return signal{}, err
	}
	return signal{kind: sigReturn, value: result}, nil
}

// routeCallError classifies an error surfaced by a call helper. Throwables
// are raised into the routine and dispatch continues (done false); a fiber
// suspend stops the routine with a signal to deliver (done true); anything
// else is fatal and aborts the run.
func (vm *VM) routeCallError(rt *routine, err error) (sig signal, done bool, fatal error) {
	var suspend fiberSuspendSignal
	if errors.As(err, &suspend) {
		if _, inFiber := rt.owner.(*Fiber); !inFiber {
			vm.raise(rt, vm.newThrowable("FiberError", "Cannot suspend outside of fiber"))
			return signal{}, false, nil
		}
		return signal{kind: sigSuspend, value: suspend.value}, true, nil
	}
	var r *Raise
	if errors.As(err, &r) {
		vm.raise(rt, r.Exc)
		return signal{}, false, nil
	}
	return signal{}, false, err
}

// raise unwinds the routine looking for a handler: a matching catch arm
// first, then any finally on the way out. When nothing in this routine
// handles it, every frame is gone and the raise is parked on the routine
// for runFrames to return.
func (vm *VM) raise(rt *routine, exc *Object) {
	for len(rt.frames) > 0 {
		f := rt.top()
		for len(f.trys) > 0 {
			act := &f.trys[len(f.trys)-1]
			region := f.code.TryRegions[act.region]

			if !act.catchDone {
				if clause := vm.matchCatch(region, exc); clause != nil {
					f.truncate(act.stackDepth)
					if region.FinallyTarget != bytecode.NoTarget {
						// Keep the activation so a raise inside the
						// handler still runs the finally.
						act.catchDone = true
					} else {
						f.trys = f.trys[:len(f.trys)-1]
					}
					if clause.Slot != bytecode.NoTarget {
						f.locals[clause.Slot] = ObjectVal(exc)
					}
					f.ip = int(clause.Target)
					return
				}
			}

			if region.FinallyTarget != bytecode.NoTarget && !act.inFinally {
				f.truncate(act.stackDepth)
				act.catchDone = true
				act.inFinally = true
				act.pending = exc
				f.ip = int(region.FinallyTarget)
				return
			}

			// A raise during the exception-path finally wins; the one it
			// interrupted becomes its previous.
			if act.inFinally && act.pending != nil && act.pending != exc {
				chainPrevious(exc, act.pending)
			}
			f.trys = f.trys[:len(f.trys)-1]
		}
		rt.pop()
	}
	rt.escaped = &Raise{Exc: exc}
}

func chainPrevious(exc, prev *Object) {
	if v, ok := exc.getRaw("previous"); !ok || v.Deref().IsNull() {
		exc.setRaw("previous", ObjectVal(prev))
	}
}

// matchCatch finds the first catch clause whose type list matches the
// exception's class.
func (vm *VM) matchCatch(region bytecode.TryRegion, exc *Object) *bytecode.CatchClause {
	for i := range region.Catches {
		clause := &region.Catches[i]
		for _, typeName := range clause.Types {
			cls := vm.LookupClass(typeName)
			if cls != nil && exc.Class.IsSubclassOf(cls) {
				return clause
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Frame helpers
// ---------------------------------------------------------------------------

func (f *Frame) popArgs(argc int) []Value {
	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = f.popVal()
	}
	return args
}

func (f *Frame) shapeAt(idx uint16) *bytecode.CallShape {
	if idx == bytecode.NoShape {
		return nil
	}
	return &f.code.Shapes[idx]
}

func (f *Frame) localName(slot uint16) string {
	if int(slot) < len(f.code.LocalNames) && f.code.LocalNames[slot] != "" {
		return f.code.LocalNames[slot]
	}
	return fmt.Sprintf("slot%d", slot)
}

// toStringValue converts any value to a string, dispatching __toString on
// objects. Failures come back as *Raise errors.
func (vm *VM) toStringValue(v Value) (string, error) {
	v = v.Deref()
	if v.Kind() == KindObject {
		obj := v.Object()
		if m := obj.Class.FindMethod("__toString"); m != nil {
			res, err := vm.invoke(m, obj, obj.Class, nil, nil)
			if err != nil {
				return "", err
			}
			return vm.scalarString(res.Deref()), nil
		}
		return "", &Raise{Exc: vm.newThrowable("Error",
			"Object of class "+obj.Class.Name+" could not be converted to string")}
	}
	if v.Kind() == KindClosure {
		return "", &Raise{Exc: vm.newThrowable("Error", "Closure could not be converted to string")}
	}
	return vm.scalarString(v), nil
}

// coerceString converts a value where objects are impossible by construction.
func (vm *VM) coerceString(v Value) string {
	return vm.scalarString(v.Deref())
}

// errThrow wraps a freshly built throwable as an error.
func (vm *VM) errThrow(class, message string) error {
	return &Raise{Exc: vm.newThrowable(class, message)}
}
