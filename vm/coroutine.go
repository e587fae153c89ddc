package vm

import (
	"errors"
	"strings"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Generators and fibers are routines: explicit frame stacks the VM can
// park and re-enter. A generator owns the single frame of its body; a
// fiber owns the whole call stack growing under its callable.

type genState uint8

const (
	genCreated genState = iota
	genRunning
	genSuspended
	genDone
)

// Generator is the host state behind a Generator object.
type Generator struct {
	rt    *routine
	obj   *Object
	state genState

	curKey Value
	curVal Value
	hasCur bool

	// autoKey is the next implicit integer key for keyless yields.
	autoKey int64

	retVal Value

	// delegate is the active yield-from source; the generator's own frame
	// stays parked until it is exhausted.
	delegate iterator

	// advanced flips after the first resume past the initial yield, which
	// is the point of no return for rewind().
	advanced bool

	// failed remembers a raise that escaped the body so later calls keep
	// failing the same way.
	failed *Raise
}

// newGenerator wraps a bound, unstarted frame in a Generator object.
func (vm *VM) newGenerator(frame *Frame) *Object {
	cls := vm.LookupClass("Generator")
	obj := NewObject(cls)
	gen := &Generator{obj: obj, rt: &routine{frames: []*Frame{frame}}}
	gen.rt.owner = gen
	obj.native = gen
	return obj
}

// ensureStarted runs the body to its first yield (or completion).
func (g *Generator) ensureStarted(vm *VM) error {
	if g.state != genCreated {
		if g.failed != nil {
			return g.failed
		}
		return nil
	}
	return g.step(vm, Undef())
}

// resume continues a suspended generator, delivering send as the value of
// the pending yield expression.
func (g *Generator) resume(vm *VM, send Value) error {
	switch g.state {
	case genCreated:
		if err := g.step(vm, Undef()); err != nil {
			return err
		}
		if g.state != genSuspended {
			return nil
		}
		return g.step(vm, send)
	case genRunning:
		return vm.errThrow("Error", "Cannot resume an already running generator")
	case genDone:
		if g.failed != nil {
			return g.failed
		}
		return nil
	}
	g.advanced = true
	return g.step(vm, send)
}

// step drives the routine until the next yield, delegate value, or return.
func (g *Generator) step(vm *VM, send Value) error {
	starting := g.state == genCreated
	g.state = genRunning

	// Deliver the send value: to the delegate when one is active, else as
	// the result of the frame's pending yield.
	if g.delegate != nil {
		if err := g.pullDelegate(vm, send); err != nil {
			return g.fail(err)
		}
		if g.state == genSuspended {
			return nil
		}
	} else if !starting {
		g.rt.top().pushVal(send)
	}

	for {
		sig, err := vm.runFrames(g.rt)
		if err != nil {
			return g.fail(err)
		}
		switch sig.kind {
		case sigReturn:
			g.retVal = sig.value
			g.hasCur = false
			g.state = genDone
			return nil

		case sigYield:
			g.deliverYield(sig)
			return nil

		case sigYieldFrom:
			it, exc := vm.newIterator(sig.value)
			if exc != nil {
				// Raise inside the body so its own try regions see it.
				vm.raise(g.rt, exc)
				continue
			}
			g.delegate = it
			if err := g.pullDelegate(vm, Undef()); err != nil {
				return g.fail(err)
			}
			if g.state == genSuspended {
				return nil
			}
			// Delegate was empty; its return value is already pushed and
			// the body continues.
		}
	}
}

// pullDelegate advances the yield-from source. While it produces values
// the generator republishes them; when it runs dry its return value
// becomes the result of the yield-from expression and the body resumes.
func (g *Generator) pullDelegate(vm *VM, send Value) error {
	var key, val Value
	var ok bool
	var err error

	if inner, isGen := g.delegate.(*generatorIter); isGen && !send.IsUndef() {
		ok, err = inner.send(vm, send)
		if ok {
			key, val = inner.gen.curKey, inner.gen.curVal
		}
	} else {
		key, val, ok, err = g.delegate.next(vm)
	}
	if err != nil {
		g.delegate = nil
		return err
	}
	if ok {
		g.curKey = key
		g.curVal = val
		g.hasCur = true
		g.state = genSuspended
		return nil
	}

	ret := Null()
	if inner, isGen := g.delegate.(*generatorIter); isGen {
		ret = inner.gen.retVal
		if ret.IsUndef() {
			ret = Null()
		}
	}
	g.delegate = nil
	g.rt.top().pushVal(ret)
	g.state = genRunning
	return nil
}

// throwInto raises an exception at the suspension point inside the body.
func (g *Generator) throwInto(vm *VM, exc *Object) error {
	if g.state == genCreated {
		if err := g.ensureStarted(vm); err != nil {
			return err
		}
	}
	if g.state == genDone {
		return &Raise{Exc: exc}
	}
	g.advanced = true
	g.state = genRunning
	g.delegate = nil
	vm.raise(g.rt, exc)
	if g.rt.escaped != nil {
		err := g.rt.escaped
		g.rt.escaped = nil
		return g.fail(err)
	}
	return g.continueAfterRaise(vm)
}

func (g *Generator) continueAfterRaise(vm *VM) error {
	for {
		sig, err := vm.runFrames(g.rt)
		if err != nil {
			return g.fail(err)
		}
		switch sig.kind {
		case sigReturn:
			g.retVal = sig.value
			g.hasCur = false
			g.state = genDone
			return nil
		case sigYield:
			g.deliverYield(sig)
			return nil
		case sigYieldFrom:
			it, exc := vm.newIterator(sig.value)
			if exc != nil {
				vm.raise(g.rt, exc)
				continue
			}
			g.delegate = it
			if err := g.pullDelegate(vm, Undef()); err != nil {
				return g.fail(err)
			}
			if g.state == genSuspended {
				return nil
			}
		}
	}
}

// deliverYield publishes a yielded key/value pair and suspends. Explicit
// integer keys advance the auto key on every suspension path, including a
// resume after a caught throw.
func (g *Generator) deliverYield(sig signal) {
	if sig.hasKey {
		g.curKey = sig.key
		if sig.key.Kind() == KindInt && sig.key.AsInt() >= g.autoKey {
			g.autoKey = sig.key.AsInt() + 1
		}
	} else {
		g.curKey = Int(g.autoKey)
		g.autoKey++
	}
	g.curVal = sig.value
	g.hasCur = true
	g.state = genSuspended
}

func (g *Generator) fail(err error) error {
	g.state = genDone
	g.hasCur = false
	var r *Raise
	if errors.As(err, &r) {
		g.failed = r
	}
	return err
}

// bootstrapGeneratorClass registers the final Generator class with its
// native surface.
func (vm *VM) bootstrapGeneratorClass() {
	cls := vm.defineNativeClass("Generator", nil, bytecode.DeclClass, nil)
	cls.Final = true

	cls.addNativeMethod("current", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if err := g.ensureStarted(vm); err != nil {
			return Undef(), err
		}
		if !g.hasCur {
			return Null(), nil
		}
		return g.curVal, nil
	})
	cls.addNativeMethod("key", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if err := g.ensureStarted(vm); err != nil {
			return Undef(), err
		}
		if !g.hasCur {
			return Null(), nil
		}
		return g.curKey, nil
	})
	cls.addNativeMethod("next", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if err := g.ensureStarted(vm); err != nil {
			return Undef(), err
		}
		if g.state == genSuspended {
			if err := g.resume(vm, Null()); err != nil {
				return Undef(), err
			}
		}
		return Null(), nil
	})
	cls.addNativeMethod("send", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		v := Null()
		if len(args) > 0 {
			v = args[0].Deref()
		}
		if err := g.resume(vm, v); err != nil {
			return Undef(), err
		}
		if !g.hasCur {
			return Null(), nil
		}
		return g.curVal, nil
	})
	cls.addNativeMethod("valid", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if err := g.ensureStarted(vm); err != nil {
			return Undef(), err
		}
		return Bool(g.state != genDone), nil
	})
	cls.addNativeMethod("rewind", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if g.advanced {
			return Undef(), vm.errThrow("Exception", "Cannot rewind a generator that was already run")
		}
		if err := g.ensureStarted(vm); err != nil {
			return Undef(), err
		}
		return Null(), nil
	})
	cls.addNativeMethod("getReturn", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if g.state != genDone || g.failed != nil {
			return Undef(), vm.errThrow("Exception",
				"Cannot get return value of a generator that hasn't returned")
		}
		if g.retVal.IsUndef() {
			return Null(), nil
		}
		return g.retVal, nil
	})
	cls.addNativeMethod("throw", func(vm *VM, this *Object, args []Value) (Value, error) {
		g := this.native.(*Generator)
		if len(args) == 0 || args[0].Deref().Kind() != KindObject {
			return Undef(), vm.errThrow("TypeError", "Generator::throw() expects a Throwable")
		}
		if err := g.throwInto(vm, args[0].Deref().Object()); err != nil {
			return Undef(), err
		}
		if !g.hasCur {
			return Null(), nil
		}
		return g.curVal, nil
	})
}

// ---------------------------------------------------------------------------
// Fibers
// ---------------------------------------------------------------------------

type fiberState uint8

const (
	fiberInit fiberState = iota
	fiberRunning
	fiberSuspended
	fiberDone
)

// Fiber is the host state behind a Fiber object: a full call stack that
// Fiber::suspend can park from any depth.
type Fiber struct {
	rt       *routine
	state    fiberState
	callable Value
	retVal   Value
}

// bootstrapFiberClass registers the final Fiber class.
func (vm *VM) bootstrapFiberClass() {
	cls := vm.defineNativeClass("Fiber", nil, bytecode.DeclClass, nil)
	cls.Final = true

	cls.addNativeMethod("__construct", func(vm *VM, this *Object, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.errThrow("ArgumentCountError",
				"too few arguments to Fiber::__construct(): argument $callback missing")
		}
		fib := &Fiber{callable: args[0].Deref()}
		fib.rt = &routine{owner: fib}
		this.native = fib
		return Null(), nil
	})
	cls.addNativeMethod("start", func(vm *VM, this *Object, args []Value) (Value, error) {
		fib := this.native.(*Fiber)
		if fib.state != fiberInit {
			return Undef(), vm.errThrow("FiberError", "Cannot start a fiber that has already been started")
		}
		frame, err := vm.fiberFrame(fib.callable, args)
		if err != nil {
			return Undef(), err
		}
		fib.rt.frames = []*Frame{frame}
		return fib.run(vm)
	})
	cls.addNativeMethod("resume", func(vm *VM, this *Object, args []Value) (Value, error) {
		fib := this.native.(*Fiber)
		if fib.state != fiberSuspended {
			return Undef(), vm.errThrow("FiberError", "Cannot resume a fiber that is not suspended")
		}
		v := Null()
		if len(args) > 0 {
			v = args[0].Deref()
		}
		// The parked frame is mid-call to Fiber::suspend; the resume value
		// becomes that call's result.
		fib.rt.top().pushVal(v)
		return fib.run(vm)
	})
	cls.addNativeMethod("getReturn", func(vm *VM, this *Object, args []Value) (Value, error) {
		fib := this.native.(*Fiber)
		if fib.state != fiberDone {
			return Undef(), vm.errThrow("FiberError",
				"Cannot get fiber return value: The fiber has not returned")
		}
		return fib.retVal, nil
	})
	cls.addNativeMethod("isStarted", func(vm *VM, this *Object, args []Value) (Value, error) {
		return Bool(this.native.(*Fiber).state != fiberInit), nil
	})
	cls.addNativeMethod("isRunning", func(vm *VM, this *Object, args []Value) (Value, error) {
		return Bool(this.native.(*Fiber).state == fiberRunning), nil
	})
	cls.addNativeMethod("isSuspended", func(vm *VM, this *Object, args []Value) (Value, error) {
		return Bool(this.native.(*Fiber).state == fiberSuspended), nil
	})
	cls.addNativeMethod("isTerminated", func(vm *VM, this *Object, args []Value) (Value, error) {
		return Bool(this.native.(*Fiber).state == fiberDone), nil
	})

	suspend := &Method{
		Name:      "suspend",
		Static:    true,
		Declaring: cls,
		Native: func(vm *VM, this *Object, args []Value) (Value, error) {
			v := Null()
			if len(args) > 0 {
				v = args[0].Deref()
			}
			return Undef(), fiberSuspendSignal{value: v}
		},
	}
	cls.Methods["suspend"] = suspend
}

// run drives the fiber until it suspends or finishes, returning the value
// handed to Fiber::suspend (or null on completion).
func (f *Fiber) run(vm *VM) (Value, error) {
	f.state = fiberRunning
	sig, err := vm.runFrames(f.rt)
	if err != nil {
		f.state = fiberDone
		return Undef(), err
	}
	if sig.kind == sigSuspend {
		f.state = fiberSuspended
		return sig.value, nil
	}
	f.state = fiberDone
	f.retVal = sig.value
	return Null(), nil
}

// fiberFrame binds the fiber's callable into its root frame.
func (vm *VM) fiberFrame(callable Value, args []Value) (*Frame, error) {
	var frame *Frame
	switch callable.Kind() {
	case KindClosure:
		c := callable.Closure()
		frame = newFrame(c.Code, c.Cells, c.This, c.Scope, closureCalled(c))
		if exc := vm.bindArgs(frame, args, nil, c.Code.Name); exc != nil {
			return nil, &Raise{Exc: exc}
		}
		if len(c.Code.Upvalues) > 0 {
			bindCaptureSlots(frame)
		}
	case KindString:
		code, ok := vm.functions[strings.ToLower(callable.AsString())]
		if !ok {
			return nil, vm.errThrow("Error", "Call to undefined function "+callable.AsString()+"()")
		}
		frame = newFrame(code, nil, nil, nil, nil)
		if exc := vm.bindArgs(frame, args, nil, callable.AsString()); exc != nil {
			return nil, &Raise{Exc: exc}
		}
	default:
		return nil, vm.errThrow("TypeError", "Fiber callback must be a valid callable")
	}
	if frame.code.IsGenerator {
		return nil, vm.errThrow("FiberError", "Fiber callback cannot be a generator")
	}
	return frame, nil
}
