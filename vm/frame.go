package vm

import (
	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Frame is one activation: code, instruction pointer, local slots, and an
// operand stack. Frames are heap values so a suspended generator or fiber
// can hold its whole stack across resumes.
type Frame struct {
	code   *bytecode.CodeObject
	ip     int
	locals []Value
	stack  []Value

	// cells are the capture cells of the executing closure, parallel to
	// code.Upvalues. Nil outside closures.
	cells []*Cell

	this   *Object
	class  *Class // lexically defining class (self::)
	called *Class // late-static-binding class (static::)

	// discardReturn drops the frame's return value instead of pushing it to
	// the caller: constructor bodies, whose result is the object already on
	// the caller's stack.
	discardReturn bool

	trys []tryActivation
}

// tryActivation is one live try region in a frame.
type tryActivation struct {
	region     uint16
	stackDepth int
	// catchDone marks the catch arm consumed (or absent) so a second
	// raise goes straight to the finally or outward.
	catchDone bool
	// inFinally marks the exception-path finally as running; pending is
	// the raise to resume at END_FINALLY.
	inFinally bool
	pending   *Object
}

// routine is an independently executable frame stack: the main program,
// one generator, or one fiber.
type routine struct {
	frames []*Frame

	// owner is the *Generator or *Fiber this routine belongs to; nil for
	// the main program.
	owner any

	// escaped holds a raise that unwound every frame without finding a
	// handler.
	escaped *Raise
}

func (rt *routine) top() *Frame { return rt.frames[len(rt.frames)-1] }

func (rt *routine) push(f *Frame) { rt.frames = append(rt.frames, f) }

func (rt *routine) pop() *Frame {
	f := rt.frames[len(rt.frames)-1]
	rt.frames = rt.frames[:len(rt.frames)-1]
	return f
}

// Closure is a first-class function value: a code table entry plus its
// capture cells and, when created inside a method, the bound $this and
// defining class.
type Closure struct {
	Code  *bytecode.CodeObject
	Cells []*Cell
	This  *Object
	Scope *Class
}

func newFrame(code *bytecode.CodeObject, cells []*Cell, this *Object, class, called *Class) *Frame {
	return &Frame{
		code:   code,
		locals: make([]Value, code.LocalCount),
		stack:  make([]Value, 0, 8),
		cells:  cells,
		this:   this,
		class:  class,
		called: called,
	}
}

// Operand stack primitives.

func (f *Frame) pushVal(v Value) { f.stack = append(f.stack, v) }

func (f *Frame) popVal() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *Frame) peekVal() Value { return f.stack[len(f.stack)-1] }

func (f *Frame) truncate(depth int) { f.stack = f.stack[:depth] }

// readOp decodes the next opcode and advances the instruction pointer.
func (f *Frame) readOp() bytecode.Opcode {
	op := bytecode.Opcode(f.code.Code[f.ip])
	f.ip++
	return op
}

// readU16 decodes the next operand and advances.
func (f *Frame) readU16() uint16 {
	v := f.code.ReadU16(f.ip)
	f.ip += 2
	return v
}

// bindArgs populates a frame's parameter slots from call-site arguments.
// Named arguments fill by parameter name; defaults cover the rest; a
// trailing variadic collects the overflow. By-ref parameters bind the
// passed reference, everything else is copied.
func (vm *VM) bindArgs(f *Frame, args []Value, shape *bytecode.CallShape, callable string) *Object {
	code := f.code
	params := code.Params

	positional := args
	named := map[string]Value{}
	if shape != nil {
		n := len(shape.Names)
		positional = args[:len(args)-n]
		for i, name := range shape.Names {
			named[name] = args[len(args)-n+i]
		}
	}

	variadic := len(params) > 0 && params[len(params)-1].Variadic

	for i, p := range params {
		if p.Variadic {
			rest := NewArray()
			if i < len(positional) {
				for _, a := range positional[i:] {
					rest.Append(a.Deref())
				}
			}
			// Named arguments matching no declared parameter land in the
			// variadic under their string keys, in call order.
			if shape != nil {
				for _, name := range shape.Names {
					if declaresParam(params, name) {
						continue
					}
					rest.Set(StringKey(name), named[name].Deref())
				}
			}
			f.locals[i] = ArrayVal(rest)
			continue
		}
		var arg Value
		var have bool
		if i < len(positional) {
			arg, have = positional[i], true
		} else if v, ok := named[p.Name]; ok {
			arg, have = v, true
		}
		if !have {
			if !p.HasDefault {
				return vm.newThrowable("ArgumentCountError",
					"too few arguments to "+callable+"(): argument $"+p.Name+" missing")
			}
			f.locals[i] = shareValue(constantValue(p.Default))
			continue
		}
		if p.ByRef && arg.IsRef() {
			f.locals[i] = arg
		} else {
			f.locals[i] = shareValue(arg.Deref())
		}
	}

	if len(params) == 0 || !params[len(params)-1].Variadic {
		if len(positional) > len(params) {
			return vm.newThrowable("ArgumentCountError",
				"too many arguments to "+callable+"()")
		}
	}
	if !variadic {
		for name := range named {
			if !declaresParam(params, name) {
				return vm.newThrowable("ValueError",
					"unknown named argument $"+name+" for "+callable+"()")
			}
		}
	}
	return nil
}

// declaresParam reports whether name is a declared non-variadic parameter.
// The variadic itself is never bound by name; a named argument carrying
// its name is collected like any other unknown name.
func declaresParam(params []bytecode.ParamDesc, name string) bool {
	for _, p := range params {
		if !p.Variadic && p.Name == name {
			return true
		}
	}
	return false
}
