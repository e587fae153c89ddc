package vm

import (
	"fmt"
	"strings"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Bootstrap class hierarchy. These classes exist before any user code is
// registered; user classes may extend and catch them.
//
//	Throwable (interface)
//	  Exception
//	    RuntimeException
//	  Error
//	    TypeError
//	      ArgumentCountError
//	    ValueError
//	    ArithmeticError
//	      DivisionByZeroError
//	    UnhandledMatchError
//	    FiberError
//	Generator, Fiber (final, host-backed)

// Raise wraps a thrown object while it crosses host boundaries.
type Raise struct {
	Exc *Object
}

func (r *Raise) Error() string {
	return "Uncaught " + r.Exc.Class.Name + ": " + throwableMessage(r.Exc)
}

// UncaughtError is returned by Run when a throwable reaches the top level.
type UncaughtError struct {
	Exc *Object
}

func (e *UncaughtError) Error() string {
	return "PHP Fatal error: Uncaught " + e.Exc.Class.Name + ": " + throwableMessage(e.Exc)
}

func throwableMessage(obj *Object) string {
	if v, ok := obj.getRaw("message"); ok && v.Kind() == KindString {
		return v.AsString()
	}
	return ""
}

func (vm *VM) bootstrapClasses() {
	throwable := vm.defineNativeClass("Throwable", nil, bytecode.DeclInterface, nil)

	exception := vm.defineNativeClass("Exception", nil, bytecode.DeclClass, []*Class{throwable})
	vm.addThrowableMembers(exception)
	vm.defineNativeClass("RuntimeException", exception, bytecode.DeclClass, nil)

	errClass := vm.defineNativeClass("Error", nil, bytecode.DeclClass, []*Class{throwable})
	vm.addThrowableMembers(errClass)
	typeError := vm.defineNativeClass("TypeError", errClass, bytecode.DeclClass, nil)
	vm.defineNativeClass("ArgumentCountError", typeError, bytecode.DeclClass, nil)
	vm.defineNativeClass("ValueError", errClass, bytecode.DeclClass, nil)
	arithmetic := vm.defineNativeClass("ArithmeticError", errClass, bytecode.DeclClass, nil)
	vm.defineNativeClass("DivisionByZeroError", arithmetic, bytecode.DeclClass, nil)
	vm.defineNativeClass("UnhandledMatchError", errClass, bytecode.DeclClass, nil)
	vm.defineNativeClass("FiberError", errClass, bytecode.DeclClass, nil)

	vm.bootstrapGeneratorClass()
	vm.bootstrapFiberClass()
}

func (vm *VM) defineNativeClass(name string, parent *Class, kind bytecode.DeclKind, ifaces []*Class) *Class {
	cls := &Class{
		Name:       name,
		Parent:     parent,
		Interfaces: ifaces,
		Kind:       kind,
		Consts:     make(map[string]Value),
		propIdx:    make(map[string]*PropInfo),
		Methods:    make(map[string]*Method),
		Statics:    make(map[string]*Cell),
	}
	if parent != nil {
		cls.Props = append(cls.Props, parent.Props...)
		for _, p := range parent.Props {
			cls.propIdx[p.Name] = p
		}
		for k, m := range parent.Methods {
			cls.Methods[k] = m
		}
	}
	vm.classes[strings.ToLower(name)] = cls
	return cls
}

func (cls *Class) addNativeProp(name string, vis bytecode.Visibility, def Value) {
	info := &PropInfo{Name: name, Default: def, Visibility: vis, Declaring: cls}
	cls.Props = append(cls.Props, info)
	cls.propIdx[name] = info
}

func (cls *Class) addNativeMethod(name string, fn NativeMethod) {
	cls.Methods[strings.ToLower(name)] = &Method{
		Name:       name,
		Native:     fn,
		Visibility: bytecode.Public,
		Declaring:  cls,
	}
}

// addThrowableMembers gives a root throwable class its standard surface.
func (vm *VM) addThrowableMembers(cls *Class) {
	cls.addNativeProp("message", bytecode.Protected, String(""))
	cls.addNativeProp("code", bytecode.Protected, Int(0))
	cls.addNativeProp("line", bytecode.Protected, Int(0))
	cls.addNativeProp("previous", bytecode.Private, Null())
	cls.addNativeProp("trace", bytecode.Private, String(""))

	cls.addNativeMethod("__construct", func(vm *VM, this *Object, args []Value) (Value, error) {
		if len(args) > 0 {
			msg, err := vm.toStringValue(args[0].Deref())
			if err != nil {
				return Undef(), err
			}
			this.setRaw("message", String(msg))
		}
		if len(args) > 1 {
			this.setRaw("code", args[1].Deref())
		}
		if len(args) > 2 {
			this.setRaw("previous", args[2].Deref())
		}
		this.setRaw("trace", String(vm.captureTrace()))
		return Null(), nil
	})
	cls.addNativeMethod("getMessage", func(vm *VM, this *Object, args []Value) (Value, error) {
		v, _ := this.getRaw("message")
		return v, nil
	})
	cls.addNativeMethod("getCode", func(vm *VM, this *Object, args []Value) (Value, error) {
		v, _ := this.getRaw("code")
		return v, nil
	})
	cls.addNativeMethod("getLine", func(vm *VM, this *Object, args []Value) (Value, error) {
		v, _ := this.getRaw("line")
		return v, nil
	})
	cls.addNativeMethod("getPrevious", func(vm *VM, this *Object, args []Value) (Value, error) {
		v, _ := this.getRaw("previous")
		return v, nil
	})
	cls.addNativeMethod("getTraceAsString", func(vm *VM, this *Object, args []Value) (Value, error) {
		v, _ := this.getRaw("trace")
		return v, nil
	})
	cls.addNativeMethod("__toString", func(vm *VM, this *Object, args []Value) (Value, error) {
		return String(this.Class.Name + ": " + throwableMessage(this)), nil
	})
}

// newThrowable builds a runtime-raised throwable of a bootstrap class.
func (vm *VM) newThrowable(class, message string) *Object {
	cls := vm.classes[strings.ToLower(class)]
	if cls == nil {
		// Bootstrap classes always exist; reaching this is a VM defect.
		panic(fmt.Sprintf("vm: bootstrap class %s missing", class))
	}
	obj := NewObject(cls)
	obj.setRaw("message", String(message))
	obj.setRaw("code", Int(0))
	obj.setRaw("previous", Null())
	obj.setRaw("trace", String(vm.captureTrace()))
	return obj
}

// captureTrace renders the active call stack, innermost first.
func (vm *VM) captureTrace() string {
	rt := vm.currentRoutine()
	if rt == nil {
		return "#0 {main}"
	}
	var b strings.Builder
	n := 0
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s()", n, rt.frames[i].code.Name)
		n++
	}
	if n == 0 {
		return "#0 {main}"
	}
	return b.String()
}
