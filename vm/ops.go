package vm

import (
	"strings"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Call dispatch and object member access. Helpers here either push a new
// frame onto the routine (script bodies) or push a finished result onto the
// caller's stack (natives, magic methods, generator construction). All
// failures come back as *Raise errors.

// designatedClass resolves a class designator in the context of a frame:
// self and parent bind lexically, static binds late.
func (vm *VM) designatedClass(f *Frame, name string) *Class {
	switch strings.ToLower(name) {
	case "self":
		return f.class
	case "static":
		return f.called
	case "parent":
		if f.class == nil {
			return nil
		}
		return f.class.Parent
	}
	return vm.LookupClass(name)
}

// pushCall prepares a frame for a compiled body and pushes it, or, for a
// generator body, wraps the bound frame in a Generator and pushes that
// object as the call's result.
func (vm *VM) pushCall(rt *routine, code *bytecode.CodeObject, cells []*Cell,
	this *Object, class, called *Class, args []Value, shape *bytecode.CallShape,
	callable string, discardReturn bool) error {

	frame := newFrame(code, cells, this, class, called)
	frame.discardReturn = discardReturn
	if exc := vm.bindArgs(frame, args, shape, callable); exc != nil {
		return &Raise{Exc: exc}
	}
	if len(code.Upvalues) > 0 {
		bindCaptureSlots(frame)
	}

	if code.IsGenerator {
		gen := vm.newGenerator(frame)
		rt.top().pushVal(ObjectVal(gen))
		return nil
	}
	if len(rt.frames) >= vm.maxDepth {
		return vm.errThrow("Error", "Maximum function nesting level reached")
	}
	rt.push(frame)
	return nil
}

// callFunction dispatches a declared function by name.
func (vm *VM) callFunction(rt *routine, name string, args []Value, shape *bytecode.CallShape) error {
	code, ok := vm.functions[strings.ToLower(name)]
	if !ok {
		return vm.errThrow("Error", "Call to undefined function "+name+"()")
	}
	return vm.pushCall(rt, code, nil, nil, nil, nil, args, shape, name, false)
}

// callBuiltin dispatches a native builtin by its registered name.
func (vm *VM) callBuiltin(name string, args []Value) (Value, error) {
	builtin, ok := vm.builtins[strings.ToLower(name)]
	if !ok {
		return Undef(), vm.errThrow("Error", "Call to undefined function "+name+"()")
	}
	return builtin.Fn(vm, args)
}

// callValue dispatches a callable value: a closure, a function name, an
// object with __invoke, or a [target, method] pair.
func (vm *VM) callValue(rt *routine, callee Value, args []Value, shape *bytecode.CallShape) error {
	switch callee.Kind() {
	case KindClosure:
		c := callee.Closure()
		return vm.pushCall(rt, c.Code, c.Cells, c.This, c.Scope, closureCalled(c), args, shape, c.Code.Name, false)

	case KindString:
		name := callee.AsString()
		if code, ok := vm.functions[strings.ToLower(name)]; ok {
			return vm.pushCall(rt, code, nil, nil, nil, nil, args, shape, name, false)
		}
		if _, ok := vm.builtins[strings.ToLower(name)]; ok {
			res, err := vm.callBuiltin(name, args)
			if err != nil {
				return err
			}
			rt.top().pushVal(res)
			return nil
		}
		if class, method, ok := strings.Cut(name, "::"); ok {
			return vm.callStatic(rt, rt.top(), class, method, args, shape)
		}
		return vm.errThrow("Error", "Call to undefined function "+name+"()")

	case KindObject:
		obj := callee.Object()
		if m := obj.Class.FindMethod("__invoke"); m != nil {
			return vm.invokeOnto(rt, m, obj, obj.Class, args, shape)
		}
		return vm.errThrow("Error", "Object of class "+obj.Class.Name+" is not callable")

	case KindArray:
		arr := callee.Array()
		if arr.Len() == 2 {
			target, _ := arr.Get(IntKey(0))
			method, _ := arr.Get(IntKey(1))
			if method.Deref().Kind() == KindString {
				name := method.Deref().AsString()
				switch target.Deref().Kind() {
				case KindObject:
					return vm.callMethod(rt, rt.top(), target.Deref(), name, args, shape)
				case KindString:
					return vm.callStatic(rt, rt.top(), target.Deref().AsString(), name, args, shape)
				}
			}
		}
		return vm.errThrow("TypeError", "Array is not a valid callable")
	}
	return vm.errThrow("TypeError", "Value of type "+callee.TypeName()+" is not callable")
}

func closureCalled(c *Closure) *Class {
	if c.This != nil {
		return c.This.Class
	}
	return c.Scope
}

// callMethod dispatches obj->name(args), falling back to __call.
func (vm *VM) callMethod(rt *routine, f *Frame, base Value, name string, args []Value, shape *bytecode.CallShape) error {
	if base.Kind() == KindClosure && strings.EqualFold(name, "call") {
		// Closure::call is out of scope; __invoke covers dynamic dispatch.
		return vm.errThrow("Error", "Call to undefined method Closure::"+name+"()")
	}
	if base.Kind() != KindObject {
		return vm.errThrow("Error", "Call to a member function "+name+"() on "+base.TypeName())
	}
	obj := base.Object()
	m := obj.Class.FindMethod(name)
	if m == nil || !vm.methodVisible(m, f.class) {
		if magic := obj.Class.FindMethod("__call"); magic != nil {
			return vm.invokeOnto(rt, magic, obj, obj.Class, magicArgs(name, args), nil)
		}
		if m == nil {
			return vm.errThrow("Error", "Call to undefined method "+obj.Class.Name+"::"+name+"()")
		}
		return vm.errThrow("Error", "Call to "+visibilityName(m.Visibility)+" method "+
			obj.Class.Name+"::"+name+"() from "+scopeName(f.class))
	}
	if m.Native != nil {
		res, err := m.Native(vm, obj, args)
		if err != nil {
			return err
		}
		rt.top().pushVal(res)
		return nil
	}
	this := obj
	if m.Static {
		this = nil
	}
	return vm.pushCall(rt, m.Code, nil, this, m.Declaring, obj.Class, args, shape,
		obj.Class.Name+"::"+name, false)
}

// callStatic dispatches Class::name(args). The self, parent and static
// designators preserve the caller's late-static-binding class and forward
// $this when the caller has one of a compatible class.
func (vm *VM) callStatic(rt *routine, f *Frame, className, name string, args []Value, shape *bytecode.CallShape) error {
	cls := vm.designatedClass(f, className)
	if cls == nil {
		return vm.errThrow("Error", `Class "`+className+`" not found`)
	}

	forwarding := false
	switch strings.ToLower(className) {
	case "self", "parent", "static":
		forwarding = true
	}

	m := cls.FindMethod(name)
	if m == nil || !vm.methodVisible(m, f.class) {
		if magic := cls.FindMethod("__callStatic"); magic != nil {
			return vm.invokeOnto(rt, magic, nil, cls, magicArgs(name, args), nil)
		}
		if m == nil {
			return vm.errThrow("Error", "Call to undefined method "+cls.Name+"::"+name+"()")
		}
		return vm.errThrow("Error", "Call to "+visibilityName(m.Visibility)+" method "+
			cls.Name+"::"+name+"() from "+scopeName(f.class))
	}

	var this *Object
	called := cls
	if forwarding {
		// self::m() and parent::m() keep the caller's $this and calling
		// class so static:: still binds to the original receiver.
		called = f.called
		if !m.Static && f.this != nil && f.this.Class.IsSubclassOf(m.Declaring) {
			this = f.this
		}
	}
	if !m.Static && this == nil {
		return vm.errThrow("Error", "Non-static method "+cls.Name+"::"+name+"() cannot be called statically")
	}

	if m.Native != nil {
		res, err := m.Native(vm, this, args)
		if err != nil {
			return err
		}
		rt.top().pushVal(res)
		return nil
	}
	return vm.pushCall(rt, m.Code, nil, this, m.Declaring, called, args, shape,
		cls.Name+"::"+name, false)
}

func magicArgs(name string, args []Value) []Value {
	arr := NewArray()
	for _, a := range args {
		arr.Append(a.Deref())
	}
	return []Value{String(name), ArrayVal(arr)}
}

// invokeOnto invokes a method to completion and pushes its result onto the
// caller's stack.
func (vm *VM) invokeOnto(rt *routine, m *Method, this *Object, called *Class, args []Value, shape *bytecode.CallShape) error {
	res, err := vm.invoke(m, this, called, args, shape)
	if err != nil {
		return err
	}
	rt.top().pushVal(res)
	return nil
}

// invoke runs a method to completion on a private routine: magic methods,
// __toString coercions, and host entry points. Fiber suspension cannot
// cross this boundary.
func (vm *VM) invoke(m *Method, this *Object, called *Class, args []Value, shape *bytecode.CallShape) (Value, error) {
	if m.Native != nil {
		return m.Native(vm, this, args)
	}
	frame := newFrame(m.Code, nil, this, m.Declaring, called)
	if exc := vm.bindArgs(frame, args, shape, m.Declaring.Name+"::"+m.Name); exc != nil {
		return Undef(), &Raise{Exc: exc}
	}
	if m.Code.IsGenerator {
		return ObjectVal(vm.newGenerator(frame)), nil
	}
	sub := &routine{frames: []*Frame{frame}}
	sig, err := vm.runFrames(sub)
	if err != nil {
		return Undef(), err
	}
	return sig.value, nil
}

// instantiate allocates an object, pushes it, then runs the constructor
// with its return value discarded.
func (vm *VM) instantiate(rt *routine, f *Frame, className string, args []Value, shape *bytecode.CallShape) error {
	cls := vm.designatedClass(f, className)
	if cls == nil {
		return vm.errThrow("Error", `Class "`+className+`" not found`)
	}
	switch {
	case cls.Kind == bytecode.DeclInterface:
		return vm.errThrow("Error", "Cannot instantiate interface "+cls.Name)
	case cls.Kind == bytecode.DeclEnum:
		return vm.errThrow("Error", "Cannot instantiate enum "+cls.Name)
	case cls.Abstract:
		return vm.errThrow("Error", "Cannot instantiate abstract class "+cls.Name)
	}

	obj := NewObject(cls)
	ctor := cls.FindMethod("__construct")
	if ctor != nil && !vm.methodVisible(ctor, f.class) {
		return vm.errThrow("Error", "Call to "+visibilityName(ctor.Visibility)+
			" "+cls.Name+"::__construct() from "+scopeName(f.class))
	}

	rt.top().pushVal(ObjectVal(obj))
	if ctor == nil {
		// Constructor-less classes ignore extra arguments.
		return nil
	}
	if ctor.Native != nil {
		_, err := ctor.Native(vm, obj, args)
		return err
	}
	return vm.pushCall(rt, ctor.Code, nil, obj, ctor.Declaring, cls, args, shape,
		cls.Name+"::__construct", true)
}

// cloneObject shallow-copies an object, pushes the copy, then runs __clone
// on it with the return value discarded.
func (vm *VM) cloneObject(rt *routine, base Value) error {
	if base.Kind() != KindObject {
		return vm.errThrow("Error", "__clone method called on non-object")
	}
	obj := base.Object()
	if obj.enumCase {
		return vm.errThrow("Error", "Trying to clone an uncloneable object of class "+obj.Class.Name)
	}
	dup := obj.CloneShallow()
	rt.top().pushVal(ObjectVal(dup))
	if m := obj.Class.FindMethod("__clone"); m != nil {
		if m.Native != nil {
			_, err := m.Native(vm, dup, nil)
			return err
		}
		return vm.pushCall(rt, m.Code, nil, dup, m.Declaring, dup.Class, nil, nil,
			dup.Class.Name+"::__clone", true)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

// methodVisible reports whether a method may be called from the given
// lexical class scope.
func (vm *VM) methodVisible(m *Method, from *Class) bool {
	return memberVisible(m.Visibility, m.Declaring, from)
}

func memberVisible(vis bytecode.Visibility, declaring, from *Class) bool {
	switch vis {
	case bytecode.Public:
		return true
	case bytecode.Protected:
		return from != nil && (from.IsSubclassOf(declaring) || declaring.IsSubclassOf(from))
	case bytecode.Private:
		return from == declaring
	}
	return false
}

func visibilityName(vis bytecode.Visibility) string {
	switch vis {
	case bytecode.Protected:
		return "protected"
	case bytecode.Private:
		return "private"
	}
	return "public"
}

func scopeName(from *Class) string {
	if from == nil {
		return "global scope"
	}
	return "scope " + from.Name
}

// getProp reads obj->name, dispatching __get for undeclared or invisible
// properties, and pushes the value onto the caller's stack.
func (vm *VM) getProp(rt *routine, f *Frame, base Value, name string) error {
	if base.Kind() != KindObject {
		return vm.errThrow("Error", "Attempt to read property \""+name+"\" on "+base.TypeName())
	}
	obj := base.Object()
	info := obj.Class.FindProp(name)

	if info != nil && !info.Static && memberVisible(info.Visibility, info.Declaring, f.class) {
		if v, ok := obj.getRaw(name); ok {
			rt.top().pushVal(v.Deref())
			return nil
		}
		if info.Readonly && !obj.readonlyWritten(name) {
			return vm.errThrow("Error", "Typed property "+obj.Class.Name+"::$"+name+
				" must not be accessed before initialization")
		}
	} else if info == nil {
		if v, ok := obj.getRaw(name); ok {
			rt.top().pushVal(v.Deref())
			return nil
		}
	}

	if magic := obj.Class.FindMethod("__get"); magic != nil {
		return vm.invokeOnto(rt, magic, obj, obj.Class, []Value{String(name)}, nil)
	}
	if info != nil && !memberVisible(info.Visibility, info.Declaring, f.class) {
		return vm.errThrow("Error", "Cannot access "+visibilityName(info.Visibility)+
			" property "+obj.Class.Name+"::$"+name)
	}
	return vm.errThrow("Error", "Undefined property: "+obj.Class.Name+"::$"+name)
}

// setProp writes obj->name = v, enforcing write visibility (including
// asymmetric set visibility) and the readonly write-once rule, and
// dispatching __set for undeclared or invisible properties.
func (vm *VM) setProp(f *Frame, base Value, name string, v Value) error {
	if base.Kind() != KindObject {
		return vm.errThrow("Error", "Attempt to assign property \""+name+"\" on "+base.TypeName())
	}
	obj := base.Object()
	if obj.enumCase {
		return vm.errThrow("Error", "Cannot modify properties of enum case "+obj.Class.Name)
	}
	info := obj.Class.FindProp(name)

	if info != nil && !info.Static {
		if !memberVisible(info.writeVisibility(), info.Declaring, f.class) {
			if magic := obj.Class.FindMethod("__set"); magic != nil {
				_, err := vm.invoke(magic, obj, obj.Class, []Value{String(name), v}, nil)
				return err
			}
			return vm.errThrow("Error", "Cannot modify "+visibilityName(info.writeVisibility())+
				"(set) property "+obj.Class.Name+"::$"+name)
		}
		if info.Readonly {
			if obj.readonlyWritten(name) {
				return vm.errThrow("Error", "Cannot modify readonly property "+
					obj.Class.Name+"::$"+name)
			}
			if f.class != info.Declaring {
				return vm.errThrow("Error", "Cannot initialize readonly property "+
					info.Declaring.Name+"::$"+name+" from "+scopeName(f.class))
			}
			obj.markReadonlyInit(name)
		}
		obj.setRaw(name, shareValue(v))
		return nil
	}

	if _, exists := obj.getRaw(name); !exists {
		if magic := obj.Class.FindMethod("__set"); magic != nil {
			_, err := vm.invoke(magic, obj, obj.Class, []Value{String(name), v}, nil)
			return err
		}
	}
	obj.setRaw(name, shareValue(v))
	return nil
}

// propRefFor builds a reference to obj->name for compound assignment and
// by-ref element writes. Magic properties and readonly properties have no
// addressable storage.
func (vm *VM) propRefFor(f *Frame, base Value, name string) (Ref, *Object) {
	if base.Kind() != KindObject {
		return nil, vm.newThrowable("Error", "Attempt to modify property \""+name+"\" on "+base.TypeName())
	}
	obj := base.Object()
	if obj.enumCase {
		return nil, vm.newThrowable("Error", "Cannot modify properties of enum case "+obj.Class.Name)
	}
	info := obj.Class.FindProp(name)
	if info != nil && !info.Static {
		if !memberVisible(info.writeVisibility(), info.Declaring, f.class) {
			return nil, vm.newThrowable("Error", "Cannot modify "+visibilityName(info.writeVisibility())+
				"(set) property "+obj.Class.Name+"::$"+name)
		}
		if info.Readonly && obj.readonlyWritten(name) {
			return nil, vm.newThrowable("Error", "Cannot modify readonly property "+
				obj.Class.Name+"::$"+name)
		}
		if info.Readonly {
			if f.class != info.Declaring {
				return nil, vm.newThrowable("Error", "Cannot initialize readonly property "+
					info.Declaring.Name+"::$"+name+" from "+scopeName(f.class))
			}
			obj.markReadonlyInit(name)
		}
	}
	return propRef{obj: obj, name: name}, nil
}

// unsetProp removes obj->name, dispatching __unset for undeclared or
// invisible properties.
func (vm *VM) unsetProp(f *Frame, base Value, name string) *Object {
	if base.Kind() != KindObject {
		return vm.newThrowable("Error", "Attempt to unset property \""+name+"\" on "+base.TypeName())
	}
	obj := base.Object()
	info := obj.Class.FindProp(name)
	if info != nil && !info.Static {
		if !memberVisible(info.writeVisibility(), info.Declaring, f.class) {
			if magic := obj.Class.FindMethod("__unset"); magic != nil {
				if _, err := vm.invoke(magic, obj, obj.Class, []Value{String(name)}, nil); err != nil {
					if r, ok := err.(*Raise); ok {
						return r.Exc
					}
				}
				return nil
			}
			return vm.newThrowable("Error", "Cannot access "+visibilityName(info.Visibility)+
				" property "+obj.Class.Name+"::$"+name)
		}
		if info.Readonly {
			return vm.newThrowable("Error", "Cannot unset readonly property "+
				obj.Class.Name+"::$"+name)
		}
		obj.unsetRaw(name)
		return nil
	}
	if _, exists := obj.getRaw(name); !exists {
		if magic := obj.Class.FindMethod("__unset"); magic != nil {
			if _, err := vm.invoke(magic, obj, obj.Class, []Value{String(name)}, nil); err != nil {
				if r, ok := err.(*Raise); ok {
					return r.Exc
				}
			}
			return nil
		}
	}
	obj.unsetRaw(name)
	return nil
}

// staticCell resolves Class::$name to its storage cell. The cell lives on
// the declaring class, so every subclass observes the same value until it
// redeclares the property.
func (vm *VM) staticCell(f *Frame, className, name string) (*Cell, *Object) {
	cls := vm.designatedClass(f, className)
	if cls == nil {
		return nil, vm.newThrowable("Error", `Class "`+className+`" not found`)
	}
	cell, info := cls.resolveStatic(name)
	if cell == nil {
		return nil, vm.newThrowable("Error", "Access to undeclared static property "+
			cls.Name+"::$"+name)
	}
	if !memberVisible(info.Visibility, info.Declaring, f.class) {
		return nil, vm.newThrowable("Error", "Cannot access "+visibilityName(info.Visibility)+
			" property "+cls.Name+"::$"+name)
	}
	return cell, nil
}

// classConst resolves Class::NAME: an enum case first, then a class
// constant.
func (vm *VM) classConst(f *Frame, className, name string) (Value, *Object) {
	cls := vm.designatedClass(f, className)
	if cls == nil {
		return Undef(), vm.newThrowable("Error", `Class "`+className+`" not found`)
	}
	if name == "class" {
		return String(cls.Name), nil
	}
	if cls.Cases != nil {
		if c, ok := cls.Cases[name]; ok {
			return ObjectVal(c), nil
		}
	}
	if v, ok := cls.Consts[name]; ok {
		return shareValue(v), nil
	}
	return Undef(), vm.newThrowable("Error", "Undefined constant "+cls.Name+"::"+name)
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// makeClosure captures the frame's variables per the code object's upvalue
// descriptors. By-ref captures promote the source local to a cell and alias
// it; by-value captures snapshot into a fresh cell at creation time.
func (vm *VM) makeClosure(f *Frame, code *bytecode.CodeObject) *Closure {
	cells := make([]*Cell, len(code.Upvalues))
	for i, u := range code.Upvalues {
		if u.FromUpvalue {
			src := f.cells[u.Index]
			if u.ByRef {
				cells[i] = src
			} else {
				cells[i] = NewCell(shareValue(src.Get()))
			}
			continue
		}
		if u.ByRef {
			cur := f.locals[u.Index]
			if cur.IsRef() {
				if cell, ok := cur.Ref().(*Cell); ok {
					cells[i] = cell
					continue
				}
			}
			cell := NewCell(cur.Deref())
			f.locals[u.Index] = RefVal(cell)
			cells[i] = cell
			continue
		}
		v := f.locals[u.Index].Deref()
		if v.IsUndef() {
			v = Null()
		}
		cells[i] = NewCell(shareValue(v))
	}
	return &Closure{Code: code, Cells: cells, This: f.this, Scope: f.class}
}

// bindCaptureSlots copies by-value capture cells into their local slots.
func bindCaptureSlots(f *Frame) {
	slot := len(f.code.Params)
	for i, u := range f.code.Upvalues {
		if u.ByRef {
			continue
		}
		f.locals[slot] = shareValue(f.cells[i].Get())
		slot++
	}
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

// indexGet reads base[key] for arrays and strings.
func (vm *VM) indexGet(base, keyVal Value) (Value, *Object) {
	switch base.Kind() {
	case KindArray:
		key, ok := NormalizeKey(keyVal)
		if !ok {
			return Undef(), vm.newThrowable("TypeError", "Illegal offset type "+keyVal.TypeName())
		}
		v, exists := base.Array().Get(key)
		if !exists {
			return Undef(), vm.newThrowable("Error", "Undefined array key "+keyString(key))
		}
		return v.Deref(), nil

	case KindString:
		n, exc := vm.stringOffset(base.AsString(), keyVal)
		if exc != nil {
			return Undef(), exc
		}
		return String(base.AsString()[n : n+1]), nil

	case KindNull, KindUndef:
		return Null(), nil

	default:
		return Undef(), vm.newThrowable("TypeError",
			"Cannot access offset on value of type "+base.TypeName())
	}
}

func keyString(key ArrayKey) string {
	if key.IsInt {
		return formatInt(key.I)
	}
	return `"` + key.S + `"`
}

func (vm *VM) stringOffset(s string, keyVal Value) (int, *Object) {
	num, exc := vm.toNumber(keyVal, "string offset")
	if exc != nil {
		return 0, vm.newThrowable("TypeError", "Cannot access offset of type "+
			keyVal.TypeName()+" on string")
	}
	n := truncInt(num)
	if n < 0 {
		n += int64(len(s))
	}
	if n < 0 || n >= int64(len(s)) {
		return 0, vm.newThrowable("Error", "Uninitialized string offset "+formatInt(truncInt(num)))
	}
	return int(n), nil
}

// indexIsset is isset(base[key]): true for an existing, non-null element.
func (vm *VM) indexIsset(base, keyVal Value) bool {
	switch base.Kind() {
	case KindArray:
		key, ok := NormalizeKey(keyVal)
		if !ok {
			return false
		}
		v, exists := base.Array().Get(key)
		return exists && !v.Deref().IsNull() && !v.Deref().IsUndef()
	case KindString:
		num, exc := vm.toNumber(keyVal, "string offset")
		if exc != nil {
			return false
		}
		n := truncInt(num)
		if n < 0 {
			n += int64(len(base.AsString()))
		}
		return n >= 0 && n < int64(len(base.AsString()))
	default:
		return false
	}
}

// unsetElem removes base[key] through the owning reference, unsharing the
// array first.
func (vm *VM) unsetElem(ref Ref, keyVal Value) *Object {
	cur := ref.Get()
	if cur.IsNull() || cur.IsUndef() {
		return nil
	}
	if cur.Kind() != KindArray {
		return vm.newThrowable("TypeError", "Cannot unset offset on value of type "+cur.TypeName())
	}
	arr, exc := vm.arrayForWrite(ref)
	if exc != nil {
		return exc
	}
	key, ok := NormalizeKey(keyVal)
	if !ok {
		return vm.newThrowable("TypeError", "Illegal offset type "+keyVal.TypeName())
	}
	arr.Unset(key)
	return nil
}

// arrayForWrite prepares the array behind a reference for mutation:
// autovivify null, clone when shared, and write the private copy back
// through the reference. The write-back goes through Ref.Set, which does
// not re-mark the fresh copy shared.
func (vm *VM) arrayForWrite(ref Ref) (*Array, *Object) {
	cur := ref.Get()
	switch cur.Kind() {
	case KindNull, KindUndef:
		arr := NewArray()
		ref.Set(ArrayVal(arr))
		return arr, nil
	case KindArray:
		arr := cur.Array()
		if arr.Shared() {
			arr = arr.Clone()
			ref.Set(ArrayVal(arr))
		}
		return arr, nil
	case KindString:
		return nil, vm.newThrowable("Error", "Cannot use a string offset as an array")
	default:
		return nil, vm.newThrowable("TypeError", "Cannot use a "+cur.TypeName()+" value as an array")
	}
}
