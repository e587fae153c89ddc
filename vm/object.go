package vm

// Object is a class instance: a property map plus bookkeeping for readonly
// initialization. Property order follows declaration order, then dynamic
// assignment order.
type Object struct {
	Class *Class
	props map[string]Value
	order []string

	// readonlyInit tracks which readonly properties have been written.
	readonlyInit map[string]bool

	enumCase bool

	// native carries host state for runtime-provided classes: exception
	// traces, generator and fiber machinery.
	native any
}

// NewObject creates an instance with every declared instance property set
// to its default. Readonly properties start undefined.
func NewObject(cls *Class) *Object {
	obj := &Object{
		Class: cls,
		props: make(map[string]Value),
	}
	for _, p := range cls.Props {
		if p.Static {
			continue
		}
		if p.Readonly {
			continue
		}
		// Defaults are shared templates; mark them so the first write
		// through any instance copies.
		obj.setRaw(p.Name, shareValue(p.Default))
	}
	return obj
}

// setRaw stores a property without visibility or readonly checks. Sharing
// of stored arrays is the caller's decision.
func (o *Object) setRaw(name string, v Value) {
	if _, exists := o.props[name]; !exists {
		o.order = append(o.order, name)
	}
	o.props[name] = v
}

// getRaw reads a property without checks.
func (o *Object) getRaw(name string) (Value, bool) {
	v, ok := o.props[name]
	return v, ok
}

// unsetRaw removes a property.
func (o *Object) unsetRaw(name string) {
	if _, exists := o.props[name]; !exists {
		return
	}
	delete(o.props, name)
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// PropNames returns the current property names in order. The slice is
// shared; callers must not mutate it.
func (o *Object) PropNames() []string { return o.order }

// markReadonlyInit records the one allowed write to a readonly property.
func (o *Object) markReadonlyInit(name string) {
	if o.readonlyInit == nil {
		o.readonlyInit = make(map[string]bool)
	}
	o.readonlyInit[name] = true
}

func (o *Object) readonlyWritten(name string) bool {
	return o.readonlyInit[name]
}

// CloneShallow copies the property map. Nested arrays become shared (lazy
// copy); nested objects stay aliased, per shallow clone semantics.
func (o *Object) CloneShallow() *Object {
	dup := &Object{
		Class: o.Class,
		props: make(map[string]Value, len(o.props)),
		order: append([]string(nil), o.order...),
	}
	for k, v := range o.props {
		dup.props[k] = shareValue(v.Deref())
	}
	if o.readonlyInit != nil {
		dup.readonlyInit = make(map[string]bool, len(o.readonlyInit))
		for k := range o.readonlyInit {
			dup.readonlyInit[k] = true
		}
	}
	return dup
}

// propRef is a reference to one instance property. Stores bypass magic
// hooks but still share stored arrays.
type propRef struct {
	obj  *Object
	name string
}

func (r propRef) Get() Value {
	if v, ok := r.obj.getRaw(r.name); ok {
		return v.Deref()
	}
	return Null()
}

func (r propRef) Set(v Value) {
	r.obj.setRaw(r.name, v.Deref())
}
