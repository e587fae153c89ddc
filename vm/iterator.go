package vm

// iterator is the engine-side protocol behind foreach and yield-from
// delegation.
type iterator interface {
	// next advances and returns the current key/value pair. ok false means
	// the sequence is exhausted.
	next(vm *VM) (key, val Value, ok bool, err error)
}

// newIterator builds an iterator for a foreach subject. A reference
// subject means by-ref iteration over its array.
func (vm *VM) newIterator(subject Value) (iterator, *Object) {
	if subject.IsRef() {
		arr, exc := vm.arrayForWrite(subject.Ref())
		if exc != nil {
			return nil, exc
		}
		return &arrayRefIter{arr: arr}, nil
	}
	v := subject.Deref()
	switch v.Kind() {
	case KindArray:
		arr := v.Array()
		// The loop iterates a stable view: the subject is marked shared, so
		// any store back into the source variable copies first.
		arr.MarkShared()
		return &arrayIter{arr: arr, keys: arr.Keys()}, nil
	case KindObject:
		obj := v.Object()
		if gen, ok := obj.native.(*Generator); ok {
			return &generatorIter{gen: gen}, nil
		}
		return &objectIter{obj: obj, names: append([]string(nil), obj.PropNames()...)}, nil
	default:
		return nil, vm.newThrowable("TypeError",
			"foreach() argument must be of type array|object, "+v.TypeName()+" given")
	}
}

// arrayIter walks a shared array snapshot by value.
type arrayIter struct {
	arr  *Array
	keys []ArrayKey
	pos  int
}

func (it *arrayIter) next(vm *VM) (Value, Value, bool, error) {
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.pos++
		v, exists := it.arr.Get(key)
		if !exists {
			continue
		}
		return keyValue(key), v.Deref(), true, nil
	}
	return Undef(), Undef(), false, nil
}

// arrayRefIter walks the live array by reference, yielding element refs so
// the loop body writes through to the source.
type arrayRefIter struct {
	arr *Array
	pos int
}

func (it *arrayRefIter) next(vm *VM) (Value, Value, bool, error) {
	keys := it.arr.Keys()
	for it.pos < len(keys) {
		key := keys[it.pos]
		it.pos++
		if _, exists := it.arr.Get(key); !exists {
			continue
		}
		return keyValue(key), RefVal(elemRef{arr: it.arr, key: key}), true, nil
	}
	return Undef(), Undef(), false, nil
}

// objectIter walks an object's public instance properties in order.
type objectIter struct {
	obj   *Object
	names []string
	pos   int
}

func (it *objectIter) next(vm *VM) (Value, Value, bool, error) {
	for it.pos < len(it.names) {
		name := it.names[it.pos]
		it.pos++
		info := it.obj.Class.FindProp(name)
		if info != nil && !memberVisible(info.Visibility, info.Declaring, nil) {
			continue
		}
		v, exists := it.obj.getRaw(name)
		if !exists {
			continue
		}
		return String(name), v.Deref(), true, nil
	}
	return Undef(), Undef(), false, nil
}

// generatorIter adapts a generator to the iterator protocol for foreach
// and yield-from.
type generatorIter struct {
	gen     *Generator
	started bool
}

func (it *generatorIter) next(vm *VM) (Value, Value, bool, error) {
	if !it.started {
		it.started = true
		if err := it.gen.ensureStarted(vm); err != nil {
			return Undef(), Undef(), false, err
		}
	} else {
		if err := it.gen.resume(vm, Null()); err != nil {
			return Undef(), Undef(), false, err
		}
	}
	if !it.gen.hasCur {
		return Undef(), Undef(), false, nil
	}
	return it.gen.curKey, it.gen.curVal, true, nil
}

// send forwards a value to the delegate generator, for yield-from chains.
func (it *generatorIter) send(vm *VM, v Value) (bool, error) {
	if !it.started {
		it.started = true
		if err := it.gen.ensureStarted(vm); err != nil {
			return false, err
		}
		if it.gen.hasCur {
			return true, nil
		}
		return false, nil
	}
	if err := it.gen.resume(vm, v); err != nil {
		return false, err
	}
	return it.gen.hasCur, nil
}

func keyValue(key ArrayKey) Value {
	if key.IsInt {
		return Int(key.I)
	}
	return String(key.S)
}
