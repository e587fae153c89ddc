package vm

// Array is the ordered hash backing every Peridot array value. Copies are
// lazy: storing an array value into a second location marks the backing
// Array shared, and the first mutation through any holder clones it. The
// holder doing the mutating writes the clone back, so other holders keep
// observing the original.
type Array struct {
	shared  bool
	nextKey int64
	keys    []ArrayKey
	items   map[ArrayKey]Value
}

// ArrayKey is a normalized array key: an int64 or a string. Keys are
// normalized on every access: integral strings and bools become ints,
// floats truncate, null becomes "".
type ArrayKey struct {
	S     string
	I     int64
	IsInt bool
}

func IntKey(i int64) ArrayKey     { return ArrayKey{I: i, IsInt: true} }
func StringKey(s string) ArrayKey { return ArrayKey{S: s} }

// NewArray creates an empty, unshared array.
func NewArray() *Array {
	return &Array{items: make(map[ArrayKey]Value)}
}

// NormalizeKey converts a value to its canonical array key form.
func NormalizeKey(v Value) (ArrayKey, bool) {
	v = v.Deref()
	switch v.Kind() {
	case KindInt:
		return IntKey(v.AsInt()), true
	case KindString:
		s := v.AsString()
		if isCanonicalInt(s) {
			if n, ok := parseInt64(s); ok {
				return IntKey(n), true
			}
		}
		return StringKey(s), true
	case KindBool:
		if v.AsBool() {
			return IntKey(1), true
		}
		return IntKey(0), true
	case KindFloat:
		return IntKey(int64(v.AsFloat())), true
	case KindNull:
		return StringKey(""), true
	default:
		return ArrayKey{}, false
	}
}

// isCanonicalInt reports whether s is exactly the decimal rendering of an
// integer: no leading zeros, no whitespace, no plus sign.
func isCanonicalInt(s string) bool {
	if s == "" {
		return false
	}
	body := s
	if s[0] == '-' {
		body = s[1:]
		if body == "" {
			return false
		}
	}
	if len(body) > 1 && body[0] == '0' {
		return false
	}
	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return false
		}
	}
	return s != "-0"
}

func parseInt64(s string) (int64, bool) {
	var n int64
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	for ; i < len(s); i++ {
		d := int64(s[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, false // overflows; keep as string key
		}
		n = n*10 + d
	}
	if neg {
		return -n, true
	}
	return n, true
}

// Len returns the element count.
func (a *Array) Len() int { return len(a.keys) }

// Get returns the element for a key.
func (a *Array) Get(key ArrayKey) (Value, bool) {
	v, ok := a.items[key]
	return v, ok
}

// Set stores an element, preserving insertion order for existing keys and
// advancing the next integer key past explicit int keys.
func (a *Array) Set(key ArrayKey, v Value) {
	if _, exists := a.items[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.items[key] = v
	if key.IsInt && key.I >= a.nextKey {
		a.nextKey = key.I + 1
	}
}

// Append stores v under the next integer key and returns that key.
func (a *Array) Append(v Value) ArrayKey {
	key := IntKey(a.nextKey)
	a.Set(key, v)
	return key
}

// Unset removes a key. Removal does not rewind the next integer key.
func (a *Array) Unset(key ArrayKey) {
	if _, exists := a.items[key]; !exists {
		return
	}
	delete(a.items, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the insertion-ordered keys. The slice is shared; callers
// must not mutate it.
func (a *Array) Keys() []ArrayKey { return a.keys }

// resetNextKey rewinds the next integer key to one past the largest int key
// still present. array_pop relies on this so a pop-then-push reuses the key.
func (a *Array) resetNextKey() {
	a.nextKey = 0
	for _, k := range a.keys {
		if k.IsInt && k.I >= a.nextKey {
			a.nextKey = k.I + 1
		}
	}
}

// reindex renumbers integer keys from zero in order, keeping string keys.
func (a *Array) reindex() {
	keys := a.keys
	items := a.items
	a.keys = nil
	a.items = make(map[ArrayKey]Value, len(items))
	a.nextKey = 0
	for _, k := range keys {
		v := items[k]
		if k.IsInt {
			a.Append(v)
		} else {
			a.Set(k, v)
		}
	}
}

// MarkShared flags the array (and nothing else) as reachable from more
// than one holder. Called whenever an array value is stored.
func (a *Array) MarkShared() { a.shared = true }

// Shared reports whether the array must be cloned before mutation.
func (a *Array) Shared() bool { return a.shared }

// Clone produces an unshared copy. Element values are copied as-is; any
// nested array becomes shared with the original's elements, deferring the
// deep copy until a nested mutation happens.
func (a *Array) Clone() *Array {
	dup := &Array{
		nextKey: a.nextKey,
		keys:    append([]ArrayKey(nil), a.keys...),
		items:   make(map[ArrayKey]Value, len(a.items)),
	}
	for k, v := range a.items {
		if v.Kind() == KindArray {
			v.Array().MarkShared()
		}
		dup.items[k] = v
	}
	return dup
}

// shareValue marks stored array values shared. Applied at every store
// boundary: slots, cells, elements, and properties.
func shareValue(v Value) Value {
	if v.Kind() == KindArray {
		v.Array().MarkShared()
	}
	return v
}

// elemRef is a reference to one array element. Stores do not mark the
// value shared; the dispatch layer decides that, so COW write-backs of a
// fresh clone stay cheap.
type elemRef struct {
	arr *Array
	key ArrayKey
}

func (r elemRef) Get() Value {
	if v, ok := r.arr.Get(r.key); ok {
		return v.Deref()
	}
	return Null()
}

func (r elemRef) Set(v Value) {
	r.arr.Set(r.key, v.Deref())
}
