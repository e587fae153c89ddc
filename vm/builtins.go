package vm

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Builtin is one native function reachable from scripts. Builtins whose
// first parameter is by-reference receive a Ref value there; everything
// else arrives dereferenced by the dispatch loop's argument plumbing.
type Builtin struct {
	Name string
	Fn   func(vm *VM, args []Value) (Value, error)
}

func (vm *VM) registerBuiltin(name string, fn func(vm *VM, args []Value) (Value, error)) {
	vm.builtins[name] = Builtin{Name: name, Fn: fn}
}

func (vm *VM) argError(name string, want string) error {
	return vm.errThrow("ArgumentCountError", name+"() expects "+want)
}

// callCallable runs a callable value to completion and returns its result.
// Used by builtins taking callbacks (usort, array_map, array_filter).
func (vm *VM) callCallable(callee Value, args []Value) (Value, error) {
	callee = callee.Deref()
	switch callee.Kind() {
	case KindClosure:
		c := callee.Closure()
		frame := newFrame(c.Code, c.Cells, c.This, c.Scope, closureCalled(c))
		if exc := vm.bindArgs(frame, args, nil, c.Code.Name); exc != nil {
			return Undef(), &Raise{Exc: exc}
		}
		if len(c.Code.Upvalues) > 0 {
			bindCaptureSlots(frame)
		}
		if c.Code.IsGenerator {
			return ObjectVal(vm.newGenerator(frame)), nil
		}
		sub := &routine{frames: []*Frame{frame}}
		sig, err := vm.runFrames(sub)
		if err != nil {
			return Undef(), err
		}
		return sig.value, nil

	case KindString:
		name := callee.AsString()
		if code, ok := vm.functions[strings.ToLower(name)]; ok {
			frame := newFrame(code, nil, nil, nil, nil)
			if exc := vm.bindArgs(frame, args, nil, name); exc != nil {
				return Undef(), &Raise{Exc: exc}
			}
			if code.IsGenerator {
				return ObjectVal(vm.newGenerator(frame)), nil
			}
			sub := &routine{frames: []*Frame{frame}}
			sig, err := vm.runFrames(sub)
			if err != nil {
				return Undef(), err
			}
			return sig.value, nil
		}
		if b, ok := vm.builtins[strings.ToLower(name)]; ok {
			return b.Fn(vm, args)
		}
		return Undef(), vm.errThrow("Error", "Call to undefined function "+name+"()")

	case KindObject:
		obj := callee.Object()
		if m := obj.Class.FindMethod("__invoke"); m != nil {
			return vm.invoke(m, obj, obj.Class, args, nil)
		}
		return Undef(), vm.errThrow("Error", "Object of class "+obj.Class.Name+" is not callable")

	case KindArray:
		arr := callee.Array()
		if arr.Len() == 2 {
			target, _ := arr.Get(IntKey(0))
			method, _ := arr.Get(IntKey(1))
			if method.Deref().Kind() == KindString && target.Deref().Kind() == KindObject {
				obj := target.Deref().Object()
				if m := obj.Class.FindMethod(method.Deref().AsString()); m != nil {
					return vm.invoke(m, obj, obj.Class, args, nil)
				}
			}
		}
		return Undef(), vm.errThrow("TypeError", "Array is not a valid callable")
	}
	return Undef(), vm.errThrow("TypeError", "Value of type "+callee.TypeName()+" is not callable")
}

// refArray resolves a by-reference builtin argument to a writable array.
func (vm *VM) refArray(name string, args []Value) (*Array, Ref, error) {
	if len(args) == 0 || !args[0].IsRef() {
		return nil, nil, vm.errThrow("TypeError", name+"() expects parameter 1 to be a variable")
	}
	ref := args[0].Ref()
	arr, exc := vm.arrayForWrite(ref)
	if exc != nil {
		return nil, nil, &Raise{Exc: exc}
	}
	return arr, ref, nil
}

func (vm *VM) registerCoreBuiltins() {
	vm.registerStringBuiltins()
	vm.registerTypeBuiltins()
	vm.registerMathBuiltins()
	vm.registerArrayBuiltins()
	vm.registerOutputBuiltins()
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func (vm *VM) registerStringBuiltins() {
	vm.registerBuiltin("strlen", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError("strlen", "exactly 1 argument")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		return Int(int64(len(s))), nil
	})
	vm.registerBuiltin("strtoupper", vm.stringMap("strtoupper", strings.ToUpper))
	vm.registerBuiltin("strtolower", vm.stringMap("strtolower", strings.ToLower))
	vm.registerBuiltin("trim", vm.trimBuiltin("trim", strings.Trim))
	vm.registerBuiltin("ltrim", vm.trimBuiltin("ltrim", strings.TrimLeft))
	vm.registerBuiltin("rtrim", vm.trimBuiltin("rtrim", strings.TrimRight))

	vm.registerBuiltin("substr", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("substr", "at least 2 arguments")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		start := truncIntOf(vm, args[1])
		if start < 0 {
			start += int64(len(s))
			if start < 0 {
				start = 0
			}
		}
		if start > int64(len(s)) {
			return String(""), nil
		}
		length := int64(len(s)) - start
		if len(args) > 2 && !args[2].Deref().IsNull() {
			length = truncIntOf(vm, args[2])
			if length < 0 {
				length = int64(len(s)) - start + length
				if length < 0 {
					length = 0
				}
			}
		}
		end := start + length
		if end > int64(len(s)) {
			end = int64(len(s))
		}
		return String(s[start:end]), nil
	})

	vm.registerBuiltin("strpos", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("strpos", "at least 2 arguments")
		}
		haystack, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		needle, err := vm.toStringValue(args[1])
		if err != nil {
			return Undef(), err
		}
		offset := 0
		if len(args) > 2 {
			offset = int(truncIntOf(vm, args[2]))
		}
		if offset < 0 || offset > len(haystack) {
			return Bool(false), nil
		}
		idx := strings.Index(haystack[offset:], needle)
		if idx < 0 {
			return Bool(false), nil
		}
		return Int(int64(idx + offset)), nil
	})

	vm.registerBuiltin("str_contains", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 2 {
			return Undef(), vm.argError("str_contains", "exactly 2 arguments")
		}
		haystack, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		needle, err := vm.toStringValue(args[1])
		if err != nil {
			return Undef(), err
		}
		return Bool(strings.Contains(haystack, needle)), nil
	})

	vm.registerBuiltin("str_repeat", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 2 {
			return Undef(), vm.argError("str_repeat", "exactly 2 arguments")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		n := truncIntOf(vm, args[1])
		if n < 0 {
			return Undef(), vm.errThrow("ValueError", "str_repeat(): Argument #2 ($times) must be greater than or equal to 0")
		}
		return String(strings.Repeat(s, int(n))), nil
	})

	vm.registerBuiltin("str_replace", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 3 {
			return Undef(), vm.argError("str_replace", "at least 3 arguments")
		}
		subject, err := vm.toStringValue(args[2])
		if err != nil {
			return Undef(), err
		}
		search := args[0].Deref()
		replace := args[1].Deref()
		if search.Kind() == KindArray {
			keys := search.Array().Keys()
			for i, k := range keys {
				sv, _ := search.Array().Get(k)
				from, err := vm.toStringValue(sv)
				if err != nil {
					return Undef(), err
				}
				to := ""
				if replace.Kind() == KindArray {
					rkeys := replace.Array().Keys()
					if i < len(rkeys) {
						rv, _ := replace.Array().Get(rkeys[i])
						if to, err = vm.toStringValue(rv); err != nil {
							return Undef(), err
						}
					}
				} else if to, err = vm.toStringValue(replace); err != nil {
					return Undef(), err
				}
				subject = strings.ReplaceAll(subject, from, to)
			}
			return String(subject), nil
		}
		from, err := vm.toStringValue(search)
		if err != nil {
			return Undef(), err
		}
		to, err := vm.toStringValue(replace)
		if err != nil {
			return Undef(), err
		}
		return String(strings.ReplaceAll(subject, from, to)), nil
	})

	implode := func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("implode", "at least 1 argument")
		}
		sep := ""
		var arrVal Value
		if len(args) == 1 {
			arrVal = args[0].Deref()
		} else {
			var err error
			if sep, err = vm.toStringValue(args[0]); err != nil {
				return Undef(), err
			}
			arrVal = args[1].Deref()
		}
		if arrVal.Kind() != KindArray {
			return Undef(), vm.errThrow("TypeError", "implode(): Argument #2 ($array) must be of type array")
		}
		arr := arrVal.Array()
		parts := make([]string, 0, arr.Len())
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			s, err := vm.toStringValue(v)
			if err != nil {
				return Undef(), err
			}
			parts = append(parts, s)
		}
		return String(strings.Join(parts, sep)), nil
	}
	vm.registerBuiltin("implode", implode)
	vm.registerBuiltin("join", implode)

	vm.registerBuiltin("explode", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("explode", "at least 2 arguments")
		}
		sep, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		if sep == "" {
			return Undef(), vm.errThrow("ValueError", "explode(): Argument #1 ($separator) cannot be empty")
		}
		s, err := vm.toStringValue(args[1])
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, part := range strings.Split(s, sep) {
			out.Append(String(part))
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("sprintf", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("sprintf", "at least 1 argument")
		}
		format, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		return vm.formatString(format, args[1:])
	})
}

func (vm *VM) stringMap(name string, fn func(string) string) func(*VM, []Value) (Value, error) {
	return func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError(name, "exactly 1 argument")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		return String(fn(s)), nil
	}
}

func (vm *VM) trimBuiltin(name string, fn func(string, string) string) func(*VM, []Value) (Value, error) {
	return func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError(name, "at least 1 argument")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		cutset := " \t\n\r\x00\x0B"
		if len(args) > 1 {
			if cutset, err = vm.toStringValue(args[1]); err != nil {
				return Undef(), err
			}
		}
		return String(fn(s, cutset)), nil
	}
}

// formatString implements the printf-family conversions used by scripts:
// %s %d %f %x %X %o %b %e %g and %%, with width, precision, zero padding
// and left alignment.
func (vm *VM) formatString(format string, args []Value) (Value, error) {
	var out strings.Builder
	argi := 0
	nextArg := func() (Value, bool) {
		if argi >= len(args) {
			return Undef(), false
		}
		v := args[argi].Deref()
		argi++
		return v, true
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			break
		}
		if format[i] == '%' {
			out.WriteByte('%')
			continue
		}
		spec := "%"
		for i < len(format) && strings.ContainsRune("-+ 0'123456789.", rune(format[i])) {
			if format[i] == '\'' {
				// Custom pad character: consume it and the next byte.
				i += 2
				continue
			}
			spec += string(format[i])
			i++
		}
		if i >= len(format) {
			break
		}
		verb := format[i]
		arg, ok := nextArg()
		if !ok {
			return Undef(), vm.errThrow("ValueError", "sprintf(): too few arguments")
		}
		switch verb {
		case 's':
			s, err := vm.toStringValue(arg)
			if err != nil {
				return Undef(), err
			}
			fmt.Fprintf(&out, spec+"s", s)
		case 'd', 'u':
			fmt.Fprintf(&out, spec+"d", truncIntOf(vm, arg))
		case 'f', 'F':
			if !strings.Contains(spec, ".") {
				spec += ".6"
			}
			fmt.Fprintf(&out, spec+"f", floatOf(arg))
		case 'e':
			fmt.Fprintf(&out, spec+"e", floatOf(arg))
		case 'g':
			fmt.Fprintf(&out, spec+"g", floatOf(arg))
		case 'x':
			fmt.Fprintf(&out, spec+"x", truncIntOf(vm, arg))
		case 'X':
			fmt.Fprintf(&out, spec+"X", truncIntOf(vm, arg))
		case 'o':
			fmt.Fprintf(&out, spec+"o", truncIntOf(vm, arg))
		case 'b':
			fmt.Fprintf(&out, spec+"b", truncIntOf(vm, arg))
		case 'c':
			fmt.Fprintf(&out, "%c", rune(truncIntOf(vm, arg)))
		default:
			return Undef(), vm.errThrow("ValueError",
				"sprintf(): unknown format specifier \"%"+string(verb)+"\"")
		}
	}
	return String(out.String()), nil
}

func truncIntOf(vm *VM, v Value) int64 {
	n, exc := vm.toNumber(v.Deref(), "int cast")
	if exc != nil {
		return 0
	}
	return truncInt(n)
}

func floatOf(v Value) float64 {
	v = v.Deref()
	switch v.Kind() {
	case KindInt:
		return float64(v.AsInt())
	case KindFloat:
		return v.AsFloat()
	case KindString:
		if n, ok := IsNumericString(v.AsString()); ok {
			return asFloat(n)
		}
	case KindBool:
		if v.AsBool() {
			return 1
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Types and reflection
// ---------------------------------------------------------------------------

func (vm *VM) registerTypeBuiltins() {
	vm.registerBuiltin("gettype", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError("gettype", "exactly 1 argument")
		}
		switch args[0].Deref().Kind() {
		case KindNull, KindUndef:
			return String("NULL"), nil
		case KindBool:
			return String("boolean"), nil
		case KindInt:
			return String("integer"), nil
		case KindFloat:
			return String("double"), nil
		case KindString:
			return String("string"), nil
		case KindArray:
			return String("array"), nil
		default:
			return String("object"), nil
		}
	})

	kindCheck := func(name string, match func(Value) bool) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			if len(args) != 1 {
				return Undef(), vm.argError(name, "exactly 1 argument")
			}
			return Bool(match(args[0].Deref())), nil
		})
	}
	kindCheck("is_null", func(v Value) bool { return v.IsNull() || v.IsUndef() })
	kindCheck("is_bool", func(v Value) bool { return v.Kind() == KindBool })
	kindCheck("is_int", func(v Value) bool { return v.Kind() == KindInt })
	kindCheck("is_integer", func(v Value) bool { return v.Kind() == KindInt })
	kindCheck("is_float", func(v Value) bool { return v.Kind() == KindFloat })
	kindCheck("is_string", func(v Value) bool { return v.Kind() == KindString })
	kindCheck("is_array", func(v Value) bool { return v.Kind() == KindArray })
	kindCheck("is_object", func(v Value) bool { return v.Kind() == KindObject || v.Kind() == KindClosure })
	kindCheck("is_numeric", func(v Value) bool {
		if v.Kind() == KindInt || v.Kind() == KindFloat {
			return true
		}
		if v.Kind() == KindString {
			_, ok := IsNumericString(v.AsString())
			return ok
		}
		return false
	})
	kindCheck("is_callable", func(v Value) bool {
		switch v.Kind() {
		case KindClosure:
			return true
		case KindString:
			name := strings.ToLower(v.AsString())
			_, fn := vm.functions[name]
			_, b := vm.builtins[name]
			return fn || b
		case KindObject:
			return v.Object().Class.FindMethod("__invoke") != nil
		case KindArray:
			return v.Array().Len() == 2
		}
		return false
	})

	vm.registerBuiltin("intval", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("intval", "at least 1 argument")
		}
		return Int(truncIntOf(vm, args[0])), nil
	})
	vm.registerBuiltin("floatval", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("floatval", "at least 1 argument")
		}
		return Float(floatOf(args[0])), nil
	})
	vm.registerBuiltin("strval", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("strval", "at least 1 argument")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		return String(s), nil
	})
	vm.registerBuiltin("boolval", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("boolval", "at least 1 argument")
		}
		return Bool(args[0].Deref().Truthy()), nil
	})

	vm.registerBuiltin("get_class", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 || args[0].Deref().Kind() != KindObject {
			return Undef(), vm.errThrow("TypeError", "get_class(): Argument #1 ($object) must be of type object")
		}
		return String(args[0].Deref().Object().Class.Name), nil
	})
	vm.registerBuiltin("function_exists", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError("function_exists", "exactly 1 argument")
		}
		name := strings.ToLower(vm.coerceString(args[0]))
		_, fn := vm.functions[name]
		_, b := vm.builtins[name]
		return Bool(fn || b), nil
	})
	vm.registerBuiltin("class_exists", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("class_exists", "at least 1 argument")
		}
		return Bool(vm.LookupClass(vm.coerceString(args[0])) != nil), nil
	})
	vm.registerBuiltin("method_exists", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 2 {
			return Undef(), vm.argError("method_exists", "exactly 2 arguments")
		}
		var cls *Class
		v := args[0].Deref()
		if v.Kind() == KindObject {
			cls = v.Object().Class
		} else {
			cls = vm.LookupClass(vm.coerceString(v))
		}
		if cls == nil {
			return Bool(false), nil
		}
		return Bool(cls.FindMethod(vm.coerceString(args[1])) != nil), nil
	})
}

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

func (vm *VM) registerMathBuiltins() {
	vm.registerBuiltin("abs", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError("abs", "exactly 1 argument")
		}
		n, exc := vm.toNumber(args[0].Deref(), "abs")
		if exc != nil {
			return Undef(), &Raise{Exc: exc}
		}
		if n.Kind() == KindInt {
			if n.AsInt() < 0 {
				return Int(-n.AsInt()), nil
			}
			return n, nil
		}
		return Float(math.Abs(n.AsFloat())), nil
	})

	floatFn := func(name string, fn func(float64) float64) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			if len(args) != 1 {
				return Undef(), vm.argError(name, "exactly 1 argument")
			}
			return Float(fn(floatOf(args[0]))), nil
		})
	}
	floatFn("floor", math.Floor)
	floatFn("ceil", math.Ceil)
	floatFn("sqrt", math.Sqrt)

	vm.registerBuiltin("round", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("round", "at least 1 argument")
		}
		precision := int64(0)
		if len(args) > 1 {
			precision = truncIntOf(vm, args[1])
		}
		scale := math.Pow(10, float64(precision))
		return Float(math.Round(floatOf(args[0])*scale) / scale), nil
	})

	vm.registerBuiltin("intdiv", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 2 {
			return Undef(), vm.argError("intdiv", "exactly 2 arguments")
		}
		a, b := truncIntOf(vm, args[0]), truncIntOf(vm, args[1])
		if b == 0 {
			return Undef(), vm.errThrow("DivisionByZeroError", "Division by zero")
		}
		return Int(a / b), nil
	})

	pickFn := func(name string, better func(c int) bool) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			vals := args
			if len(args) == 1 && args[0].Deref().Kind() == KindArray {
				arr := args[0].Deref().Array()
				vals = vals[:0:0]
				for _, k := range arr.Keys() {
					v, _ := arr.Get(k)
					vals = append(vals, v.Deref())
				}
			}
			if len(vals) == 0 {
				return Undef(), vm.errThrow("ValueError", name+"(): Argument #1 must contain at least one element")
			}
			best := vals[0].Deref()
			for _, v := range vals[1:] {
				if c, ok := vm.looseCompare(v.Deref(), best); ok && better(c) {
					best = v.Deref()
				}
			}
			return best, nil
		})
	}
	pickFn("max", func(c int) bool { return c > 0 })
	pickFn("min", func(c int) bool { return c < 0 })
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func (vm *VM) registerArrayBuiltins() {
	vm.registerBuiltin("count", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("count", "at least 1 argument")
		}
		v := args[0].Deref()
		if v.Kind() != KindArray {
			return Undef(), vm.errThrow("TypeError", "count(): Argument #1 ($value) must be of type Countable|array")
		}
		return Int(int64(v.Array().Len())), nil
	})

	vm.registerBuiltin("array_keys", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_keys", args, 0)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, k := range arr.Keys() {
			out.Append(keyValue(k))
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_values", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_values", args, 0)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			out.Append(shareValue(v.Deref()))
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_merge", func(vm *VM, args []Value) (Value, error) {
		out := NewArray()
		for _, a := range args {
			v := a.Deref()
			if v.Kind() != KindArray {
				return Undef(), vm.errThrow("TypeError", "array_merge(): arguments must be of type array")
			}
			for _, k := range v.Array().Keys() {
				elem, _ := v.Array().Get(k)
				if k.IsInt {
					out.Append(shareValue(elem.Deref()))
				} else {
					out.Set(k, shareValue(elem.Deref()))
				}
			}
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("in_array", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("in_array", "at least 2 arguments")
		}
		arr, err := vm.arrayArg("in_array", args, 1)
		if err != nil {
			return Undef(), err
		}
		strict := len(args) > 2 && args[2].Deref().Truthy()
		needle := args[0].Deref()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			if strict {
				if strictEqual(needle, v.Deref()) {
					return Bool(true), nil
				}
			} else if vm.looseEqual(needle, v.Deref()) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	})

	vm.registerBuiltin("array_search", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("array_search", "at least 2 arguments")
		}
		arr, err := vm.arrayArg("array_search", args, 1)
		if err != nil {
			return Undef(), err
		}
		strict := len(args) > 2 && args[2].Deref().Truthy()
		needle := args[0].Deref()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			match := false
			if strict {
				match = strictEqual(needle, v.Deref())
			} else {
				match = vm.looseEqual(needle, v.Deref())
			}
			if match {
				return keyValue(k), nil
			}
		}
		return Bool(false), nil
	})

	vm.registerBuiltin("array_key_exists", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 2 {
			return Undef(), vm.argError("array_key_exists", "exactly 2 arguments")
		}
		arr, err := vm.arrayArg("array_key_exists", args, 1)
		if err != nil {
			return Undef(), err
		}
		key, ok := NormalizeKey(args[0].Deref())
		if !ok {
			return Bool(false), nil
		}
		_, exists := arr.Get(key)
		return Bool(exists), nil
	})

	vm.registerBuiltin("array_reverse", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_reverse", args, 0)
		if err != nil {
			return Undef(), err
		}
		preserve := len(args) > 1 && args[1].Deref().Truthy()
		out := NewArray()
		keys := arr.Keys()
		for i := len(keys) - 1; i >= 0; i-- {
			v, _ := arr.Get(keys[i])
			if keys[i].IsInt && !preserve {
				out.Append(shareValue(v.Deref()))
			} else {
				out.Set(keys[i], shareValue(v.Deref()))
			}
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_slice", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("array_slice", "at least 2 arguments")
		}
		arr, err := vm.arrayArg("array_slice", args, 0)
		if err != nil {
			return Undef(), err
		}
		keys := arr.Keys()
		offset := int(truncIntOf(vm, args[1]))
		if offset < 0 {
			offset += len(keys)
			if offset < 0 {
				offset = 0
			}
		}
		if offset > len(keys) {
			offset = len(keys)
		}
		length := len(keys) - offset
		if len(args) > 2 && !args[2].Deref().IsNull() {
			length = int(truncIntOf(vm, args[2]))
			if length < 0 {
				length = len(keys) - offset + length
			}
			if length < 0 {
				length = 0
			}
		}
		preserve := len(args) > 3 && args[3].Deref().Truthy()
		out := NewArray()
		for i := offset; i < offset+length && i < len(keys); i++ {
			v, _ := arr.Get(keys[i])
			if keys[i].IsInt && !preserve {
				out.Append(shareValue(v.Deref()))
			} else {
				out.Set(keys[i], shareValue(v.Deref()))
			}
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_sum", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_sum", args, 0)
		if err != nil {
			return Undef(), err
		}
		var isum int64
		var fsum float64
		isInt := true
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			n, exc := vm.toNumber(v.Deref(), "+")
			if exc != nil {
				continue
			}
			if n.Kind() == KindInt && isInt {
				isum += n.AsInt()
			} else {
				if isInt {
					fsum = float64(isum)
					isInt = false
				}
				fsum += asFloat(n)
			}
		}
		if isInt {
			return Int(isum), nil
		}
		return Float(fsum), nil
	})

	vm.registerBuiltin("range", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("range", "at least 2 arguments")
		}
		start := truncIntOf(vm, args[0])
		end := truncIntOf(vm, args[1])
		step := int64(1)
		if len(args) > 2 {
			step = truncIntOf(vm, args[2])
			if step < 0 {
				step = -step
			}
			if step == 0 {
				return Undef(), vm.errThrow("ValueError", "range(): Argument #3 ($step) cannot be 0")
			}
		}
		out := NewArray()
		if start <= end {
			for i := start; i <= end; i += step {
				out.Append(Int(i))
			}
		} else {
			for i := start; i >= end; i -= step {
				out.Append(Int(i))
			}
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_map", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("array_map", "at least 2 arguments")
		}
		arr, err := vm.arrayArg("array_map", args, 1)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			res, err := vm.callCallable(args[0], []Value{v.Deref()})
			if err != nil {
				return Undef(), err
			}
			out.Set(k, shareValue(res.Deref()))
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_filter", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_filter", args, 0)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			keep := v.Deref().Truthy()
			if len(args) > 1 {
				res, err := vm.callCallable(args[1], []Value{v.Deref()})
				if err != nil {
					return Undef(), err
				}
				keep = res.Deref().Truthy()
			}
			if keep {
				out.Set(k, shareValue(v.Deref()))
			}
		}
		return ArrayVal(out), nil
	})

	vm.registerBuiltin("array_reduce", func(vm *VM, args []Value) (Value, error) {
		if len(args) < 2 {
			return Undef(), vm.argError("array_reduce", "at least 2 arguments")
		}
		arr, err := vm.arrayArg("array_reduce", args, 0)
		if err != nil {
			return Undef(), err
		}
		acc := Null()
		if len(args) > 2 {
			acc = args[2].Deref()
		}
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			res, err := vm.callCallable(args[1], []Value{acc, v.Deref()})
			if err != nil {
				return Undef(), err
			}
			acc = res.Deref()
		}
		return acc, nil
	})

	vm.registerBuiltin("array_flip", func(vm *VM, args []Value) (Value, error) {
		arr, err := vm.arrayArg("array_flip", args, 0)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			nk, ok := NormalizeKey(v.Deref())
			if !ok {
				continue
			}
			out.Set(nk, keyValue(k))
		}
		return ArrayVal(out), nil
	})

	// Mutating builtins: the first argument is a reference.

	vm.registerBuiltin("array_push", func(vm *VM, args []Value) (Value, error) {
		arr, _, err := vm.refArray("array_push", args)
		if err != nil {
			return Undef(), err
		}
		for _, v := range args[1:] {
			arr.Append(shareValue(v.Deref()))
		}
		return Int(int64(arr.Len())), nil
	})

	vm.registerBuiltin("array_pop", func(vm *VM, args []Value) (Value, error) {
		arr, _, err := vm.refArray("array_pop", args)
		if err != nil {
			return Undef(), err
		}
		keys := arr.Keys()
		if len(keys) == 0 {
			return Null(), nil
		}
		last := keys[len(keys)-1]
		v, _ := arr.Get(last)
		arr.Unset(last)
		arr.resetNextKey()
		return v.Deref(), nil
	})

	vm.registerBuiltin("array_shift", func(vm *VM, args []Value) (Value, error) {
		arr, _, err := vm.refArray("array_shift", args)
		if err != nil {
			return Undef(), err
		}
		keys := arr.Keys()
		if len(keys) == 0 {
			return Null(), nil
		}
		first := keys[0]
		v, _ := arr.Get(first)
		arr.Unset(first)
		arr.reindex()
		return v.Deref(), nil
	})

	vm.registerBuiltin("array_unshift", func(vm *VM, args []Value) (Value, error) {
		arr, ref, err := vm.refArray("array_unshift", args)
		if err != nil {
			return Undef(), err
		}
		out := NewArray()
		for _, v := range args[1:] {
			out.Append(shareValue(v.Deref()))
		}
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			if k.IsInt {
				out.Append(v)
			} else {
				out.Set(k, v)
			}
		}
		ref.Set(ArrayVal(out))
		return Int(int64(out.Len())), nil
	})

	vm.registerBuiltin("array_splice", func(vm *VM, args []Value) (Value, error) {
		arr, ref, err := vm.refArray("array_splice", args)
		if err != nil {
			return Undef(), err
		}
		if len(args) < 2 {
			return Undef(), vm.argError("array_splice", "at least 2 arguments")
		}
		keys := arr.Keys()
		offset := int(truncIntOf(vm, args[1]))
		if offset < 0 {
			offset += len(keys)
			if offset < 0 {
				offset = 0
			}
		}
		if offset > len(keys) {
			offset = len(keys)
		}
		length := len(keys) - offset
		if len(args) > 2 && !args[2].Deref().IsNull() {
			length = int(truncIntOf(vm, args[2]))
			if length < 0 {
				length = len(keys) - offset + length
			}
			if length < 0 {
				length = 0
			}
		}

		removed := NewArray()
		rebuilt := NewArray()
		for i, k := range keys {
			v, _ := arr.Get(k)
			switch {
			case i < offset || i >= offset+length:
				if i == offset+length && len(args) > 3 {
					appendReplacement(vm, rebuilt, args[3])
				}
				if k.IsInt {
					rebuilt.Append(v)
				} else {
					rebuilt.Set(k, v)
				}
			default:
				removed.Append(v.Deref())
			}
		}
		if offset+length >= len(keys) && len(args) > 3 {
			appendReplacement(vm, rebuilt, args[3])
		}
		ref.Set(ArrayVal(rebuilt))
		return ArrayVal(removed), nil
	})

	vm.registerSortBuiltins()
}

func appendReplacement(vm *VM, dst *Array, replacement Value) {
	v := replacement.Deref()
	if v.Kind() == KindArray {
		for _, k := range v.Array().Keys() {
			e, _ := v.Array().Get(k)
			dst.Append(shareValue(e.Deref()))
		}
		return
	}
	dst.Append(shareValue(v))
}

func (vm *VM) arrayArg(name string, args []Value, pos int) (*Array, error) {
	if len(args) <= pos {
		return nil, vm.argError(name, fmt.Sprintf("at least %d arguments", pos+1))
	}
	v := args[pos].Deref()
	if v.Kind() != KindArray {
		return nil, vm.errThrow("TypeError",
			fmt.Sprintf("%s(): Argument #%d must be of type array, %s given", name, pos+1, v.TypeName()))
	}
	return v.Array(), nil
}

type sortPair struct {
	key ArrayKey
	val Value
}

func (vm *VM) registerSortBuiltins() {
	sortInto := func(arr *Array, pairs []sortPair, preserveKeys bool) {
		rebuilt := NewArray()
		for _, p := range pairs {
			if preserveKeys {
				rebuilt.Set(p.key, p.val)
			} else {
				rebuilt.Append(p.val)
			}
		}
		*arr = *rebuilt
	}
	collect := func(arr *Array) []sortPair {
		pairs := make([]sortPair, 0, arr.Len())
		for _, k := range arr.Keys() {
			v, _ := arr.Get(k)
			pairs = append(pairs, sortPair{key: k, val: v})
		}
		return pairs
	}

	valueSort := func(name string, preserveKeys, descending bool) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			arr, _, err := vm.refArray(name, args)
			if err != nil {
				return Undef(), err
			}
			pairs := collect(arr)
			sort.SliceStable(pairs, func(i, j int) bool {
				c, _ := vm.looseCompare(pairs[i].val.Deref(), pairs[j].val.Deref())
				if descending {
					return c > 0
				}
				return c < 0
			})
			sortInto(arr, pairs, preserveKeys)
			return Bool(true), nil
		})
	}
	valueSort("sort", false, false)
	valueSort("rsort", false, true)
	valueSort("asort", true, false)
	valueSort("arsort", true, true)

	keySort := func(name string, descending bool) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			arr, _, err := vm.refArray(name, args)
			if err != nil {
				return Undef(), err
			}
			pairs := collect(arr)
			sort.SliceStable(pairs, func(i, j int) bool {
				c, _ := vm.looseCompare(keyValue(pairs[i].key), keyValue(pairs[j].key))
				if descending {
					return c > 0
				}
				return c < 0
			})
			sortInto(arr, pairs, true)
			return Bool(true), nil
		})
	}
	keySort("ksort", false)
	keySort("krsort", true)

	callbackSort := func(name string, preserveKeys, byKey bool) {
		vm.registerBuiltin(name, func(vm *VM, args []Value) (Value, error) {
			arr, _, err := vm.refArray(name, args)
			if err != nil {
				return Undef(), err
			}
			if len(args) < 2 {
				return Undef(), vm.argError(name, "exactly 2 arguments")
			}
			pairs := collect(arr)
			var cbErr error
			sort.SliceStable(pairs, func(i, j int) bool {
				if cbErr != nil {
					return false
				}
				var a, b Value
				if byKey {
					a, b = keyValue(pairs[i].key), keyValue(pairs[j].key)
				} else {
					a, b = pairs[i].val.Deref(), pairs[j].val.Deref()
				}
				res, err := vm.callCallable(args[1], []Value{a, b})
				if err != nil {
					cbErr = err
					return false
				}
				return truncIntOf(vm, res) < 0
			})
			if cbErr != nil {
				return Undef(), cbErr
			}
			sortInto(arr, pairs, preserveKeys)
			return Bool(true), nil
		})
	}
	callbackSort("usort", false, false)
	callbackSort("uasort", true, false)
	callbackSort("uksort", true, true)

	vm.registerBuiltin("shuffle", func(vm *VM, args []Value) (Value, error) {
		arr, _, err := vm.refArray("shuffle", args)
		if err != nil {
			return Undef(), err
		}
		pairs := collect(arr)
		rand.Shuffle(len(pairs), func(i, j int) {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		})
		sortInto(arr, pairs, false)
		return Bool(true), nil
	})
}

// ---------------------------------------------------------------------------
// Output and debugging
// ---------------------------------------------------------------------------

func (vm *VM) registerOutputBuiltins() {
	vm.registerBuiltin("print", func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return Undef(), vm.argError("print", "exactly 1 argument")
		}
		s, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		fmt.Fprint(vm.stdout, s)
		return Int(1), nil
	})

	vm.registerBuiltin("printf", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("printf", "at least 1 argument")
		}
		format, err := vm.toStringValue(args[0])
		if err != nil {
			return Undef(), err
		}
		res, err := vm.formatString(format, args[1:])
		if err != nil {
			return Undef(), err
		}
		fmt.Fprint(vm.stdout, res.AsString())
		return Int(int64(len(res.AsString()))), nil
	})

	vm.registerBuiltin("var_dump", func(vm *VM, args []Value) (Value, error) {
		for _, a := range args {
			vm.dumpValue(a.Deref(), 0)
		}
		return Null(), nil
	})

	vm.registerBuiltin("print_r", func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undef(), vm.argError("print_r", "at least 1 argument")
		}
		var b strings.Builder
		vm.printR(&b, args[0].Deref(), 0)
		if len(args) > 1 && args[1].Deref().Truthy() {
			return String(b.String()), nil
		}
		fmt.Fprint(vm.stdout, b.String())
		return Bool(true), nil
	})
}

func (vm *VM) dumpValue(v Value, depth int) {
	pad := strings.Repeat("  ", depth)
	switch v.Kind() {
	case KindUndef, KindNull:
		fmt.Fprintf(vm.stdout, "%sNULL\n", pad)
	case KindBool:
		fmt.Fprintf(vm.stdout, "%sbool(%t)\n", pad, v.AsBool())
	case KindInt:
		fmt.Fprintf(vm.stdout, "%sint(%d)\n", pad, v.AsInt())
	case KindFloat:
		fmt.Fprintf(vm.stdout, "%sfloat(%s)\n", pad, FormatFloat(v.AsFloat()))
	case KindString:
		fmt.Fprintf(vm.stdout, "%sstring(%d) %q\n", pad, len(v.AsString()), v.AsString())
	case KindArray:
		arr := v.Array()
		fmt.Fprintf(vm.stdout, "%sarray(%d) {\n", pad, arr.Len())
		for _, k := range arr.Keys() {
			elem, _ := arr.Get(k)
			if k.IsInt {
				fmt.Fprintf(vm.stdout, "%s  [%d]=>\n", pad, k.I)
			} else {
				fmt.Fprintf(vm.stdout, "%s  [%q]=>\n", pad, k.S)
			}
			vm.dumpValue(elem.Deref(), depth+1)
		}
		fmt.Fprintf(vm.stdout, "%s}\n", pad)
	case KindObject:
		obj := v.Object()
		names := obj.PropNames()
		fmt.Fprintf(vm.stdout, "%sobject(%s) (%d) {\n", pad, obj.Class.Name, len(names))
		for _, name := range names {
			elem, _ := obj.getRaw(name)
			fmt.Fprintf(vm.stdout, "%s  [%q]=>\n", pad, name)
			vm.dumpValue(elem.Deref(), depth+1)
		}
		fmt.Fprintf(vm.stdout, "%s}\n", pad)
	case KindClosure:
		fmt.Fprintf(vm.stdout, "%sobject(Closure) (0) {\n%s}\n", pad, pad)
	}
}

func (vm *VM) printR(b *strings.Builder, v Value, depth int) {
	pad := strings.Repeat("    ", depth)
	switch v.Kind() {
	case KindArray:
		arr := v.Array()
		b.WriteString("Array\n" + pad + "(\n")
		for _, k := range arr.Keys() {
			elem, _ := arr.Get(k)
			fmt.Fprintf(b, "%s    [%s] => ", pad, vm.coerceString(keyValue(k)))
			vm.printR(b, elem.Deref(), depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(pad + ")\n")
	case KindObject:
		obj := v.Object()
		b.WriteString(obj.Class.Name + " Object\n" + pad + "(\n")
		for _, name := range obj.PropNames() {
			elem, _ := obj.getRaw(name)
			fmt.Fprintf(b, "%s    [%s] => ", pad, name)
			vm.printR(b, elem.Deref(), depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(pad + ")\n")
	default:
		b.WriteString(vm.scalarString(v))
	}
}
