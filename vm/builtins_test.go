package vm

import (
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
)

// ---------------------------------------------------------------------------
// String builtins
// ---------------------------------------------------------------------------

func TestStringBuiltins(t *testing.T) {
	got := compileAndRun(t,
		echo(call("strlen", str("héllo"))),
		echo(str(" ")),
		echo(call("strtoupper", str("abc"))),
		echo(str(" ")),
		echo(call("strtolower", str("ABC"))),
		echo(str(" ")),
		echo(call("str_repeat", str("ab"), num(3))),
		echo(str(" ")),
		echo(call("trim", str("  x  "))),
	)
	// strlen counts bytes, not runes.
	want := "6 ABC abc ababab x"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSubstr(t *testing.T) {
	got := compileAndRun(t,
		echo(call("substr", str("peridot"), num(4))),
		echo(str(" ")),
		echo(call("substr", str("peridot"), num(0), num(4))),
		echo(str(" ")),
		echo(call("substr", str("peridot"), &ast.Unary{Op: "-", Operand: num(3)})),
	)
	want := "dot peri dot"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStrposReturnsFalseOnMiss(t *testing.T) {
	got := compileAndRun(t,
		echo(call("strpos", str("hello"), str("ll"))),
		echo(&ast.Ternary{
			Cond: bin("===", call("strpos", str("hello"), str("zz")), boolV(false)),
			Then: str(" miss"), Else: str(" hit"),
		}),
	)
	if got != "2 miss" {
		t.Errorf("output = %q, want %q", got, "2 miss")
	}
}

func TestStrReplaceWithArrays(t *testing.T) {
	got := compileAndRun(t,
		echo(call("str_replace", str("o"), str("0"), str("foo"))),
		echo(str(" ")),
		echo(call("str_replace",
			arrLit(item(str("a")), item(str("b"))),
			arrLit(item(str("1")), item(str("2"))),
			str("abc"))),
	)
	if got != "f00 12c" {
		t.Errorf("output = %q, want %q", got, "f00 12c")
	}
}

func TestImplodeExplode(t *testing.T) {
	got := compileAndRun(t,
		echo(call("implode", str("-"), arrLit(item(num(1)), item(num(2)), item(num(3))))),
		echo(str(" ")),
		echo(idx(call("explode", str(","), str("a,b,c")), num(1))),
	)
	if got != "1-2-3 b" {
		t.Errorf("output = %q, want %q", got, "1-2-3 b")
	}
}

func TestSprintf(t *testing.T) {
	cases := []struct {
		format string
		arg    ast.Expr
		want   string
	}{
		{"%d", num(42), "42"},
		{"%05d", num(42), "00042"},
		{"%s!", str("hi"), "hi!"},
		{"%x", num(255), "ff"},
		{"%b", num(5), "101"},
		{"%f", flt(1.5), "1.500000"},
		{"%.2f", flt(3.14159), "3.14"},
	}
	for _, tc := range cases {
		got := compileAndRun(t, echo(call("sprintf", str(tc.format), tc.arg)))
		if got != tc.want {
			t.Errorf("sprintf(%q) = %q, want %q", tc.format, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Math builtins
// ---------------------------------------------------------------------------

func TestMathBuiltins(t *testing.T) {
	got := compileAndRun(t,
		echo(call("abs", &ast.Unary{Op: "-", Operand: num(7)})),
		echo(str(" ")),
		echo(call("intdiv", num(7), num(2))),
		echo(str(" ")),
		echo(call("floor", flt(1.9))),
		echo(str(" ")),
		echo(call("ceil", flt(1.1))),
		echo(str(" ")),
		echo(call("round", flt(3.14159), num(2))),
		echo(str(" ")),
		echo(call("max", num(3), num(9), num(5))),
		echo(str(" ")),
		echo(call("min", arrLit(item(num(4)), item(num(2)), item(num(8))))),
	)
	want := "7 3 1 2 3.14 9 2"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestIntdivByZeroRaises(t *testing.T) {
	uncaught := compileAndFail(t, exprS(call("intdiv", num(1), num(0))))
	assertClass(t, uncaught, "DivisionByZeroError")
}

// ---------------------------------------------------------------------------
// Array builtins
// ---------------------------------------------------------------------------

func TestCountAndKeysValues(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("x"), num(1)), kv(str("y"), num(2)))),
		echo(call("count", vr("a"))),
		echo(str(" ")),
		echo(call("implode", str(","), call("array_keys", vr("a")))),
		echo(str(" ")),
		echo(call("implode", str(","), call("array_values", vr("a")))),
	)
	if got != "2 x,y 1,2" {
		t.Errorf("output = %q, want %q", got, "2 x,y 1,2")
	}
}

func TestCountOnNonArrayRaises(t *testing.T) {
	uncaught := compileAndFail(t, exprS(call("count", str("nope"))))
	assertClass(t, uncaught, "TypeError")
}

func TestArrayMergeRenumbersIntKeys(t *testing.T) {
	got := compileAndRun(t,
		set("m", call("array_merge",
			arrLit(kv(num(5), str("a"))),
			arrLit(item(str("b")), kv(str("k"), str("c"))),
		)),
		echo(idx(vr("m"), num(0))),
		echo(idx(vr("m"), num(1))),
		echo(idx(vr("m"), str("k"))),
	)
	if got != "abc" {
		t.Errorf("output = %q, want abc", got)
	}
}

func TestArrayMapPreservesKeys(t *testing.T) {
	got := compileAndRun(t,
		set("out", call("array_map",
			closure(params("n"), nil, ret(bin("+", vr("n"), num(1)))),
			arrLit(kv(str("a"), num(1)), kv(str("b"), num(2))),
		)),
		echo(idx(vr("out"), str("a"))),
		echo(idx(vr("out"), str("b"))),
	)
	if got != "23" {
		t.Errorf("output = %q, want 23", got)
	}
}

func TestArrayFilterKeepsKeys(t *testing.T) {
	got := compileAndRun(t,
		set("out", call("array_filter",
			arrLit(item(num(0)), item(num(3)), item(num(0)), item(num(5))),
			closure(params("n"), nil, ret(bin(">", vr("n"), num(0)))),
		)),
		echo(call("count", vr("out"))),
		echo(idx(vr("out"), num(1))),
		echo(idx(vr("out"), num(3))),
	)
	if got != "235" {
		t.Errorf("output = %q, want 235", got)
	}
}

func TestArrayReduce(t *testing.T) {
	got := compileAndRun(t,
		echo(call("array_reduce",
			arrLit(item(num(1)), item(num(2)), item(num(3))),
			closure(params("carry", "n"), nil, ret(bin("+", vr("carry"), vr("n")))),
			num(10),
		)),
	)
	if got != "16" {
		t.Errorf("output = %q, want 16", got)
	}
}

func TestArraySearchAndInArray(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("k"), num(7)))),
		echo(call("array_search", num(7), vr("a"))),
		echo(&ast.Ternary{
			Cond: bin("===", call("array_search", num(8), vr("a")), boolV(false)),
			Then: str(" none"), Else: str(" found"),
		}),
		echo(&ast.Ternary{
			Cond: call("in_array", str("7"), vr("a"), boolV(true)),
			Then: str(" loose"), Else: str(" strictmiss"),
		}),
	)
	if got != "k none strictmiss" {
		t.Errorf("output = %q, want %q", got, "k none strictmiss")
	}
}

func TestRangeAndSum(t *testing.T) {
	got := compileAndRun(t,
		echo(call("array_sum", call("range", num(1), num(5)))),
		echo(str(" ")),
		echo(call("implode", str(""), call("range", num(3), num(1)))),
	)
	if got != "15 321" {
		t.Errorf("output = %q, want %q", got, "15 321")
	}
}

func TestSortMutatesInPlace(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(3)), item(num(1)), item(num(2)))),
		exprS(call("sort", vr("a"))),
		echo(call("implode", str(","), vr("a"))),
		exprS(call("rsort", vr("a"))),
		echo(str(" ")),
		echo(call("implode", str(","), vr("a"))),
	)
	if got != "1,2,3 3,2,1" {
		t.Errorf("output = %q, want %q", got, "1,2,3 3,2,1")
	}
}

func TestKsortOrdersByKey(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("b"), num(2)), kv(str("a"), num(1)))),
		exprS(call("ksort", vr("a"))),
		echo(call("implode", str(","), call("array_keys", vr("a")))),
	)
	if got != "a,b" {
		t.Errorf("output = %q, want a,b", got)
	}
}

func TestUsortWithCallback(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(2)), item(num(9)), item(num(4)))),
		exprS(call("usort", vr("a"),
			closure(params("x", "y"), nil, ret(bin("<=>", vr("y"), vr("x")))),
		)),
		echo(call("implode", str(","), vr("a"))),
	)
	if got != "9,4,2" {
		t.Errorf("output = %q, want 9,4,2", got)
	}
}

func TestPushPopShiftUnshift(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)), item(num(2)))),
		exprS(call("array_push", vr("a"), num(3))),
		echo(call("array_pop", vr("a"))),
		echo(call("array_shift", vr("a"))),
		exprS(call("array_unshift", vr("a"), num(0))),
		echo(str(" ")),
		echo(call("implode", str(","), vr("a"))),
	)
	if got != "31 0,2" {
		t.Errorf("output = %q, want %q", got, "31 0,2")
	}
}

func TestPopThenAppendReusesKey(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)), item(num(2)))),
		exprS(call("array_pop", vr("a"))),
		exprS(assign(&ast.Index{Array: vr("a"), Key: nil}, num(9))),
		echo(idx(vr("a"), num(1))),
	)
	if got != "9" {
		t.Errorf("output = %q, want 9", got)
	}
}

func TestArrayFlipReverseSlice(t *testing.T) {
	got := compileAndRun(t,
		echo(idx(call("array_flip", arrLit(kv(str("a"), num(0)))), num(0))),
		echo(str(" ")),
		echo(call("implode", str(","), call("array_reverse", arrLit(item(num(1)), item(num(2)), item(num(3)))))),
		echo(str(" ")),
		echo(call("implode", str(","), call("array_slice", arrLit(item(num(1)), item(num(2)), item(num(3)), item(num(4))), num(1), num(2)))),
	)
	if got != "a 3,2,1 2,3" {
		t.Errorf("output = %q, want %q", got, "a 3,2,1 2,3")
	}
}

// ---------------------------------------------------------------------------
// Type inspection and output
// ---------------------------------------------------------------------------

func TestGettype(t *testing.T) {
	cases := []struct {
		val  ast.Expr
		want string
	}{
		{nullV(), "NULL"},
		{boolV(true), "boolean"},
		{num(1), "integer"},
		{flt(1.5), "double"},
		{str("s"), "string"},
		{arrLit(), "array"},
	}
	for _, tc := range cases {
		got := compileAndRun(t, echo(call("gettype", tc.val)))
		if got != tc.want {
			t.Errorf("gettype = %q, want %q", got, tc.want)
		}
	}
}

func TestIsFamily(t *testing.T) {
	tf := func(fn string, arg ast.Expr) string {
		return compileAndRun(t, echo(&ast.Ternary{
			Cond: call(fn, arg), Then: str("T"), Else: str("F"),
		}))
	}
	if got := tf("is_int", num(1)); got != "T" {
		t.Errorf("is_int(1) = %q", got)
	}
	if got := tf("is_string", num(1)); got != "F" {
		t.Errorf("is_string(1) = %q", got)
	}
	if got := tf("is_array", arrLit()); got != "T" {
		t.Errorf("is_array([]) = %q", got)
	}
	if got := tf("is_null", nullV()); got != "T" {
		t.Errorf("is_null(null) = %q", got)
	}
	if got := tf("is_numeric", str("12.5")); got != "T" {
		t.Errorf("is_numeric(\"12.5\") = %q", got)
	}
	if got := tf("is_callable", closure(nil, nil, ret(num(1)))); got != "T" {
		t.Errorf("is_callable(closure) = %q", got)
	}
}

func TestIntvalStrvalFloatval(t *testing.T) {
	got := compileAndRun(t,
		echo(call("intval", str("42"))),
		echo(str(" ")),
		echo(call("floatval", str("1.5"))),
		echo(str(" ")),
		echo(call("strval", num(9))),
	)
	if got != "42 1.5 9" {
		t.Errorf("output = %q, want %q", got, "42 1.5 9")
	}
}

func TestExistenceChecks(t *testing.T) {
	got := compileAndRun(t,
		fun("declared", nil, ret(num(1))),
		&ast.ClassDecl{Name: "Crate", Methods: []ast.MethodDecl{method("m", nil, ret(num(1)))}},
		echo(&ast.Ternary{Cond: call("function_exists", str("declared")), Then: str("T"), Else: str("F")}),
		echo(&ast.Ternary{Cond: call("function_exists", str("ghost")), Then: str("T"), Else: str("F")}),
		echo(&ast.Ternary{Cond: call("class_exists", str("Crate")), Then: str("T"), Else: str("F")}),
		echo(&ast.Ternary{Cond: call("method_exists", str("Crate"), str("m")), Then: str("T"), Else: str("F")}),
		echo(&ast.Ternary{Cond: call("method_exists", str("Crate"), str("zz")), Then: str("T"), Else: str("F")}),
	)
	if got != "TFTTF" {
		t.Errorf("output = %q, want TFTTF", got)
	}
}

func TestVarDumpFormats(t *testing.T) {
	got := compileAndRun(t,
		exprS(call("var_dump", num(3))),
		exprS(call("var_dump", boolV(true))),
		exprS(call("var_dump", str("abc"))),
		exprS(call("var_dump", nullV())),
	)
	want := "int(3)\nbool(true)\nstring(3) \"abc\"\nNULL\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestVarDumpArray(t *testing.T) {
	got := compileAndRun(t,
		exprS(call("var_dump", arrLit(item(num(1)), kv(str("k"), str("v"))))),
	)
	want := "array(2) {\n" +
		"  [0]=>\n" +
		"  int(1)\n" +
		"  [\"k\"]=>\n" +
		"  string(1) \"v\"\n" +
		"}\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrintR(t *testing.T) {
	got := compileAndRun(t,
		exprS(call("print_r", arrLit(kv(str("k"), num(1))))),
	)
	want := "Array\n(\n    [k] => 1\n)\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrintRReturnMode(t *testing.T) {
	got := compileAndRun(t,
		set("s", call("print_r", num(5), boolV(true))),
		echo(str("[")),
		echo(vr("s")),
		echo(str("]")),
	)
	if got != "[5]" {
		t.Errorf("output = %q, want [5]", got)
	}
}
