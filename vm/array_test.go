package vm

import (
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
)

// ---------------------------------------------------------------------------
// Literals and keys
// ---------------------------------------------------------------------------

func TestArrayLiteralAndIndex(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(10)), item(num(20)), kv(str("k"), num(30)))),
		echo(idx(vr("a"), num(1))),
		echo(str(" ")),
		echo(idx(vr("a"), str("k"))),
	)
	if got != "20 30" {
		t.Errorf("output = %q, want %q", got, "20 30")
	}
}

func TestNextIntegerKeyFollowsExplicit(t *testing.T) {
	// Script: $a = [5 => "a", "b"]; echo array_key_last($a) stand-in via read.
	got := compileAndRun(t,
		set("a", arrLit(kv(num(5), str("a")), item(str("b")))),
		echo(idx(vr("a"), num(6))),
	)
	if got != "b" {
		t.Errorf("output = %q, want b", got)
	}
}

func TestAppendUsesNextKey(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit()),
		exprS(assign(&ast.Index{Array: vr("a"), Key: nil}, str("x"))),
		exprS(assign(&ast.Index{Array: vr("a"), Key: nil}, str("y"))),
		echo(idx(vr("a"), num(0))),
		echo(idx(vr("a"), num(1))),
	)
	if got != "xy" {
		t.Errorf("output = %q, want xy", got)
	}
}

func TestAppendAutovivifiesVariable(t *testing.T) {
	// $x[] = 1 on a never-assigned variable creates the array in place.
	got := compileAndRun(t,
		exprS(assign(&ast.Index{Array: vr("x"), Key: nil}, num(1))),
		echo(call("count", vr("x"))),
	)
	if got != "1" {
		t.Errorf("output = %q, want 1", got)
	}
}

func TestUndefinedArrayKeyRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		set("a", arrLit(item(num(1)))),
		echo(idx(vr("a"), num(9))),
	)
	assertClass(t, uncaught, "Error")
}

func TestIntegerLikeStringKeysCanonicalize(t *testing.T) {
	// "3" and 3 address the same slot.
	got := compileAndRun(t,
		set("a", arrLit(kv(str("3"), str("v")))),
		echo(idx(vr("a"), num(3))),
	)
	if got != "v" {
		t.Errorf("output = %q, want v", got)
	}
}

func TestNestedArrayWrite(t *testing.T) {
	got := compileAndRun(t,
		set("m", arrLit(kv(str("row"), arrLit(kv(str("col"), num(1)))))),
		exprS(assign(idx(idx(vr("m"), str("row")), str("col")), num(2))),
		echo(idx(idx(vr("m"), str("row")), str("col"))),
	)
	if got != "2" {
		t.Errorf("output = %q, want 2", got)
	}
}

// ---------------------------------------------------------------------------
// Copy on write
// ---------------------------------------------------------------------------

func TestArrayAssignmentCopies(t *testing.T) {
	// Script: $a = [1]; $b = $a; $b[0] = 9; echo $a[0], $b[0];
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)))),
		set("b", vr("a")),
		exprS(assign(idx(vr("b"), num(0)), num(9))),
		echo(idx(vr("a"), num(0))),
		echo(idx(vr("b"), num(0))),
	)
	if got != "19" {
		t.Errorf("output = %q, want 19", got)
	}
}

func TestArrayPassedByValueToFunction(t *testing.T) {
	got := compileAndRun(t,
		fun("mutate", params("arr"),
			exprS(assign(idx(vr("arr"), num(0)), num(99))),
		),
		set("a", arrLit(item(num(1)))),
		exprS(call("mutate", vr("a"))),
		echo(idx(vr("a"), num(0))),
	)
	if got != "1" {
		t.Errorf("output = %q, want 1", got)
	}
}

func TestArrayByRefParameterMutates(t *testing.T) {
	got := compileAndRun(t,
		fun("mutate", []ast.Param{{Name: "arr", ByRef: true}},
			exprS(assign(idx(vr("arr"), num(0)), num(99))),
		),
		set("a", arrLit(item(num(1)))),
		exprS(call("mutate", vr("a"))),
		echo(idx(vr("a"), num(0))),
	)
	if got != "99" {
		t.Errorf("output = %q, want 99", got)
	}
}

func TestArrayUnionKeepsLeft(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("x"), num(1)))),
		set("b", arrLit(kv(str("x"), num(2)), kv(str("y"), num(3)))),
		set("c", bin("+", vr("a"), vr("b"))),
		echo(idx(vr("c"), str("x"))),
		echo(idx(vr("c"), str("y"))),
	)
	if got != "13" {
		t.Errorf("output = %q, want 13", got)
	}
}

// ---------------------------------------------------------------------------
// foreach
// ---------------------------------------------------------------------------

func TestForeachValues(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)), item(num(2)), item(num(3)))),
		&ast.ForeachStmt{
			Subject:  vr("a"),
			ValueVar: "v",
			Body:     []ast.Stmt{echo(vr("v"))},
		},
	)
	if got != "123" {
		t.Errorf("output = %q, want 123", got)
	}
}

func TestForeachKeyValue(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("x"), num(1)), kv(str("y"), num(2)))),
		&ast.ForeachStmt{
			Subject:  vr("a"),
			KeyVar:   "k",
			ValueVar: "v",
			Body:     []ast.Stmt{echo(vr("k")), echo(str("=")), echo(vr("v")), echo(str(";"))},
		},
	)
	if got != "x=1;y=2;" {
		t.Errorf("output = %q, want %q", got, "x=1;y=2;")
	}
}

func TestForeachIteratesSnapshot(t *testing.T) {
	// Appending inside the loop does not extend this iteration.
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)), item(num(2)))),
		&ast.ForeachStmt{
			Subject:  vr("a"),
			ValueVar: "v",
			Body: []ast.Stmt{
				exprS(assign(&ast.Index{Array: vr("a"), Key: nil}, num(9))),
				echo(vr("v")),
			},
		},
	)
	if got != "12" {
		t.Errorf("output = %q, want 12", got)
	}
}

func TestForeachByRefWritesThrough(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(item(num(1)), item(num(2)), item(num(3)))),
		&ast.ForeachStmt{
			Subject:  vr("a"),
			ValueVar: "v",
			ByRef:    true,
			Body:     []ast.Stmt{exprS(assign(vr("v"), bin("*", vr("v"), num(10))))},
		},
		echo(call("implode", str(","), vr("a"))),
	)
	if got != "10,20,30" {
		t.Errorf("output = %q, want %q", got, "10,20,30")
	}
}

func TestForeachOverString(t *testing.T) {
	uncaught := compileAndFail(t,
		&ast.ForeachStmt{Subject: str("ab"), ValueVar: "c",
			Body: []ast.Stmt{echo(vr("c"))}},
	)
	assertClass(t, uncaught, "TypeError")
}

// ---------------------------------------------------------------------------
// isset / unset on elements
// ---------------------------------------------------------------------------

func TestIssetOnElements(t *testing.T) {
	tf := func(e ast.Expr) ast.Stmt {
		return echo(&ast.Ternary{
			Cond: &ast.Isset{Targets: []ast.Expr{e}},
			Then: str("T"), Else: str("F"),
		})
	}
	got := compileAndRun(t,
		set("a", arrLit(kv(str("set"), num(1)), kv(str("null"), nullV()))),
		tf(idx(vr("a"), str("set"))),
		tf(idx(vr("a"), str("null"))),
		tf(idx(vr("a"), str("absent"))),
	)
	if got != "TFF" {
		t.Errorf("output = %q, want TFF", got)
	}
}

func TestArrayKeyExistsSeesNull(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("null"), nullV()))),
		echo(&ast.Ternary{
			Cond: call("array_key_exists", str("null"), vr("a")),
			Then: str("T"), Else: str("F"),
		}),
	)
	if got != "T" {
		t.Errorf("output = %q, want T", got)
	}
}

func TestUnsetElement(t *testing.T) {
	got := compileAndRun(t,
		set("a", arrLit(kv(str("x"), num(1)), kv(str("y"), num(2)))),
		&ast.UnsetStmt{Targets: []ast.Expr{idx(vr("a"), str("x"))}},
		echo(call("count", vr("a"))),
		echo(&ast.Ternary{
			Cond: &ast.Isset{Targets: []ast.Expr{idx(vr("a"), str("x"))}},
			Then: str("T"), Else: str("F"),
		}),
	)
	if got != "1F" {
		t.Errorf("output = %q, want 1F", got)
	}
}

// ---------------------------------------------------------------------------
// String offsets
// ---------------------------------------------------------------------------

func TestStringIndexRead(t *testing.T) {
	got := compileAndRun(t,
		set("s", str("hello")),
		echo(idx(vr("s"), num(1))),
		echo(idx(vr("s"), &ast.Unary{Op: "-", Operand: num(1)})),
	)
	if got != "eo" {
		t.Errorf("output = %q, want eo", got)
	}
}

func TestStringIndexOutOfRangeRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		set("s", str("ab")),
		echo(idx(vr("s"), num(5))),
	)
	assertClass(t, uncaught, "Error")
}
