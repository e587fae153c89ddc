package vm

import (
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
)

func closure(ps []ast.Param, uses []ast.ClosureUse, body ...ast.Stmt) ast.Expr {
	return &ast.Closure{Params: ps, Uses: uses, Body: body}
}

func arrow(ps []ast.Param, body ast.Expr) ast.Expr {
	return &ast.Closure{Params: ps, Body: []ast.Stmt{ret(body)}, IsArrow: true}
}

func invoke(callee ast.Expr, argv ...ast.Expr) ast.Expr {
	return &ast.Call{Callee: callee, Args: callArgs(argv)}
}

func use(name string) ast.ClosureUse    { return ast.ClosureUse{Name: name} }
func useRef(name string) ast.ClosureUse { return ast.ClosureUse{Name: name, ByRef: true} }

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureCallAndParams(t *testing.T) {
	// Script: $add = function ($a, $b) { return $a + $b; }; echo $add(2, 3);
	got := compileAndRun(t,
		set("add", closure(params("a", "b"), nil, ret(bin("+", vr("a"), vr("b"))))),
		echo(invoke(vr("add"), num(2), num(3))),
	)
	if got != "5" {
		t.Errorf("output = %q, want 5", got)
	}
}

func TestClosureCapturesByValue(t *testing.T) {
	// The captured value is a snapshot taken when the closure is built.
	got := compileAndRun(t,
		set("n", num(1)),
		set("f", closure(nil, []ast.ClosureUse{use("n")}, ret(vr("n")))),
		set("n", num(99)),
		echo(invoke(vr("f"))),
	)
	if got != "1" {
		t.Errorf("output = %q, want 1", got)
	}
}

func TestClosureCapturesByRef(t *testing.T) {
	got := compileAndRun(t,
		set("n", num(0)),
		set("inc", closure(nil, []ast.ClosureUse{useRef("n")},
			exprS(assign(vr("n"), bin("+", vr("n"), num(1)))),
		)),
		exprS(invoke(vr("inc"))),
		exprS(invoke(vr("inc"))),
		echo(vr("n")),
	)
	if got != "2" {
		t.Errorf("output = %q, want 2", got)
	}
}

func TestClosureCaptureOfUnsetVariableIsNull(t *testing.T) {
	got := compileAndRun(t,
		set("f", closure(nil, []ast.ClosureUse{use("missing")},
			echo(&ast.Ternary{
				Cond: bin("===", vr("missing"), nullV()),
				Then: str("null"), Else: str("other"),
			}),
		)),
		exprS(invoke(vr("f"))),
	)
	if got != "null" {
		t.Errorf("output = %q, want null", got)
	}
}

func TestArrowFunctionAutoCapture(t *testing.T) {
	// Script: $k = 10; $mul = fn($n) => $n * $k; echo $mul(4);
	got := compileAndRun(t,
		set("k", num(10)),
		set("mul", arrow(params("n"), bin("*", vr("n"), vr("k")))),
		echo(invoke(vr("mul"), num(4))),
	)
	if got != "40" {
		t.Errorf("output = %q, want 40", got)
	}
}

func TestClosureCapturesThisInMethod(t *testing.T) {
	got := compileAndRun(t,
		&ast.ClassDecl{
			Name:  "Tag",
			Props: []ast.PropDecl{pubProp("label", str("inner"))},
			Methods: []ast.MethodDecl{
				method("maker", nil,
					ret(closure(nil, nil, ret(prop(this(), "label")))),
				),
			},
		},
		set("f", mcall(newE("Tag"), "maker")),
		echo(invoke(vr("f"))),
	)
	if got != "inner" {
		t.Errorf("output = %q, want inner", got)
	}
}

func TestClosureAsCallbackArgument(t *testing.T) {
	got := compileAndRun(t,
		set("out", call("array_map",
			closure(params("n"), nil, ret(bin("*", vr("n"), vr("n")))),
			arrLit(item(num(1)), item(num(2)), item(num(3))),
		)),
		echo(call("implode", str(","), vr("out"))),
	)
	if got != "1,4,9" {
		t.Errorf("output = %q, want 1,4,9", got)
	}
}

func TestStringCallable(t *testing.T) {
	got := compileAndRun(t,
		fun("shout", params("s"), ret(call("strtoupper", vr("s")))),
		set("cb", str("shout")),
		echo(invoke(vr("cb"), str("hey"))),
	)
	if got != "HEY" {
		t.Errorf("output = %q, want HEY", got)
	}
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

func TestAssignRefAliases(t *testing.T) {
	// Script: $a = 1; $b =& $a; $b = 5; echo $a;
	got := compileAndRun(t,
		set("a", num(1)),
		exprS(&ast.AssignRef{Target: vr("b"), Value: vr("a")}),
		set("b", num(5)),
		echo(vr("a")),
	)
	if got != "5" {
		t.Errorf("output = %q, want 5", got)
	}
}

func TestUnsetBreaksOneAlias(t *testing.T) {
	// unset() removes the local binding without disturbing the other alias.
	got := compileAndRun(t,
		set("a", num(7)),
		exprS(&ast.AssignRef{Target: vr("b"), Value: vr("a")}),
		&ast.UnsetStmt{Targets: []ast.Expr{vr("a")}},
		echo(vr("b")),
	)
	if got != "7" {
		t.Errorf("output = %q, want 7", got)
	}
}

func TestReferenceIntoArrayElement(t *testing.T) {
	got := compileAndRun(t,
		set("arr", arrLit(item(num(1)), item(num(2)))),
		exprS(&ast.AssignRef{Target: vr("r"), Value: idx(vr("arr"), num(0))}),
		set("r", num(9)),
		echo(idx(vr("arr"), num(0))),
	)
	if got != "9" {
		t.Errorf("output = %q, want 9", got)
	}
}

func TestGlobalStatementBindsByRef(t *testing.T) {
	// Script: $g = 1; function bump() { global $g; $g = $g + 1; } bump(); echo $g;
	got := compileAndRun(t,
		set("g", num(1)),
		fun("bump", nil,
			&ast.GlobalStmt{Names: []string{"g"}},
			exprS(assign(vr("g"), bin("+", vr("g"), num(1)))),
		),
		exprS(call("bump")),
		echo(vr("g")),
	)
	if got != "2" {
		t.Errorf("output = %q, want 2", got)
	}
}

func TestFunctionLocalsDoNotLeak(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("f", nil, set("local", num(1))),
		exprS(call("f")),
		echo(vr("local")),
	)
	assertClass(t, uncaught, "Error")
}

func TestClosureReturnedKeepsRefCell(t *testing.T) {
	// A by-ref upvalue stays live after the defining frame returns.
	got := compileAndRun(t,
		fun("counter", nil,
			set("n", num(0)),
			ret(closure(nil, []ast.ClosureUse{useRef("n")},
				exprS(assign(vr("n"), bin("+", vr("n"), num(1)))),
				ret(vr("n")),
			)),
		),
		set("c", call("counter")),
		exprS(invoke(vr("c"))),
		exprS(invoke(vr("c"))),
		echo(invoke(vr("c"))),
	)
	if got != "3" {
		t.Errorf("output = %q, want 3", got)
	}
}
