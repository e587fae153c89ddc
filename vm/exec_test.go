package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Test helpers: AST shorthand and runners
// ---------------------------------------------------------------------------

func num(n int64) ast.Expr    { return &ast.IntLit{Value: n} }
func flt(f float64) ast.Expr  { return &ast.FloatLit{Value: f} }
func str(s string) ast.Expr   { return &ast.StringLit{Value: s} }
func boolV(b bool) ast.Expr   { return &ast.BoolLit{Value: b} }
func nullV() ast.Expr         { return &ast.NullLit{} }
func vr(name string) ast.Expr { return &ast.Var{Name: name} }
func ident(s string) ast.Expr { return &ast.Name{Value: s} }

func bin(op string, l, r ast.Expr) ast.Expr {
	return &ast.Binary{Op: op, Left: l, Right: r}
}

func assign(target, value ast.Expr) ast.Expr {
	return &ast.Assign{Target: target, Value: value}
}

// set is the common `$name = value;` statement.
func set(name string, value ast.Expr) ast.Stmt {
	return &ast.ExprStmt{Expr: assign(vr(name), value)}
}

func echo(exprs ...ast.Expr) ast.Stmt { return &ast.EchoStmt{Exprs: exprs} }
func exprS(e ast.Expr) ast.Stmt       { return &ast.ExprStmt{Expr: e} }
func ret(v ast.Expr) ast.Stmt         { return &ast.ReturnStmt{Value: v} }

func callArgs(argv []ast.Expr) []ast.Arg {
	out := make([]ast.Arg, len(argv))
	for i, a := range argv {
		out[i] = ast.Arg{Value: a}
	}
	return out
}

func call(fn string, argv ...ast.Expr) ast.Expr {
	return &ast.Call{Callee: ident(fn), Args: callArgs(argv)}
}

func mcall(obj ast.Expr, method string, argv ...ast.Expr) ast.Expr {
	return &ast.MethodCall{Object: obj, Method: method, Args: callArgs(argv)}
}

func scall(class, method string, argv ...ast.Expr) ast.Expr {
	return &ast.StaticCall{Class: class, Method: method, Args: callArgs(argv)}
}

func newE(class string, argv ...ast.Expr) ast.Expr {
	return &ast.New{Class: class, Args: callArgs(argv)}
}

func prop(obj ast.Expr, name string) ast.Expr {
	return &ast.PropFetch{Object: obj, Name: name}
}

func idx(a, k ast.Expr) ast.Expr { return &ast.Index{Array: a, Key: k} }

func arrLit(items ...ast.ArrayItem) ast.Expr { return &ast.ArrayLit{Items: items} }
func item(v ast.Expr) ast.ArrayItem          { return ast.ArrayItem{Value: v} }
func kv(k, v ast.Expr) ast.ArrayItem         { return ast.ArrayItem{Key: k, Value: v} }

func fun(name string, params []ast.Param, body ...ast.Stmt) ast.Stmt {
	return &ast.FunctionDecl{Name: name, Params: params, Body: body}
}

func params(names ...string) []ast.Param {
	out := make([]ast.Param, len(names))
	for i, n := range names {
		out[i] = ast.Param{Name: n}
	}
	return out
}

func mustCompile(t *testing.T, stmts []ast.Stmt) *bytecode.Program {
	t.Helper()
	prog, err := bytecode.Compile(&ast.Program{Stmts: stmts})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return prog
}

// compileAndRun compiles top-level statements, runs them to completion, and
// returns everything written to stdout.
func compileAndRun(t *testing.T, stmts ...ast.Stmt) string {
	t.Helper()
	out, err := tryRun(t, Config{}, stmts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

// compileAndFail runs statements expecting an uncaught script throwable.
func compileAndFail(t *testing.T, stmts ...ast.Stmt) *UncaughtError {
	t.Helper()
	_, err := tryRun(t, Config{}, stmts)
	if err == nil {
		t.Fatal("run succeeded, want uncaught throwable")
	}
	var uncaught *UncaughtError
	if !errors.As(err, &uncaught) {
		t.Fatalf("run failed with %v, want *UncaughtError", err)
	}
	return uncaught
}

func tryRun(t *testing.T, cfg Config, stmts []ast.Stmt) (string, error) {
	t.Helper()
	prog := mustCompile(t, stmts)
	var out bytes.Buffer
	cfg.Stdout = &out
	machine, err := New(prog, cfg)
	if err != nil {
		t.Fatalf("vm: %v", err)
	}
	runErr := machine.Run(context.Background())
	return out.String(), runErr
}

func assertClass(t *testing.T, uncaught *UncaughtError, class string) {
	t.Helper()
	if uncaught.Exc.Class.Name != class {
		t.Errorf("uncaught %s: %v, want %s", uncaught.Exc.Class.Name, uncaught, class)
	}
}

// ---------------------------------------------------------------------------
// Literals, variables, operators
// ---------------------------------------------------------------------------

func TestEchoLiterals(t *testing.T) {
	// Script: echo 1, "a", true, false, null, 3.5;
	got := compileAndRun(t, echo(num(1), str("a"), boolV(true), boolV(false), nullV(), flt(3.5)))
	if got != "1a13.5" {
		t.Errorf("output = %q, want %q", got, "1a13.5")
	}
}

func TestVariablesAndArithmetic(t *testing.T) {
	// Script: $x = 6; $y = 7; echo $x * $y;
	got := compileAndRun(t,
		set("x", num(6)),
		set("y", num(7)),
		echo(bin("*", vr("x"), vr("y"))),
	)
	if got != "42" {
		t.Errorf("output = %q, want 42", got)
	}
}

func TestStringConcat(t *testing.T) {
	// Script: echo "foo" . "bar" . 7;
	got := compileAndRun(t, echo(bin(".", bin(".", str("foo"), str("bar")), num(7))))
	if got != "foobar7" {
		t.Errorf("output = %q, want foobar7", got)
	}
}

func TestStringInterpolation(t *testing.T) {
	// Script: $n = "world"; echo "hello $n!";
	got := compileAndRun(t,
		set("n", str("world")),
		echo(&ast.InterpString{Parts: []ast.Expr{str("hello "), vr("n"), str("!")}}),
	)
	if got != "hello world!" {
		t.Errorf("output = %q, want hello world!", got)
	}
}

func TestDivisionSemantics(t *testing.T) {
	// Division yields an int only when it is exact.
	got := compileAndRun(t,
		echo(bin("/", num(7), num(2))), echo(str(" ")),
		echo(bin("/", num(6), num(3))), echo(str(" ")),
		echo(bin("%", num(7), num(3))), echo(str(" ")),
		echo(bin("**", num(2), num(10))),
	)
	if got != "3.5 2 1 1024" {
		t.Errorf("output = %q, want %q", got, "3.5 2 1 1024")
	}
}

func TestIntegerOverflowPromotesToFloat(t *testing.T) {
	got := compileAndRun(t,
		echo(call("gettype", bin("+", num(9223372036854775807), num(1)))),
	)
	if got != "double" {
		t.Errorf("gettype = %q, want double", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	uncaught := compileAndFail(t, echo(bin("/", num(1), num(0))))
	assertClass(t, uncaught, "DivisionByZeroError")
}

func TestComparisonJuggling(t *testing.T) {
	check := func(cond ast.Expr) ast.Stmt {
		return echo(&ast.Ternary{Cond: cond, Then: str("T"), Else: str("F")})
	}
	got := compileAndRun(t,
		check(bin("==", num(1), str("1"))),   // numeric string compares numerically
		check(bin("==", str("abc"), num(0))), // non-numeric string compares as string
		check(bin("===", num(1), str("1"))),  // identity requires same type
		check(bin("!==", num(1), num(2))),
		echo(bin("<=>", num(1), num(2))),
	)
	if got != "TFFT-1" {
		t.Errorf("output = %q, want TFFT-1", got)
	}
}

func TestLogicalShortCircuit(t *testing.T) {
	// Script: function boom() { throw ... }  echo false && boom() ? "T" : "F";
	got := compileAndRun(t,
		fun("boom", nil, &ast.ThrowStmt{Expr: newE("Exception", str("reached"))}),
		echo(&ast.Ternary{
			Cond: bin("&&", boolV(false), call("boom")),
			Then: str("T"), Else: str("F"),
		}),
		echo(&ast.Ternary{
			Cond: bin("||", boolV(true), call("boom")),
			Then: str("T"), Else: str("F"),
		}),
	)
	if got != "FT" {
		t.Errorf("output = %q, want FT", got)
	}
}

func TestTernaryAndCoalesce(t *testing.T) {
	got := compileAndRun(t,
		echo(&ast.Ternary{Cond: str(""), Else: str("d")}), // short ternary
		echo(bin("??", nullV(), str("x"))),                // null coalesce
		echo(bin("??", vr("missing"), str("def"))),        // undefined var does not raise
		set("u", num(9)),
		echo(bin("??", vr("u"), str("no"))),
	)
	if got != "dxdef9" {
		t.Errorf("output = %q, want dxdef9", got)
	}
}

func TestCoalesceEvaluatesSubjectOnce(t *testing.T) {
	// Script: function k() { global $n; $n = $n + 1; return "x"; }
	//         $n = 0; $a = ["x" => 7];
	//         echo $a[k()] ?? "d"; echo $b[k()] ?? "d"; echo $n;
	got := compileAndRun(t,
		fun("k", nil,
			&ast.GlobalStmt{Names: []string{"n"}},
			exprS(assign(vr("n"), bin("+", vr("n"), num(1)))),
			ret(str("x")),
		),
		set("n", num(0)),
		set("a", arrLit(kv(str("x"), num(7)))),
		echo(bin("??", idx(vr("a"), call("k")), str("d"))),
		echo(str(" ")),
		echo(bin("??", idx(vr("b"), call("k")), str("d"))),
		echo(str(" ")),
		echo(vr("n")),
	)
	if got != "7 d 2" {
		t.Errorf("output = %q, want %q", got, "7 d 2")
	}
}

func TestCoalesceAssign(t *testing.T) {
	// Script: $a ??= 5; $a ??= 9; echo $a;
	got := compileAndRun(t,
		exprS(&ast.Assign{Target: vr("a"), Op: "??", Value: num(5)}),
		exprS(&ast.Assign{Target: vr("a"), Op: "??", Value: num(9)}),
		echo(vr("a")),
	)
	if got != "5" {
		t.Errorf("output = %q, want 5", got)
	}
}

func TestCompoundAssign(t *testing.T) {
	got := compileAndRun(t,
		set("x", num(10)),
		exprS(&ast.Assign{Target: vr("x"), Op: "+", Value: num(5)}),
		exprS(&ast.Assign{Target: vr("x"), Op: "*", Value: num(2)}),
		echo(vr("x")),
		set("s", str("a")),
		exprS(&ast.Assign{Target: vr("s"), Op: ".", Value: str("b")}),
		echo(vr("s")),
	)
	if got != "30ab" {
		t.Errorf("output = %q, want 30ab", got)
	}
}

func TestIncDec(t *testing.T) {
	// Script: $i = 5; echo $i++; echo $i; echo ++$i; echo --$i;
	got := compileAndRun(t,
		set("i", num(5)),
		echo(&ast.IncDec{Op: "++", Target: vr("i")}),
		echo(vr("i")),
		echo(&ast.IncDec{Op: "++", Prefix: true, Target: vr("i")}),
		echo(&ast.IncDec{Op: "--", Prefix: true, Target: vr("i")}),
	)
	if got != "5676" {
		t.Errorf("output = %q, want 5676", got)
	}
}

func TestBitwiseOperators(t *testing.T) {
	got := compileAndRun(t,
		echo(bin("&", num(6), num(3))), echo(str(" ")),
		echo(bin("|", num(6), num(3))), echo(str(" ")),
		echo(bin("^", num(6), num(3))), echo(str(" ")),
		echo(bin("<<", num(1), num(4))), echo(str(" ")),
		echo(bin(">>", num(16), num(2))),
	)
	if got != "2 7 5 16 4" {
		t.Errorf("output = %q, want %q", got, "2 7 5 16 4")
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestIfElseifElse(t *testing.T) {
	pick := func(n int64) ast.Stmt {
		return &ast.IfStmt{
			Cond: bin("<", num(n), num(0)),
			Then: []ast.Stmt{echo(str("neg"))},
			ElseIfs: []ast.ElseIf{
				{Cond: bin("==", num(n), num(0)), Body: []ast.Stmt{echo(str("zero"))}},
			},
			Else: []ast.Stmt{echo(str("pos"))},
		}
	}
	got := compileAndRun(t, pick(-3), pick(0), pick(9))
	if got != "negzeropos" {
		t.Errorf("output = %q, want negzeropos", got)
	}
}

func TestWhileLoop(t *testing.T) {
	// Script: $i = 1; $sum = 0; while ($i <= 5) { $sum += $i; $i++; } echo $sum;
	got := compileAndRun(t,
		set("i", num(1)),
		set("sum", num(0)),
		&ast.WhileStmt{
			Cond: bin("<=", vr("i"), num(5)),
			Body: []ast.Stmt{
				exprS(&ast.Assign{Target: vr("sum"), Op: "+", Value: vr("i")}),
				exprS(&ast.IncDec{Op: "++", Target: vr("i")}),
			},
		},
		echo(vr("sum")),
	)
	if got != "15" {
		t.Errorf("output = %q, want 15", got)
	}
}

func TestDoWhileRunsBodyFirst(t *testing.T) {
	got := compileAndRun(t,
		set("i", num(10)),
		&ast.DoWhileStmt{
			Body: []ast.Stmt{echo(str("x"))},
			Cond: bin("<", vr("i"), num(5)),
		},
	)
	if got != "x" {
		t.Errorf("output = %q, want x", got)
	}
}

func TestForLoop(t *testing.T) {
	got := compileAndRun(t,
		&ast.ForStmt{
			Init: assign(vr("i"), num(0)),
			Cond: bin("<", vr("i"), num(4)),
			Step: &ast.IncDec{Op: "++", Target: vr("i")},
			Body: []ast.Stmt{echo(vr("i"))},
		},
	)
	if got != "0123" {
		t.Errorf("output = %q, want 0123", got)
	}
}

func TestBreakContinueLevels(t *testing.T) {
	// Inner break 2 exits both loops; continue skips odd numbers.
	got := compileAndRun(t,
		&ast.ForStmt{
			Init: assign(vr("i"), num(0)),
			Cond: bin("<", vr("i"), num(10)),
			Step: &ast.IncDec{Op: "++", Target: vr("i")},
			Body: []ast.Stmt{
				&ast.IfStmt{
					Cond: bin("==", bin("%", vr("i"), num(2)), num(1)),
					Then: []ast.Stmt{&ast.ContinueStmt{Level: 1}},
				},
				&ast.ForStmt{
					Init: assign(vr("j"), num(0)),
					Cond: boolV(true),
					Body: []ast.Stmt{
						&ast.IfStmt{
							Cond: bin(">=", vr("i"), num(6)),
							Then: []ast.Stmt{&ast.BreakStmt{Level: 2}},
						},
						echo(vr("i")),
						&ast.BreakStmt{Level: 1},
					},
				},
			},
		},
		echo(str(".")),
	)
	if got != "024." {
		t.Errorf("output = %q, want 024.", got)
	}
}

func TestSwitchFallthroughAndDefault(t *testing.T) {
	sw := func(subject ast.Expr) ast.Stmt {
		return &ast.SwitchStmt{
			Subject: subject,
			Cases: []ast.SwitchCase{
				{Match: num(1), Body: []ast.Stmt{echo(str("one "))}}, // falls through
				{Match: num(2), Body: []ast.Stmt{echo(str("two ")), &ast.BreakStmt{Level: 1}}},
				{Match: nil, Body: []ast.Stmt{echo(str("other "))}},
			},
		}
	}
	got := compileAndRun(t, sw(num(1)), sw(num(2)), sw(num(99)))
	if got != "one two two other " {
		t.Errorf("output = %q, want %q", got, "one two two other ")
	}
}

func TestSwitchComparesLoosely(t *testing.T) {
	got := compileAndRun(t,
		&ast.SwitchStmt{
			Subject: str("1"),
			Cases: []ast.SwitchCase{
				{Match: num(1), Body: []ast.Stmt{echo(str("loose")), &ast.BreakStmt{Level: 1}}},
				{Match: nil, Body: []ast.Stmt{echo(str("default"))}},
			},
		},
	)
	if got != "loose" {
		t.Errorf("output = %q, want loose", got)
	}
}

func TestMatchExpression(t *testing.T) {
	m := func(subject ast.Expr) ast.Expr {
		return &ast.Match{
			Subject: subject,
			Arms: []ast.MatchArm{
				{Conds: []ast.Expr{num(1), num(2)}, Body: str("low")},
				{Conds: []ast.Expr{num(3)}, Body: str("three")},
				{Conds: nil, Body: str("hi")},
			},
		}
	}
	got := compileAndRun(t, echo(m(num(2))), echo(m(num(3))), echo(m(num(42))))
	if got != "lowthreehi" {
		t.Errorf("output = %q, want lowthreehi", got)
	}
}

func TestMatchIsStrict(t *testing.T) {
	// "1" does not match int 1; with no default the match throws.
	uncaught := compileAndFail(t,
		echo(&ast.Match{
			Subject: str("1"),
			Arms:    []ast.MatchArm{{Conds: []ast.Expr{num(1)}, Body: str("no")}},
		}),
	)
	assertClass(t, uncaught, "UnhandledMatchError")
}

func TestGotoForward(t *testing.T) {
	got := compileAndRun(t,
		echo(str("a")),
		&ast.GotoStmt{Label: "done"},
		echo(str("skipped")),
		&ast.LabelStmt{Name: "done"},
		echo(str("b")),
	)
	if got != "ab" {
		t.Errorf("output = %q, want ab", got)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestFunctionCallAndDefaults(t *testing.T) {
	// Script: function greet($name, $punct = "!") { return "hi " . $name . $punct; }
	got := compileAndRun(t,
		fun("greet",
			[]ast.Param{{Name: "name"}, {Name: "punct", Default: str("!")}},
			ret(bin(".", bin(".", str("hi "), vr("name")), vr("punct"))),
		),
		echo(call("greet", str("ana"))),
		echo(call("greet", str("bo"), str("?"))),
	)
	if got != "hi ana!hi bo?" {
		t.Errorf("output = %q, want %q", got, "hi ana!hi bo?")
	}
}

func TestFunctionHoisting(t *testing.T) {
	// Calls may precede the declaration in source order.
	got := compileAndRun(t,
		echo(call("later")),
		fun("later", nil, ret(str("ok"))),
	)
	if got != "ok" {
		t.Errorf("output = %q, want ok", got)
	}
}

func TestFunctionRecursion(t *testing.T) {
	got := compileAndRun(t,
		fun("fib", params("n"),
			&ast.IfStmt{
				Cond: bin("<", vr("n"), num(2)),
				Then: []ast.Stmt{ret(vr("n"))},
			},
			ret(bin("+",
				call("fib", bin("-", vr("n"), num(1))),
				call("fib", bin("-", vr("n"), num(2))),
			)),
		),
		echo(call("fib", num(10))),
	)
	if got != "55" {
		t.Errorf("fib(10) = %q, want 55", got)
	}
}

func TestFunctionVariadic(t *testing.T) {
	got := compileAndRun(t,
		fun("total",
			[]ast.Param{{Name: "base"}, {Name: "rest", Variadic: true}},
			set("sum", vr("base")),
			&ast.ForeachStmt{
				Subject:  vr("rest"),
				ValueVar: "v",
				Body: []ast.Stmt{
					exprS(&ast.Assign{Target: vr("sum"), Op: "+", Value: vr("v")}),
				},
			},
			ret(vr("sum")),
		),
		echo(call("total", num(1))),
		echo(str(" ")),
		echo(call("total", num(1), num(2), num(3), num(4))),
	)
	if got != "1 10" {
		t.Errorf("output = %q, want %q", got, "1 10")
	}
}

func TestNamedArguments(t *testing.T) {
	// Script: function sub($a, $b) { return $a - $b; } echo sub(b: 1, a: 10);
	got := compileAndRun(t,
		fun("sub", params("a", "b"), ret(bin("-", vr("a"), vr("b")))),
		echo(&ast.Call{Callee: ident("sub"), Args: []ast.Arg{
			{Name: "b", Value: num(1)},
			{Name: "a", Value: num(10)},
		}}),
	)
	if got != "9" {
		t.Errorf("output = %q, want 9", got)
	}
}

func TestUnknownNamedArgumentGoesIntoVariadic(t *testing.T) {
	// Script: function tail($first, ...$rest) { return $rest; }
	//         $r = tail(1, 2, extra: 9);
	got := compileAndRun(t,
		fun("tail",
			[]ast.Param{{Name: "first"}, {Name: "rest", Variadic: true}},
			ret(vr("rest")),
		),
		set("r", &ast.Call{Callee: ident("tail"), Args: []ast.Arg{
			{Value: num(1)},
			{Value: num(2)},
			{Name: "extra", Value: num(9)},
		}}),
		echo(idx(vr("r"), num(0))),
		echo(str(" ")),
		echo(idx(vr("r"), str("extra"))),
		echo(str(" ")),
		echo(call("count", vr("r"))),
	)
	if got != "2 9 2" {
		t.Errorf("output = %q, want %q", got, "2 9 2")
	}
}

func TestUnknownNamedArgumentWithoutVariadicRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("one", params("a"), ret(vr("a"))),
		exprS(&ast.Call{Callee: ident("one"), Args: []ast.Arg{
			{Value: num(1)},
			{Name: "zz", Value: num(2)},
		}}),
	)
	assertClass(t, uncaught, "ValueError")
}

func TestByRefParameter(t *testing.T) {
	// Script: function bump(&$x) { $x = $x + 1; } $n = 5; bump($n); echo $n;
	got := compileAndRun(t,
		fun("bump",
			[]ast.Param{{Name: "x", ByRef: true}},
			exprS(assign(vr("x"), bin("+", vr("x"), num(1)))),
		),
		set("n", num(5)),
		exprS(call("bump", vr("n"))),
		echo(vr("n")),
	)
	if got != "6" {
		t.Errorf("output = %q, want 6", got)
	}
}

func TestTooFewArguments(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("need2", params("a", "b"), ret(vr("a"))),
		exprS(call("need2", num(1))),
	)
	assertClass(t, uncaught, "ArgumentCountError")
}

func TestUndefinedFunction(t *testing.T) {
	uncaught := compileAndFail(t, exprS(call("no_such_function")))
	assertClass(t, uncaught, "Error")
	if uncaught.Error() != "PHP Fatal error: Uncaught Error: Call to undefined function no_such_function()" {
		t.Errorf("message = %q", uncaught.Error())
	}
}

func TestUndefinedVariableRaises(t *testing.T) {
	uncaught := compileAndFail(t, fun("f", nil, ret(vr("nope"))), exprS(call("f")))
	assertClass(t, uncaught, "Error")
}

func TestMaxCallDepth(t *testing.T) {
	stmts := []ast.Stmt{
		fun("loop", nil, ret(call("loop"))),
		exprS(call("loop")),
	}
	_, err := tryRun(t, Config{MaxCallDepth: 32}, stmts)
	var uncaught *UncaughtError
	if !errors.As(err, &uncaught) {
		t.Fatalf("run failed with %v, want *UncaughtError", err)
	}
	if uncaught.Exc.Class.Name != "Error" {
		t.Errorf("class = %s, want Error", uncaught.Exc.Class.Name)
	}
}

func TestUnsetAndIsset(t *testing.T) {
	check := func(e ast.Expr) ast.Stmt {
		return echo(&ast.Ternary{Cond: e, Then: str("T"), Else: str("F")})
	}
	got := compileAndRun(t,
		set("x", num(1)),
		check(&ast.Isset{Targets: []ast.Expr{vr("x")}}),
		&ast.UnsetStmt{Targets: []ast.Expr{vr("x")}},
		check(&ast.Isset{Targets: []ast.Expr{vr("x")}}),
		set("n", nullV()),
		check(&ast.Isset{Targets: []ast.Expr{vr("n")}}), // isset(null) is false
	)
	if got != "TFF" {
		t.Errorf("output = %q, want TFF", got)
	}
}
