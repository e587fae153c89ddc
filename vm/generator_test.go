package vm

import (
	"strings"
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
)

func yieldV(v ast.Expr) ast.Expr     { return &ast.Yield{Value: v} }
func yieldKV(k, v ast.Expr) ast.Expr { return &ast.Yield{Key: k, Value: v} }
func forEachValue(subject ast.Expr, body ...ast.Stmt) ast.Stmt {
	return &ast.ForeachStmt{Subject: subject, ValueVar: "v", Body: body}
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

func TestGeneratorForeach(t *testing.T) {
	// Script: function g() { yield 1; yield 2; yield 3; }
	//         foreach (g() as $v) echo $v;
	got := compileAndRun(t,
		fun("g", nil,
			exprS(yieldV(num(1))),
			exprS(yieldV(num(2))),
			exprS(yieldV(num(3))),
		),
		forEachValue(call("g"), echo(vr("v"))),
	)
	if got != "123" {
		t.Errorf("output = %q, want 123", got)
	}
}

func TestGeneratorAutoKeysContinueAfterExplicit(t *testing.T) {
	got := compileAndRun(t,
		fun("g", nil,
			exprS(yieldKV(num(5), str("a"))),
			exprS(yieldV(str("b"))),
		),
		&ast.ForeachStmt{
			Subject: call("g"), KeyVar: "k", ValueVar: "v",
			Body: []ast.Stmt{echo(vr("k")), echo(str(":")), echo(vr("v")), echo(str(" "))},
		},
	)
	if got != "5:a 6:b " {
		t.Errorf("output = %q, want %q", got, "5:a 6:b ")
	}
}

func TestGeneratorCurrentKeyNextValid(t *testing.T) {
	got := compileAndRun(t,
		fun("g", nil,
			exprS(yieldKV(str("first"), num(10))),
			exprS(yieldKV(str("second"), num(20))),
		),
		set("it", call("g")),
		echo(mcall(vr("it"), "key")),
		echo(str("=")),
		echo(mcall(vr("it"), "current")),
		exprS(mcall(vr("it"), "next")),
		echo(str(" ")),
		echo(mcall(vr("it"), "key")),
		echo(str("=")),
		echo(mcall(vr("it"), "current")),
		exprS(mcall(vr("it"), "next")),
		echo(&ast.Ternary{
			Cond: mcall(vr("it"), "valid"),
			Then: str(" live"), Else: str(" done"),
		}),
	)
	if got != "first=10 second=20 done" {
		t.Errorf("output = %q, want %q", got, "first=10 second=20 done")
	}
}

func TestGeneratorBodyRunsLazily(t *testing.T) {
	// No body code executes until the first advance.
	got := compileAndRun(t,
		fun("g", nil,
			echo(str("ran")),
			exprS(yieldV(num(1))),
		),
		set("it", call("g")),
		echo(str("idle ")),
		exprS(mcall(vr("it"), "current")),
	)
	if got != "idle ran" {
		t.Errorf("output = %q, want %q", got, "idle ran")
	}
}

func TestGeneratorSend(t *testing.T) {
	// Script: function g() { $got = yield 1; echo $got; yield 2; }
	//         $it = g(); echo $it->send("in"); // runs to first yield, delivers
	got := compileAndRun(t,
		fun("g", nil,
			set("got", yieldV(num(1))),
			echo(vr("got")),
			exprS(yieldV(num(2))),
		),
		set("it", call("g")),
		echo(mcall(vr("it"), "send", str("in"))),
	)
	if got != "in2" {
		t.Errorf("output = %q, want in2", got)
	}
}

func TestGeneratorReturnValue(t *testing.T) {
	got := compileAndRun(t,
		fun("g", nil,
			exprS(yieldV(num(1))),
			ret(str("end")),
		),
		set("it", call("g")),
		forEachValue(vr("it")),
		echo(mcall(vr("it"), "getReturn")),
	)
	if got != "end" {
		t.Errorf("output = %q, want end", got)
	}
}

func TestGeneratorGetReturnBeforeFinishRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("g", nil, exprS(yieldV(num(1)))),
		set("it", call("g")),
		exprS(mcall(vr("it"), "getReturn")),
	)
	assertClass(t, uncaught, "Exception")
	if !strings.Contains(uncaught.Error(), "hasn't returned") {
		t.Errorf("message = %q", uncaught.Error())
	}
}

func TestGeneratorRewindAfterAdvanceRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("g", nil, exprS(yieldV(num(1))), exprS(yieldV(num(2)))),
		set("it", call("g")),
		exprS(mcall(vr("it"), "next")),
		exprS(mcall(vr("it"), "rewind")),
	)
	assertClass(t, uncaught, "Exception")
	if !strings.Contains(uncaught.Error(), "already run") {
		t.Errorf("message = %q", uncaught.Error())
	}
}

func TestGeneratorThrowCaughtInside(t *testing.T) {
	got := compileAndRun(t,
		fun("g", nil,
			&ast.TryStmt{
				Body: []ast.Stmt{exprS(yieldV(num(1)))},
				Catches: []ast.CatchClause{{
					Types: []string{"Exception"}, Var: "e",
					Body: []ast.Stmt{echo(mcall(vr("e"), "getMessage"))},
				}},
			},
			exprS(yieldV(num(2))),
		),
		set("it", call("g")),
		exprS(mcall(vr("it"), "current")),
		echo(mcall(vr("it"), "throw", newE("Exception", str("poke")))),
	)
	if got != "poke2" {
		t.Errorf("output = %q, want poke2", got)
	}
}

func TestGeneratorExplicitKeyAfterThrowAdvancesAutoKey(t *testing.T) {
	// Script: function g() { try { yield "a"; } catch (Exception $e) {}
	//         yield 5 => "b"; yield "c"; }
	// The explicit key delivered on the resume after the caught throw
	// must advance the auto key like any other yield.
	got := compileAndRun(t,
		fun("g", nil,
			&ast.TryStmt{
				Body:    []ast.Stmt{exprS(yieldV(str("a")))},
				Catches: []ast.CatchClause{{Types: []string{"Exception"}, Var: "e"}},
			},
			exprS(yieldKV(num(5), str("b"))),
			exprS(yieldV(str("c"))),
		),
		set("it", call("g")),
		exprS(mcall(vr("it"), "current")),
		exprS(mcall(vr("it"), "throw", newE("Exception", str("x")))),
		echo(mcall(vr("it"), "key")),
		exprS(mcall(vr("it"), "next")),
		echo(str(" ")),
		echo(mcall(vr("it"), "key")),
	)
	if got != "5 6" {
		t.Errorf("output = %q, want %q", got, "5 6")
	}
}

func TestGeneratorThrowUncaughtPropagates(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("g", nil, exprS(yieldV(num(1)))),
		set("it", call("g")),
		exprS(mcall(vr("it"), "current")),
		exprS(mcall(vr("it"), "throw", newE("Exception", str("boom")))),
	)
	assertClass(t, uncaught, "Exception")
}

func TestGeneratorThrowRequiresThrowable(t *testing.T) {
	uncaught := compileAndFail(t,
		fun("g", nil, exprS(yieldV(num(1)))),
		exprS(mcall(call("g"), "throw", num(3))),
	)
	assertClass(t, uncaught, "TypeError")
}

func TestYieldFromDelegates(t *testing.T) {
	// Script: function inner() { yield 1; yield 2; return 9; }
	//         function outer() { $r = yield from inner(); yield $r; }
	got := compileAndRun(t,
		fun("inner", nil,
			exprS(yieldV(num(1))),
			exprS(yieldV(num(2))),
			ret(num(9)),
		),
		fun("outer", nil,
			set("r", &ast.YieldFrom{Expr: call("inner")}),
			exprS(yieldV(vr("r"))),
		),
		forEachValue(call("outer"), echo(vr("v"))),
	)
	if got != "129" {
		t.Errorf("output = %q, want 129", got)
	}
}

func TestYieldFromArray(t *testing.T) {
	got := compileAndRun(t,
		fun("g", nil,
			exprS(&ast.YieldFrom{Expr: arrLit(item(num(1)), item(num(2)))}),
			exprS(yieldV(num(3))),
		),
		forEachValue(call("g"), echo(vr("v"))),
	)
	if got != "123" {
		t.Errorf("output = %q, want 123", got)
	}
}

// ---------------------------------------------------------------------------
// Fibers
// ---------------------------------------------------------------------------

func TestFiberStartSuspendResume(t *testing.T) {
	// Script: $f = new Fiber(function ($x) {
	//             $y = Fiber::suspend($x + 1);
	//             return $y * 10;
	//         });
	//         echo $f->start(1);       // 2
	//         echo $f->resume(5);      // completion: null prints nothing
	//         echo $f->getReturn();    // 50
	got := compileAndRun(t,
		set("f", newE("Fiber", closure(params("x"), nil,
			set("y", scall("Fiber", "suspend", bin("+", vr("x"), num(1)))),
			ret(bin("*", vr("y"), num(10))),
		))),
		echo(mcall(vr("f"), "start", num(1))),
		echo(mcall(vr("f"), "resume", num(5))),
		echo(mcall(vr("f"), "getReturn")),
	)
	if got != "250" {
		t.Errorf("output = %q, want 250", got)
	}
}

func TestFiberStateQueries(t *testing.T) {
	state := func(f ast.Expr) ast.Stmt {
		flag := func(m string) ast.Expr {
			return &ast.Ternary{Cond: mcall(f, m), Then: str("1"), Else: str("0")}
		}
		return echo(bin(".", bin(".", flag("isStarted"), flag("isSuspended")), flag("isTerminated")))
	}
	got := compileAndRun(t,
		set("f", newE("Fiber", closure(nil, nil,
			exprS(scall("Fiber", "suspend")),
		))),
		state(vr("f")),
		exprS(mcall(vr("f"), "start")),
		state(vr("f")),
		exprS(mcall(vr("f"), "resume")),
		state(vr("f")),
	)
	if got != "000110101" {
		t.Errorf("output = %q, want 000110101", got)
	}
}

func TestFiberDoubleStartRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		set("f", newE("Fiber", closure(nil, nil, ret(num(1))))),
		exprS(mcall(vr("f"), "start")),
		exprS(mcall(vr("f"), "start")),
	)
	assertClass(t, uncaught, "FiberError")
}

func TestFiberResumeNotSuspendedRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		set("f", newE("Fiber", closure(nil, nil, ret(num(1))))),
		exprS(mcall(vr("f"), "resume")),
	)
	assertClass(t, uncaught, "FiberError")
}

func TestFiberSuspendOutsideFiberRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		exprS(scall("Fiber", "suspend")),
	)
	assertClass(t, uncaught, "FiberError")
}

func TestFiberGetReturnBeforeCompletionRaises(t *testing.T) {
	uncaught := compileAndFail(t,
		set("f", newE("Fiber", closure(nil, nil,
			exprS(scall("Fiber", "suspend")),
		))),
		exprS(mcall(vr("f"), "start")),
		exprS(mcall(vr("f"), "getReturn")),
	)
	assertClass(t, uncaught, "FiberError")
}

func TestFiberSuspendInsideCalledFunction(t *testing.T) {
	// suspend works from any depth of the fiber's own call stack.
	got := compileAndRun(t,
		fun("pause", nil, ret(scall("Fiber", "suspend", str("deep")))),
		set("f", newE("Fiber", closure(nil, nil,
			echo(call("pause")),
		))),
		echo(mcall(vr("f"), "start")),
		exprS(mcall(vr("f"), "resume", str("back"))),
	)
	if got != "deepback" {
		t.Errorf("output = %q, want deepback", got)
	}
}
