package bytecode

import (
	"strings"
	"testing"

	"github.com/peridot-lang/peridot/pkg/ast"
)

func TestDisassembleHeader(t *testing.T) {
	code := NewCodeObject("demo")
	code.LocalCount = 2
	idx := code.AddConstant(StringConst("hi"))
	code.Emit(OpConst, idx)
	code.Emit(OpReturn)

	out := Disassemble(code)
	if !strings.HasPrefix(out, "== demo ==\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "locals=2 params=0") {
		t.Errorf("missing locals line: %q", out)
	}
	if !strings.Contains(out, "0000 CONST") {
		t.Errorf("missing CONST line: %q", out)
	}
	if !strings.Contains(out, `; "hi"`) {
		t.Errorf("missing constant note: %q", out)
	}
	if !strings.Contains(out, "RETURN") {
		t.Errorf("missing RETURN: %q", out)
	}
}

func TestDisassembleGeneratorFlagAndTryRegions(t *testing.T) {
	code := NewCodeObject("gen")
	code.IsGenerator = true
	region := code.AddTryRegion()
	code.Emit(OpTryPush, region)
	code.Emit(OpTryPop)
	code.Emit(OpReturnNull)
	code.TryRegions[region].Catches = []CatchClause{
		{Types: []string{"Exception", "Error"}, Slot: NoTarget, Target: 7},
	}
	code.TryRegions[region].FinallyTarget = 7

	out := Disassemble(code)
	if !strings.Contains(out, " generator\n") {
		t.Errorf("missing generator flag: %q", out)
	}
	if !strings.Contains(out, "try[0]: catch(Exception|Error)@0007 finally@0007") {
		t.Errorf("missing try region line: %q", out)
	}
}

func TestDisassembleLocalNames(t *testing.T) {
	code := NewCodeObject("f")
	code.LocalCount = 1
	code.LocalNames = []string{"total"}
	code.Emit(OpLoadLocal, 0)
	code.Emit(OpReturn)

	out := Disassemble(code)
	if !strings.Contains(out, "; $total") {
		t.Errorf("missing local note: %q", out)
	}
}

func TestDisassembleProgramCoversAllBodies(t *testing.T) {
	prog, err := Compile(&ast.Program{Stmts: []ast.Stmt{
		&ast.FunctionDecl{Name: "helper", Body: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.IntLit{Value: 1}},
		}},
		&ast.EchoStmt{Exprs: []ast.Expr{&ast.Call{
			Callee: &ast.Name{Value: "helper"},
		}}},
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out := DisassembleProgram(prog)
	if !strings.Contains(out, "== {main} ==") {
		t.Errorf("missing main section: %q", out)
	}
	if !strings.Contains(out, "== helper ==") {
		t.Errorf("missing helper section: %q", out)
	}
	if !strings.Contains(out, "CALL") {
		t.Errorf("missing CALL in main: %q", out)
	}
}
