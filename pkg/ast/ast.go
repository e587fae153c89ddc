// Package ast defines the node shapes produced by the external Peridot
// parser. The compiler consumes these types; it never constructs them.
//
// Node shapes are fixed: every statement, expression, and declaration the
// parser can emit is represented here as a plain struct. Positions are
// 1-based source coordinates carried through to compile errors.
package ast

import "fmt"

// Position is a source location (1-based line and column).
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is implemented by every AST node.
type Node interface {
	Pos() Position
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Program is a parsed compilation unit: top-level statements plus hoisted
// function and class declarations.
type Program struct {
	Stmts []Stmt
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// EchoStmt writes each expression to standard output.
type EchoStmt struct {
	Position Position
	Exprs    []Expr
}

// ExprStmt evaluates an expression and discards the result.
type ExprStmt struct {
	Position Position
	Expr     Expr
}

// BlockStmt is an explicit `{ ... }` group.
type BlockStmt struct {
	Position Position
	Stmts    []Stmt
}

// ElseIf is one `elseif` arm of an IfStmt.
type ElseIf struct {
	Cond Expr
	Body []Stmt
}

// IfStmt is `if / elseif* / else?`.
type IfStmt struct {
	Position Position
	Cond     Expr
	Then     []Stmt
	ElseIfs  []ElseIf
	Else     []Stmt
}

// WhileStmt is a pre-tested loop.
type WhileStmt struct {
	Position Position
	Cond     Expr
	Body     []Stmt
}

// DoWhileStmt is a post-tested loop.
type DoWhileStmt struct {
	Position Position
	Body     []Stmt
	Cond     Expr
}

// ForStmt is a C-style loop. Init, Cond and Step may each be nil.
type ForStmt struct {
	Position Position
	Init     Expr
	Cond     Expr
	Step     Expr
	Body     []Stmt
}

// ForeachStmt iterates an array or generator. KeyVar is empty when no key
// binding was written. ByRef makes ValueVar an alias into the subject.
type ForeachStmt struct {
	Position Position
	Subject  Expr
	KeyVar   string
	ValueVar string
	ByRef    bool
	Body     []Stmt
}

// SwitchCase is one arm of a SwitchStmt; Match nil marks `default`.
type SwitchCase struct {
	Match Expr
	Body  []Stmt
}

// SwitchStmt compares the subject against each case with loose equality and
// falls through until a break.
type SwitchStmt struct {
	Position Position
	Subject  Expr
	Cases    []SwitchCase
}

// BreakStmt exits Level enclosing loops/switches (Level >= 1).
type BreakStmt struct {
	Position Position
	Level    int
}

// ContinueStmt re-tests Level enclosing loops (Level >= 1).
type ContinueStmt struct {
	Position Position
	Level    int
}

// ReturnStmt returns Value, or null when Value is nil.
type ReturnStmt struct {
	Position Position
	Value    Expr
}

// GlobalStmt binds the named variables to the global table by reference.
type GlobalStmt struct {
	Position Position
	Names    []string
}

// ThrowStmt raises an exception object.
type ThrowStmt struct {
	Position Position
	Expr     Expr
}

// CatchClause catches any of Types, binding the exception to Var
// (Var may be empty for a capture-less catch).
type CatchClause struct {
	Types []string
	Var   string
	Body  []Stmt
}

// TryStmt is try/catch*/finally?.
type TryStmt struct {
	Position Position
	Body     []Stmt
	Catches  []CatchClause
	Finally  []Stmt
}

// GotoStmt jumps to a label in the same function scope.
type GotoStmt struct {
	Position Position
	Label    string
}

// LabelStmt declares a goto target.
type LabelStmt struct {
	Position Position
	Name     string
}

// UnsetStmt destroys variables, array elements, or properties.
type UnsetStmt struct {
	Position Position
	Targets  []Expr
}

// Param describes one declared parameter.
type Param struct {
	Name     string
	Default  Expr // nil when required
	ByRef    bool
	Variadic bool
}

// FunctionDecl declares a named global function. Declarations are hoisted:
// a call may precede the declaration in source order.
type FunctionDecl struct {
	Position Position
	Name     string
	Params   []Param
	Body     []Stmt
}

// Visibility of a class member.
type Visibility int

const (
	Public Visibility = iota
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Protected:
		return "protected"
	case Private:
		return "private"
	default:
		return "public"
	}
}

// ClassKind distinguishes the class-like declarations.
type ClassKind int

const (
	KindClass ClassKind = iota
	KindInterface
	KindTrait
	KindEnum
)

// ConstDecl is a class constant.
type ConstDecl struct {
	Name  string
	Value Expr
}

// PropDecl is a property template. SetVisibility is the asymmetric write
// visibility; Public (the zero value) with AsymmetricSet false means the
// write scope equals the read scope.
type PropDecl struct {
	Name          string
	Default       Expr // nil means null
	Visibility    Visibility
	AsymmetricSet bool
	SetVisibility Visibility
	Static        bool
	Readonly      bool
}

// MethodDecl is a method body. Override marks an explicit override
// annotation that must resolve against the parent/interface surface.
type MethodDecl struct {
	Name       string
	Params     []Param
	Body       []Stmt // nil for abstract/interface methods
	Visibility Visibility
	Static     bool
	Abstract   bool
	Final      bool
	Override   bool
}

// EnumCase is one case of an enum declaration. Value is nil for pure enums.
type EnumCase struct {
	Name  string
	Value Expr
}

// ClassDecl declares a class, interface, trait, or enum.
type ClassDecl struct {
	Position   Position
	Kind       ClassKind
	Name       string
	Parent     string   // empty when none
	Interfaces []string // implements / interface extends
	Uses       []string // trait names, in declaration order
	Abstract   bool
	Final      bool
	Readonly   bool // readonly class: every declared property is readonly
	Consts     []ConstDecl
	Props      []PropDecl
	Methods    []MethodDecl
	Cases      []EnumCase
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IntLit is an integer literal.
type IntLit struct {
	Position Position
	Value    int64
}

// FloatLit is a float literal.
type FloatLit struct {
	Position Position
	Value    float64
}

// StringLit is a single-quoted (non-interpolated) string literal.
type StringLit struct {
	Position Position
	Value    string
}

// InterpString is a double-quoted string: literal and expression parts
// concatenated in order.
type InterpString struct {
	Position Position
	Parts    []Expr
}

// BoolLit is true or false.
type BoolLit struct {
	Position Position
	Value    bool
}

// NullLit is the null literal.
type NullLit struct {
	Position Position
}

// ArrayItem is one element of an array literal; Key nil means append.
type ArrayItem struct {
	Key   Expr
	Value Expr
}

// ArrayLit is `[...]` / `array(...)`.
type ArrayLit struct {
	Position Position
	Items    []ArrayItem
}

// Var is a variable reference. `$this` parses as Var{Name: "this"}.
type Var struct {
	Position Position
	Name     string
}

// Assign is `target op= value`; Op is empty for plain assignment, otherwise
// the compound operator ("+", "-", "*", "/", "%", ".", "**", "??").
type Assign struct {
	Position Position
	Target   Expr
	Op       string
	Value    Expr
}

// AssignRef is `$a =& $b`.
type AssignRef struct {
	Position Position
	Target   Expr
	Value    Expr
}

// Binary is a binary operator expression. Operators: arithmetic
// ("+","-","*","/","%","**","."), comparison ("==","!=","===","!==","<",
// "<=",">",">=","<=>"), logical ("&&","||"), coalesce ("??"), bitwise
// ("&","|","^","<<",">>").
type Binary struct {
	Position Position
	Op       string
	Left     Expr
	Right    Expr
}

// Unary is "-", "+", "!", or "~".
type Unary struct {
	Position Position
	Op       string
	Operand  Expr
}

// IncDec is `++`/`--`, prefix or postfix.
type IncDec struct {
	Position Position
	Op       string // "++" or "--"
	Prefix   bool
	Target   Expr
}

// Ternary is `cond ? then : else`; Then nil is the short form `cond ?: else`.
type Ternary struct {
	Position Position
	Cond     Expr
	Then     Expr
	Else     Expr
}

// Index is `$arr[key]`. Key must not be nil in a read context.
type Index struct {
	Position Position
	Array    Expr
	Key      Expr // nil only as an assignment target: `$a[] = v`
}

// Name is a bare identifier used as a function designator or constant.
type Name struct {
	Position Position
	Value    string
}

// Arg is one call argument; Name is non-empty for named arguments.
type Arg struct {
	Name  string
	Value Expr
}

// Call invokes Callee. A Name callee resolves to a declared function or,
// failing that, a builtin; any other callee is evaluated to a callable.
type Call struct {
	Position Position
	Callee   Expr
	Args     []Arg
}

// MethodCall is `$obj->method(...)`.
type MethodCall struct {
	Position Position
	Object   Expr
	Method   string
	Args     []Arg
}

// StaticCall is `Cls::method(...)`; Class may be "self", "parent", "static".
type StaticCall struct {
	Position Position
	Class    string
	Method   string
	Args     []Arg
}

// New is `new Cls(...)`; Class may be "self", "parent", "static".
type New struct {
	Position Position
	Class    string
	Args     []Arg
}

// PropFetch is `$obj->name`.
type PropFetch struct {
	Position Position
	Object   Expr
	Name     string
}

// StaticPropFetch is `Cls::$name`.
type StaticPropFetch struct {
	Position Position
	Class    string
	Name     string
}

// ClassConstFetch is `Cls::NAME`; NAME "class" yields the class name.
type ClassConstFetch struct {
	Position Position
	Class    string
	Name     string
}

// ClosureUse is one `use (...)` capture of a closure.
type ClosureUse struct {
	Name  string
	ByRef bool
}

// Closure is an anonymous function. IsArrow marks `fn(...) => expr` bodies,
// which capture their free variables by value automatically.
type Closure struct {
	Position Position
	Params   []Param
	Uses     []ClosureUse
	Body     []Stmt
	IsArrow  bool
}

// MatchArm is one arm of a match expression; Conds nil marks `default`.
type MatchArm struct {
	Conds []Expr
	Body  Expr
}

// Match is a match expression: strict comparison, no fallthrough,
// UnhandledMatchError when nothing matches.
type Match struct {
	Position Position
	Subject  Expr
	Arms     []MatchArm
}

// Yield suspends the enclosing generator. Key and Value may each be nil.
type Yield struct {
	Position Position
	Key      Expr
	Value    Expr
}

// YieldFrom delegates to an inner iterable.
type YieldFrom struct {
	Position Position
	Expr     Expr
}

// InstanceOf is `$x instanceof Cls`.
type InstanceOf struct {
	Position Position
	Object   Expr
	Class    string
}

// Isset is `isset(...)` over variables, elements, or properties.
type Isset struct {
	Position Position
	Targets  []Expr
}

// Clone is `clone $obj` (shallow property copy).
type Clone struct {
	Position Position
	Operand  Expr
}

// ---------------------------------------------------------------------------
// Interface plumbing
// ---------------------------------------------------------------------------

func (s *EchoStmt) Pos() Position     { return s.Position }
func (s *ExprStmt) Pos() Position     { return s.Position }
func (s *BlockStmt) Pos() Position    { return s.Position }
func (s *IfStmt) Pos() Position       { return s.Position }
func (s *WhileStmt) Pos() Position    { return s.Position }
func (s *DoWhileStmt) Pos() Position  { return s.Position }
func (s *ForStmt) Pos() Position      { return s.Position }
func (s *ForeachStmt) Pos() Position  { return s.Position }
func (s *SwitchStmt) Pos() Position   { return s.Position }
func (s *BreakStmt) Pos() Position    { return s.Position }
func (s *ContinueStmt) Pos() Position { return s.Position }
func (s *ReturnStmt) Pos() Position   { return s.Position }
func (s *GlobalStmt) Pos() Position   { return s.Position }
func (s *ThrowStmt) Pos() Position    { return s.Position }
func (s *TryStmt) Pos() Position      { return s.Position }
func (s *GotoStmt) Pos() Position     { return s.Position }
func (s *LabelStmt) Pos() Position    { return s.Position }
func (s *UnsetStmt) Pos() Position    { return s.Position }
func (s *FunctionDecl) Pos() Position { return s.Position }
func (s *ClassDecl) Pos() Position    { return s.Position }

func (*EchoStmt) stmtNode()     {}
func (*ExprStmt) stmtNode()     {}
func (*BlockStmt) stmtNode()    {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*DoWhileStmt) stmtNode()  {}
func (*ForStmt) stmtNode()      {}
func (*ForeachStmt) stmtNode()  {}
func (*SwitchStmt) stmtNode()   {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*ReturnStmt) stmtNode()   {}
func (*GlobalStmt) stmtNode()   {}
func (*ThrowStmt) stmtNode()    {}
func (*TryStmt) stmtNode()      {}
func (*GotoStmt) stmtNode()     {}
func (*LabelStmt) stmtNode()    {}
func (*UnsetStmt) stmtNode()    {}
func (*FunctionDecl) stmtNode() {}
func (*ClassDecl) stmtNode()    {}

func (e *IntLit) Pos() Position          { return e.Position }
func (e *FloatLit) Pos() Position        { return e.Position }
func (e *StringLit) Pos() Position       { return e.Position }
func (e *InterpString) Pos() Position    { return e.Position }
func (e *BoolLit) Pos() Position         { return e.Position }
func (e *NullLit) Pos() Position         { return e.Position }
func (e *ArrayLit) Pos() Position        { return e.Position }
func (e *Var) Pos() Position             { return e.Position }
func (e *Assign) Pos() Position          { return e.Position }
func (e *AssignRef) Pos() Position       { return e.Position }
func (e *Binary) Pos() Position          { return e.Position }
func (e *Unary) Pos() Position           { return e.Position }
func (e *IncDec) Pos() Position          { return e.Position }
func (e *Ternary) Pos() Position         { return e.Position }
func (e *Index) Pos() Position           { return e.Position }
func (e *Name) Pos() Position            { return e.Position }
func (e *Call) Pos() Position            { return e.Position }
func (e *MethodCall) Pos() Position      { return e.Position }
func (e *StaticCall) Pos() Position      { return e.Position }
func (e *New) Pos() Position             { return e.Position }
func (e *PropFetch) Pos() Position       { return e.Position }
func (e *StaticPropFetch) Pos() Position { return e.Position }
func (e *ClassConstFetch) Pos() Position { return e.Position }
func (e *Closure) Pos() Position         { return e.Position }
func (e *Match) Pos() Position           { return e.Position }
func (e *Yield) Pos() Position           { return e.Position }
func (e *YieldFrom) Pos() Position       { return e.Position }
func (e *InstanceOf) Pos() Position      { return e.Position }
func (e *Isset) Pos() Position           { return e.Position }
func (e *Clone) Pos() Position           { return e.Position }

func (*IntLit) exprNode()          {}
func (*FloatLit) exprNode()        {}
func (*StringLit) exprNode()       {}
func (*InterpString) exprNode()    {}
func (*BoolLit) exprNode()         {}
func (*NullLit) exprNode()         {}
func (*ArrayLit) exprNode()        {}
func (*Var) exprNode()             {}
func (*Assign) exprNode()          {}
func (*AssignRef) exprNode()       {}
func (*Binary) exprNode()          {}
func (*Unary) exprNode()           {}
func (*IncDec) exprNode()          {}
func (*Ternary) exprNode()         {}
func (*Index) exprNode()           {}
func (*Name) exprNode()            {}
func (*Call) exprNode()            {}
func (*MethodCall) exprNode()      {}
func (*StaticCall) exprNode()      {}
func (*New) exprNode()             {}
func (*PropFetch) exprNode()       {}
func (*StaticPropFetch) exprNode() {}
func (*ClassConstFetch) exprNode() {}
func (*Closure) exprNode()         {}
func (*Match) exprNode()           {}
func (*Yield) exprNode()           {}
func (*YieldFrom) exprNode()       {}
func (*InstanceOf) exprNode()      {}
func (*Isset) exprNode()           {}
func (*Clone) exprNode()           {}
