package bytecode

// Compiled declaration tables. The compiler lowers class-like declarations
// into these serializable records; the VM builds its runtime class model
// from them at registration. Trait members are already flattened into the
// using class by the time a ClassDecl exists, so the VM never sees traits.

// Visibility of a class member.
type Visibility uint8

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

// DeclKind distinguishes class-like declarations surviving compilation.
type DeclKind uint8

const (
	DeclClass DeclKind = iota
	DeclInterface
	DeclEnum
)

// ClassConstDecl is one class constant with its folded value.
type ClassConstDecl struct {
	Name  string   `cbor:"1,keyasint"`
	Value Constant `cbor:"2,keyasint"`
}

// PropDef is a property template. Default is evaluated once, at
// compilation, as a constant expression.
type PropDef struct {
	Name          string     `cbor:"1,keyasint"`
	Default       Constant   `cbor:"2,keyasint"`
	Visibility    Visibility `cbor:"3,keyasint"`
	HasSetVis     bool       `cbor:"4,keyasint,omitempty"`
	SetVisibility Visibility `cbor:"5,keyasint,omitempty"`
	Static        bool       `cbor:"6,keyasint,omitempty"`
	Readonly      bool       `cbor:"7,keyasint,omitempty"`
}

// MethodDef is one compiled method. Code is nil for abstract and interface
// methods.
type MethodDef struct {
	Name       string      `cbor:"1,keyasint"`
	Code       *CodeObject `cbor:"2,keyasint,omitempty"`
	Visibility Visibility  `cbor:"3,keyasint"`
	Static     bool        `cbor:"4,keyasint,omitempty"`
	Abstract   bool        `cbor:"5,keyasint,omitempty"`
	Final      bool        `cbor:"6,keyasint,omitempty"`
}

// EnumCaseDef is one enum case; HasValue marks backed enums.
type EnumCaseDef struct {
	Name     string   `cbor:"1,keyasint"`
	HasValue bool     `cbor:"2,keyasint,omitempty"`
	Value    Constant `cbor:"3,keyasint,omitempty"`
}

// ClassDecl is a compiled class, interface, or enum, with trait members
// flattened in and conflicts already resolved.
type ClassDecl struct {
	Kind       DeclKind         `cbor:"1,keyasint"`
	Name       string           `cbor:"2,keyasint"`
	Parent     string           `cbor:"3,keyasint,omitempty"`
	Interfaces []string         `cbor:"4,keyasint,omitempty"`
	Abstract   bool             `cbor:"5,keyasint,omitempty"`
	Final      bool             `cbor:"6,keyasint,omitempty"`
	Readonly   bool             `cbor:"7,keyasint,omitempty"`
	Consts     []ClassConstDecl `cbor:"8,keyasint,omitempty"`
	Props      []PropDef        `cbor:"9,keyasint,omitempty"`
	Methods    []MethodDef      `cbor:"10,keyasint,omitempty"`
	Cases      []EnumCaseDef    `cbor:"11,keyasint,omitempty"`
	Line       int              `cbor:"12,keyasint,omitempty"`
}

// FunctionInfo binds a declared function name to its code object.
type FunctionInfo struct {
	Name string      `cbor:"1,keyasint"`
	Code *CodeObject `cbor:"2,keyasint"`
}

// Program is a fully compiled unit ready for execution or serialization:
// the top-level body, hoisted functions and classes, and the code table
// holding closure bodies referenced by OpMakeClosure.
type Program struct {
	Version   uint16         `cbor:"1,keyasint"`
	Main      *CodeObject    `cbor:"2,keyasint"`
	Functions []FunctionInfo `cbor:"3,keyasint,omitempty"`
	Classes   []*ClassDecl   `cbor:"4,keyasint,omitempty"`
	Codes     []*CodeObject  `cbor:"5,keyasint,omitempty"`
}

// AllCode returns every code object in the program: main, functions,
// methods, and closures. Used by the verifier and the disassembler.
func (p *Program) AllCode() []*CodeObject {
	var out []*CodeObject
	if p.Main != nil {
		out = append(out, p.Main)
	}
	for _, f := range p.Functions {
		out = append(out, f.Code)
	}
	for _, cls := range p.Classes {
		for _, m := range cls.Methods {
			if m.Code != nil {
				out = append(out, m.Code)
			}
		}
	}
	out = append(out, p.Codes...)
	return out
}
