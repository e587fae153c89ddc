package bytecode

import (
	"strings"

	"github.com/peridot-lang/peridot/pkg/ast"
)

// compileClass lowers one class, interface, or enum declaration. Traits
// named in `use` clauses are flattened into the declaration here; the
// emitted ClassDecl carries the merged member set and the VM never sees
// trait boundaries.
func (c *Compiler) compileClass(d *ast.ClassDecl) *ClassDecl {
	decl := &ClassDecl{
		Name:       d.Name,
		Parent:     d.Parent,
		Interfaces: d.Interfaces,
		Abstract:   d.Abstract,
		Final:      d.Final,
		Readonly:   d.Readonly,
		Line:       d.Position.Line,
	}
	switch d.Kind {
	case ast.KindInterface:
		decl.Kind = DeclInterface
	case ast.KindEnum:
		decl.Kind = DeclEnum
	default:
		decl.Kind = DeclClass
	}

	merged := c.flattenTraits(d)

	seen := make(map[string]string) // lower-cased member name -> member kind
	defineMember := func(kind, name string) bool {
		key := kind + ":" + strings.ToLower(name)
		if _, dup := seen[key]; dup {
			c.errorf(d.Position, "cannot redeclare %s %s::%s", kind, d.Name, name)
			return false
		}
		seen[key] = kind
		return true
	}

	for _, cd := range merged.consts {
		if !defineMember("constant", cd.Name) {
			continue
		}
		k, err := c.foldConstExpr(cd.Value)
		if err != nil {
			c.errorf(d.Position, "constant %s::%s: %v", d.Name, cd.Name, err)
			continue
		}
		decl.Consts = append(decl.Consts, ClassConstDecl{Name: cd.Name, Value: k})
	}

	for _, pd := range merged.props {
		if !defineMember("property", pd.Name) {
			continue
		}
		decl.Props = append(decl.Props, c.compileProp(d, pd))
	}

	for _, md := range merged.methods {
		if !defineMember("method", md.Name) {
			continue
		}
		if def, ok := c.compileMethod(d, md); ok {
			decl.Methods = append(decl.Methods, def)
		}
	}

	c.compileEnumCases(d, decl)
	return decl
}

func (c *Compiler) compileProp(d *ast.ClassDecl, pd ast.PropDecl) PropDef {
	def := PropDef{
		Name:          pd.Name,
		Default:       NullConst(),
		Visibility:    Visibility(pd.Visibility),
		HasSetVis:     pd.AsymmetricSet,
		SetVisibility: Visibility(pd.SetVisibility),
		Static:        pd.Static,
		Readonly:      pd.Readonly || d.Readonly,
	}
	if d.Kind == ast.KindInterface {
		c.errorf(d.Position, "interface %s may not declare properties", d.Name)
	}
	if def.Readonly && def.Static {
		c.errorf(d.Position, "static property %s::$%s cannot be readonly", d.Name, pd.Name)
	}
	if def.Readonly && pd.Default != nil {
		c.errorf(d.Position, "readonly property %s::$%s cannot have a default value", d.Name, pd.Name)
	}
	if pd.Default != nil {
		k, err := c.foldConstExpr(pd.Default)
		if err != nil {
			c.errorf(d.Position, "default of %s::$%s: %v", d.Name, pd.Name, err)
		} else {
			def.Default = k
		}
	}
	return def
}

func (c *Compiler) compileMethod(d *ast.ClassDecl, md ast.MethodDecl) (MethodDef, bool) {
	def := MethodDef{
		Name:       md.Name,
		Visibility: Visibility(md.Visibility),
		Static:     md.Static,
		Abstract:   md.Abstract || d.Kind == ast.KindInterface,
		Final:      md.Final,
	}
	if md.Abstract && !d.Abstract && d.Kind == ast.KindClass {
		c.errorf(d.Position, "class %s must be abstract to declare abstract method %s()", d.Name, md.Name)
	}
	if md.Override && !c.parentDeclares(d, md.Name) {
		c.errorf(d.Position, "%s::%s() is marked override but no parent declares it", d.Name, md.Name)
	}
	if def.Abstract {
		if md.Body != nil {
			c.errorf(d.Position, "abstract method %s::%s() cannot have a body", d.Name, md.Name)
		}
		return def, true
	}

	code := NewCodeObject(d.Name + "::" + md.Name)
	code.Line = d.Position.Line
	c.compileSignature(code, md.Params, d.Position)
	c.compileFunctionBody(code, md.Params, md.Body, nil, false, d.Name)
	def.Code = code
	return def, true
}

func (c *Compiler) compileEnumCases(d *ast.ClassDecl, decl *ClassDecl) {
	if d.Kind != ast.KindEnum {
		if len(d.Cases) > 0 {
			c.errorf(d.Position, "%s is not an enum and cannot declare cases", d.Name)
		}
		return
	}
	backed := len(d.Cases) > 0 && d.Cases[0].Value != nil
	for _, cs := range d.Cases {
		def := EnumCaseDef{Name: cs.Name}
		if (cs.Value != nil) != backed {
			c.errorf(d.Position, "enum %s mixes backed and pure cases", d.Name)
		}
		if cs.Value != nil {
			k, err := c.foldConstExpr(cs.Value)
			if err != nil {
				c.errorf(d.Position, "case %s::%s: %v", d.Name, cs.Name, err)
				continue
			}
			if k.Kind != ConstInt && k.Kind != ConstString {
				c.errorf(d.Position, "case %s::%s must be backed by int or string", d.Name, cs.Name)
				continue
			}
			def.HasValue = true
			def.Value = k
		}
		decl.Cases = append(decl.Cases, def)
	}
}

// parentDeclares walks the static parent chain and interface list looking
// for a method, following trait flattening at each level.
func (c *Compiler) parentDeclares(d *ast.ClassDecl, method string) bool {
	lower := strings.ToLower(method)
	var walk func(name string, depth int) bool
	walk = func(name string, depth int) bool {
		if name == "" || depth > 64 {
			return false
		}
		decl, ok := c.classes[strings.ToLower(name)]
		if !ok {
			return false
		}
		merged := c.flattenTraits(decl)
		for _, m := range merged.methods {
			if strings.ToLower(m.Name) == lower {
				return true
			}
		}
		if walk(decl.Parent, depth+1) {
			return true
		}
		for _, iface := range decl.Interfaces {
			if walk(iface, depth+1) {
				return true
			}
		}
		return false
	}
	if walk(d.Parent, 0) {
		return true
	}
	for _, iface := range d.Interfaces {
		if walk(iface, 0) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Trait flattening
// ---------------------------------------------------------------------------

// memberSet is a declaration's member surface after trait flattening.
type memberSet struct {
	consts  []ast.ConstDecl
	props   []ast.PropDecl
	methods []ast.MethodDecl
}

// flattenTraits merges the members of every used trait into the class's
// own member lists. The class's own members always win; a member two
// traits both provide is resolved by the configured policy.
func (c *Compiler) flattenTraits(d *ast.ClassDecl) memberSet {
	return c.flatten(d, map[string]bool{strings.ToLower(d.Name): true})
}

func (c *Compiler) flatten(d *ast.ClassDecl, visiting map[string]bool) memberSet {
	out := memberSet{consts: d.Consts, props: d.Props, methods: d.Methods}
	if len(d.Uses) == 0 {
		return out
	}

	ownMethod := make(map[string]bool)
	ownProp := make(map[string]bool)
	ownConst := make(map[string]bool)
	for _, m := range d.Methods {
		ownMethod[strings.ToLower(m.Name)] = true
	}
	for _, p := range d.Props {
		ownProp[strings.ToLower(p.Name)] = true
	}
	for _, k := range d.Consts {
		ownConst[strings.ToLower(k.Name)] = true
	}

	fromTrait := make(map[string]string) // member key -> providing trait
	claim := func(kind, name, trait string, pos ast.Position) bool {
		key := kind + ":" + strings.ToLower(name)
		prev, taken := fromTrait[key]
		if !taken {
			fromTrait[key] = trait
			return true
		}
		if c.opts.TraitPolicy == TraitConflictPrecedence {
			return false // first-listed trait keeps the member
		}
		c.errorf(pos, "trait %s member %s collides with trait %s in class %s", trait, name, prev, d.Name)
		return false
	}

	for _, traitName := range d.Uses {
		if visiting[strings.ToLower(traitName)] {
			c.errorf(d.Position, "trait use cycle through %s", traitName)
			continue
		}
		trait := c.resolveTrait(traitName, d)
		if trait == nil {
			continue
		}
		visiting[strings.ToLower(traitName)] = true
		members := c.flatten(trait, visiting) // traits may use traits
		delete(visiting, strings.ToLower(traitName))
		for _, m := range members.methods {
			if ownMethod[strings.ToLower(m.Name)] {
				continue
			}
			if claim("method", m.Name, traitName, d.Position) {
				out.methods = append(out.methods, m)
			}
		}
		for _, p := range members.props {
			if ownProp[strings.ToLower(p.Name)] {
				continue
			}
			if claim("property", p.Name, traitName, d.Position) {
				out.props = append(out.props, p)
			}
		}
		for _, k := range members.consts {
			if ownConst[strings.ToLower(k.Name)] {
				continue
			}
			if claim("constant", k.Name, traitName, d.Position) {
				out.consts = append(out.consts, k)
			}
		}
	}
	return out
}

func (c *Compiler) resolveTrait(name string, user *ast.ClassDecl) *ast.ClassDecl {
	trait, ok := c.traits[strings.ToLower(name)]
	if !ok {
		if _, isClass := c.classes[strings.ToLower(name)]; isClass {
			c.errorf(user.Position, "%s cannot use %s: it is not a trait", user.Name, name)
		} else {
			c.errorf(user.Position, "%s uses undefined trait %s", user.Name, name)
		}
		return nil
	}
	if trait == user {
		c.errorf(user.Position, "trait %s cannot use itself", name)
		return nil
	}
	return trait
}
