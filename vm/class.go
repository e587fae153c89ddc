package vm

import (
	"fmt"
	"strings"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Class is the runtime class model built at registration from a compiled
// declaration. The member tables are fully flattened: Methods and Props
// include everything inherited, each entry remembering its declaring class
// for visibility and static-storage decisions.
type Class struct {
	Name       string
	Parent     *Class
	Interfaces []*Class
	Kind       bytecode.DeclKind
	Abstract   bool
	Final      bool

	Consts  map[string]Value
	Props   []*PropInfo
	propIdx map[string]*PropInfo
	Methods map[string]*Method // keyed by lower-cased name

	// Statics holds the cells of static properties declared by THIS
	// class. A subclass reads its parent's static through the parent's
	// cell; redeclaring the property gives the subclass its own.
	Statics map[string]*Cell

	// Enum case singletons, in declaration order.
	Cases     map[string]*Object
	CaseOrder []string
}

// PropInfo describes one declared instance or static property.
type PropInfo struct {
	Name          string
	Default       Value
	Visibility    bytecode.Visibility
	HasSetVis     bool
	SetVisibility bytecode.Visibility
	Static        bool
	Readonly      bool
	Declaring     *Class
}

// writeVisibility is the visibility that gates stores.
func (p *PropInfo) writeVisibility() bytecode.Visibility {
	if p.HasSetVis {
		return p.SetVisibility
	}
	return p.Visibility
}

// NativeMethod is a host-implemented method body.
type NativeMethod func(vm *VM, this *Object, args []Value) (Value, error)

// Method is one callable class member, either compiled or native.
type Method struct {
	Name       string
	Code       *bytecode.CodeObject
	Native     NativeMethod
	Visibility bytecode.Visibility
	Static     bool
	Abstract   bool
	Final      bool
	Declaring  *Class
}

// FindMethod resolves a method name case-insensitively.
func (c *Class) FindMethod(name string) *Method {
	return c.Methods[strings.ToLower(name)]
}

// FindProp resolves an instance or static property by exact name.
func (c *Class) FindProp(name string) *PropInfo {
	return c.propIdx[name]
}

// IsSubclassOf reports whether c is other or inherits/implements it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
		for _, iface := range cur.Interfaces {
			if iface.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// resolveStatic finds the cell for a static property, walking up to the
// declaring class.
func (c *Class) resolveStatic(name string) (*Cell, *PropInfo) {
	info := c.propIdx[name]
	if info == nil || !info.Static {
		return nil, nil
	}
	return info.Declaring.Statics[name], info
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// registerClasses builds the runtime class table from compiled
// declarations. Parents may appear after children in source order, so
// resolution is demand-driven with cycle detection.
func (vm *VM) registerClasses(decls []*bytecode.ClassDecl) error {
	byName := make(map[string]*bytecode.ClassDecl, len(decls))
	for _, d := range decls {
		byName[strings.ToLower(d.Name)] = d
	}
	resolving := make(map[string]bool)

	var build func(name string) (*Class, error)
	build = func(name string) (*Class, error) {
		lower := strings.ToLower(name)
		if cls, done := vm.classes[lower]; done {
			return cls, nil
		}
		decl, ok := byName[lower]
		if !ok {
			return nil, fmt.Errorf("undefined class %s", name)
		}
		if resolving[lower] {
			return nil, fmt.Errorf("class %s inherits from itself", decl.Name)
		}
		resolving[lower] = true
		defer delete(resolving, lower)

		var parent *Class
		if decl.Parent != "" {
			p, err := build(decl.Parent)
			if err != nil {
				return nil, err
			}
			parent = p
		}
		var ifaces []*Class
		for _, ifaceName := range decl.Interfaces {
			iface, err := build(ifaceName)
			if err != nil {
				return nil, err
			}
			if iface.Kind != bytecode.DeclInterface {
				return nil, fmt.Errorf("%s cannot implement %s: not an interface", decl.Name, iface.Name)
			}
			ifaces = append(ifaces, iface)
		}

		cls, err := vm.buildClass(decl, parent, ifaces)
		if err != nil {
			return nil, err
		}
		vm.classes[lower] = cls
		return cls, nil
	}

	for _, d := range decls {
		if _, err := build(d.Name); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) buildClass(decl *bytecode.ClassDecl, parent *Class, ifaces []*Class) (*Class, error) {
	cls := &Class{
		Name:       decl.Name,
		Parent:     parent,
		Interfaces: ifaces,
		Kind:       decl.Kind,
		Abstract:   decl.Abstract,
		Final:      decl.Final,
		Consts:     make(map[string]Value),
		propIdx:    make(map[string]*PropInfo),
		Methods:    make(map[string]*Method),
		Statics:    make(map[string]*Cell),
	}

	if parent != nil {
		if parent.Final {
			return nil, fmt.Errorf("class %s cannot extend final class %s", cls.Name, parent.Name)
		}
		if parent.Kind != bytecode.DeclClass {
			return nil, fmt.Errorf("class %s cannot extend %s", cls.Name, parent.Name)
		}
		for k, v := range parent.Consts {
			cls.Consts[k] = v
		}
		cls.Props = append(cls.Props, parent.Props...)
		for _, p := range parent.Props {
			cls.propIdx[p.Name] = p
		}
		for k, m := range parent.Methods {
			cls.Methods[k] = m
		}
	}
	for _, iface := range ifaces {
		for k, v := range iface.Consts {
			if _, dup := cls.Consts[k]; !dup {
				cls.Consts[k] = v
			}
		}
		for k, m := range iface.Methods {
			if _, dup := cls.Methods[k]; !dup {
				cls.Methods[k] = m
			}
		}
	}

	for _, kd := range decl.Consts {
		cls.Consts[kd.Name] = constantValue(kd.Value)
	}

	for i := range decl.Props {
		pd := &decl.Props[i]
		info := &PropInfo{
			Name:          pd.Name,
			Default:       constantValue(pd.Default),
			Visibility:    pd.Visibility,
			HasSetVis:     pd.HasSetVis,
			SetVisibility: pd.SetVisibility,
			Static:        pd.Static,
			Readonly:      pd.Readonly,
			Declaring:     cls,
		}
		if prev := cls.propIdx[pd.Name]; prev != nil {
			// Redeclaration shadows the inherited property.
			for j, p := range cls.Props {
				if p == prev {
					cls.Props[j] = info
				}
			}
		} else {
			cls.Props = append(cls.Props, info)
		}
		cls.propIdx[pd.Name] = info
		if info.Static {
			cls.Statics[pd.Name] = NewCell(info.Default)
		}
	}

	for i := range decl.Methods {
		md := &decl.Methods[i]
		lower := strings.ToLower(md.Name)
		if prev, overriding := cls.Methods[lower]; overriding {
			if prev.Final {
				return nil, fmt.Errorf("cannot override final method %s::%s()", prev.Declaring.Name, prev.Name)
			}
			if prev.Visibility < md.Visibility {
				return nil, fmt.Errorf("%s::%s() cannot narrow visibility of %s::%s()",
					cls.Name, md.Name, prev.Declaring.Name, prev.Name)
			}
		}
		cls.Methods[lower] = &Method{
			Name:       md.Name,
			Code:       md.Code,
			Visibility: md.Visibility,
			Static:     md.Static,
			Abstract:   md.Abstract,
			Final:      md.Final,
			Declaring:  cls,
		}
	}

	if !cls.Abstract && cls.Kind == bytecode.DeclClass {
		for _, m := range cls.Methods {
			if m.Abstract {
				return nil, fmt.Errorf("class %s must implement %s::%s() or be declared abstract",
					cls.Name, m.Declaring.Name, m.Name)
			}
		}
	}

	if decl.Kind == bytecode.DeclEnum {
		if err := vm.buildEnumCases(cls, decl); err != nil {
			return nil, err
		}
	}
	return cls, nil
}

// buildEnumCases materializes each case as a frozen singleton object with
// name and, when backed, value properties.
func (vm *VM) buildEnumCases(cls *Class, decl *bytecode.ClassDecl) error {
	cls.Cases = make(map[string]*Object, len(decl.Cases))
	seenValues := make(map[string]bool)
	for _, cd := range decl.Cases {
		if _, dup := cls.Cases[cd.Name]; dup {
			return fmt.Errorf("enum %s redeclares case %s", cls.Name, cd.Name)
		}
		obj := NewObject(cls)
		obj.setRaw("name", String(cd.Name))
		if cd.HasValue {
			val := constantValue(cd.Value)
			key := val.TypeName() + ":" + vm.coerceString(val)
			if seenValues[key] {
				return fmt.Errorf("enum %s has duplicate case value for %s", cls.Name, cd.Name)
			}
			seenValues[key] = true
			obj.setRaw("value", val)
		}
		obj.enumCase = true
		cls.Cases[cd.Name] = obj
		cls.CaseOrder = append(cls.CaseOrder, cd.Name)
	}
	return nil
}

// constantValue converts a folded compile-time constant to a runtime value.
func constantValue(k bytecode.Constant) Value {
	switch k.Kind {
	case bytecode.ConstBool:
		return Bool(k.Bool)
	case bytecode.ConstInt:
		return Int(k.Int)
	case bytecode.ConstFloat:
		return Float(k.Float)
	case bytecode.ConstString:
		return String(k.Str)
	case bytecode.ConstArray:
		arr := NewArray()
		for _, pair := range k.Arr {
			if pair.HasKey {
				key, _ := NormalizeKey(constantValue(pair.Key))
				arr.Set(key, constantValue(pair.Value))
			} else {
				arr.Append(constantValue(pair.Value))
			}
		}
		return ArrayVal(arr)
	default:
		return Null()
	}
}
