package schema

import (
	"context"
	"fmt"
)

// ID is a stable key into the object-model table.
type ID string

// Kind is the kind of a TypeDef as reported by the engine.
type Kind string

const (
	KindObject  Kind = "OBJECT"
	KindScalar  Kind = "SCALAR"
	KindEnum    Kind = "ENUM"
	KindInput   Kind = "INPUT"
	KindString  Kind = "STRING"
	KindInteger Kind = "INTEGER"
	KindBoolean Kind = "BOOLEAN"
	KindList    Kind = "LIST"
	KindVoid    Kind = "VOID"
)

// Unknown is rendered for kinds the resolver does not map.
const Unknown = "UNKNOWN"

// Named reports whether kind carries a nested type name.
func (k Kind) Named() bool {
	switch k {
	case KindObject, KindScalar, KindEnum, KindInput:
		return true
	}
	return false
}

var builtinLabels = map[Kind]string{
	KindString:  "String",
	KindInteger: "Integer",
	KindBoolean: "Boolean",
	KindList:    "List",
	KindVoid:    "Void",
}

// ResolveTypeName returns the display name of a type. Named kinds resolve to
// name, builtin kinds to a fixed label and anything else to UNKNOWN. A
// trailing "!" marks a non-optional type.
func ResolveTypeName(kind Kind, name string, optional bool) string {
	var out string
	switch {
	case kind.Named():
		out = name
	default:
		label, ok := builtinLabels[kind]
		if !ok {
			label = Unknown
		}
		out = label
	}
	if !optional {
		out += "!"
	}
	return out
}

// Module is the root of an introspected module.
type Module struct {
	Name        string
	Description string
	SDK         string
	Objects     []ID
}

type Object struct {
	ID        ID
	Name      string
	Functions []ID
}

type Function struct {
	ID          ID
	Name        string
	Description string
	Returns     ID
	Args        []ID
}

type Arg struct {
	ID          ID
	Name        string
	Description string
	Type        ID
}

// TypeDef describes a type. Name is set iff Kind is a named kind.
type TypeDef struct {
	ID       ID
	Kind     Kind
	Name     string
	Optional bool
}

// Validate checks the name/kind invariant.
func (t TypeDef) Validate() error {
	if t.Kind.Named() && t.Name == "" {
		return fmt.Errorf("schema: typedef %q of kind %s needs a name", t.ID, t.Kind)
	}
	if !t.Kind.Named() && t.Name != "" {
		return fmt.Errorf("schema: typedef %q of kind %s must not carry a name", t.ID, t.Kind)
	}
	return nil
}

// DisplayName resolves the TypeDef through ResolveTypeName.
func (t TypeDef) DisplayName() string {
	return ResolveTypeName(t.Kind, t.Name, t.Optional)
}

// ObjectModel is a read-only view of a module's descriptors. Every
// cross-reference is an ID that must be dereferenced through it.
type ObjectModel interface {
	Module(ctx context.Context) (Module, error)
	Object(ctx context.Context, id ID) (Object, error)
	Function(ctx context.Context, id ID) (Function, error)
	Arg(ctx context.Context, id ID) (Arg, error)
	TypeDef(ctx context.Context, id ID) (TypeDef, error)
}
