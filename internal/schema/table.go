package schema

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("schema: descriptor not found")

// Table is an in-memory ObjectModel: a flat set of descriptors keyed by ID.
type Table struct {
	Root      Module
	Objects   map[ID]Object
	Functions map[ID]Function
	Args      map[ID]Arg
	Types     map[ID]TypeDef
}

func NewTable(root Module) *Table {
	return &Table{
		Root:      root,
		Objects:   map[ID]Object{},
		Functions: map[ID]Function{},
		Args:      map[ID]Arg{},
		Types:     map[ID]TypeDef{},
	}
}

func (t *Table) Module(_ context.Context) (Module, error) {
	if t == nil {
		return Module{}, fmt.Errorf("schema: table is nil")
	}
	return t.Root, nil
}

func (t *Table) Object(_ context.Context, id ID) (Object, error) {
	o, ok := t.Objects[id]
	if !ok {
		return Object{}, fmt.Errorf("object %q: %w", id, ErrNotFound)
	}
	return o, nil
}

func (t *Table) Function(_ context.Context, id ID) (Function, error) {
	f, ok := t.Functions[id]
	if !ok {
		return Function{}, fmt.Errorf("function %q: %w", id, ErrNotFound)
	}
	return f, nil
}

func (t *Table) Arg(_ context.Context, id ID) (Arg, error) {
	a, ok := t.Args[id]
	if !ok {
		return Arg{}, fmt.Errorf("arg %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *Table) TypeDef(_ context.Context, id ID) (TypeDef, error) {
	td, ok := t.Types[id]
	if !ok {
		return TypeDef{}, fmt.Errorf("typedef %q: %w", id, ErrNotFound)
	}
	return td, nil
}

// descriptor file layout; nesting is flattened into the table on load.
type fileModule struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	SDK         string       `yaml:"sdk"`
	Objects     []fileObject `yaml:"objects"`
}

type fileObject struct {
	Name      string         `yaml:"name"`
	Functions []fileFunction `yaml:"functions"`
}

type fileFunction struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Returns     fileType  `yaml:"returns"`
	Args        []fileArg `yaml:"args"`
}

type fileArg struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Type        fileType `yaml:"type"`
}

type fileType struct {
	Kind     string `yaml:"kind"`
	Name     string `yaml:"name"`
	Optional bool   `yaml:"optional"`
}

// LoadTable reads a YAML module descriptor from path.
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(raw)
}

// ParseTable decodes a YAML module descriptor and assigns positional IDs.
func ParseTable(raw []byte) (*Table, error) {
	var fm fileModule
	if err := yaml.Unmarshal(raw, &fm); err != nil {
		return nil, fmt.Errorf("schema: decode descriptor: %w", err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("schema: descriptor has no module name")
	}
	t := NewTable(Module{Name: fm.Name, Description: fm.Description, SDK: fm.SDK})
	for oi, fo := range fm.Objects {
		oid := ID(fmt.Sprintf("obj/%d", oi))
		obj := Object{ID: oid, Name: fo.Name}
		for fi, ff := range fo.Functions {
			fid := ID(fmt.Sprintf("%s/fn/%d", oid, fi))
			ret, err := t.putType(ID(string(fid)+"/returns"), ff.Returns)
			if err != nil {
				return nil, err
			}
			fn := Function{ID: fid, Name: ff.Name, Description: ff.Description, Returns: ret}
			for ai, fa := range ff.Args {
				aid := ID(fmt.Sprintf("%s/arg/%d", fid, ai))
				typ, err := t.putType(ID(string(aid)+"/type"), fa.Type)
				if err != nil {
					return nil, err
				}
				t.Args[aid] = Arg{ID: aid, Name: fa.Name, Description: fa.Description, Type: typ}
				fn.Args = append(fn.Args, aid)
			}
			t.Functions[fid] = fn
			obj.Functions = append(obj.Functions, fid)
		}
		t.Objects[oid] = obj
		t.Root.Objects = append(t.Root.Objects, oid)
	}
	return t, nil
}

func (t *Table) putType(id ID, ft fileType) (ID, error) {
	td := TypeDef{ID: id, Kind: Kind(ft.Kind), Name: ft.Name, Optional: ft.Optional}
	if err := td.Validate(); err != nil {
		return "", err
	}
	t.Types[id] = td
	return id, nil
}
