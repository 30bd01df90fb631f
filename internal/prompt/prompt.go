// Package prompt composes generation requests from reference documents,
// variable bindings and an instruction template.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"modsmith/internal/faults"
)

const (
	TranslatorTemplate = "translator.txt"
	ExamplerTemplate   = "exampler.txt"
)

//go:embed templates/*.txt
var embedded embed.FS

// Templates holds the built-in instruction templates.
var Templates fs.FS = mustSub(embedded, "templates")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Binding is one named template variable.
type Binding struct {
	Name  string
	Value string
}

// Vars is an insertion-ordered set of bindings.
type Vars []Binding

// With returns a copy of v with name bound to value. Rebinding a name keeps
// its original position.
func (v Vars) With(name, value string) Vars {
	out := make(Vars, len(v), len(v)+1)
	copy(out, v)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Binding{Name: name, Value: value})
}

func (v Vars) Lookup(name string) (string, bool) {
	for _, b := range v {
		if b.Name == name {
			return b.Value, true
		}
	}
	return "", false
}

func (v Vars) Names() []string {
	names := make([]string, len(v))
	for i, b := range v {
		names[i] = b.Name
	}
	return names
}

// Request is an assembled, not yet rendered, generation request.
type Request struct {
	References   []string
	Vars         Vars
	TemplatePath string
	Template     string
}

// Assembler reads templates from FS, or from Templates when FS is nil.
type Assembler struct {
	FS fs.FS
}

// Assemble checks that every variable the template references is bound and
// returns the parts in composition order. It performs no substitution.
func (a Assembler) Assemble(refs []string, vars Vars, templatePath string) (Request, error) {
	fsys := a.FS
	if fsys == nil {
		fsys = Templates
	}
	raw, err := fs.ReadFile(fsys, templatePath)
	if err != nil {
		return Request{}, faults.Wrap(faults.Configuration, "", fmt.Sprintf("read template %q", templatePath), err)
	}
	text := string(raw)

	var missing []string
	for _, name := range References(text) {
		if _, ok := vars.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		msg := fmt.Sprintf("template %s references unbound variables: %s", templatePath, strings.Join(missing, ", "))
		return Request{}, faults.New(faults.MissingVariable, "", msg).WithDetails(missing)
	}

	return Request{
		References:   append([]string(nil), refs...),
		Vars:         append(Vars(nil), vars...),
		TemplatePath: templatePath,
		Template:     text,
	}, nil
}

// References lists the distinct variable names referenced by text, in order
// of first appearance.
func References(text string) []string {
	var names []string
	seen := map[string]bool{}
	scan(text, func(name string) (string, bool) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return "", false
	}, nil)
	return names
}

// Expand substitutes bound variables into text. Unbound references are left
// as written.
func Expand(text string, vars Vars) string {
	var buf strings.Builder
	scan(text, vars.Lookup, &buf)
	return buf.String()
}

// Render expands the template and prefixes the reference documents.
func Render(req Request) string {
	var buf bytes.Buffer
	for i, ref := range req.References {
		writeSection(&buf, fmt.Sprintf("REFERENCE %d", i+1), ref)
	}
	writeSection(&buf, "TASK", Expand(req.Template, req.Vars))
	return strings.TrimSpace(buf.String()) + "\n"
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}

// scan walks text, calling ref for every $name or ${name} reference. When out
// is non-nil the text is copied to it with each reference ref resolves
// replaced by its value. "$$" is a literal dollar.
func scan(text string, ref func(name string) (string, bool), out *strings.Builder) {
	write := func(s string) {
		if out != nil {
			out.WriteString(s)
		}
	}
	for i := 0; i < len(text); {
		c := text[i]
		if c != '$' || i+1 >= len(text) {
			write(text[i : i+1])
			i++
			continue
		}
		next := text[i+1]
		switch {
		case next == '$':
			write("$")
			i += 2
		case next == '{':
			end := strings.IndexByte(text[i+2:], '}')
			name := ""
			if end >= 0 {
				name = text[i+2 : i+2+end]
			}
			if end < 0 || !isName(name) {
				write("$")
				i++
				continue
			}
			write(substitute(ref, name, text[i:i+3+end]))
			i += 3 + end
		case isNameStart(next):
			j := i + 2
			for j < len(text) && isNameChar(text[j]) {
				j++
			}
			name := text[i+1 : j]
			write(substitute(ref, name, text[i:j]))
			i = j
		default:
			write("$")
			i++
		}
	}
}

func substitute(ref func(string) (string, bool), name, literal string) string {
	if v, ok := ref(name); ok {
		return v
	}
	return literal
}

func isName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
