// Package sdk knows the per-language layout of a Dagger module: where the
// main source file lives, which languages can host examples, and the
// reference snippets shown to the generator.
package sdk

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"modsmith/internal/faults"
)

const (
	Go         = "go"
	Python     = "python"
	TypeScript = "typescript"
	PHP        = "php"
	Java       = "java"
)

// ExampleLanguages is the fixed, ordered set of languages examples are
// written in.
var ExampleLanguages = []string{Go, Python, TypeScript}

// Known reports whether id is a recognized SDK identifier.
func Known(id string) bool {
	switch id {
	case Go, Python, TypeScript, PHP, Java:
		return true
	}
	return false
}

// MainFile returns the path of the main source file of a module named name
// written with the given SDK. Unknown SDKs are a configuration error.
func MainFile(id, name string) (string, error) {
	switch id {
	case Go:
		return "main.go", nil
	case Python:
		return "src/" + name + "/main.py", nil
	case TypeScript:
		return "src/index.ts", nil
	case PHP:
		return "src/MyModule.php", nil
	case Java:
		return "src/main/java/io/dagger/modules/" + strings.ToLower(name) + "/" + name + ".java", nil
	}
	return "", faults.New(faults.Configuration, "main-file", fmt.Sprintf("unknown sdk %q", id))
}

// Catalog renders SDK reference text. FS holds code snippets laid out as
// <topic>/<sdk>.txt; a nil FS uses the snippets built into the binary.
type Catalog struct {
	FS fs.FS
}

//go:embed snippets
var embedded embed.FS

// Snippets returns the built-in snippet catalog.
func Snippets() fs.FS {
	sub, err := fs.Sub(embedded, "snippets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Reference returns the SDK reference text handed to the generator: where
// the main file lives, usage notes, then every snippet the catalog has for
// id, one block per topic in name order.
func (c Catalog) Reference(id, name string) (string, error) {
	path, err := MainFile(id, name)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reference for using Dagger with the %s SDK\n", id)
	fmt.Fprintf(&b, "The relevant code for a %s SDK module is at %q\n", id, path)
	if notes, ok := referenceNotes[id]; ok {
		b.WriteString("\n")
		b.WriteString(notes)
	}

	fsys := c.FS
	if fsys == nil {
		fsys = Snippets()
	}
	topics, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return "", faults.Wrap(faults.Configuration, "sdk-reference", "read snippet catalog", err)
	}
	for _, topic := range topics {
		if !topic.IsDir() {
			continue
		}
		code, err := fs.ReadFile(fsys, topic.Name()+"/"+id+".txt")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", faults.Wrap(faults.Configuration, "sdk-reference", "read snippet "+topic.Name(), err)
		}
		title := strings.ReplaceAll(topic.Name(), "-", " ")
		fmt.Fprintf(&b, "\n%s:\n<code>\n%s\n</code>\n", title, strings.TrimRight(string(code), "\n"))
	}
	return b.String(), nil
}

var referenceNotes = map[string]string{
	Go: `Functions are exported methods on the module's main struct.
Return (T, error) from functions that can fail and use dag.<Dependency>() to call installed dependencies.
`,
	Python: `Functions are methods decorated with @function on a class decorated with @object_type.
Use async functions when awaiting API calls and dag.<dependency>() to call installed dependencies.
`,
	TypeScript: `Functions are methods decorated with @func() on a class decorated with @object().
Return Promise<T> from async functions and use dag.<dependency>() to call installed dependencies.
`,
}

// ExamplesReference returns the naming rules for example functions in the
// given SDK, or "" when the SDK has none.
func ExamplesReference(id string) string {
	return examplesReference[id]
}

var examplesReference = map[string]string{
	Go: `If you have a module called 'Foo' and a function called 'Bar', you can create the following functions in your example module:
- A function 'Foo_Baz' will create a top level example for the 'Foo' module called Baz.
- A function 'FooBar' will create an example for function 'Bar'.
- Functions 'FooBar_Baz' will create a Baz example for the function 'Bar'.
`,
	Python: `If you have a module called 'foo' and a function called 'bar', you can create the following functions in your example module:
- A function 'foo__baz' will create a top level example for the 'foo' module called baz.
- A function 'foo_bar' will create an example for function 'bar'.
- Functions 'foo_bar__baz' will create a baz example for the function 'bar'.
note:
Python function names in example modules use double underscores ('__') as separators since by convention, Python uses single underscores to represent spaces in function names (snake case).
`,
	TypeScript: `If you have a module called 'foo' and a function called 'bar', you can create the following functions in your example module:
- A function 'foo_baz' will create a top level example for the 'foo' module called baz.
- A function 'fooBar' will create an example for function 'bar'.
- Functions 'fooBar_baz' will create a baz example for the function 'bar'.
`,
}
