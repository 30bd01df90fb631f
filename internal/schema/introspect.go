package schema

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Introspector renders a module's function surface as schema text for
// inclusion in generation prompts.
type Introspector struct {
	// FilterToMainObject limits the walk to the object named after the module.
	FilterToMainObject bool
	Logger             *zap.Logger
}

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"'", "&apos;",
	"<", "&lt;",
	">", "&gt;",
	"\n", "&#10;",
)

// Introspect walks objects and functions in the order the model exposes them.
// A TypeDef that cannot be resolved renders as UNKNOWN; any other lookup
// failure aborts the walk.
func (in Introspector) Introspect(ctx context.Context, model ObjectModel) (string, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mod, err := model.Module(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<module name='" + attr(mod.Name) + "' description='" + attr(mod.Description) + "'>\n")
	for _, oid := range mod.Objects {
		obj, err := model.Object(ctx, oid)
		if err != nil {
			return "", err
		}
		if in.FilterToMainObject && !IsMainObject(mod.Name, obj.Name) {
			continue
		}
		b.WriteString("\t<object name='" + attr(obj.Name) + "'>\n")
		for _, fid := range obj.Functions {
			fn, err := model.Function(ctx, fid)
			if err != nil {
				return "", err
			}
			b.WriteString("\t\t<function name='" + attr(fn.Name) +
				"' description='" + attr(fn.Description) +
				"' returns='" + attr(in.typeName(ctx, log, model, fn.Returns)) + "'>\n")
			for _, aid := range fn.Args {
				arg, err := model.Arg(ctx, aid)
				if err != nil {
					return "", err
				}
				b.WriteString("\t\t\t<arg name='" + attr(arg.Name) +
					"' type='" + attr(in.typeName(ctx, log, model, arg.Type)) +
					"' description='" + attr(arg.Description) + "'/>\n")
			}
			b.WriteString("\t\t</function>\n")
		}
		b.WriteString("\t</object>\n")
	}
	b.WriteString("</module>\n")
	return b.String(), nil
}

func (in Introspector) typeName(ctx context.Context, log *zap.Logger, model ObjectModel, id ID) string {
	td, err := model.TypeDef(ctx, id)
	if err != nil {
		log.Debug("unresolved typedef", zap.String("id", string(id)), zap.Error(err))
		return Unknown
	}
	return td.DisplayName()
}

// IsMainObject reports whether objectName is the module's main object. Module
// names are kebab or snake case while object names are PascalCase, so the
// comparison ignores case, '-' and '_'.
func IsMainObject(moduleName, objectName string) bool {
	return normalizeName(moduleName) == normalizeName(objectName)
}

func normalizeName(s string) string {
	s = strings.NewReplacer("-", "", "_", "").Replace(s)
	return strings.ToLower(s)
}

func attr(s string) string { return attrEscaper.Replace(s) }
