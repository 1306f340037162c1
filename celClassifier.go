package cwlogs

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// NewCELClassifier compiles a CEL expression into a Classifier. The
// expression must evaluate to a string, the stream name; an empty string
// selects the default stream. It sees these variables:
//
//	level     string               "DEBUG", "INFO", "WARN", "ERROR" (with offsets, e.g. "INFO+2")
//	severity  int                  the numeric slog level
//	logger    string               Metadata.Logger
//	attrs     map(string, string)  Metadata.Attrs
//
// For example:
//
//	severity >= 8 ? "errors" : ("tenant" in attrs ? "tenant-" + attrs["tenant"] : "")
//
// An evaluation error selects the default stream and is reported on the
// internal logger.
func NewCELClassifier(expr string) (Classifier, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty routing expression")
	}

	env, err := cel.NewEnv(
		cel.Variable("level", cel.StringType),
		cel.Variable("severity", cel.IntType),
		cel.Variable("logger", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to parse routing expression: %w", iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("failed to check routing expression: %w", iss2.Err())
	}
	if !checked.OutputType().IsExactType(cel.StringType) {
		return nil, fmt.Errorf("routing expression must return a string, not %s", checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}

	return func(md Metadata) string {
		attrs := md.Attrs
		if attrs == nil {
			attrs = map[string]string{}
		}
		out, _, err := prog.Eval(map[string]any{
			"level":    md.Level.String(),
			"severity": int64(md.Level),
			"logger":   md.Logger,
			"attrs":    attrs,
		})
		if err != nil {
			InternalLogger().Printf("routing expression failed; using the default stream: %v\n", err)
			return ""
		}
		s, _ := out.Value().(string)
		return s
	}, nil
}
