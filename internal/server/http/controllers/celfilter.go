package controllers

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// subjectFilter wraps a compiled CEL program evaluated per catalog entry.
// When disabled, Eval always returns true.
type subjectFilter struct {
	prog    cel.Program
	enabled bool
}

func newSubjectFilter(expr string) (subjectFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return subjectFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("service", cel.StringType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("tags", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return subjectFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return subjectFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return subjectFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return subjectFilter{}, err
	}
	return subjectFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one catalog entry. Evaluation
// errors count as non-matches.
func (f subjectFilter) Eval(service, topic, kind string, tags map[string]string) bool {
	if !f.enabled {
		return true
	}
	if tags == nil {
		tags = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"service": service,
		"topic":   topic,
		"kind":    kind,
		"tags":    tags,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
