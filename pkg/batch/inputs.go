// Package batch resolves raw batch inputs into per-role flow inputs.
package batch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/flow"
)

var dataRefPattern = regexp.MustCompile(`^\$\{data\.([^}]+)\}$`)

// Resolver maps raw line inputs through a role's inputs mapping.
// It implements core.InputResolver.
type Resolver struct{}

// NewResolver creates an input resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveLine produces a role's input dictionary for one raw line.
// Mapping values are interpreted as:
//   - ${data.<field>}: a reference into the raw line input
//   - the conversation history expression: left unset, the scheduler fills
//     it turn by turn
//   - anything else: a literal passed through unchanged
func (r *Resolver) ResolveLine(rawInput map[string]any, inputsMapping map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(inputsMapping))
	for name, expr := range inputsMapping {
		if expr == core.ConversationHistoryExpression {
			continue
		}
		if m := dataRefPattern.FindStringSubmatch(expr); m != nil {
			field := m[1]
			value, ok := rawInput[field]
			if !ok {
				return nil, errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("input %q maps to %s but raw input has no field %q", name, expr, field), nil)
			}
			resolved[name] = value
			continue
		}
		if strings.HasPrefix(expr, "${") {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("input %q maps to unsupported expression %q", name, expr), nil)
		}
		resolved[name] = expr
	}
	return resolved, nil
}

// ApplyDefaults fills unset inputs that declare a default value in the flow
// definition. Already-resolved inputs are never overwritten.
func ApplyDefaults(inputs map[string]flow.Input, resolved map[string]any) map[string]any {
	out := make(map[string]any, len(resolved))
	for k, v := range resolved {
		out[k] = v
	}
	for name, spec := range inputs {
		if _, ok := out[name]; ok {
			continue
		}
		if spec.Default != nil {
			out[name] = spec.Default
		}
	}
	return out
}

// Transpose turns role-major batch inputs (one list of lines per role) into
// line-major inputs (one list of role inputs per line). Short role lists
// truncate the result to the shortest role.
func Transpose(roleMajor [][]map[string]any) [][]map[string]any {
	if len(roleMajor) == 0 {
		return nil
	}
	lines := len(roleMajor[0])
	for _, roleLines := range roleMajor[1:] {
		if len(roleLines) < lines {
			lines = len(roleLines)
		}
	}
	out := make([][]map[string]any, 0, lines)
	for line := 0; line < lines; line++ {
		perRole := make([]map[string]any, len(roleMajor))
		for role := range roleMajor {
			perRole[role] = roleMajor[role][line]
		}
		out = append(out, perRole)
	}
	return out
}
