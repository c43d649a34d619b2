// Package template resolves {{dotted.path}} placeholders in step config
// documents against an execution context.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mufaro/bankflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// UnresolvedReferenceError reports a placeholder with no match in the
// context. It is never swallowed: a silent empty substitution could corrupt
// an amount or account number downstream.
type UnresolvedReferenceError struct {
	Path string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %q", e.Path)
}

// IsUnresolvedReference reports whether err is an unresolved-reference error.
func IsUnresolvedReference(err error) bool {
	var target *UnresolvedReferenceError

	return errors.As(err, &target)
}

// Resolver resolves placeholders against the current step's input first,
// then against prior steps' recorded results (by step ID or step_<order>
// alias). Resolution is pure, so it is safe to call speculatively for
// previews.
type Resolver struct {
	context *models.ExecutionContext
	input   map[string]any
}

// NewResolver builds a resolver over the execution context and the current
// step's submitted input. Input may be nil for BEFORE_STEP resolution.
func NewResolver(context *models.ExecutionContext, input map[string]any) *Resolver {
	return &Resolver{context: context, input: input}
}

// Resolve walks a template value. Strings are placeholder-expanded; maps and
// slices are resolved recursively; other scalars pass through untouched.
func (r *Resolver) Resolve(template any) (any, error) {
	switch value := template.(type) {
	case string:
		return r.resolveString(value)
	case map[string]any:
		resolved := make(map[string]any, len(value))

		for key, nested := range value {
			out, err := r.Resolve(nested)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}

			resolved[key] = out
		}

		return resolved, nil
	case []any:
		resolved := make([]any, len(value))

		for i, nested := range value {
			out, err := r.Resolve(nested)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}

			resolved[i] = out
		}

		return resolved, nil
	default:
		return template, nil
	}
}

// ResolveString resolves a scalar string template to a string result.
func (r *Resolver) ResolveString(template string) (string, error) {
	resolved, err := r.resolveString(template)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%v", resolved), nil
}

// resolveString expands placeholders. A template that is exactly one
// placeholder keeps the referenced value's native type; mixed text renders
// each value into the string.
func (r *Resolver) resolveString(template string) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	// Whole-string placeholder keeps the native type so numeric amounts
	// survive resolution.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(template) {
		path := template[matches[0][2]:matches[0][3]]

		return r.lookup(path)
	}

	var out strings.Builder

	last := 0

	for _, match := range matches {
		out.WriteString(template[last:match[0]])

		value, err := r.lookup(template[match[2]:match[3]])
		if err != nil {
			return nil, err
		}

		fmt.Fprintf(&out, "%v", value)

		last = match[1]
	}

	out.WriteString(template[last:])

	return out.String(), nil
}

// lookup resolves a dotted path. The first segment is tried against the
// current input, then as a step key in the context; the remaining segments
// descend into the step's result document.
func (r *Resolver) lookup(path string) (any, error) {
	segments := strings.Split(path, ".")

	if r.input != nil {
		if value, ok := descend(r.input, segments); ok {
			return value, nil
		}
	}

	if r.context != nil {
		if result, ok := r.context.Lookup(segments[0]); ok {
			if len(segments) == 1 {
				return stepDocument(result), nil
			}

			if value, ok := descend(stepDocument(result), segments[1:]); ok {
				return value, nil
			}
		}
	}

	return nil, &UnresolvedReferenceError{Path: path}
}

// stepDocument is the addressable view of a recorded step result: its input
// fields merged under the adapter result, so both {{step_0.amount}} (form
// input) and {{step_1.reference}} (adapter output) resolve.
func stepDocument(result *models.StepResult) map[string]any {
	doc := make(map[string]any, len(result.Input)+2)

	for key, value := range result.Input {
		doc[key] = value
	}

	if resultMap, ok := result.Result.(map[string]any); ok {
		for key, value := range resultMap {
			doc[key] = value
		}
	} else if result.Result != nil {
		doc["result"] = result.Result
	}

	doc["success"] = result.Success

	return doc
}

func descend(doc map[string]any, segments []string) (any, bool) {
	var current any = doc

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
