// Package validation applies declarative field rules to submitted step input.
package validation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/mufaro/bankflow/pkg/models"
)

// FieldErrors maps field IDs to the first violated constraint's message. An
// empty map means the input passed.
type FieldErrors map[string]string

// Validator checks submitted input against a step's field rules. It caches
// compiled patterns; a malformed pattern is logged and treated as no
// constraint rather than failing the whole submission (changing that would
// shrink the accepted input set of existing workflows).
// One validator instance serves concurrent requests, so the cache is
// guarded.
type Validator struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// New creates a validator.
func New(logger *slog.Logger) *Validator {
	return &Validator{
		logger:   logger.With("module", "step_validation"),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Validate applies every rule to the input and collects field-level errors.
func (v *Validator) Validate(rules []models.FieldRule, input map[string]any) FieldErrors {
	errs := make(FieldErrors)

	for _, rule := range rules {
		if _, exists := errs[rule.FieldID]; exists {
			continue
		}

		if message := v.check(rule, input[rule.FieldID]); message != "" {
			if rule.Message != "" {
				message = rule.Message
			}

			errs[rule.FieldID] = message
		}
	}

	return errs
}

func (v *Validator) check(rule models.FieldRule, value any) string {
	present := value != nil && fmt.Sprintf("%v", value) != ""

	if !present {
		if rule.Required {
			return "is required"
		}

		return ""
	}

	text := fmt.Sprintf("%v", value)

	if rule.MinLength != nil && utf8.RuneCountInString(text) < *rule.MinLength {
		return fmt.Sprintf("must be at least %d characters", *rule.MinLength)
	}

	if rule.MaxLength != nil && utf8.RuneCountInString(text) > *rule.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *rule.MaxLength)
	}

	if rule.Min != nil || rule.Max != nil {
		number, err := toNumber(value)
		if err != nil {
			return "must be a number"
		}

		if rule.Min != nil && number < *rule.Min {
			return fmt.Sprintf("must be at least %v", *rule.Min)
		}

		if rule.Max != nil && number > *rule.Max {
			return fmt.Sprintf("must be at most %v", *rule.Max)
		}
	}

	if rule.Pattern != "" {
		pattern, ok := v.compile(rule.Pattern)
		if ok && !pattern.MatchString(text) {
			return "has an invalid format"
		}
	}

	return ""
}

// compile returns the compiled pattern, or ok=false for a malformed pattern,
// which is logged once and skipped.
func (v *Validator) compile(expression string) (*regexp.Regexp, bool) {
	v.mu.RLock()
	compiled, exists := v.patterns[expression]
	v.mu.RUnlock()

	if exists {
		return compiled, compiled != nil
	}

	compiled, err := regexp.Compile(expression)
	if err != nil {
		v.logger.Warn("Malformed validation pattern, treating as no constraint",
			"pattern", expression, "error", err)

		compiled = nil
	}

	v.mu.Lock()
	v.patterns[expression] = compiled
	v.mu.Unlock()

	return compiled, compiled != nil
}

func toNumber(value any) (float64, error) {
	switch number := value.(type) {
	case float64:
		return number, nil
	case float32:
		return float64(number), nil
	case int:
		return float64(number), nil
	case int64:
		return float64(number), nil
	case string:
		return strconv.ParseFloat(number, 64)
	default:
		return strconv.ParseFloat(fmt.Sprintf("%v", value), 64)
	}
}
