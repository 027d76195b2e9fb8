// Package validation provides input validation utilities
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
)

// Validator accumulates validation errors across chained checks
type Validator struct {
	errors []string
}

// New creates a new Validator
func New() *Validator {
	return &Validator{
		errors: []string{},
	}
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// Error returns a combined error message
func (v *Validator) Error() string {
	return strings.Join(v.errors, "; ")
}

// Err returns nil when validation passed, otherwise a bad request
// error carrying all accumulated messages.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return apperrors.BadRequest("%s", v.Error())
}

// AddError adds a custom error
func (v *Validator) AddError(message string) {
	v.errors = append(v.errors, message)
}

// Required validates that a value is not empty
func (v *Validator) Required(value, field string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
	return v
}

// MinLength validates minimum string length
func (v *Validator) MinLength(value string, min int, field string) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.errors = append(v.errors, fmt.Sprintf("%s must be at least %d characters", field, min))
	}
	return v
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(value string, max int, field string) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return v
}

// Min validates minimum int value
func (v *Validator) Min(value, min int, field string) *Validator {
	if value < min {
		v.errors = append(v.errors, fmt.Sprintf("%s must be at least %d", field, min))
	}
	return v
}

// Max validates maximum int value
func (v *Validator) Max(value, max int, field string) *Validator {
	if value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be at most %d", field, max))
	}
	return v
}

// OneOf validates value is one of allowed values
func (v *Validator) OneOf(value string, allowed []string, field string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
	return v
}

// Duration validates that a non-empty value parses as a Go duration
// string such as "30s" or "1.5h".
func (v *Validator) Duration(value, field string) *Validator {
	if value == "" {
		return v
	}
	if _, err := time.ParseDuration(value); err != nil {
		v.errors = append(v.errors, fmt.Sprintf("%s must be a valid duration", field))
	}
	return v
}

// PositiveDuration validates that a duration is greater than zero when set
func (v *Validator) PositiveDuration(value time.Duration, field string) *Validator {
	if value < 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
	return v
}
