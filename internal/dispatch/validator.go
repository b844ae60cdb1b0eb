package dispatch

import (
	"encoding/json"
	"strings"
)

// DefaultMinResponseLength is the minimum trimmed length a text response
// must exceed to count as a real answer.
const DefaultMinResponseLength = 10

// Validator decides whether a provider's raw output counts as acceptable.
// A provider that returns successfully but uselessly (empty, too short,
// malformed) is treated exactly like one that errored.
type Validator struct {
	minLength int
}

// NewValidator creates a Validator. A minLength of zero or less uses
// DefaultMinResponseLength.
func NewValidator(minLength int) *Validator {
	if minLength <= 0 {
		minLength = DefaultMinResponseLength
	}
	return &Validator{minLength: minLength}
}

// IsAcceptable reports whether raw is a usable result for the given task.
// The trimmed output must exceed the minimum length, and structured
// categories must additionally parse as JSON.
func (v *Validator) IsAcceptable(task *Task, raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= v.minLength {
		return false
	}
	if task != nil && task.Category.Structured() {
		return json.Valid([]byte(trimmed))
	}
	return true
}
