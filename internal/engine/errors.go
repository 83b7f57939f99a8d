package engine

import (
	"errors"
	"strings"
)

var (
	// ErrDefinitionNotFound is returned when a run is requested for an
	// unknown definition.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("invalid definition")

	// ErrClosed is returned when starting a run after Cleanup.
	ErrClosed = errors.New("coordinator closed")
)

// ViolationKind classifies a definition validation failure.
type ViolationKind string

// Violation kinds.
const (
	ViolationMissingName        ViolationKind = "MissingName"
	ViolationNoSteps            ViolationKind = "NoSteps"
	ViolationExecutorNotFound   ViolationKind = "ExecutorNotFound"
	ViolationCapabilityMissing  ViolationKind = "CapabilityMissing"
	ViolationCapabilityDisabled ViolationKind = "CapabilityDisabled"
	ViolationMissingRequirement ViolationKind = "MissingRequirement"
	ViolationInvalidTimeout     ViolationKind = "InvalidTimeout"
)

// Violation is one problem found while validating a definition. Step is -1
// for problems with the definition as a whole.
type Violation struct {
	Step       int           `json:"step"`
	Kind       ViolationKind `json:"kind"`
	ExecutorID string        `json:"executor_id,omitempty"`
	Capability string        `json:"capability,omitempty"`
	Message    string        `json:"message"`
}

// ValidationError lists every violation found in a rejected definition.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "invalid definition: " + strings.Join(msgs, "; ")
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
