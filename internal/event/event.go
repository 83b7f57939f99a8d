// Package event defines the lifecycle notifications published by the
// executor registry and the workflow coordinator, and the broker that fans
// them out to subscribers such as the SSE and WebSocket streams.
package event

import (
	"time"

	"github.com/seantiz/fusion/internal/model"
)

// Type identifies a lifecycle notification.
type Type string

// The fixed set of event types.
const (
	RunStarted           Type = "run-started"
	StepCompleted        Type = "step-completed"
	RunCompleted         Type = "run-completed"
	RunFailed            Type = "run-failed"
	ExecutorRegistered   Type = "executor-registered"
	ExecutorUnregistered Type = "executor-unregistered"
)

// Event is a lifecycle notification. Run events carry RunID and
// DefinitionID; step and failure events also carry the step index; executor
// events carry only ExecutorID.
type Event struct {
	Type         Type             `json:"type"`
	RunID        string           `json:"run_id,omitempty"`
	DefinitionID string           `json:"definition_id,omitempty"`
	ExecutorID   string           `json:"executor_id,omitempty"`
	StepIndex    *int             `json:"step_index,omitempty"`
	Status       string           `json:"status,omitempty"`
	Error        *model.ExecError `json:"error,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// IsRunEvent reports whether the event concerns a workflow run.
func (e Event) IsRunEvent() bool {
	return e.RunID != ""
}

// Filter selects events for a subscriber. A nil Filter accepts everything.
type Filter func(Event) bool

// OfTypes returns a filter accepting only the given event types.
func OfTypes(types ...Type) Filter {
	set := make(map[Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(e Event) bool { return set[e.Type] }
}

// ForRun returns a filter accepting only events of the given run.
func ForRun(runID string) Filter {
	return func(e Event) bool { return e.RunID == runID }
}

// And combines filters; nil filters are ignored.
func And(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}
