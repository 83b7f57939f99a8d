package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry and therefore allow no transition.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final run status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ExecutionResult is the outcome of a single executor invocation.
type ExecutionResult struct {
	Success     bool       `json:"success"`
	Confidence  float64    `json:"confidence"`
	Payload     any        `json:"payload,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Error       *ExecError `json:"error,omitempty"`
}

// Failure builds an unsuccessful result carrying an error of the given kind.
func Failure(kind ErrorKind, message string) ExecutionResult {
	return ExecutionResult{
		Success: false,
		Error:   &ExecError{Kind: kind, Message: message},
	}
}

// StepResult records the result of one step attempt within a run.
type StepResult struct {
	StepIndex  int             `json:"step_index"`
	ExecutorID string          `json:"executor_id"`
	DurationMS int64           `json:"duration_ms"`
	Result     ExecutionResult `json:"result"`
}

// Run is one execution instance of a Definition.
type Run struct {
	ID           string       `json:"id"`
	DefinitionID string       `json:"definition_id"`
	Status       string       `json:"status"`
	Results      []StepResult `json:"results"`
	StepCount    int          `json:"step_count"`
	FailedStep   *int         `json:"failed_step,omitempty"`
	Error        *ExecError   `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the run that shares no mutable state with r.
// Result payloads are treated as opaque and copied by reference.
func (r *Run) Clone() Run {
	c := *r
	c.Results = make([]StepResult, len(r.Results))
	for i, sr := range r.Results {
		if sr.Result.Error != nil {
			e := *sr.Result.Error
			sr.Result.Error = &e
		}
		c.Results[i] = sr
	}
	if r.FailedStep != nil {
		fs := *r.FailedStep
		c.FailedStep = &fs
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Progress computes the completion percentage of the run. Completed runs
// report 100 and pending runs 0. Otherwise only successful results count, so a
// failed run never reaches 100.
func (r *Run) Progress() int {
	switch r.Status {
	case StatusPending:
		return 0
	case StatusCompleted:
		return 100
	}
	if r.StepCount == 0 {
		return 0
	}
	ok := 0
	for _, sr := range r.Results {
		if sr.Result.Success {
			ok++
		}
	}
	return 100 * ok / r.StepCount
}

// Duration returns the wall-clock time from start to completion, or zero if
// the run has not finished.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
