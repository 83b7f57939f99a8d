package executor

import (
	"context"
	"slices"

	"github.com/seantiz/fusion/internal/model"
)

// Executor is the interface every pluggable unit of work must implement.
// AI analysis steps and chain operations each provide their own
// implementation; the coordinator only holds a reference.
type Executor interface {
	// ID returns the identifier the executor is registered under.
	ID() string

	// Capabilities reports the units of work this executor can perform.
	Capabilities() []Capability

	// Execute performs the capability named in ec. Ordinary business failures
	// are reported with Success=false. A returned error (or a panic) signals a
	// defect and is converted into an InternalError result by the coordinator.
	// The context carries the step deadline.
	Execute(ctx context.Context, ec ExecContext) (model.ExecutionResult, error)
}

// Capability is a named, independently enable-able unit of work an executor
// declares support for.
type Capability struct {
	Type           string   `json:"type" yaml:"type"`
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Confidence     float64  `json:"confidence" yaml:"confidence"`
	RequiredConfig []string `json:"required_config" yaml:"required_config"`
}

// ExecContext is the runtime context handed to an executor for one step.
type ExecContext struct {
	RunID      string         `json:"run_id"`
	Timestamp  int64          `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
	Capability string         `json:"capability"`
	StepIndex  int            `json:"step_index"`
}

// FindCapability returns the executor's declared capability of the given
// type, whether or not it is enabled.
func FindCapability(e Executor, capType string) (Capability, bool) {
	caps := e.Capabilities()
	i := slices.IndexFunc(caps, func(c Capability) bool { return c.Type == capType })
	if i < 0 {
		return Capability{}, false
	}
	return caps[i], true
}

// HasEnabled reports whether the executor declares capType and has it enabled.
func HasEnabled(e Executor, capType string) bool {
	c, ok := FindCapability(e, capType)
	return ok && c.Enabled
}

// Func adapts a function to the Executor interface. It is convenient for
// in-process executors and test doubles.
type Func struct {
	Name string
	Caps []Capability
	Fn   func(ctx context.Context, ec ExecContext) (model.ExecutionResult, error)
}

// ID implements Executor.
func (f *Func) ID() string { return f.Name }

// Capabilities implements Executor.
func (f *Func) Capabilities() []Capability { return f.Caps }

// Execute implements Executor.
func (f *Func) Execute(ctx context.Context, ec ExecContext) (model.ExecutionResult, error) {
	return f.Fn(ctx, ec)
}
