package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
)

// validateDefinition checks a definition against the registry. Every step is
// checked and all violations are collected before returning.
func validateDefinition(reg *executor.Registry, name string, steps []model.Step) error {
	var vs []Violation

	if strings.TrimSpace(name) == "" {
		vs = append(vs, Violation{
			Step:    -1,
			Kind:    ViolationMissingName,
			Message: "definition name is required",
		})
	}
	if len(steps) == 0 {
		vs = append(vs, Violation{
			Step:    -1,
			Kind:    ViolationNoSteps,
			Message: "definition must have at least one step",
		})
	}

	for i, step := range steps {
		vs = append(vs, validateStep(reg, i, step)...)
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}

func validateStep(reg *executor.Registry, i int, step model.Step) []Violation {
	var vs []Violation
	base := Violation{Step: i, ExecutorID: step.ExecutorID, Capability: step.CapabilityType}

	if step.Timeout < 0 {
		v := base
		v.Kind = ViolationInvalidTimeout
		v.Message = fmt.Sprintf("step %d: timeout must not be negative", i)
		vs = append(vs, v)
	}

	ex, err := reg.Get(step.ExecutorID)
	if err != nil {
		v := base
		v.Kind = ViolationExecutorNotFound
		v.Message = fmt.Sprintf("step %d: executor %q is not registered", i, step.ExecutorID)
		return append(vs, v)
	}

	capability, ok := executor.FindCapability(ex, step.CapabilityType)
	if !ok {
		v := base
		v.Kind = ViolationCapabilityMissing
		v.Message = fmt.Sprintf("step %d: executor %q does not declare capability %q", i, step.ExecutorID, step.CapabilityType)
		return append(vs, v)
	}
	if !capability.Enabled {
		v := base
		v.Kind = ViolationCapabilityDisabled
		v.Message = fmt.Sprintf("step %d: capability %q is disabled on executor %q", i, step.CapabilityType, step.ExecutorID)
		vs = append(vs, v)
	}

	for _, key := range capability.RequiredConfig {
		if slices.Contains(step.Requirements, key) {
			continue
		}
		v := base
		v.Kind = ViolationMissingRequirement
		v.Message = fmt.Sprintf("step %d: missing requirement %q for capability %q", i, key, step.CapabilityType)
		vs = append(vs, v)
	}

	return vs
}
