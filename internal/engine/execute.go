package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/seantiz/fusion/internal/event"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
	"github.com/seantiz/fusion/internal/telemetry"
)

// execute runs the steps of a run in order and stops at the first failure.
func (c *Coordinator) execute(rs *runState, def model.Definition, metadata map[string]any) {
	runID := rs.run.ID

	for i, step := range def.Steps {
		if rs.terminal() {
			return
		}

		start := time.Now()
		res := c.runStep(runID, i, step, metadata)
		elapsed := time.Since(start)

		c.recordStep(step.CapabilityType, res, elapsed)

		sr := model.StepResult{
			StepIndex:  i,
			ExecutorID: step.ExecutorID,
			DurationMS: elapsed.Milliseconds(),
			Result:     res,
		}
		snap, version, ok := rs.record(sr, time.Now().UTC())
		if !ok {
			c.logger.Warn("discarding late step result",
				"run_id", runID,
				"step", i,
				"executor_id", step.ExecutorID,
			)
			return
		}

		if !res.Success {
			c.logger.Warn("step failed",
				"run_id", runID,
				"step", i,
				"executor_id", step.ExecutorID,
				"error", res.Error,
			)
			c.finish(rs, snap, version)
			return
		}

		c.logger.Debug("step completed", "run_id", runID, "step", i, "executor_id", step.ExecutorID, "duration_ms", sr.DurationMS)
		c.persist(snap, version)
		idx := i
		c.publish(event.Event{
			Type:         event.StepCompleted,
			RunID:        runID,
			DefinitionID: snap.DefinitionID,
			ExecutorID:   step.ExecutorID,
			StepIndex:    &idx,
			Status:       snap.Status,
		})
	}

	snap, version, ok := rs.complete(time.Now().UTC())
	if !ok {
		return
	}
	c.logger.Info("run completed", "run_id", runID, "duration_ms", snap.Duration().Milliseconds())
	c.finish(rs, snap, version)
}

// finish handles a run that has just become terminal: it persists the final
// snapshot, records metrics, publishes the terminal event, closes the run's
// event stream, and releases waiters. It runs exactly once per run.
func (c *Coordinator) finish(rs *runState, snap model.Run, version uint64) {
	c.persist(snap, version)

	c.record(telemetry.MetricRunDuration, snap.Duration().Seconds(), map[string]string{telemetry.LabelStatus: snap.Status})
	c.record(telemetry.MetricRunResults, 1, map[string]string{telemetry.LabelStatus: snap.Status})

	ev := event.Event{
		Type:         event.RunCompleted,
		RunID:        snap.ID,
		DefinitionID: snap.DefinitionID,
		Status:       snap.Status,
	}
	if snap.Status == model.StatusFailed {
		ev.Type = event.RunFailed
		ev.StepIndex = snap.FailedStep
		ev.Error = snap.Error
		if snap.FailedStep != nil && *snap.FailedStep < len(snap.Results) {
			ev.ExecutorID = snap.Results[*snap.FailedStep].ExecutorID
		}
	}
	c.publish(ev)
	c.broker.Close(snap.ID)
	close(rs.done)
}

// runStep resolves the step's executor at execution time and invokes it.
// Resolution failures become failed results rather than errors.
func (c *Coordinator) runStep(runID string, index int, step model.Step, metadata map[string]any) model.ExecutionResult {
	ex, err := c.registry.Get(step.ExecutorID)
	if err != nil {
		return model.Failure(model.KindExecutorNotFound,
			fmt.Sprintf("executor %q is not registered", step.ExecutorID))
	}
	if !executor.HasEnabled(ex, step.CapabilityType) {
		return model.Failure(model.KindCapabilityMissing,
			fmt.Sprintf("executor %q has no enabled capability %q", step.ExecutorID, step.CapabilityType))
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	ec := executor.ExecContext{
		RunID:      runID,
		Timestamp:  time.Now().UnixMilli(),
		Metadata:   metadata,
		Capability: step.CapabilityType,
		StepIndex:  index,
	}
	return c.invoke(ex, ec, timeout)
}

// invoke races the executor against the step deadline. The executor keeps
// running if the deadline wins; its result is then dropped into the buffered
// channel and never read.
func (c *Coordinator) invoke(ex executor.Executor, ec executor.ExecContext, timeout time.Duration) model.ExecutionResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	timedOut := model.Failure(model.KindExecutionTimeout,
		fmt.Sprintf("step %d exceeded timeout of %s", ec.StepIndex, timeout))

	settled := make(chan model.ExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("executor panicked",
					"run_id", ec.RunID,
					"step", ec.StepIndex,
					"executor_id", ex.ID(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				settled <- model.Failure(model.KindInternalError, fmt.Sprintf("executor panicked: %v", r))
			}
		}()

		res, err := ex.Execute(ctx, ec)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			settled <- timedOut
		case err != nil:
			settled <- model.Failure(model.KindInternalError, err.Error())
		default:
			settled <- normalizeResult(res)
		}
	}()

	select {
	case res := <-settled:
		return res
	case <-ctx.Done():
		return timedOut
	}
}

// normalizeResult clamps confidence to [0, 1] and makes sure every failure
// carries an error.
func normalizeResult(res model.ExecutionResult) model.ExecutionResult {
	res.Confidence = min(max(res.Confidence, 0), 1)
	if !res.Success && res.Error == nil {
		msg := res.Explanation
		if msg == "" {
			msg = "executor reported failure"
		}
		res.Error = &model.ExecError{Kind: model.KindExecutorReportedFailure, Message: msg}
	}
	return res
}

func (c *Coordinator) recordStep(capability string, res model.ExecutionResult, elapsed time.Duration) {
	outcome := "success"
	if !res.Success && res.Error != nil {
		outcome = string(res.Error.Kind)
	}
	labels := map[string]string{
		telemetry.LabelCapability: capability,
		telemetry.LabelOutcome:    outcome,
	}
	c.record(telemetry.MetricStepDuration, elapsed.Seconds(), labels)
	c.record(telemetry.MetricStepResults, 1, labels)
}
