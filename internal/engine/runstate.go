package engine

import (
	"sync"
	"time"

	"github.com/seantiz/fusion/internal/model"
)

// runState is the coordinator's mutable record of one run. All transitions
// go through the methods below, which hold mu and return a snapshot of the
// run as it was immediately after the change.
type runState struct {
	mu      sync.Mutex
	run     model.Run
	version uint64
	done    chan struct{}
}

func newRunState(id, definitionID string, stepCount int) *runState {
	return &runState{
		run: model.Run{
			ID:           id,
			DefinitionID: definitionID,
			Status:       model.StatusPending,
			Results:      []model.StepResult{},
			StepCount:    stepCount,
		},
		done: make(chan struct{}),
	}
}

func (rs *runState) snapshot() model.Run {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.run.Clone()
}

func (rs *runState) terminal() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return model.IsTerminal(rs.run.Status)
}

// start moves a pending run to running.
func (rs *runState) start(now time.Time) (model.Run, uint64, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !model.ValidTransition(rs.run.Status, model.StatusRunning) {
		return model.Run{}, 0, false
	}
	rs.run.Status = model.StatusRunning
	rs.run.StartedAt = now
	rs.version++
	return rs.run.Clone(), rs.version, true
}

// record appends a step result. An unsuccessful result also fails the run.
// It reports false, leaving the run untouched, when the run is already
// terminal.
func (rs *runState) record(sr model.StepResult, now time.Time) (model.Run, uint64, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.run.Status != model.StatusRunning {
		return model.Run{}, 0, false
	}
	rs.run.Results = append(rs.run.Results, sr)
	if !sr.Result.Success {
		rs.failLocked(sr.StepIndex, sr.Result.Error, now)
	}
	rs.version++
	return rs.run.Clone(), rs.version, true
}

// complete moves a running run to completed.
func (rs *runState) complete(now time.Time) (model.Run, uint64, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !model.ValidTransition(rs.run.Status, model.StatusCompleted) {
		return model.Run{}, 0, false
	}
	rs.run.Status = model.StatusCompleted
	rs.run.CompletedAt = &now
	rs.version++
	return rs.run.Clone(), rs.version, true
}

// stop fails a running run with StoppedByUser. The failed step is the one
// that was in flight.
func (rs *runState) stop(now time.Time) (model.Run, uint64, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !model.ValidTransition(rs.run.Status, model.StatusFailed) {
		return rs.run.Clone(), 0, false
	}
	rs.failLocked(len(rs.run.Results), &model.ExecError{
		Kind:    model.KindStoppedByUser,
		Message: "run stopped by user",
	}, now)
	rs.version++
	return rs.run.Clone(), rs.version, true
}

func (rs *runState) failLocked(step int, cause *model.ExecError, now time.Time) {
	rs.run.Status = model.StatusFailed
	rs.run.FailedStep = &step
	if cause != nil {
		e := *cause
		rs.run.Error = &e
	}
	rs.run.CompletedAt = &now
}
