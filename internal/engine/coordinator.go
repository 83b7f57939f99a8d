package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/seantiz/fusion/internal/event"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
	"github.com/seantiz/fusion/internal/store"
	"github.com/seantiz/fusion/internal/telemetry"
)

// DefaultStepTimeout applies to steps that do not set their own timeout.
const DefaultStepTimeout = 30 * time.Second

// Status is the externally visible state of a run.
type Status struct {
	model.Run
	Progress int `json:"progress"`
}

func statusOf(r model.Run) Status {
	return Status{Run: r, Progress: r.Progress()}
}

// Stats summarizes the runs held in memory.
type Stats struct {
	Definitions   int            `json:"definitions"`
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore persists definitions and run snapshots to s. Without a store
// nothing is persisted.
func WithStore(s store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithBroker publishes lifecycle events to b. The registry should publish to
// the same broker so the coordinator can track executor registrations.
func WithBroker(b *event.Broker) Option {
	return func(c *Coordinator) { c.broker = b }
}

// WithTelemetry records execution metrics with r.
func WithTelemetry(r telemetry.Recorder) Option {
	return func(c *Coordinator) { c.telemetry = r }
}

// WithDefaultStepTimeout overrides DefaultStepTimeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithPersistTimeout bounds each snapshot write and the flush performed by
// Cleanup. It overrides DefaultPersistTimeout.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// Coordinator owns workflow definitions and runs. Each run executes on its
// own goroutine; any number of runs may be in flight at once.
type Coordinator struct {
	registry       *executor.Registry
	store          store.Store
	broker         *event.Broker
	telemetry      telemetry.Recorder
	logger         *slog.Logger
	defaultTimeout time.Duration
	persistTimeout time.Duration

	persister *persister

	mu          sync.RWMutex
	definitions map[string]model.Definition
	runs        map[string]*runState
	closed      bool

	wg          sync.WaitGroup
	unsubscribe func()
	watchDone   chan struct{}
	cleanupOnce sync.Once
}

// NewCoordinator creates a coordinator that resolves executors from reg.
func NewCoordinator(reg *executor.Registry, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:       reg,
		logger:         logger,
		telemetry:      telemetry.Nop{},
		defaultTimeout: DefaultStepTimeout,
		persistTimeout: DefaultPersistTimeout,
		definitions:    make(map[string]model.Definition),
		runs:           make(map[string]*runState),
		watchDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.broker == nil {
		c.broker = event.NewBroker()
	}
	if c.store != nil {
		c.persister = newPersister(c.store, logger, c.persistTimeout)
	}

	ch, unsub := c.broker.SubscribeAll(event.OfTypes(event.ExecutorRegistered, event.ExecutorUnregistered))
	c.unsubscribe = unsub
	c.record(telemetry.MetricExecutorsRegistered, float64(reg.Len()), nil)
	go c.watchExecutors(ch)

	return c
}

// Broker returns the broker lifecycle events are published to.
func (c *Coordinator) Broker() *event.Broker {
	return c.broker
}

// watchExecutors keeps the executor gauge current until the subscription
// is released.
func (c *Coordinator) watchExecutors(ch <-chan event.Event) {
	defer close(c.watchDone)
	for ev := range ch {
		c.logger.Debug("executor registry changed", "event", ev.Type, "executor_id", ev.ExecutorID)
		c.record(telemetry.MetricExecutorsRegistered, float64(c.registry.Len()), nil)
	}
}

// CreateDefinition validates steps against the registry and stores a new
// immutable definition. Every step is checked; a rejected definition returns
// a *ValidationError listing all violations.
func (c *Coordinator) CreateDefinition(name string, steps []model.Step) (model.Definition, error) {
	if err := validateDefinition(c.registry, name, steps); err != nil {
		return model.Definition{}, err
	}

	def := model.Definition{
		ID:        model.NewID(),
		Name:      name,
		Steps:     model.CloneSteps(steps),
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.definitions[def.ID] = def
	c.mu.Unlock()

	c.logger.Info("definition created", "definition_id", def.ID, "name", def.Name, "steps", len(def.Steps))

	if c.persister != nil {
		stored := def.Clone()
		c.persister.enqueue(persistJob{definition: &stored})
	}
	return def.Clone(), nil
}

// Definition returns the definition with the given id.
func (c *Coordinator) Definition(id string) (model.Definition, error) {
	c.mu.RLock()
	def, ok := c.definitions[id]
	c.mu.RUnlock()
	if !ok {
		return model.Definition{}, fmt.Errorf("definition %q: %w", id, ErrDefinitionNotFound)
	}
	return def.Clone(), nil
}

// Definitions returns every known definition, oldest first.
func (c *Coordinator) Definitions() []model.Definition {
	c.mu.RLock()
	out := make([]model.Definition, 0, len(c.definitions))
	for _, def := range c.definitions {
		out = append(out, def.Clone())
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Definition) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Start creates a run of the given definition and begins executing it in
// the background. The returned status is already running.
func (c *Coordinator) Start(definitionID string, metadata map[string]any) (Status, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	def, ok := c.definitions[definitionID]
	if !ok {
		c.mu.Unlock()
		return Status{}, fmt.Errorf("definition %q: %w", definitionID, ErrDefinitionNotFound)
	}
	def = def.Clone()

	rs := newRunState(model.NewID(), def.ID, len(def.Steps))
	snap, version, _ := rs.start(time.Now().UTC())
	c.runs[snap.ID] = rs
	// Counted under the lock so Cleanup cannot miss a run it did not refuse.
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("run started", "run_id", snap.ID, "definition_id", def.ID, "steps", len(def.Steps))
	c.persist(snap, version)
	c.publish(event.Event{
		Type:         event.RunStarted,
		RunID:        snap.ID,
		DefinitionID: snap.DefinitionID,
		Status:       snap.Status,
	})

	go func() {
		defer c.wg.Done()
		c.execute(rs, def, maps.Clone(metadata))
	}()

	return statusOf(snap), nil
}

// Run starts a run and waits for it to reach a terminal state. Business
// failures are reported in the returned status, not as an error. If ctx ends
// first, the current status is returned with ctx's error; the run keeps
// going in the background.
func (c *Coordinator) Run(ctx context.Context, definitionID string, metadata map[string]any) (Status, error) {
	st, err := c.Start(definitionID, metadata)
	if err != nil {
		return Status{}, err
	}
	return c.Wait(ctx, st.ID)
}

// Wait blocks until the run is terminal or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, runID string) (Status, error) {
	rs, err := c.lookup(runID)
	if err != nil {
		return Status{}, err
	}
	select {
	case <-rs.done:
		return statusOf(rs.snapshot()), nil
	case <-ctx.Done():
		return statusOf(rs.snapshot()), ctx.Err()
	}
}

// Status returns a snapshot of the run. It has no side effects.
func (c *Coordinator) Status(runID string) (Status, error) {
	rs, err := c.lookup(runID)
	if err != nil {
		return Status{}, err
	}
	return statusOf(rs.snapshot()), nil
}

// Stop fails a running run with StoppedByUser. It reports whether the run
// was stopped; a run that is already terminal is left unchanged. Stop does
// not interrupt the executor handling the current step.
func (c *Coordinator) Stop(runID string) (Status, bool, error) {
	rs, err := c.lookup(runID)
	if err != nil {
		return Status{}, false, err
	}
	snap, version, ok := rs.stop(time.Now().UTC())
	if !ok {
		return statusOf(snap), false, nil
	}
	c.logger.Info("run stopped", "run_id", runID, "step", *snap.FailedStep)
	c.finish(rs, snap, version)
	return statusOf(snap), true, nil
}

// Runs returns a snapshot of every run in memory, most recent first.
func (c *Coordinator) Runs() []Status {
	c.mu.RLock()
	states := make([]*runState, 0, len(c.runs))
	for _, rs := range c.runs {
		states = append(states, rs)
	}
	c.mu.RUnlock()

	out := make([]Status, len(states))
	for i, rs := range states {
		out[i] = statusOf(rs.snapshot())
	}
	slices.SortFunc(out, func(a, b Status) int {
		if n := b.StartedAt.Compare(a.StartedAt); n != 0 {
			return n
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// Stats summarizes the runs held in memory.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defs := len(c.definitions)
	c.mu.RUnlock()

	st := Stats{
		Definitions: defs,
		CountByStatus: map[string]int{
			model.StatusPending:   0,
			model.StatusRunning:   0,
			model.StatusCompleted: 0,
			model.StatusFailed:    0,
		},
	}
	var total time.Duration
	var finished int
	for _, s := range c.Runs() {
		st.Total++
		st.CountByStatus[s.Status]++
		if s.CompletedAt != nil {
			total += s.Duration()
			finished++
		}
	}
	if finished > 0 {
		st.AvgDurationMS = float64(total.Milliseconds()) / float64(finished)
	}
	return st
}

// History reads the persisted runs of a definition, oldest first. It
// includes runs from earlier processes.
func (c *Coordinator) History(ctx context.Context, definitionID string) ([]model.Run, error) {
	if c.store == nil {
		return []model.Run{}, nil
	}
	fields, err := c.store.HGetAll(ctx, store.RunsGroup(definitionID))
	if err != nil {
		return nil, fmt.Errorf("%w: read run history: %v", store.ErrPersistence, err)
	}

	runs := make([]model.Run, 0, len(fields))
	for id, data := range fields {
		var r model.Run
		if err := json.Unmarshal(data, &r); err != nil {
			c.logger.Warn("skipping undecodable run snapshot", "run_id", id, "error", err)
			continue
		}
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b model.Run) int {
		if n := a.StartedAt.Compare(b.StartedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return runs, nil
}

// Restore loads persisted definitions into memory and returns how many were
// added. Runs are not resumed.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	fields, err := c.store.HGetAll(ctx, store.DefinitionsGroup)
	if err != nil {
		return 0, fmt.Errorf("%w: read definitions: %v", store.ErrPersistence, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for id, data := range fields {
		var def model.Definition
		if err := json.Unmarshal(data, &def); err != nil {
			c.logger.Warn("skipping undecodable definition", "definition_id", id, "error", err)
			continue
		}
		if !model.ValidID(def.ID) || def.ID != id {
			c.logger.Warn("skipping definition with malformed id", "definition_id", id)
			continue
		}
		if _, exists := c.definitions[def.ID]; exists {
			continue
		}
		c.definitions[def.ID] = def
		added++
	}
	return added, nil
}

// Cleanup refuses new runs, waits for every in-flight run to reach a
// terminal state, releases the registry subscription, and flushes pending
// snapshots. A run that is still executing is waited on through all of its
// remaining steps, so the wait is bounded by their step timeouts; stopping a
// run first cuts it short after the current step. The flush is bounded by
// the persist timeout. It is safe to call more than once. The store itself
// is left open for its owner to close.
func (c *Coordinator) Cleanup() {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.wg.Wait()

		c.unsubscribe()
		<-c.watchDone

		if c.persister != nil {
			c.persister.close()
		}
		c.logger.Info("coordinator stopped")
	})
}

func (c *Coordinator) lookup(runID string) (*runState, error) {
	c.mu.RLock()
	rs, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return rs, nil
}

func (c *Coordinator) persist(snap model.Run, version uint64) {
	if c.persister == nil {
		return
	}
	c.persister.enqueue(persistJob{run: &snap, version: version})
}

func (c *Coordinator) publish(ev event.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.broker.Publish(ev)
}

// record forwards an observation to the telemetry recorder. A misbehaving
// recorder never affects execution.
func (c *Coordinator) record(name string, value float64, labels map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("telemetry recorder panicked", "metric", name, "panic", r)
		}
	}()
	c.telemetry.RecordMetric(name, value, labels)
}
