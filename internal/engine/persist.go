package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/seantiz/fusion/internal/model"
	"github.com/seantiz/fusion/internal/store"
)

// DefaultPersistTimeout bounds each snapshot write and the final flush
// performed by Cleanup.
const DefaultPersistTimeout = 5 * time.Second

// persistJob is one snapshot waiting to be written. Exactly one of run and
// definition is set.
type persistJob struct {
	run        *model.Run
	version    uint64
	definition *model.Definition
}

func (j persistJob) key() string {
	if j.run != nil {
		return store.RunKey(j.run.ID)
	}
	return store.DefinitionKey(j.definition.ID)
}

// persister writes snapshots on a single background goroutine. Pending
// snapshots are coalesced per key, so enqueue never waits on the store and a
// run only ever has its newest snapshot pending.
type persister struct {
	store   store.Store
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]persistJob
	closed  bool

	wake chan struct{}
	done chan struct{}

	// written is only touched by the worker goroutine.
	written map[string]uint64
}

func newPersister(s store.Store, logger *slog.Logger, timeout time.Duration) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{
		store:   s,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]persistJob),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		written: make(map[string]uint64),
	}
	go p.loop()
	return p
}

// enqueue records job as the newest pending snapshot for its key. It never
// blocks on the store.
func (p *persister) enqueue(job persistJob) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("persister closed, dropping snapshot", "key", job.key())
		return
	}
	k := job.key()
	if prev, ok := p.pending[k]; !ok || prev.run == nil || job.version > prev.version {
		p.pending[k] = job
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close stops accepting snapshots and waits for pending ones to be written.
// If the flush outlasts the persist timeout, in-flight writes are cancelled
// and whatever is left is dropped.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Warn("snapshot flush timed out, abandoning pending writes")
		p.cancel()
		<-p.done
	}
	p.cancel()
}

func (p *persister) loop() {
	defer close(p.done)
	for {
		<-p.wake

		for {
			p.mu.Lock()
			batch := p.pending
			closed := p.closed
			p.pending = make(map[string]persistJob)
			p.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, job := range batch {
				if p.ctx.Err() != nil {
					p.logger.Warn("dropping snapshot after flush deadline", "key", job.key())
					continue
				}
				p.write(job)
			}
		}
	}
}

func (p *persister) write(job persistJob) {
	switch {
	case job.run != nil:
		if job.version <= p.written[job.run.ID] {
			return
		}
		if err := p.writeRun(job.run); err != nil {
			p.logger.Error("failed to persist run",
				"run_id", job.run.ID,
				"status", job.run.Status,
				"error", err,
			)
			return
		}
		p.written[job.run.ID] = job.version
	case job.definition != nil:
		if err := p.writeDefinition(job.definition); err != nil {
			p.logger.Error("failed to persist definition",
				"definition_id", job.definition.ID,
				"error", err,
			)
		}
	}
}

func (p *persister) writeRun(run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("%w: encode run: %v", store.ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	if err := p.store.Set(ctx, store.RunKey(run.ID), data); err != nil {
		return fmt.Errorf("%w: set run: %v", store.ErrPersistence, err)
	}
	if err := p.store.HSet(ctx, store.RunsGroup(run.DefinitionID), run.ID, data); err != nil {
		return fmt.Errorf("%w: index run: %v", store.ErrPersistence, err)
	}
	return nil
}

func (p *persister) writeDefinition(def *model.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("%w: encode definition: %v", store.ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	if err := p.store.Set(ctx, store.DefinitionKey(def.ID), data); err != nil {
		return fmt.Errorf("%w: set definition: %v", store.ErrPersistence, err)
	}
	if err := p.store.HSet(ctx, store.DefinitionsGroup, def.ID, data); err != nil {
		return fmt.Errorf("%w: index definition: %v", store.ErrPersistence, err)
	}
	return nil
}
