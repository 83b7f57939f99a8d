package executor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/fusion/internal/event"
)

var (
	// ErrDuplicateExecutor is returned when registering an id that is taken.
	ErrDuplicateExecutor = errors.New("executor already registered")

	// ErrNotFound is returned when no executor is registered under an id.
	ErrNotFound = errors.New("executor not found")
)

// Info pairs an executor id with its capabilities.
type Info struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
}

// Registry is the in-memory directory of registered executors. It is safe for
// concurrent use; lookups may proceed while executors are registered or
// removed.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	notifier  event.Publisher
}

// NewRegistry creates an empty registry. Register and Unregister publish
// lifecycle events to notifier, which may be nil.
func NewRegistry(notifier event.Publisher) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		notifier:  notifier,
	}
}

// Register adds an executor under its own id and returns that id.
func (r *Registry) Register(e Executor) (string, error) {
	if e == nil {
		return "", errors.New("executor cannot be nil")
	}
	id := e.ID()
	if id == "" {
		return "", errors.New("executor id cannot be empty")
	}

	r.mu.Lock()
	if _, exists := r.executors[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("register %q: %w", id, ErrDuplicateExecutor)
	}
	r.executors[id] = e
	r.mu.Unlock()

	r.publish(event.ExecutorRegistered, id)
	return id, nil
}

// Unregister removes the executor with the given id and reports whether it
// was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, exists := r.executors[id]
	delete(r.executors, id)
	r.mu.Unlock()

	if exists {
		r.publish(event.ExecutorUnregistered, id)
	}
	return exists
}

// Get returns the executor registered under id.
func (r *Registry) Get(id string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[id]
	if !ok {
		return nil, fmt.Errorf("executor %q: %w", id, ErrNotFound)
	}
	return e, nil
}

// FindByCapability returns every executor that has capType enabled, sorted
// by id.
func (r *Registry) FindByCapability(capType string) []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []Executor
	for _, e := range r.executors {
		if HasEnabled(e, capType) {
			found = append(found, e)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].ID() < found[j].ID()
	})
	return found
}

// Len returns the number of registered executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// List returns information about all registered executors, sorted by id
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for id, e := range r.executors {
		infos = append(infos, Info{
			ID:           id,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// publish is called without the lock held so a slow notifier never stalls
// lookups.
func (r *Registry) publish(typ event.Type, id string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Publish(event.Event{
		Type:       typ,
		ExecutorID: id,
		Timestamp:  time.Now().UTC(),
	})
}
