// Package store implements the durable snapshot sink for workflow
// definitions and runs. It is a small key-value contract with grouped maps
// for namespacing runs under their definition.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key or group field does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrPersistence wraps failures writing to or reading from a store. The
	// coordinator logs these and never lets them change a run's outcome.
	ErrPersistence = errors.New("persistence error")
)

// Store defines the persistence operations for serialized records.
type Store interface {
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// HSet stores value under field within group.
	HSet(ctx context.Context, group, field string, value []byte) error
	// HGet returns one field of a group or ErrNotFound.
	HGet(ctx context.Context, group, field string) ([]byte, error)
	// HGetAll returns every field of a group. A missing group is empty.
	HGetAll(ctx context.Context, group string) (map[string][]byte, error)
	Close() error
}

// Key naming conventions for fusion records.

// DefinitionsGroup is the group holding every definition, keyed by id.
const DefinitionsGroup = "definitions"

// RunKey returns the key for a run snapshot: run:{id}
func RunKey(id string) string { return "run:" + id }

// DefinitionKey returns the key for a definition: definition:{id}
func DefinitionKey(id string) string { return "definition:" + id }

// RunsGroup returns the group holding the runs of a definition:
// definition:{id}:runs
func RunsGroup(definitionID string) string { return "definition:" + definitionID + ":runs" }
