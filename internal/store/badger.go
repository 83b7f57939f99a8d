package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// Badger keys are namespaced so plain records and group fields never collide.
const (
	badgerRecordPrefix = "r\x00"
	badgerGroupPrefix  = "g\x00"
)

// Compile-time interface satisfaction check.
var _ Store = (*BadgerStore)(nil)

// BadgerStore implements Store on an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(key string) []byte { return []byte(badgerRecordPrefix + key) }

func groupPrefix(group string) []byte { return []byte(badgerGroupPrefix + group + "\x00") }

func groupKey(group, field string) []byte {
	return append(groupPrefix(group), field...)
}

func (s *BadgerStore) put(k, v []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (s *BadgerStore) fetch(k []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// Set stores a record.
func (s *BadgerStore) Set(_ context.Context, key string, value []byte) error {
	if err := s.put(recordKey(key), value); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.fetch(recordKey(key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return v, err
}

// HSet stores one field of a group.
func (s *BadgerStore) HSet(_ context.Context, group, field string, value []byte) error {
	if err := s.put(groupKey(group, field), value); err != nil {
		return fmt.Errorf("badger hset: %w", err)
	}
	return nil
}

// HGet retrieves one field of a group.
func (s *BadgerStore) HGet(_ context.Context, group, field string) ([]byte, error) {
	v, err := s.fetch(groupKey(group, field))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("badger hget: %w", err)
	}
	return v, err
}

// HGetAll retrieves every field of a group by prefix iteration.
func (s *BadgerStore) HGetAll(_ context.Context, group string) (map[string][]byte, error) {
	prefix := groupPrefix(group)
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.Key()[len(prefix):])] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger hgetall: %w", err)
	}
	return out, nil
}
