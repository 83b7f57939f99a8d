package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID for a definition, run or executor.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is a well-formed ULID as produced by NewID.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
