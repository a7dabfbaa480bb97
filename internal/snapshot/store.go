// Package snapshot persists reference artifacts under their reference keys.
//
// A key maps to at most one stored reference. Put replaces the stored bytes
// wholesale; nothing is ever modified in place. Backends tolerate concurrent
// use for distinct keys; concurrent writes to the same key are undefined.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
)

// ErrNotFound is returned when a reference doesn't exist.
var ErrNotFound = errors.New("snapshot not found")

// ErrStorage matches every StorageError.
var ErrStorage = errors.New("snapshot storage failure")

// ErrCorrupt is returned when stored bytes do not decode as their kind.
// The medium worked; the reference itself is unusable.
var ErrCorrupt = errors.New("corrupt reference")

// ErrKeyConflict is returned when a location already holds the reference of
// a different key. Sanitized file names can collide; fingerprints cannot.
var ErrKeyConflict = errors.New("reference belongs to a different key")

// StorageError reports a failed I/O operation on the durable medium.
type StorageError struct {
	Op       string // read, write, delete, list, open
	Location string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("snapshot storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("snapshot storage: %s %s: %v", e.Op, e.Location, e.Err)
}

// Unwrap exposes both ErrStorage and the cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op, location string, err error) error {
	return &StorageError{Op: op, Location: location, Err: err}
}

// Summary is a lightweight view of a stored reference for listing.
type Summary struct {
	Location  string        `json:"location"`
	Kind      artifact.Kind `json:"kind"`
	Size      int64         `json:"size"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	Checksum  string        `json:"checksum"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Store manages reference persistence.
type Store interface {
	// Get returns the reference for key, or ErrNotFound.
	Get(ctx context.Context, key refkey.Key) (artifact.Artifact, error)

	// Put stores a, replacing any existing reference for key.
	Put(ctx context.Context, key refkey.Key, a artifact.Artifact) error

	// Delete removes the reference for key, or returns ErrNotFound.
	Delete(ctx context.Context, key refkey.Key) error

	// Exists reports whether a reference is stored for key.
	Exists(ctx context.Context, key refkey.Key) (bool, error)

	// List returns every stored reference, sorted by location.
	List(ctx context.Context) ([]Summary, error)

	// Prune removes references not written within olderThan.
	// Returns the number of references deleted.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// Location describes where the reference for key lives.
	Location(key refkey.Key) string

	// Close releases backend resources.
	Close() error
}

// decode rebuilds an artifact read back from a backend.
func decode(location string, kind artifact.Kind, data []byte) (artifact.Artifact, error) {
	a, err := artifact.New(kind, data)
	if err != nil {
		return artifact.Artifact{}, corruptErr(location, err)
	}
	return a, nil
}

func corruptErr(location string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorrupt, location, err)
}

func conflictErr(location, stored, want string) error {
	return fmt.Errorf("%w: %s holds %s, key is %s", ErrKeyConflict, location, stored, want)
}

// checkOwner fails when a location records a fingerprint other than key's.
// References written without one belong to whoever asks.
func checkOwner(location, stored string, key refkey.Key) error {
	if want := key.Fingerprint(); stored != "" && stored != want {
		return conflictErr(location, stored, want)
	}
	return nil
}
