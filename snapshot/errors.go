package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrSerialization = errors.New("snapshot: serialization failed")
	ErrNotFound      = errors.New("snapshot: not found")
	ErrStorage       = errors.New("snapshot: storage failure")

	// ErrEmptyLabel is wrapped by backends asked to store an unlabeled snapshot.
	ErrEmptyLabel = errors.New("snapshot: empty label")
)

// SerializationError reports an input that cannot be normalized into an
// attribute mapping.
type SerializationError struct {
	Type   string // Go type of the offending value
	Path   string // dotted path to the offending field, empty at top level
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("snapshot: cannot serialize %s at %s: %s", e.Type, e.Path, e.Reason)
	}
	return fmt.Sprintf("snapshot: cannot serialize %s: %s", e.Type, e.Reason)
}

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// NotFoundError names the labels that were referenced but absent.
type NotFoundError struct {
	Labels []string
}

func (e *NotFoundError) Error() string {
	quoted := make([]string, len(e.Labels))
	for i, l := range e.Labels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return "snapshot: not found: " + strings.Join(quoted, ", ")
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageError wraps a backend I/O failure with the backend identity.
type StorageError struct {
	Backend string
	Op      string
	Label   string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("snapshot: %s backend: %s %q: %v", e.Backend, e.Op, e.Label, e.Err)
	}
	return fmt.Sprintf("snapshot: %s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err for the given backend operation. It returns nil
// for a nil err and leaves an existing *StorageError untouched.
func NewStorageError(backend, op, label string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Label: label, Err: err}
}
