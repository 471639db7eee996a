// Package local persists the shared document as a single blob on this device.
package local

import (
	"context"
	"errors"
	"fmt"

	"classdesk/api/internal/schema"
)

// DefaultKey is the well-known name the blob is stored under.
const DefaultKey = "classdesk-state"

var (
	ErrNotFound  = errors.New("local document not found")
	ErrCorrupted = errors.New("local document corrupted")
)

// CorruptedError is returned by Load when a blob exists but cannot be parsed.
type CorruptedError struct {
	Path string
	Err  error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("local document %s corrupted: %v", e.Path, e.Err)
}

func (e *CorruptedError) Unwrap() error { return e.Err }

func (e *CorruptedError) Is(target error) bool { return target == ErrCorrupted }

// Store is the synchronous, always available per-device persistence target.
type Store interface {
	Load() (schema.Partial, error)
	Save(doc schema.Document) error
	Clear() error
}

// Watcher is implemented by stores that can report rewrites made by another
// process sharing the same blob.
type Watcher interface {
	Watch(ctx context.Context, onChange func(schema.Partial)) error
}
