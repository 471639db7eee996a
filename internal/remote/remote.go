// Package remote reads, writes and subscribes to the per-identity document in
// the multi-device authoritative store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"classdesk/api/internal/schema"
)

var (
	ErrNotFound    = errors.New("remote document not found")
	ErrUnavailable = errors.New("remote store unavailable")
	ErrNoIdentity  = errors.New("remote store requires an identity id")
)

// UnavailableError wraps a transport failure talking to the remote store.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// Snapshot is one delivery to a subscriber. Exists is false when the identity
// has no remote document yet.
type Snapshot struct {
	Exists bool
	Doc    schema.Partial
	// Origin identifies the writer when the backend carries it.
	Origin string
}

// Unsubscribe stops a subscription. It is safe to call more than once but must
// not be called from inside the subscription's own callback.
type Unsubscribe func()

// Store is the remote persistence contract. Subscribe delivers the current
// value once and then every later change, including changes caused by this
// process's own writes.
type Store interface {
	ReadOnce(ctx context.Context, id string) (schema.Partial, error)
	WriteWhole(ctx context.Context, id string, doc schema.Document) error
	Subscribe(ctx context.Context, id string, onChange func(Snapshot)) (Unsubscribe, error)
	Ping(ctx context.Context) error
	Close() error
}

// Creator is implemented by stores that can create a document atomically only
// when none exists. It reports false if another writer got there first.
type Creator interface {
	CreateIfAbsent(ctx context.Context, id string, doc schema.Document) (bool, error)
}

func encode(doc schema.Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal remote document: %w", err)
	}
	return data, nil
}

// decode turns a stored payload into a snapshot. Unparseable payloads are
// delivered as an existing, empty document so the reader falls back to
// defaults instead of treating the identity as new.
func decode(data []byte) (Snapshot, error) {
	partial, err := schema.ParsePartial(data)
	if err != nil {
		return Snapshot{Exists: true, Doc: schema.Partial{}}, err
	}
	return Snapshot{Exists: true, Doc: partial}, nil
}

func validID(id string) error {
	if id == "" {
		return ErrNoIdentity
	}
	return nil
}

// subscription owns the goroutine behind one Subscribe call.
type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(parent context.Context) (*subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &subscription{cancel: cancel, done: make(chan struct{})}, ctx
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// RetryDelay is the backoff before the nth reconnect attempt: 100ms doubling
// up to 30s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 100 * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
