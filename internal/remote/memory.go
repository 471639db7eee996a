package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"classdesk/api/internal/schema"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is an in-process remote store. Documents and subscribers live in
// concurrent maps; each subscriber owns a mailbox that keeps only the newest
// undelivered snapshot.
type MemoryStore struct {
	// mu orders writes against subscription setup so a subscriber never
	// receives an older value after a newer one.
	mu     sync.Mutex
	docs   *xsync.MapOf[string, []byte]
	subs   *xsync.MapOf[uint64, *mailbox]
	nextID atomic.Uint64
}

type mailbox struct {
	id      string
	mu      sync.Mutex
	pending *Snapshot
	signal  chan struct{}
}

func (m *mailbox) put(s Snapshot) {
	m.mu.Lock()
	m.pending = &s
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Snapshot{}, false
	}
	s := *m.pending
	m.pending = nil
	return s, true
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: xsync.NewMapOf[string, []byte](),
		subs: xsync.NewMapOf[uint64, *mailbox](),
	}
}

func (s *MemoryStore) ReadOnce(_ context.Context, id string) (schema.Partial, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, ok := s.docs.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	snap, err := decode(data)
	if err != nil {
		return nil, err
	}
	return snap.Doc, nil
}

func (s *MemoryStore) WriteWhole(ctx context.Context, id string, doc schema.Document) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("write", err)
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs.Store(id, data)
	s.notify(id, data)
	return nil
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, id string, doc schema.Document) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, unavailable("create", err)
	}
	data, err := encode(doc)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := s.docs.LoadOrStore(id, data); loaded {
		return false, nil
	}
	s.notify(id, data)
	return true, nil
}

// Delete removes a document and tells subscribers it is gone.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs.Delete(id)
	s.subs.Range(func(_ uint64, box *mailbox) bool {
		if box.id == id {
			box.put(Snapshot{})
		}
		return true
	})
}

func (s *MemoryStore) notify(id string, data []byte) {
	s.subs.Range(func(_ uint64, box *mailbox) bool {
		if box.id != id {
			return true
		}
		snap, _ := decode(data)
		box.put(snap)
		return true
	})
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string, onChange func(Snapshot)) (Unsubscribe, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("subscribe", err)
	}
	box := &mailbox{id: id, signal: make(chan struct{}, 1)}
	key := s.nextID.Add(1)

	s.mu.Lock()
	s.subs.Store(key, box)
	if data, ok := s.docs.Load(id); ok {
		snap, _ := decode(data)
		box.put(snap)
	} else {
		box.put(Snapshot{})
	}
	s.mu.Unlock()

	sub, subCtx := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		defer s.subs.Delete(key)
		for {
			select {
			case <-subCtx.Done():
				return
			case <-box.signal:
				snap, ok := box.take()
				if !ok || subCtx.Err() != nil {
					continue
				}
				onChange(snap)
			}
		}
	}()
	return sub.stop, nil
}

// Subscribers returns how many subscriptions are currently registered.
func (s *MemoryStore) Subscribers() int {
	return s.subs.Size()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
