package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classdesk/api/internal/merge"
	"classdesk/api/internal/remote"
	"classdesk/api/internal/schema"
)

var errBoom = errors.New("boom")

type manualTimer struct {
	clock   *manualClock
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualClock replaces time.AfterFunc so tests decide when a flush fires.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Fire runs every active timer.
func (c *manualClock) Fire() {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type fakeWrite struct {
	op  string
	id  string
	doc schema.Document
}

// fakeRemote delivers snapshots only when the test asks for it, except for
// the initial delivery, which happens synchronously inside Subscribe.
type fakeRemote struct {
	mu             sync.Mutex
	docs           map[string]schema.Document
	writes         []fakeWrite
	subscribers    map[string]func(remote.Snapshot)
	subscribeErrs  []error
	subscribeCalls int
	unsubscribes   int
	writeErr       error
	// When writeRelease is set, WriteWhole signals writeStarted and waits for
	// writeRelease before storing the document.
	writeStarted chan struct{}
	writeRelease chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:        map[string]schema.Document{},
		subscribers: map[string]func(remote.Snapshot){},
	}
}

func (f *fakeRemote) ReadOnce(_ context.Context, id string) (schema.Partial, error) {
	f.mu.Lock()
	doc, ok := f.docs[id]
	f.mu.Unlock()
	if !ok {
		return nil, remote.ErrNotFound
	}
	return doc.Partial()
}

func (f *fakeRemote) WriteWhole(_ context.Context, id string, doc schema.Document) error {
	f.mu.Lock()
	started, release := f.writeStarted, f.writeRelease
	f.mu.Unlock()
	if release != nil {
		started <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.docs[id] = doc.Clone()
	f.writes = append(f.writes, fakeWrite{op: "write", id: id, doc: doc.Clone()})
	return nil
}

func (f *fakeRemote) Subscribe(_ context.Context, id string, onChange func(remote.Snapshot)) (remote.Unsubscribe, error) {
	f.mu.Lock()
	f.subscribeCalls++
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.subscribers[id] = onChange
	doc, ok := f.docs[id]
	f.mu.Unlock()

	onChange(snapshotOf(doc, ok))

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.unsubscribes++
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeRemote) Ping(context.Context) error { return nil }
func (f *fakeRemote) Close() error               { return nil }

// deliver pushes a snapshot to the last subscriber of id, even one that has
// since unsubscribed, to exercise stale callbacks.
func (f *fakeRemote) deliver(id string, doc schema.Document, exists bool) {
	f.mu.Lock()
	fn := f.subscribers[id]
	f.mu.Unlock()
	if fn != nil {
		fn(snapshotOf(doc, exists))
	}
}

func (f *fakeRemote) put(id string, doc schema.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = doc.Clone()
}

func (f *fakeRemote) Writes() []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeWrite(nil), f.writes...)
}

func (f *fakeRemote) counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls, f.unsubscribes
}

func snapshotOf(doc schema.Document, exists bool) remote.Snapshot {
	if !exists {
		return remote.Snapshot{}
	}
	p, err := doc.Partial()
	if err != nil {
		panic(err)
	}
	return remote.Snapshot{Exists: true, Doc: p}
}

// fakeCreator adds atomic creation. beforeCreate runs inside CreateIfAbsent
// to simulate another device finishing its migration first.
type fakeCreator struct {
	*fakeRemote
	beforeCreate func()
}

func (f *fakeCreator) CreateIfAbsent(_ context.Context, id string, doc schema.Document) (bool, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return false, f.writeErr
	}
	if _, ok := f.docs[id]; ok {
		return false, nil
	}
	f.docs[id] = doc.Clone()
	f.writes = append(f.writes, fakeWrite{op: "create", id: id, doc: doc.Clone()})
	return true, nil
}

func classDoc(ids ...string) schema.Document {
	doc := schema.Defaults()
	for _, id := range ids {
		doc.Classes = append(doc.Classes, schema.Record{"id": id})
	}
	return doc
}

func addClass(id string) func(schema.Document) schema.Document {
	return func(prev schema.Document) schema.Document {
		prev.Classes = append(prev.Classes, schema.Record{"id": id})
		return prev
	}
}

func classIDs(doc schema.Document) []string {
	ids := make([]string, 0, len(doc.Classes))
	for _, c := range doc.Classes {
		id, _ := c["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func localDoc(t *testing.T, raw []byte) schema.Document {
	t.Helper()
	p, err := schema.ParsePartial(raw)
	if err != nil {
		t.Fatalf("ParsePartial() error = %v", err)
	}
	doc, _ := merge.Reconcile(p)
	return doc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
