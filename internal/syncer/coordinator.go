package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"classdesk/api/internal/local"
	"classdesk/api/internal/merge"
	"classdesk/api/internal/metrics"
	"classdesk/api/internal/remote"
	"classdesk/api/internal/schema"
	"github.com/google/uuid"
)

const (
	targetLocal  = "local"
	targetRemote = "remote"

	recentWriteLimit = 8
)

// Timer is the handle of a scheduled flush.
type Timer interface {
	Stop() bool
}

type Options struct {
	// FlushDelay is the trailing delay that coalesces bursts of updates into
	// one physical write.
	FlushDelay   time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	// AfterFunc schedules flushes. Tests replace it with a manual clock.
	AfterFunc func(time.Duration, func()) Timer
	// RetryDelay is the wait before the nth attempt to resubscribe after the
	// remote store refused a subscription.
	RetryDelay func(attempt int) time.Duration
}

func (o Options) withDefaults() Options {
	if o.FlushDelay <= 0 {
		o.FlushDelay = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if o.RetryDelay == nil {
		o.RetryDelay = remote.RetryDelay
	}
	return o
}

// State is an immutable view handed to consumers.
type State struct {
	Document  schema.Document
	Ready     bool
	SyncState SyncState
	Phase     Phase
	Mode      Mode
	Identity  Identity
	// Degraded is set while the remote store refuses subscriptions. Writes
	// are held until it recovers.
	Degraded  bool
	SessionID string
}

// Coordinator owns the in-memory document. All consumers read it through
// State and change it through Update.
type Coordinator struct {
	local   local.Store
	remote  remote.Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Recorder

	// writeMu serializes physical writes so they land in call order. It is
	// always taken before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	identity  Identity
	gen       uint64
	sessionID string
	doc       schema.Document
	pending   bool
	timer     Timer
	timerSeq  uint64
	unsub     remote.Unsubscribe
	cancel    context.CancelFunc
	recent    []string
	degraded  bool
	// clearLocal is set when a failed migration left local data that must be
	// removed once the seed finally reaches the remote store.
	clearLocal  bool
	arrival     *schema.Document
	watchers    map[int]chan struct{}
	nextWatcher int
	closed      bool

	wg sync.WaitGroup
}

// New builds a coordinator in the initializing phase. remoteStore may be nil,
// in which case authenticated identities are served from local storage.
func New(localStore local.Store, remoteStore remote.Store, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		local:    localStore,
		remote:   remoteStore,
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		phase:    PhaseInitializing,
		doc:      schema.Defaults(),
		watchers: map[int]chan struct{}{},
	}
}

type pendingWrite struct {
	target     string
	id         string
	doc        schema.Document
	clearLocal bool
}

// detached holds what a torn down session still has to release outside the lock.
type detached struct {
	cancel context.CancelFunc
	unsub  remote.Unsubscribe
	write  *pendingWrite
}

// SetIdentity ends the current session and starts a new one for id. The old
// session's pending write is flushed to its own target before the new session
// loads anything.
func (c *Coordinator) SetIdentity(ctx context.Context, id Identity) error {
	if id.Authenticated && id.StableID == "" {
		return ErrInvalidIdentity
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.teardownLocked()
	gen := c.gen
	c.identity = id
	c.sessionID = uuid.NewString()
	sessCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	useRemote := id.Authenticated && c.remote != nil
	if id.Authenticated && c.remote == nil {
		c.logger.Warn("no remote store configured, serving authenticated identity from local storage", "identity", id.String())
	}
	if useRemote {
		c.transitionLocked(EventIdentityAuthenticated)
	} else {
		c.transitionLocked(EventIdentityAnonymous)
	}
	c.publishLocked()
	c.logger.Info("sync session started", "identity", id.String(), "session", c.sessionID, "phase", c.phase.String())
	c.mu.Unlock()

	if err := c.finishTeardown(ctx, old); err != nil {
		c.logger.Warn("flush on identity change failed", "error", err)
	}

	if useRemote {
		c.startRemote(sessCtx, gen, id.StableID)
	} else {
		c.startLocal(sessCtx, gen)
	}
	return nil
}

// teardownLocked detaches the current session and resets the in-memory
// document. The returned value must be passed to finishTeardown.
func (c *Coordinator) teardownLocked() detached {
	d := detached{cancel: c.cancel, unsub: c.unsub}
	c.stopTimerLocked()
	if c.pending {
		d.write = c.prepareWriteLocked()
	}
	c.pending = false
	c.cancel = nil
	c.unsub = nil
	c.recent = nil
	c.degraded = false
	c.clearLocal = false
	c.arrival = nil
	c.gen++
	if c.phase != PhaseInitializing {
		c.transitionLocked(EventTeardown)
	}
	c.doc = schema.Defaults()
	return d
}

func (c *Coordinator) finishTeardown(ctx context.Context, d detached) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.unsub != nil {
		d.unsub()
	}
	if d.write == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(ctx, d.write)
}

// Close flushes any pending write and stops the session. The coordinator
// cannot be used afterwards.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	old := c.teardownLocked()
	c.publishLocked()
	c.mu.Unlock()

	err := c.finishTeardown(ctx, old)
	c.wg.Wait()
	return err
}

// State returns a snapshot of the document and sync status.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Document:  c.doc.Clone(),
		Ready:     c.phase.Ready(),
		SyncState: c.phase.SyncState(),
		Phase:     c.phase,
		Mode:      c.phase.Mode(),
		Identity:  c.identity,
		Degraded:  c.degraded,
		SessionID: c.sessionID,
	}
}

// Update applies fn to the current document, publishes the result at once and
// schedules a coalesced flush. fn receives a private copy, must be pure and
// must not call back into the coordinator. Updates issued before the session
// is ready are published but superseded when the persisted document loads.
func (c *Coordinator) Update(fn func(prev schema.Document) schema.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	next := fn(c.doc.Clone())
	schema.Normalize(&next)
	c.doc = next
	c.metrics.Update()
	c.publishLocked()
	if !c.phase.Ready() {
		c.logger.Debug("update before ready is not persisted", "phase", c.phase.String())
		return
	}
	c.pending = true
	c.scheduleLocked()
}

// Flush writes the pending update now instead of waiting for the timer.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	if !c.pending || !c.canFlushLocked() {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	gen := c.gen
	w := c.prepareWriteLocked()
	c.mu.Unlock()
	return c.commit(ctx, gen, w)
}

// Watch returns a channel that receives a value after every published change.
// Notifications are coalesced; readers call State for the current value.
func (c *Coordinator) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) publishLocked() {
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) transitionLocked(ev Event) {
	next, err := Transition(c.phase, ev)
	if err != nil {
		c.logger.Error("sync state machine rejected event", "error", err)
		return
	}
	if next != c.phase {
		c.logger.Debug("sync phase changed", "from", c.phase.String(), "to", next.String(), "event", ev.String())
	}
	c.phase = next
}

func (c *Coordinator) canFlushLocked() bool {
	switch c.phase {
	case PhaseReadyLocal:
		return true
	case PhaseReadyRemote:
		return !c.degraded
	default:
		return false
	}
}

func (c *Coordinator) scheduleLocked() {
	c.stopTimerLocked()
	gen, seq := c.gen, c.timerSeq
	c.timer = c.opts.AfterFunc(c.opts.FlushDelay, func() {
		c.flushScheduled(gen, seq)
	})
}

// stopTimerLocked cancels the scheduled flush. Bumping timerSeq also voids a
// callback that already fired and is waiting for the lock.
func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

func (c *Coordinator) flushScheduled(gen, seq uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	if gen != c.gen || seq != c.timerSeq || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if !c.pending || !c.canFlushLocked() {
		c.mu.Unlock()
		return
	}
	w := c.prepareWriteLocked()
	c.mu.Unlock()
	if err := c.commit(context.Background(), gen, w); err != nil {
		c.logger.Warn("coalesced write failed, waiting for next update", "target", w.target, "error", err)
	}
}

// prepareWriteLocked captures the document for a write to the current
// target and clears the pending flag.
func (c *Coordinator) prepareWriteLocked() *pendingWrite {
	w := &pendingWrite{
		id:         c.identity.StableID,
		doc:        c.doc.Clone(),
		clearLocal: c.clearLocal,
	}
	switch c.phase {
	case PhaseReadyLocal:
		w.target = targetLocal
	case PhaseReadyRemote:
		w.target = targetRemote
		c.rememberLocked(schema.Digest(w.doc))
	default:
		return nil
	}
	c.pending = false
	return w
}

func (c *Coordinator) commit(ctx context.Context, gen uint64, w *pendingWrite) error {
	if w == nil {
		return nil
	}
	err := c.write(ctx, w)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return err
	}
	if err != nil {
		c.pending = true
		return err
	}
	if w.clearLocal {
		c.clearLocal = false
	}
	return nil
}

func (c *Coordinator) write(ctx context.Context, w *pendingWrite) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	var err error
	switch w.target {
	case targetLocal:
		err = c.local.Save(w.doc)
	case targetRemote:
		err = c.remote.WriteWhole(ctx, w.id, w.doc)
		if err == nil && w.clearLocal {
			c.clearLocalStore()
		}
	}
	c.metrics.Flush(w.target, err)
	return err
}

func (c *Coordinator) clearLocalStore() {
	if err := c.local.Clear(); err != nil {
		c.logger.Warn("clear local document failed", "error", err)
	}
}

// rememberLocked records the digest of a document this session is about to
// write so its echo from the remote store can be recognised.
func (c *Coordinator) rememberLocked(digest string) {
	c.recent = append(c.recent, digest)
	if len(c.recent) > recentWriteLimit {
		c.recent = c.recent[len(c.recent)-recentWriteLimit:]
	}
}

// consumeEchoLocked reports whether digest belongs to a write of this session
// and forgets it, so only the first echo of each write is swallowed.
func (c *Coordinator) consumeEchoLocked(digest string) bool {
	for i, d := range c.recent {
		if d == digest {
			c.recent = append(c.recent[:i], c.recent[i+1:]...)
			return true
		}
	}
	return false
}

// forgetWritesLocked drops the remembered write digests once a foreign
// document has been adopted. Echoes of writes issued before that point may
// land after the foreign one, so they must be applied, not skipped.
func (c *Coordinator) forgetWritesLocked() {
	c.recent = nil
}

func (c *Coordinator) reconcile(source string, partial schema.Partial) schema.Document {
	doc, report := merge.Reconcile(partial)
	if len(report.Quarantined) > 0 {
		c.metrics.Quarantined(len(report.Quarantined))
		c.logger.Warn("stored fields quarantined", "source", source, "fields", report.Quarantined)
	}
	if len(report.Unknown) > 0 {
		c.logger.Info("dropped unknown stored fields", "source", source, "fields", report.Unknown)
	}
	if len(report.Introduced) > 0 {
		c.logger.Info("introduced new dashboard modules", "source", source, "modules", report.Introduced)
	}
	c.logger.Debug("stored document reconciled", "source", source, "versions", report.Migrated)
	return doc
}

// loadLocalDocument reads and reconciles the local blob, falling back to
// defaults when it is missing or unreadable.
func (c *Coordinator) loadLocalDocument() schema.Document {
	partial, err := c.local.Load()
	switch {
	case err == nil:
		return c.reconcile(targetLocal, partial)
	case errors.Is(err, local.ErrNotFound):
	case errors.Is(err, local.ErrCorrupted):
		c.logger.Warn("local document corrupted, starting from defaults", "error", err)
	default:
		c.logger.Warn("local document unreadable, starting from defaults", "error", err)
	}
	return schema.Defaults()
}

func (c *Coordinator) startLocal(ctx context.Context, gen uint64) {
	doc := c.loadLocalDocument()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.doc = doc
	c.transitionLocked(EventLocalLoaded)
	c.publishLocked()
	c.mu.Unlock()

	if w, ok := c.local.(local.Watcher); ok {
		err := w.Watch(ctx, func(p schema.Partial) {
			c.handleLocalChange(gen, p)
		})
		if err != nil {
			c.logger.Warn("watch local document failed", "error", err)
		}
	}
}

// handleLocalChange applies a rewrite of the local blob made by another
// process sharing this device's storage.
func (c *Coordinator) handleLocalChange(gen uint64, partial schema.Partial) {
	doc := c.reconcile(targetLocal, partial)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.phase != PhaseReadyLocal {
		return
	}
	if schema.Equal(doc, c.doc) {
		return
	}
	c.doc = doc
	c.pending = false
	c.stopTimerLocked()
	c.transitionLocked(EventLocalChanged)
	c.publishLocked()
}
