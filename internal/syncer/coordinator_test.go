package syncer

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"classdesk/api/internal/local"
	"classdesk/api/internal/remote"
	"classdesk/api/internal/schema"
)

func TestTransitionTable(t *testing.T) {
	valid := []struct {
		from Phase
		ev   Event
		want Phase
	}{
		{PhaseInitializing, EventIdentityAnonymous, PhaseLocalLoading},
		{PhaseInitializing, EventIdentityAuthenticated, PhaseRemoteLoading},
		{PhaseLocalLoading, EventLocalLoaded, PhaseReadyLocal},
		{PhaseRemoteLoading, EventRemoteFound, PhaseReadyRemote},
		{PhaseRemoteLoading, EventRemoteMissing, PhaseMigrating},
		{PhaseRemoteLoading, EventSubscribeFailed, PhaseReadyRemote},
		{PhaseMigrating, EventMigrationDone, PhaseReadyRemote},
		{PhaseMigrating, EventMigrationConflict, PhaseReadyRemote},
		{PhaseReadyLocal, EventLocalChanged, PhaseReadyLocal},
		{PhaseReadyRemote, EventRemoteFound, PhaseReadyRemote},
		{PhaseReadyRemote, EventMigrationRequired, PhaseMigrating},
	}
	for _, tc := range valid {
		got, err := Transition(tc.from, tc.ev)
		if err != nil || got != tc.want {
			t.Fatalf("Transition(%s, %s) = %s, %v; want %s", tc.from, tc.ev, got, err, tc.want)
		}
	}

	invalid := []struct {
		from Phase
		ev   Event
	}{
		{PhaseInitializing, EventLocalLoaded},
		{PhaseLocalLoading, EventRemoteFound},
		{PhaseReadyLocal, EventRemoteMissing},
		{PhaseReadyRemote, EventIdentityAnonymous},
		{PhaseMigrating, EventLocalChanged},
	}
	for _, tc := range invalid {
		got, err := Transition(tc.from, tc.ev)
		if !errors.Is(err, ErrInvalidTransition) || got != tc.from {
			t.Fatalf("Transition(%s, %s) = %s, %v; want ErrInvalidTransition", tc.from, tc.ev, got, err)
		}
	}

	for p := PhaseInitializing; p <= PhaseReadyRemote; p++ {
		if got, err := Transition(p, EventTeardown); err != nil || got != PhaseInitializing {
			t.Fatalf("Transition(%s, teardown) = %s, %v", p, got, err)
		}
	}
}

func TestPhaseDerivedState(t *testing.T) {
	cases := []struct {
		phase Phase
		sync  SyncState
		mode  Mode
	}{
		{PhaseInitializing, SyncInitializing, ModeNone},
		{PhaseLocalLoading, SyncLoading, ModeLocal},
		{PhaseRemoteLoading, SyncLoading, ModeRemote},
		{PhaseMigrating, SyncLoading, ModeRemote},
		{PhaseReadyLocal, SyncReady, ModeLocal},
		{PhaseReadyRemote, SyncReady, ModeRemote},
	}
	for _, tc := range cases {
		if tc.phase.SyncState() != tc.sync || tc.phase.Mode() != tc.mode {
			t.Fatalf("%s: SyncState() = %s, Mode() = %s", tc.phase, tc.phase.SyncState(), tc.phase.Mode())
		}
	}
}

func TestLocalSessionLoadsStoredDocument(t *testing.T) {
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte(`{"classes":[{"id":"c1"}]}`))
	clock := &manualClock{}
	c := New(mem, nil, Options{AfterFunc: clock.AfterFunc})

	st := c.State()
	if st.Ready || st.SyncState != SyncInitializing {
		t.Fatalf("initial State() = %+v", st)
	}
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	st = c.State()
	if !st.Ready || st.Mode != ModeLocal || st.Phase != PhaseReadyLocal {
		t.Fatalf("State() = %+v", st)
	}
	if got := classIDs(st.Document); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("classes = %v", got)
	}
	if len(st.Document.DashboardModules) != len(schema.DefaultModules()) {
		t.Fatalf("modules not filled from defaults: %+v", st.Document.DashboardModules)
	}
}

func TestCorruptedLocalDataRecoversToDefaults(t *testing.T) {
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte("{definitely not json"))
	c := New(mem, nil, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	st := c.State()
	if !st.Ready {
		t.Fatalf("expected ready after corrupted load")
	}
	if !schema.Equal(st.Document, schema.Defaults()) {
		t.Fatalf("Document = %+v, want defaults", st.Document)
	}
}

func TestWriteCoalescing(t *testing.T) {
	mem := local.NewMemoryStore()
	clock := &manualClock{}
	c := New(mem, nil, Options{AfterFunc: clock.AfterFunc})
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}

	want := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range want {
		c.Update(addClass(id))
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, want) {
		t.Fatalf("published classes = %v, want %v", got, want)
	}
	if n := clock.Active(); n != 1 {
		t.Fatalf("active timers = %d, want 1", n)
	}
	if n := mem.Saves(); n != 0 {
		t.Fatalf("saves before flush = %d", n)
	}

	clock.Fire()
	if n := mem.Saves(); n != 1 {
		t.Fatalf("saves after flush = %d, want 1", n)
	}
	raw, ok := mem.Raw()
	if !ok {
		t.Fatalf("expected local blob after flush")
	}
	if got := classIDs(localDoc(t, raw)); !reflect.DeepEqual(got, want) {
		t.Fatalf("persisted classes = %v, want %v", got, want)
	}

	clock.Fire()
	if n := mem.Saves(); n != 1 {
		t.Fatalf("saves after idle fire = %d, want 1", n)
	}
}

func TestUpdateBeforeReadyIsSuperseded(t *testing.T) {
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte(`{"classes":[{"id":"stored"}]}`))
	clock := &manualClock{}
	c := New(mem, nil, Options{AfterFunc: clock.AfterFunc})

	c.Update(addClass("early"))
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"early"}) {
		t.Fatalf("provisional classes = %v", got)
	}
	if clock.Active() != 0 {
		t.Fatalf("update before ready scheduled a flush")
	}
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"stored"}) {
		t.Fatalf("classes after load = %v", got)
	}
	if mem.Saves() != 0 {
		t.Fatalf("provisional update was persisted")
	}
}

func TestFirstLoginMigration(t *testing.T) {
	ctx := context.Background()
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte(`{"classes":[{"id":"c1"}]}`))
	fr := &fakeCreator{fakeRemote: newFakeRemote()}
	c := New(mem, fr, Options{AfterFunc: (&manualClock{}).AfterFunc})

	if err := c.SetIdentity(ctx, Anonymous()); err != nil {
		t.Fatalf("SetIdentity(anonymous) error = %v", err)
	}
	if err := c.SetIdentity(ctx, Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity(u1) error = %v", err)
	}

	st := c.State()
	if !st.Ready || st.Mode != ModeRemote || st.Phase != PhaseReadyRemote {
		t.Fatalf("State() = %+v", st)
	}
	writes := fr.Writes()
	if len(writes) != 1 {
		t.Fatalf("remote writes = %d, want 1", len(writes))
	}
	if writes[0].id != "u1" || writes[0].op != "create" {
		t.Fatalf("write = %s %s", writes[0].op, writes[0].id)
	}
	if !schema.Equal(writes[0].doc, classDoc("c1")) {
		t.Fatalf("migrated document = %+v", writes[0].doc)
	}
	if !schema.Equal(st.Document, writes[0].doc) {
		t.Fatalf("in-memory document differs from migrated one")
	}
	if _, ok := mem.Raw(); ok {
		t.Fatalf("local storage not cleared after migration")
	}

	// A later session for the same identity finds the remote document.
	if err := c.SetIdentity(ctx, Anonymous()); err != nil {
		t.Fatalf("SetIdentity(anonymous) error = %v", err)
	}
	if !schema.Equal(c.State().Document, schema.Defaults()) {
		t.Fatalf("anonymous session after migration should start from defaults")
	}
	if err := c.SetIdentity(ctx, Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity(u1) error = %v", err)
	}
	if n := len(fr.Writes()); n != 1 {
		t.Fatalf("remote writes after second sign-in = %d, want 1", n)
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("classes after second sign-in = %v", got)
	}
}

func TestMigrationWithoutCreatorUsesWriteWhole(t *testing.T) {
	mem := local.NewMemoryStore()
	fr := newFakeRemote()
	c := New(mem, fr, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	writes := fr.Writes()
	if len(writes) != 1 || writes[0].op != "write" {
		t.Fatalf("writes = %+v", writes)
	}
	if !schema.Equal(writes[0].doc, schema.Defaults()) {
		t.Fatalf("seed without local data should be defaults")
	}
	if !c.State().Ready {
		t.Fatalf("expected ready")
	}
}

func TestMigrationConflictAdoptsRemote(t *testing.T) {
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte(`{"classes":[{"id":"mine"}]}`))
	fr := &fakeCreator{fakeRemote: newFakeRemote()}
	fr.beforeCreate = func() { fr.put("u1", classDoc("theirs")) }
	c := New(mem, fr, Options{AfterFunc: (&manualClock{}).AfterFunc})

	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	st := c.State()
	if !st.Ready || st.Phase != PhaseReadyRemote {
		t.Fatalf("State() = %+v", st)
	}
	if got := classIDs(st.Document); !reflect.DeepEqual(got, []string{"theirs"}) {
		t.Fatalf("classes = %v, want remote winner", got)
	}
	if n := len(fr.Writes()); n != 0 {
		t.Fatalf("remote writes = %d, want 0", n)
	}
	if _, ok := mem.Raw(); !ok {
		t.Fatalf("local data must survive a migration conflict")
	}
}

func TestMigrationConflictUsesArrivedDocument(t *testing.T) {
	mem := local.NewMemoryStore()
	fr := &fakeCreator{fakeRemote: newFakeRemote()}
	fr.beforeCreate = func() {
		fr.put("u1", classDoc("arrived"))
		fr.deliver("u1", classDoc("arrived"), true)
	}
	c := New(mem, fr, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"arrived"}) {
		t.Fatalf("classes = %v", got)
	}
}

func TestRemotePushAndSelfEcho(t *testing.T) {
	fr := newFakeRemote()
	fr.put("u1", classDoc("r1"))
	clock := &manualClock{}
	c := New(local.NewMemoryStore(), fr, Options{AfterFunc: clock.AfterFunc})
	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Fatalf("classes = %v", got)
	}

	c.Update(addClass("a"))
	clock.Fire()
	writes := fr.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}

	c.Update(addClass("b"))
	fr.deliver("u1", writes[0].doc, true)
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"r1", "a", "b"}) {
		t.Fatalf("echo of own write reverted newer update: %v", got)
	}
	if clock.Active() != 1 {
		t.Fatalf("echo cancelled the pending flush")
	}
	clock.Fire()
	if n := len(fr.Writes()); n != 2 {
		t.Fatalf("writes = %d, want 2", n)
	}

	fr.deliver("u1", classDoc("x"), true)
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("foreign change not applied: %v", got)
	}

	c.Update(addClass("y"))
	fr.deliver("u1", classDoc("z"), true)
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"z"}) {
		t.Fatalf("last notification should win: %v", got)
	}
	if clock.Active() != 0 {
		t.Fatalf("pending flush survived a newer remote notification")
	}
	clock.Fire()
	if n := len(fr.Writes()); n != 2 {
		t.Fatalf("writes = %d, want 2", n)
	}
}

func TestOwnWriteLandingAfterForeignChangeIsApplied(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRemote()
	fr.put("u1", classDoc("c0"))
	clock := &manualClock{}
	c := New(local.NewMemoryStore(), fr, Options{AfterFunc: clock.AfterFunc})
	if err := c.SetIdentity(ctx, Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}

	fr.mu.Lock()
	fr.writeStarted = make(chan struct{}, 1)
	fr.writeRelease = make(chan struct{})
	fr.mu.Unlock()

	c.Update(addClass("a1"))
	flushed := make(chan error, 1)
	go func() { flushed <- c.Flush(ctx) }()
	<-fr.writeStarted

	// Another device writes while ours is still in flight.
	fr.deliver("u1", classDoc("c0", "b1"), true)
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"c0", "b1"}) {
		t.Fatalf("foreign change not applied: %v", got)
	}

	close(fr.writeRelease)
	if err := <-flushed; err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	writes := fr.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}

	// Our write reached the server last, so its notification is the newest.
	fr.deliver("u1", writes[0].doc, true)
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"c0", "a1"}) {
		t.Fatalf("device diverged from remote: in-memory %v, server %v", got, classIDs(writes[0].doc))
	}
}

func TestIdentityChangeFlushesToOldTarget(t *testing.T) {
	ctx := context.Background()
	mem := local.NewMemoryStore()
	fr := &fakeCreator{fakeRemote: newFakeRemote()}
	clock := &manualClock{}
	c := New(mem, fr, Options{AfterFunc: clock.AfterFunc})

	if err := c.SetIdentity(ctx, Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	c.Update(addClass("offline"))
	if err := c.SetIdentity(ctx, Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity(u1) error = %v", err)
	}
	if mem.Saves() != 1 {
		t.Fatalf("pending local write was not flushed before sign-in")
	}
	writes := fr.Writes()
	if len(writes) != 1 || !reflect.DeepEqual(classIDs(writes[0].doc), []string{"offline"}) {
		t.Fatalf("migration did not carry the flushed update: %+v", writes)
	}
	if clock.Active() != 0 {
		t.Fatalf("old session timer still active")
	}

	c.Update(addClass("online"))
	if err := c.SetIdentity(ctx, Anonymous()); err != nil {
		t.Fatalf("SetIdentity(anonymous) error = %v", err)
	}
	writes = fr.Writes()
	if len(writes) != 2 || writes[1].id != "u1" || !reflect.DeepEqual(classIDs(writes[1].doc), []string{"offline", "online"}) {
		t.Fatalf("pending remote write not flushed to its identity: %+v", writes)
	}
	if mem.Saves() != 1 {
		t.Fatalf("remote session data leaked into local storage")
	}
	if _, unsubscribes := fr.counts(); unsubscribes != 1 {
		t.Fatalf("unsubscribes = %d, want 1", unsubscribes)
	}

	st := c.State()
	if st.Mode != ModeLocal || !schema.Equal(st.Document, schema.Defaults()) {
		t.Fatalf("State() after sign-out = %+v", st)
	}
	fr.deliver("u1", classDoc("stale"), true)
	if !schema.Equal(c.State().Document, schema.Defaults()) {
		t.Fatalf("stale subscription callback mutated the new session")
	}
	clock.Fire()
	if n := len(fr.Writes()); n != 2 {
		t.Fatalf("writes after sign-out = %d, want 2", n)
	}
}

func TestSubscribeFailureDegradesAndRecovers(t *testing.T) {
	mem := local.NewMemoryStore()
	mem.SetRaw([]byte(`{"classes":[{"id":"c1"}]}`))
	fr := &fakeCreator{fakeRemote: newFakeRemote()}
	fr.subscribeErrs = []error{errBoom}
	clock := &manualClock{}
	release := make(chan struct{})
	c := New(mem, fr, Options{
		AfterFunc: clock.AfterFunc,
		RetryDelay: func(int) time.Duration {
			<-release
			return time.Millisecond
		},
	})
	defer c.Close(context.Background())

	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	st := c.State()
	if !st.Ready || !st.Degraded || st.Mode != ModeRemote {
		t.Fatalf("State() = %+v, want degraded ready remote", st)
	}
	if got := classIDs(st.Document); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("degraded session should show local data, got %v", got)
	}

	c.Update(addClass("d"))
	clock.Fire()
	if n := len(fr.Writes()); n != 0 {
		t.Fatalf("degraded session wrote to remote: %d", n)
	}

	close(release)
	waitFor(t, "recovery", func() bool {
		_, hasLocal := mem.Raw()
		return !c.State().Degraded && len(fr.Writes()) == 1 && !hasLocal
	})
	writes := fr.Writes()
	if writes[0].op != "create" || !reflect.DeepEqual(classIDs(writes[0].doc), []string{"c1", "d"}) {
		t.Fatalf("recovery migration = %+v", writes[0])
	}
	if subscribes, _ := fr.counts(); subscribes != 2 {
		t.Fatalf("subscribe calls = %d, want 2", subscribes)
	}
}

func TestWriteFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRemote()
	fr.put("u1", classDoc())
	clock := &manualClock{}
	c := New(local.NewMemoryStore(), fr, Options{AfterFunc: clock.AfterFunc})
	if err := c.SetIdentity(ctx, Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}

	fr.mu.Lock()
	fr.writeErr = errBoom
	fr.mu.Unlock()
	c.Update(addClass("a"))
	clock.Fire()
	if n := len(fr.Writes()); n != 0 {
		t.Fatalf("writes = %d, want 0", n)
	}
	if got := classIDs(c.State().Document); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("in-memory document lost after write failure: %v", got)
	}

	fr.mu.Lock()
	fr.writeErr = nil
	fr.mu.Unlock()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	writes := fr.Writes()
	if len(writes) != 1 || !reflect.DeepEqual(classIDs(writes[0].doc), []string{"a"}) {
		t.Fatalf("writes after recovery = %+v", writes)
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("idle Flush() error = %v", err)
	}
	if n := len(fr.Writes()); n != 1 {
		t.Fatalf("idle Flush wrote again")
	}
}

func TestCloseFlushesPending(t *testing.T) {
	ctx := context.Background()
	mem := local.NewMemoryStore()
	c := New(mem, nil, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(ctx, Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	c.Update(addClass("c1"))
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if mem.Saves() != 1 {
		t.Fatalf("saves = %d, want 1", mem.Saves())
	}
	c.Update(addClass("late"))
	if err := c.SetIdentity(ctx, Anonymous()); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetIdentity() after Close error = %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestAuthenticatedWithoutRemoteStaysLocal(t *testing.T) {
	mem := local.NewMemoryStore()
	c := New(mem, nil, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(context.Background(), Authenticated("u1")); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	st := c.State()
	if st.Mode != ModeLocal || !st.Ready || st.Identity.StableID != "u1" {
		t.Fatalf("State() = %+v", st)
	}
	if err := c.SetIdentity(context.Background(), Authenticated("")); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("SetIdentity(empty id) error = %v", err)
	}
}

func TestWatchNotifiesOnChange(t *testing.T) {
	c := New(local.NewMemoryStore(), nil, Options{AfterFunc: (&manualClock{}).AfterFunc})
	ch, stop := c.Watch()
	defer stop()

	expect := func(what string) {
		t.Helper()
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("no notification for %s", what)
		}
	}
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	expect("session start")
	c.Update(addClass("c1"))
	expect("update")

	stop()
	stop()
	c.Update(addClass("c2"))
	select {
	case <-ch:
		t.Fatalf("notification after stop")
	default:
	}
}

func TestStateIsImmutableSnapshot(t *testing.T) {
	c := New(local.NewMemoryStore(), nil, Options{AfterFunc: (&manualClock{}).AfterFunc})
	if err := c.SetIdentity(context.Background(), Anonymous()); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	c.Update(addClass("c1"))
	st := c.State()
	st.Document.Classes[0]["id"] = "mutated"
	st.Document.DashboardModules[0].Visible = false
	fresh := c.State().Document
	if fresh.Classes[0]["id"] != "c1" || !fresh.DashboardModules[0].Visible {
		t.Fatalf("mutating a snapshot changed coordinator state")
	}
}

func TestDefaultResubscribeDelayMatchesRemoteBackoff(t *testing.T) {
	c := New(local.NewMemoryStore(), nil, Options{})
	for _, attempt := range []int{1, 3, 20} {
		if got, want := c.opts.RetryDelay(attempt), remote.RetryDelay(attempt); got != want {
			t.Fatalf("RetryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
