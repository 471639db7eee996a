// Package syncer decides which persistence target is authoritative for the
// shared document and exposes the single read/update contract to consumers.
package syncer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrMigrationConflict = errors.New("remote document appeared during migration")
	ErrClosed            = errors.New("coordinator closed")
	ErrInvalidIdentity   = errors.New("authenticated identity needs a stable id")
)

type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseLocalLoading
	PhaseRemoteLoading
	PhaseMigrating
	PhaseReadyLocal
	PhaseReadyRemote
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseLocalLoading:
		return "local_loading"
	case PhaseRemoteLoading:
		return "remote_loading"
	case PhaseMigrating:
		return "migrating"
	case PhaseReadyLocal:
		return "ready_local"
	case PhaseReadyRemote:
		return "ready_remote"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SyncState is the coarse state consumers see.
type SyncState string

const (
	SyncInitializing SyncState = "initializing"
	SyncLoading      SyncState = "loading"
	SyncReady        SyncState = "ready"
)

func (p Phase) SyncState() SyncState {
	switch p {
	case PhaseReadyLocal, PhaseReadyRemote:
		return SyncReady
	case PhaseInitializing:
		return SyncInitializing
	default:
		return SyncLoading
	}
}

func (p Phase) Ready() bool {
	return p.SyncState() == SyncReady
}

// Mode names the persistence target writes go to.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

func (p Phase) Mode() Mode {
	switch p {
	case PhaseLocalLoading, PhaseReadyLocal:
		return ModeLocal
	case PhaseRemoteLoading, PhaseMigrating, PhaseReadyRemote:
		return ModeRemote
	default:
		return ModeNone
	}
}

type Event int

const (
	EventIdentityAnonymous Event = iota
	EventIdentityAuthenticated
	EventLocalLoaded
	EventLocalChanged
	EventRemoteFound
	EventRemoteMissing
	EventMigrationRequired
	EventMigrationDone
	EventMigrationConflict
	EventSubscribeFailed
	EventTeardown
)

func (e Event) String() string {
	switch e {
	case EventIdentityAnonymous:
		return "identity_anonymous"
	case EventIdentityAuthenticated:
		return "identity_authenticated"
	case EventLocalLoaded:
		return "local_loaded"
	case EventLocalChanged:
		return "local_changed"
	case EventRemoteFound:
		return "remote_found"
	case EventRemoteMissing:
		return "remote_missing"
	case EventMigrationRequired:
		return "migration_required"
	case EventMigrationDone:
		return "migration_done"
	case EventMigrationConflict:
		return "migration_conflict"
	case EventSubscribeFailed:
		return "subscribe_failed"
	case EventTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var transitions = map[Phase]map[Event]Phase{
	PhaseInitializing: {
		EventIdentityAnonymous:     PhaseLocalLoading,
		EventIdentityAuthenticated: PhaseRemoteLoading,
	},
	PhaseLocalLoading: {
		EventLocalLoaded: PhaseReadyLocal,
	},
	PhaseRemoteLoading: {
		EventRemoteFound:     PhaseReadyRemote,
		EventRemoteMissing:   PhaseMigrating,
		EventSubscribeFailed: PhaseReadyRemote,
	},
	PhaseMigrating: {
		EventRemoteFound:       PhaseMigrating,
		EventMigrationDone:     PhaseReadyRemote,
		EventMigrationConflict: PhaseReadyRemote,
	},
	PhaseReadyLocal: {
		EventLocalChanged: PhaseReadyLocal,
	},
	PhaseReadyRemote: {
		EventRemoteFound:       PhaseReadyRemote,
		EventRemoteMissing:     PhaseReadyRemote,
		EventMigrationRequired: PhaseMigrating,
	},
}

// Transition returns the phase that follows from on ev. Teardown is accepted
// from every phase.
func Transition(from Phase, ev Event) (Phase, error) {
	if ev == EventTeardown {
		return PhaseInitializing, nil
	}
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
