package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"classdesk/api/internal/auth"
	"classdesk/api/internal/config"
	"classdesk/api/internal/merge"
	"classdesk/api/internal/metrics"
	"classdesk/api/internal/schema"
	"classdesk/api/internal/syncer"
)

// Pinger reports whether the remote store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine is the part of the sync coordinator the HTTP surface drives.
type Engine interface {
	State() syncer.State
	Update(fn func(prev schema.Document) schema.Document)
	SetIdentity(ctx context.Context, id syncer.Identity) error
	Flush(ctx context.Context) error
	Watch() (<-chan struct{}, func())
}

type Service struct {
	cfg     config.Config
	engine  Engine
	remote  Pinger
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New wires the service. remote may be nil when remote sync is disabled.
func New(cfg config.Config, engine Engine, remote Pinger, rec *metrics.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		engine:  engine,
		remote:  remote,
		metrics: rec,
		logger:  logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Ping(ctx)
}

func (s *Service) RemoteEnabled() bool {
	return s.remote != nil
}

func (s *Service) State() syncer.State {
	return s.engine.State()
}

// ReplaceField swaps one top-level field of the document for raw.
func (s *Service) ReplaceField(field string, raw json.RawMessage) (syncer.State, error) {
	if _, ok := schema.Lookup(field); !ok {
		return syncer.State{}, errUnknownField(field)
	}
	if err := s.requireReady(); err != nil {
		return syncer.State{}, err
	}
	// Validate up front so the caller learns about bad input; Update cannot
	// report errors.
	var scratch schema.Document
	if err := merge.ReplaceField(&scratch, field, raw); err != nil {
		return syncer.State{}, errInvalidField(field, err)
	}

	s.engine.Update(func(prev schema.Document) schema.Document {
		if err := merge.ReplaceField(&prev, field, raw); err != nil {
			s.logger.Warn("replace field rejected", "field", field, "error", err)
		}
		return prev
	})
	return s.engine.State(), nil
}

// SetModuleVisible shows or hides one dashboard module.
func (s *Service) SetModuleVisible(id string, visible bool) (syncer.State, error) {
	if err := s.requireReady(); err != nil {
		return syncer.State{}, err
	}
	if _, ok := s.engine.State().Document.Module(id); !ok {
		return syncer.State{}, errUnknownModule(id)
	}
	s.engine.Update(func(prev schema.Document) schema.Document {
		for i := range prev.DashboardModules {
			if prev.DashboardModules[i].ID == id {
				prev.DashboardModules[i].Visible = visible
			}
		}
		return prev
	})
	return s.engine.State(), nil
}

// SignIn switches the engine to the identity named by a verified token.
func (s *Service) SignIn(ctx context.Context, token string) (syncer.State, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.IdentitySecret), token)
	if err != nil {
		return syncer.State{}, err
	}
	id := syncer.Authenticated(strings.TrimSpace(claims.Sub))
	if current := s.engine.State().Identity; current == id {
		return s.engine.State(), nil
	}
	if err := s.engine.SetIdentity(ctx, id); err != nil {
		return syncer.State{}, err
	}
	s.logger.Info("identity signed in", "identity", id.String())
	return s.engine.State(), nil
}

// SignOut returns the engine to the anonymous identity.
func (s *Service) SignOut(ctx context.Context) (syncer.State, error) {
	if current := s.engine.State(); !current.Identity.Authenticated && current.Phase != syncer.PhaseInitializing {
		return current, nil
	}
	if err := s.engine.SetIdentity(ctx, syncer.Anonymous()); err != nil {
		return syncer.State{}, err
	}
	return s.engine.State(), nil
}

func (s *Service) Flush(ctx context.Context) error {
	return s.engine.Flush(ctx)
}

func (s *Service) Watch() (<-chan struct{}, func()) {
	return s.engine.Watch()
}

func (s *Service) requireReady() error {
	if !s.engine.State().Ready {
		return errNotReady()
	}
	return nil
}

// documentView is the consumer contract served over HTTP and the stream.
type documentView struct {
	Document  schema.Document `json:"document"`
	Ready     bool            `json:"ready"`
	SyncState string          `json:"syncState"`
	Mode      string          `json:"mode"`
	Phase     string          `json:"phase"`
	Identity  syncer.Identity `json:"identity"`
	Degraded  bool            `json:"degraded"`
	SessionID string          `json:"sessionId,omitempty"`
}

func viewOf(state syncer.State) documentView {
	doc := state.Document
	schema.Normalize(&doc)
	return documentView{
		Document:  doc,
		Ready:     state.Ready,
		SyncState: string(state.SyncState),
		Mode:      string(state.Mode),
		Phase:     state.Phase.String(),
		Identity:  state.Identity,
		Degraded:  state.Degraded,
		SessionID: state.SessionID,
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrNoToken)
}
