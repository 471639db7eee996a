package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"classdesk/api/internal/schema"
	"classdesk/api/internal/store"
	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps documents in the remote_documents table and relays
// change notifications over LISTEN/NOTIFY.
type PostgresStore struct {
	dsn    string
	db     *sql.DB
	docs   *store.PostgresStore
	logger *slog.Logger
}

// NewPostgresStore connects, applies the bundled migrations and returns a
// ready store.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &PostgresStore{
		dsn:    dsn,
		db:     db,
		docs:   store.NewPostgresStore(db),
		logger: logger,
	}, nil
}

func (s *PostgresStore) ReadOnce(ctx context.Context, id string) (schema.Partial, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	snap, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, ErrNotFound
	}
	return snap.Doc, nil
}

func (s *PostgresStore) read(ctx context.Context, id string) (Snapshot, error) {
	item, err := s.docs.GetRemoteDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, unavailable("read", err)
	}
	snap, err := decode(item.Body)
	if err != nil {
		s.logger.Warn("postgres document unparseable", "id", id, "error", err)
	}
	return snap, nil
}

func (s *PostgresStore) WriteWhole(ctx context.Context, id string, doc schema.Document) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	if err := s.docs.UpsertRemoteDocument(ctx, id, data); err != nil {
		return unavailable("write", err)
	}
	return nil
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, id string, doc schema.Document) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	data, err := encode(doc)
	if err != nil {
		return false, err
	}
	created, err := s.docs.InsertRemoteDocumentIfAbsent(ctx, id, data)
	if err != nil {
		return false, unavailable("create", err)
	}
	return created, nil
}

// Subscribe holds a dedicated connection in LISTEN mode. The notification only
// carries the owner id, so every matching notification re-reads the row. A
// dropped connection is re-established with backoff and followed by a fresh
// read.
func (s *PostgresStore) Subscribe(ctx context.Context, id string, onChange func(Snapshot)) (Unsubscribe, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, unavailable("subscribe", err)
	}
	initial, err := s.read(ctx, id)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	sub, subCtx := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		defer func() {
			if conn != nil {
				_ = conn.Close(context.Background())
			}
		}()
		onChange(initial)
		attempt := 0
		for {
			if conn == nil {
				attempt++
				if err := waitWithContext(subCtx, RetryDelay(attempt)); err != nil {
					return
				}
				next, err := s.listen(subCtx)
				if err != nil {
					s.logger.Warn("postgres relisten failed", "id", id, "attempt", attempt, "error", err)
					continue
				}
				conn = next
				attempt = 0
				if !s.deliver(subCtx, id, onChange) {
					return
				}
			}

			n, err := conn.WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				s.logger.Warn("postgres listen interrupted", "id", id, "error", err)
				_ = conn.Close(context.Background())
				conn = nil
				continue
			}
			if n.Payload != id {
				continue
			}
			if !s.deliver(subCtx, id, onChange) {
				return
			}
		}
	}()
	return sub.stop, nil
}

func (s *PostgresStore) deliver(ctx context.Context, id string, onChange func(Snapshot)) bool {
	snap, err := s.read(ctx, id)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		s.logger.Warn("postgres reread failed", "id", id, "error", err)
		return true
	}
	onChange(snap)
	return true
}

func (s *PostgresStore) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{store.DocumentsChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", store.DocumentsChannel, err)
	}
	return conn, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
