package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DocumentsChannel is the NOTIFY channel that carries the owner id of every
// written document.
const DocumentsChannel = "remote_documents_changed"

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetRemoteDocument(ctx context.Context, ownerID string) (RemoteDocument, error) {
	var item RemoteDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, body::text, revision, updated_at
		FROM remote_documents
		WHERE owner_id=$1
	`, ownerID).Scan(&item.OwnerID, &item.Body, &item.Revision, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RemoteDocument{}, ErrNotFound
	}
	if err != nil {
		return RemoteDocument{}, fmt.Errorf("get remote document: %w", err)
	}
	return item, nil
}

// UpsertRemoteDocument replaces the owner's document and notifies listeners in
// the same transaction, so the notification is only delivered on commit.
func (s *PostgresStore) UpsertRemoteDocument(ctx context.Context, ownerID string, body []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO remote_documents (owner_id, body, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (owner_id) DO UPDATE
		SET body = EXCLUDED.body,
		    revision = remote_documents.revision + 1,
		    updated_at = NOW()
	`, ownerID, string(body)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert remote document: %w", err)
	}
	if err := notify(ctx, tx, ownerID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// InsertRemoteDocumentIfAbsent creates the owner's document only when none
// exists yet and reports whether it did.
func (s *PostgresStore) InsertRemoteDocumentIfAbsent(ctx context.Context, ownerID string, body []byte) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert tx: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO remote_documents (owner_id, body, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID, string(body))
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert remote document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert remote document rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if err := notify(ctx, tx, ownerID); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit insert tx: %w", err)
	}
	return true, nil
}

func notify(ctx context.Context, tx *sql.Tx, ownerID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, DocumentsChannel, ownerID); err != nil {
		return fmt.Errorf("notify %s: %w", DocumentsChannel, err)
	}
	return nil
}
