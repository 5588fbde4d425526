// Package sqlite implements the storage interfaces on a local SQLite
// database. It is the durable local storage the draft store and sync queue
// survive restarts with.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/storage"
)

// Store implements the storage interfaces backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.DraftStore = (*Store)(nil)
var _ storage.QueueStore = (*Store)(nil)
var _ storage.UsageReporter = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps SQLite's locking out of the picture.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New creates a Store using the provided database handle. The schema must
// already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS drafts (
			id                TEXT PRIMARY KEY,
			type              TEXT NOT NULL,
			entity_id         TEXT NOT NULL DEFAULT '',
			payload           TEXT NOT NULL DEFAULT '{}',
			sync_status       TEXT NOT NULL,
			sync_attempts     INTEGER NOT NULL DEFAULT 0,
			last_sync_attempt TIMESTAMP,
			sync_error        TEXT NOT NULL DEFAULT '',
			modified          INTEGER NOT NULL DEFAULT 0,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_queue (
			uuid         TEXT PRIMARY KEY,
			entity_type  TEXT NOT NULL,
			action       TEXT NOT NULL,
			entity_uuid  TEXT NOT NULL,
			payload      BLOB,
			priority     INTEGER NOT NULL DEFAULT 0,
			attempts     INTEGER NOT NULL DEFAULT 0,
			last_attempt TIMESTAMP,
			next_retry   TIMESTAMP,
			error        TEXT NOT NULL DEFAULT '',
			error_kind   TEXT NOT NULL DEFAULT '',
			failed       INTEGER NOT NULL DEFAULT 0,
			timestamp    TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts (sync_status);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_order ON sync_queue (priority DESC, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- DraftStore -------------------------------------------------------------

func (s *Store) CreateDraft(ctx context.Context, draft assessment.Draft) (assessment.Draft, error) {
	if draft.ID == "" {
		return assessment.Draft{}, errors.New("draft id required")
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	payloadJSON, err := json.Marshal(draft.Payload)
	if err != nil {
		return assessment.Draft{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, type, entity_id, payload, sync_status, sync_attempts, last_sync_attempt, sync_error, modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, draft.ID, draft.Type, draft.EntityID, payloadJSON, draft.SyncStatus, draft.SyncAttempts,
		toNullTime(draft.LastSyncAttempt), draft.SyncError, draft.Modified, draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		return assessment.Draft{}, err
	}
	return draft, nil
}

func (s *Store) UpdateDraft(ctx context.Context, draft assessment.Draft) (assessment.Draft, error) {
	existing, err := s.GetDraft(ctx, draft.ID)
	if err != nil {
		return assessment.Draft{}, err
	}

	draft.CreatedAt = existing.CreatedAt
	draft.UpdatedAt = time.Now().UTC()

	payloadJSON, err := json.Marshal(draft.Payload)
	if err != nil {
		return assessment.Draft{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET type = ?, entity_id = ?, payload = ?, sync_status = ?, sync_attempts = ?, last_sync_attempt = ?, sync_error = ?, modified = ?, updated_at = ?
		WHERE id = ?
	`, draft.Type, draft.EntityID, payloadJSON, draft.SyncStatus, draft.SyncAttempts,
		toNullTime(draft.LastSyncAttempt), draft.SyncError, draft.Modified, draft.UpdatedAt, draft.ID)
	if err != nil {
		return assessment.Draft{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return assessment.Draft{}, fmt.Errorf("draft %s: %w", draft.ID, storage.ErrNotFound)
	}
	return draft, nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (assessment.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, entity_id, payload, sync_status, sync_attempts, last_sync_attempt, sync_error, modified, created_at, updated_at
		FROM drafts
		WHERE id = ?
	`, id)

	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.Draft{}, fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	return draft, err
}

func (s *Store) ListDrafts(ctx context.Context) ([]assessment.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, entity_id, payload, sync_status, sync_attempts, last_sync_attempt, sync_error, modified, created_at, updated_at
		FROM drafts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []assessment.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, draft)
	}
	return result, rows.Err()
}

func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSyncedDrafts(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE sync_status = ?`, assessment.StatusSynced)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (assessment.Draft, error) {
	var (
		draft       assessment.Draft
		payloadRaw  []byte
		lastAttempt sql.NullTime
	)
	if err := row.Scan(&draft.ID, &draft.Type, &draft.EntityID, &payloadRaw, &draft.SyncStatus,
		&draft.SyncAttempts, &lastAttempt, &draft.SyncError, &draft.Modified, &draft.CreatedAt, &draft.UpdatedAt); err != nil {
		return assessment.Draft{}, err
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &draft.Payload); err != nil {
			return assessment.Draft{}, fmt.Errorf("decode draft %s payload: %w", draft.ID, err)
		}
	}
	if lastAttempt.Valid {
		draft.LastSyncAttempt = lastAttempt.Time.UTC()
	}
	return draft, nil
}

// --- QueueStore -------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error) {
	if item.UUID == "" {
		return syncqueue.Item{}, errors.New("queue item uuid required")
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (uuid, entity_type, action, entity_uuid, payload, priority, attempts, last_attempt, next_retry, error, error_kind, failed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.UUID, item.EntityType, item.Action, item.EntityUUID, item.Payload, item.Priority,
		item.Attempts, toNullTime(item.LastAttempt), toNullTime(item.NextRetry), item.Error, item.ErrorKind, item.Failed, item.Timestamp)
	if err != nil {
		return syncqueue.Item{}, err
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error) {
	existing, err := s.GetItem(ctx, item.UUID)
	if err != nil {
		return syncqueue.Item{}, err
	}
	item.Timestamp = existing.Timestamp

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET entity_type = ?, action = ?, entity_uuid = ?, payload = ?, priority = ?, attempts = ?, last_attempt = ?, next_retry = ?, error = ?, error_kind = ?, failed = ?
		WHERE uuid = ?
	`, item.EntityType, item.Action, item.EntityUUID, item.Payload, item.Priority, item.Attempts,
		toNullTime(item.LastAttempt), toNullTime(item.NextRetry), item.Error, item.ErrorKind, item.Failed, item.UUID)
	if err != nil {
		return syncqueue.Item{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return syncqueue.Item{}, fmt.Errorf("queue item %s: %w", item.UUID, storage.ErrNotFound)
	}
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, uuid string) (syncqueue.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, entity_type, action, entity_uuid, payload, priority, attempts, last_attempt, next_retry, error, error_kind, failed, timestamp
		FROM sync_queue
		WHERE uuid = ?
	`, uuid)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return syncqueue.Item{}, fmt.Errorf("queue item %s: %w", uuid, storage.ErrNotFound)
	}
	return item, err
}

func (s *Store) ListItems(ctx context.Context) ([]syncqueue.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, entity_type, action, entity_uuid, payload, priority, attempts, last_attempt, next_retry, error, error_kind, failed, timestamp
		FROM sync_queue
		ORDER BY priority DESC, timestamp, uuid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []syncqueue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) DeleteItem(ctx context.Context, uuid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE uuid = ?`, uuid)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("queue item %s: %w", uuid, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ClearItems(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	return err
}

func scanItem(row rowScanner) (syncqueue.Item, error) {
	var (
		item        syncqueue.Item
		lastAttempt sql.NullTime
		nextRetry   sql.NullTime
	)
	if err := row.Scan(&item.UUID, &item.EntityType, &item.Action, &item.EntityUUID, &item.Payload,
		&item.Priority, &item.Attempts, &lastAttempt, &nextRetry, &item.Error, &item.ErrorKind, &item.Failed, &item.Timestamp); err != nil {
		return syncqueue.Item{}, err
	}
	if lastAttempt.Valid {
		item.LastAttempt = lastAttempt.Time.UTC()
	}
	if nextRetry.Valid {
		item.NextRetry = nextRetry.Time.UTC()
	}
	return item, nil
}

// --- UsageReporter ----------------------------------------------------------

func (s *Store) Usage(ctx context.Context) (storage.Usage, error) {
	var usage storage.Usage
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drafts`).Scan(&usage.Drafts); err != nil {
		return storage.Usage{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&usage.QueueItems); err != nil {
		return storage.Usage{}, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return storage.Usage{}, err
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return storage.Usage{}, err
	}
	usage.SizeBytes = pageCount * pageSize
	return usage, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
