package storage

import (
	"context"
	"errors"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
)

// ErrNotFound is returned when a requested record does not exist. Store
// implementations wrap their backend's sentinel into this one.
var ErrNotFound = errors.New("record not found")

// DraftStore persists assessment drafts.
type DraftStore interface {
	CreateDraft(ctx context.Context, draft assessment.Draft) (assessment.Draft, error)
	UpdateDraft(ctx context.Context, draft assessment.Draft) (assessment.Draft, error)
	GetDraft(ctx context.Context, id string) (assessment.Draft, error)
	ListDrafts(ctx context.Context) ([]assessment.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
	DeleteSyncedDrafts(ctx context.Context) (int, error)
}

// QueueStore persists sync queue items. It is the durable side of the
// in-memory queue; the queue service's Refresh reconciles from it after a
// restart.
type QueueStore interface {
	CreateItem(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error)
	UpdateItem(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error)
	GetItem(ctx context.Context, uuid string) (syncqueue.Item, error)
	ListItems(ctx context.Context) ([]syncqueue.Item, error)
	DeleteItem(ctx context.Context, uuid string) error
	ClearItems(ctx context.Context) error
}

// Usage describes how much local storage the stores occupy.
type Usage struct {
	Drafts     int   `json:"drafts"`
	QueueItems int   `json:"queue_items"`
	SizeBytes  int64 `json:"size_bytes"`
}

// UsageReporter exposes storage introspection for the UI layer.
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}
