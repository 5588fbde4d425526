// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu     sync.RWMutex
	drafts map[string]assessment.Draft
	items  map[string]syncqueue.Item
}

var _ storage.DraftStore = (*Store)(nil)
var _ storage.QueueStore = (*Store)(nil)
var _ storage.UsageReporter = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		drafts: make(map[string]assessment.Draft),
		items:  make(map[string]syncqueue.Item),
	}
}

// DraftStore implementation ---------------------------------------------------

func (s *Store) CreateDraft(_ context.Context, draft assessment.Draft) (assessment.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.ID == "" {
		return assessment.Draft{}, fmt.Errorf("draft id required")
	}
	if _, exists := s.drafts[draft.ID]; exists {
		return assessment.Draft{}, fmt.Errorf("draft %s already exists", draft.ID)
	}

	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now
	draft.Payload = assessment.ClonePayload(draft.Payload)

	s.drafts[draft.ID] = draft
	return cloneDraft(draft), nil
}

func (s *Store) UpdateDraft(_ context.Context, draft assessment.Draft) (assessment.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.drafts[draft.ID]
	if !ok {
		return assessment.Draft{}, fmt.Errorf("draft %s: %w", draft.ID, storage.ErrNotFound)
	}

	draft.CreatedAt = original.CreatedAt
	draft.UpdatedAt = time.Now().UTC()
	draft.Payload = assessment.ClonePayload(draft.Payload)

	s.drafts[draft.ID] = draft
	return cloneDraft(draft), nil
}

func (s *Store) GetDraft(_ context.Context, id string) (assessment.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.drafts[id]
	if !ok {
		return assessment.Draft{}, fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	return cloneDraft(draft), nil
}

func (s *Store) ListDrafts(_ context.Context) ([]assessment.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]assessment.Draft, 0, len(s.drafts))
	for _, draft := range s.drafts {
		result = append(result, cloneDraft(draft))
	}
	return result, nil
}

func (s *Store) DeleteDraft(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[id]; !ok {
		return fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	delete(s.drafts, id)
	return nil
}

func (s *Store) DeleteSyncedDrafts(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, draft := range s.drafts {
		if draft.SyncStatus == assessment.StatusSynced {
			delete(s.drafts, id)
			removed++
		}
	}
	return removed, nil
}

// QueueStore implementation ---------------------------------------------------

func (s *Store) CreateItem(_ context.Context, item syncqueue.Item) (syncqueue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.UUID == "" {
		return syncqueue.Item{}, fmt.Errorf("queue item uuid required")
	}
	if _, exists := s.items[item.UUID]; exists {
		return syncqueue.Item{}, fmt.Errorf("queue item %s already exists", item.UUID)
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}
	item.Payload = append([]byte(nil), item.Payload...)

	s.items[item.UUID] = item
	return cloneItem(item), nil
}

func (s *Store) UpdateItem(_ context.Context, item syncqueue.Item) (syncqueue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.items[item.UUID]
	if !ok {
		return syncqueue.Item{}, fmt.Errorf("queue item %s: %w", item.UUID, storage.ErrNotFound)
	}

	item.Timestamp = original.Timestamp
	item.Payload = append([]byte(nil), item.Payload...)

	s.items[item.UUID] = item
	return cloneItem(item), nil
}

func (s *Store) GetItem(_ context.Context, uuid string) (syncqueue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[uuid]
	if !ok {
		return syncqueue.Item{}, fmt.Errorf("queue item %s: %w", uuid, storage.ErrNotFound)
	}
	return cloneItem(item), nil
}

func (s *Store) ListItems(_ context.Context) ([]syncqueue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]syncqueue.Item, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, cloneItem(item))
	}
	return result, nil
}

func (s *Store) DeleteItem(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[uuid]; !ok {
		return fmt.Errorf("queue item %s: %w", uuid, storage.ErrNotFound)
	}
	delete(s.items, uuid)
	return nil
}

func (s *Store) ClearItems(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]syncqueue.Item)
	return nil
}

// UsageReporter implementation ------------------------------------------------

func (s *Store) Usage(_ context.Context) (storage.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bytes int64
	for _, item := range s.items {
		bytes += int64(len(item.Payload))
	}
	return storage.Usage{
		Drafts:     len(s.drafts),
		QueueItems: len(s.items),
		SizeBytes:  bytes,
	}, nil
}

func cloneDraft(draft assessment.Draft) assessment.Draft {
	draft.Payload = assessment.ClonePayload(draft.Payload)
	return draft
}

func cloneItem(item syncqueue.Item) syncqueue.Item {
	item.Payload = append([]byte(nil), item.Payload...)
	return item
}
