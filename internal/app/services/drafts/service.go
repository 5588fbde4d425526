// Package drafts implements the local draft store: the single "current"
// assessment being edited plus all drafts awaiting further edits or sync.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// Enqueuer accepts a new queue item when a draft is marked for sync.
type Enqueuer interface {
	Add(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error)
}

// Service manages assessment drafts. All mutation goes through it; callers
// never write draft fields directly.
type Service struct {
	store storage.DraftStore
	log   *logger.Logger

	mu        sync.Mutex
	currentID string
	enqueue   Enqueuer
}

// New constructs a draft service.
func New(store storage.DraftStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("drafts")
	}
	return &Service{store: store, log: log}
}

// AttachEnqueuer wires the sync queue. Without one, MarkForSync only
// transitions the draft.
func (s *Service) AttachEnqueuer(enqueue Enqueuer) {
	s.mu.Lock()
	s.enqueue = enqueue
	s.mu.Unlock()
}

// Create allocates a new draft with a generated id and the type-specific
// default payload, registers it as the current assessment, and persists it.
func (s *Service) Create(ctx context.Context, typ assessment.Type, entityID string, initial map[string]any) (assessment.Draft, error) {
	if !typ.Valid() {
		return assessment.Draft{}, fmt.Errorf("unsupported assessment type %q", typ)
	}

	payload := assessment.DefaultPayload(typ)
	for k, v := range initial {
		payload[k] = v
	}

	draft := assessment.Draft{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityID:   entityID,
		Payload:    payload,
		SyncStatus: assessment.StatusDraft,
	}

	created, err := s.store.CreateDraft(ctx, draft)
	if err != nil {
		return assessment.Draft{}, err
	}

	s.mu.Lock()
	s.currentID = created.ID
	s.mu.Unlock()

	s.log.WithField("draft_id", created.ID).
		WithField("type", created.Type).
		Info("draft created")
	return created, nil
}

// Save merges partial field updates into the current assessment and flags it
// modified. It is a no-op returning a zero draft when nothing is selected.
func (s *Service) Save(ctx context.Context, partial map[string]any) (assessment.Draft, error) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()

	if id == "" {
		return assessment.Draft{}, nil
	}

	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return assessment.Draft{}, err
	}

	if draft.Payload == nil {
		draft.Payload = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		draft.Payload[k] = v
	}
	draft.Modified = true

	return s.store.UpdateDraft(ctx, draft)
}

// Delete removes a draft. Deleting an unknown id is a no-op; the current
// selection is cleared when it pointed at the deleted draft.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDraft(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()

	s.log.WithField("draft_id", id).Info("draft deleted")
	return nil
}

// MarkForSync transitions a draft from draft to pending, resets its attempt
// bookkeeping, and enqueues a sync mutation for it.
func (s *Service) MarkForSync(ctx context.Context, id string) (assessment.Draft, error) {
	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return assessment.Draft{}, err
	}

	draft.SyncStatus = assessment.StatusPending
	draft.SyncAttempts = 0
	draft.SyncError = ""

	updated, err := s.store.UpdateDraft(ctx, draft)
	if err != nil {
		return assessment.Draft{}, err
	}

	s.mu.Lock()
	enqueue := s.enqueue
	s.mu.Unlock()

	if enqueue != nil {
		payload, err := json.Marshal(updated)
		if err != nil {
			return assessment.Draft{}, fmt.Errorf("encode draft payload: %w", err)
		}
		item := syncqueue.Item{
			EntityType: syncqueue.EntityAssessment,
			Action:     syncqueue.ActionCreate,
			EntityUUID: updated.ID,
			Payload:    payload,
		}
		if _, err := enqueue.Add(ctx, item); err != nil {
			return assessment.Draft{}, fmt.Errorf("enqueue draft %s: %w", id, err)
		}
	}

	s.log.WithField("draft_id", id).Info("draft marked for sync")
	return updated, nil
}

// Get returns a draft by id.
func (s *Service) Get(ctx context.Context, id string) (assessment.Draft, error) {
	return s.store.GetDraft(ctx, id)
}

// List returns all drafts.
func (s *Service) List(ctx context.Context) ([]assessment.Draft, error) {
	return s.store.ListDrafts(ctx)
}

// Current returns the draft currently selected for editing.
func (s *Service) Current(ctx context.Context) (assessment.Draft, bool, error) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()

	if id == "" {
		return assessment.Draft{}, false, nil
	}
	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		// The selection can go stale when a cleanup pass removes the draft.
		if errors.Is(err, storage.ErrNotFound) {
			s.mu.Lock()
			if s.currentID == id {
				s.currentID = ""
			}
			s.mu.Unlock()
			return assessment.Draft{}, false, nil
		}
		return assessment.Draft{}, false, err
	}
	return draft, true, nil
}

// Select makes an existing draft the current assessment.
func (s *Service) Select(ctx context.Context, id string) (assessment.Draft, error) {
	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return assessment.Draft{}, err
	}

	s.mu.Lock()
	s.currentID = draft.ID
	s.mu.Unlock()
	return draft, nil
}

// RemoveSynced deletes all drafts whose sync completed.
func (s *Service) RemoveSynced(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteSyncedDrafts(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.WithField("count", removed).Info("synced drafts removed")
	}
	return removed, nil
}

// Sync-status transitions driven by the executor ------------------------------

// MarkSyncing flags a draft as having an in-flight sync attempt.
func (s *Service) MarkSyncing(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(d *assessment.Draft) {
		d.SyncStatus = assessment.StatusSyncing
		d.LastSyncAttempt = time.Now().UTC()
	})
}

// MarkSynced records a successful sync.
func (s *Service) MarkSynced(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(d *assessment.Draft) {
		d.SyncStatus = assessment.StatusSynced
		d.SyncError = ""
	})
}

// MarkSyncFailed records a failed attempt. Retryable failures return the
// draft to pending; permanent ones park it in the error state.
func (s *Service) MarkSyncFailed(ctx context.Context, id string, attempts int, message string, permanent bool) error {
	return s.transition(ctx, id, func(d *assessment.Draft) {
		d.SyncStatus = assessment.StatusPending
		if permanent {
			d.SyncStatus = assessment.StatusError
		}
		d.SyncAttempts = attempts
		d.SyncError = message
		d.LastSyncAttempt = time.Now().UTC()
	})
}

// ClearModified resets the modified flag without touching payload fields.
// The auto-saver uses it; the store's own state is already the persisted
// representation.
func (s *Service) ClearModified(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(d *assessment.Draft) {
		d.Modified = false
	})
}

func (s *Service) transition(ctx context.Context, id string, mutate func(*assessment.Draft)) error {
	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	mutate(&draft)
	_, err = s.store.UpdateDraft(ctx, draft)
	return err
}
