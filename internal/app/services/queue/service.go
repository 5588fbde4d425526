// Package queue implements the durable sync queue: the ordered set of
// outstanding mutations destined for the remote API, tracked independently
// of the draft store's own bookkeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/metrics"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// Service keeps the in-memory queue mirrored to durable storage. The durable
// side is authoritative; Refresh reconciles from it after a crash or reload.
type Service struct {
	store storage.QueueStore
	log   *logger.Logger

	mu      sync.RWMutex
	items   map[string]syncqueue.Item
	pending int
}

// New constructs a queue service. Call Refresh to load persisted items.
func New(store storage.QueueStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sync-queue")
	}
	return &Service{
		store: store,
		log:   log,
		items: make(map[string]syncqueue.Item),
	}
}

// Add assigns the item a uuid and timestamp, persists it, appends it to the
// in-memory queue, and bumps the pending-operations counter.
func (s *Service) Add(ctx context.Context, item syncqueue.Item) (syncqueue.Item, error) {
	if !item.EntityType.Valid() {
		return syncqueue.Item{}, fmt.Errorf("unsupported entity type %q", item.EntityType)
	}
	if !item.Action.Valid() {
		return syncqueue.Item{}, fmt.Errorf("unsupported action %q", item.Action)
	}

	item.UUID = uuid.NewString()
	item.Timestamp = time.Now().UTC()

	created, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return syncqueue.Item{}, fmt.Errorf("persist queue item: %w", err)
	}

	s.mu.Lock()
	s.items[created.UUID] = created
	s.pending++
	pending := s.pending
	s.mu.Unlock()
	metrics.SetQueuePending(pending)

	s.log.WithField("uuid", created.UUID).
		WithField("entity_type", created.EntityType).
		WithField("action", created.Action).
		Info("queue item added")
	return created, nil
}

// Remove deletes the item from durable storage and memory. The pending
// counter never drops below zero; removing an unknown uuid is a no-op.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.store.DeleteItem(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	if _, ok := s.items[id]; ok {
		delete(s.items, id)
		if s.pending > 0 {
			s.pending--
		}
	}
	pending := s.pending
	s.mu.Unlock()
	metrics.SetQueuePending(pending)
	return nil
}

// Update merges partial field updates into the matching queue entry.
func (s *Service) Update(ctx context.Context, id string, update syncqueue.Update) (syncqueue.Item, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		var err error
		item, err = s.store.GetItem(ctx, id)
		if err != nil {
			return syncqueue.Item{}, err
		}
	}

	update.Apply(&item)

	updated, err := s.store.UpdateItem(ctx, item)
	if err != nil {
		return syncqueue.Item{}, err
	}

	s.mu.Lock()
	s.items[updated.UUID] = updated
	s.mu.Unlock()
	return updated, nil
}

// Get returns a queue item by uuid.
func (s *Service) Get(ctx context.Context, id string) (syncqueue.Item, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if ok {
		return item, nil
	}
	return s.store.GetItem(ctx, id)
}

// Refresh reloads the full queue from durable storage, replacing in-memory
// state and resetting the pending counter to the reloaded length. This is
// the authoritative reconciliation point after a crash or reload.
func (s *Service) Refresh(ctx context.Context) error {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("reload queue: %w", err)
	}

	fresh := make(map[string]syncqueue.Item, len(items))
	for _, item := range items {
		fresh[item.UUID] = item
	}

	s.mu.Lock()
	s.items = fresh
	s.pending = len(fresh)
	pending := s.pending
	s.mu.Unlock()
	metrics.SetQueuePending(pending)

	s.log.WithField("items", pending).Info("sync queue refreshed")
	return nil
}

// Clear drops every queue item from memory and durable storage.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.ClearItems(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = make(map[string]syncqueue.Item)
	s.pending = 0
	s.mu.Unlock()
	metrics.SetQueuePending(0)
	return nil
}

// Pending returns the pending-operations counter.
func (s *Service) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// Items returns a drain-ordered snapshot of the queue: priority descending,
// then insertion order with the uuid as the deterministic tie-break.
func (s *Service) Items() []syncqueue.Item {
	s.mu.RLock()
	result := make([]syncqueue.Item, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return syncqueue.Less(result[i], result[j]) })
	return result
}

// Due returns the drain-ordered items eligible for an attempt at the given
// time: not permanently failed and past their next-retry gate.
func (s *Service) Due(now time.Time) []syncqueue.Item {
	items := s.Items()
	due := items[:0]
	for _, item := range items {
		if item.Failed {
			continue
		}
		if !item.NextRetry.IsZero() && now.Before(item.NextRetry) {
			continue
		}
		due = append(due, item)
	}
	return due
}
