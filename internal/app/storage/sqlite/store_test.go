package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "fieldsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_DraftRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	draft := assessment.Draft{
		ID:         "d-1",
		Type:       assessment.TypeHealth,
		EntityID:   "camp-7",
		Payload:    map[string]any{"has-clean-water": true, "notes": "north site"},
		SyncStatus: assessment.StatusDraft,
	}

	created, err := store.CreateDraft(ctx, draft)
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	got, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, assessment.TypeHealth, got.Type)
	require.Equal(t, "camp-7", got.EntityID)
	require.Equal(t, true, got.Payload["has-clean-water"])
	require.Equal(t, assessment.StatusDraft, got.SyncStatus)
	require.True(t, got.LastSyncAttempt.IsZero())

	got.SyncStatus = assessment.StatusPending
	got.SyncAttempts = 1
	got.LastSyncAttempt = time.Now().UTC()
	updated, err := store.UpdateDraft(ctx, got)
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix())

	reloaded, err := store.GetDraft(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, assessment.StatusPending, reloaded.SyncStatus)
	require.Equal(t, 1, reloaded.SyncAttempts)
	require.False(t, reloaded.LastSyncAttempt.IsZero())
}

func TestStore_DraftNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetDraft(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	err = store.DeleteDraft(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.UpdateDraft(ctx, assessment.Draft{ID: "missing"})
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_CorruptDraftPayloadSurfacesError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDraft(ctx, assessment.Draft{
		ID:         "d-1",
		Type:       assessment.TypeShelter,
		Payload:    map[string]any{"notes": "ok"},
		SyncStatus: assessment.StatusDraft,
	})
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE drafts SET payload = '{truncated' WHERE id = ?`, "d-1")
	require.NoError(t, err)

	_, err = store.GetDraft(ctx, "d-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode draft")

	_, err = store.ListDrafts(ctx)
	require.Error(t, err)
}

func TestStore_DeleteSyncedDrafts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDraft(ctx, assessment.Draft{ID: "keep", Type: assessment.TypeFood, SyncStatus: assessment.StatusDraft})
	require.NoError(t, err)
	_, err = store.CreateDraft(ctx, assessment.Draft{ID: "gone", Type: assessment.TypeFood, SyncStatus: assessment.StatusSynced})
	require.NoError(t, err)

	removed, err := store.DeleteSyncedDrafts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := store.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "keep", remaining[0].ID)
}

func TestStore_QueueRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	item := syncqueue.Item{
		UUID:       "q-1",
		EntityType: syncqueue.EntityAssessment,
		Action:     syncqueue.ActionCreate,
		EntityUUID: "d-1",
		Payload:    []byte(`{"id":"d-1"}`),
		Priority:   3,
	}

	created, err := store.CreateItem(ctx, item)
	require.NoError(t, err)
	require.False(t, created.Timestamp.IsZero())

	got, err := store.GetItem(ctx, "q-1")
	require.NoError(t, err)
	require.Equal(t, syncqueue.EntityAssessment, got.EntityType)
	require.Equal(t, 3, got.Priority)
	require.JSONEq(t, `{"id":"d-1"}`, string(got.Payload))
	require.True(t, got.NextRetry.IsZero())

	got.Attempts = 2
	got.Error = "bad gateway"
	got.ErrorKind = syncqueue.ErrorServer
	got.NextRetry = time.Now().UTC().Add(time.Minute)
	_, err = store.UpdateItem(ctx, got)
	require.NoError(t, err)

	reloaded, err := store.GetItem(ctx, "q-1")
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Attempts)
	require.Equal(t, syncqueue.ErrorServer, reloaded.ErrorKind)
	require.False(t, reloaded.NextRetry.IsZero())
	require.False(t, reloaded.Failed)
}

func TestStore_QueueOrderingAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	_, err := store.CreateItem(ctx, syncqueue.Item{UUID: "old", EntityType: syncqueue.EntityAssessment, Action: syncqueue.ActionCreate, Timestamp: base})
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, syncqueue.Item{UUID: "new", EntityType: syncqueue.EntityAssessment, Action: syncqueue.ActionCreate, Timestamp: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, syncqueue.Item{UUID: "urgent", EntityType: syncqueue.EntityAssessment, Action: syncqueue.ActionCreate, Priority: 9, Timestamp: base.Add(2 * time.Second)})
	require.NoError(t, err)

	items, err := store.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "urgent", items[0].UUID)
	require.Equal(t, "old", items[1].UUID)
	require.Equal(t, "new", items[2].UUID)

	require.NoError(t, store.ClearItems(ctx))
	items, err = store.ListItems(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestStore_QueueNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetItem(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	err = store.DeleteItem(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_Usage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDraft(ctx, assessment.Draft{ID: "d-1", Type: assessment.TypeWASH, SyncStatus: assessment.StatusDraft})
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, syncqueue.Item{UUID: "q-1", EntityType: syncqueue.EntityAssessment, Action: syncqueue.ActionCreate})
	require.NoError(t, err)

	usage, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, usage.Drafts)
	require.Equal(t, 1, usage.QueueItems)
	require.Greater(t, usage.SizeBytes, int64(0))
}
