package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/relief-ops/fieldsync/internal/app"
	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/internal/app/storage/memory"
	"github.com/relief-ops/fieldsync/internal/config"
)

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func newTestHandler(t *testing.T, remoteURL string) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.RemoteBaseURL = remoteURL

	application, err := app.New(cfg, app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })
	return NewHandler(application)
}

func TestHandlerDraftLifecycle(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer remote.Close()

	handler := newTestHandler(t, remote.URL)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts", marshal(t, map[string]any{
		"type":      "health",
		"entity_id": "camp-7",
		"initial":   map[string]any{"notes": "north site"},
	})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create draft, got %d: %s", resp.Code, resp.Body.String())
	}

	var draft map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &draft); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	id := draft["id"].(string)
	if draft["sync_status"] != "draft" {
		t.Fatalf("expected draft status, got %v", draft["sync_status"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPatch, "/drafts/current", marshal(t, map[string]any{
		"has-medical-supplies": true,
	})))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 save, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/drafts/current", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 current, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts/"+id+"/sync", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 mark for sync, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/queue", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 queue, got %d", resp.Code)
	}
	var queue struct {
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if queue.Pending != 1 {
		t.Fatalf("expected 1 pending operation, got %d", queue.Pending)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sync/start", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 sync start, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/drafts/"+id, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 get draft, got %d", resp.Code)
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &draft); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	if draft["sync_status"] != "synced" {
		t.Fatalf("expected synced status after drain, got %v", draft["sync_status"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts/cleanup", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 cleanup, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/drafts/"+id, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after cleanup, got %d", resp.Code)
	}
}

func TestHandlerStatusEndpoints(t *testing.T) {
	handler := newTestHandler(t, "")

	for _, path := range []string{"/sync", "/connectivity", "/gaps", "/storage", "/healthz"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d: %s", path, resp.Code, resp.Body.String())
		}
	}
}

func TestHandlerErrors(t *testing.T) {
	handler := newTestHandler(t, "")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/drafts/missing", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown draft, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts", marshal(t, map[string]any{
		"type": "logistics",
	})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/queue", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}

	// Deleting an unknown draft stays idempotent.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/drafts/missing", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for idempotent delete, got %d", resp.Code)
	}
}

type failingDraftStore struct {
	storage.DraftStore
	err error
}

func (s *failingDraftStore) GetDraft(_ context.Context, _ string) (assessment.Draft, error) {
	return assessment.Draft{}, s.err
}

func TestHandlerStorageFailureIsServerError(t *testing.T) {
	cfg := config.Default()
	stores := app.Stores{Drafts: &failingDraftStore{
		DraftStore: memory.New(),
		err:        errors.New("disk I/O error"),
	}}
	application, err := app.New(cfg, stores, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })
	handler := NewHandler(application)

	// A broken store is the server's fault, not the caller's.
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/drafts/d-1", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for storage failure, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestHandlerQueueRetry(t *testing.T) {
	// Remote rejects everything as a validation error, parking the item.
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing field", http.StatusUnprocessableEntity)
	}))
	defer remote.Close()

	handler := newTestHandler(t, remote.URL)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts", marshal(t, map[string]any{"type": "wash"})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create draft: %d", resp.Code)
	}
	var draft map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &draft); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	id := draft["id"].(string)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/drafts/"+id+"/sync", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("mark for sync: %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sync/start", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("sync start: %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/queue", nil))
	var queue struct {
		Items []struct {
			UUID   string `json:"uuid"`
			Failed bool   `json:"failed"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(queue.Items) != 1 || !queue.Items[0].Failed {
		t.Fatalf("expected one parked item, got %+v", queue.Items)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/queue/"+queue.Items[0].UUID+"/retry", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("retry: %d: %s", resp.Code, resp.Body.String())
	}
	var item struct {
		Failed   bool `json:"failed"`
		Attempts int  `json:"attempts"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.Failed || item.Attempts != 0 {
		t.Fatalf("retry should reset failure state: %+v", item)
	}
}
