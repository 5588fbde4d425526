package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	app "github.com/relief-ops/fieldsync/internal/app"
	"github.com/relief-ops/fieldsync/internal/app/domain/assessment"
	"github.com/relief-ops/fieldsync/internal/app/services/syncer"
	"github.com/relief-ops/fieldsync/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/drafts", h.drafts)
	mux.HandleFunc("/drafts/", h.draftResources)
	mux.HandleFunc("/queue", h.queue)
	mux.HandleFunc("/queue/", h.queueResources)
	mux.HandleFunc("/sync", h.syncStatus)
	mux.HandleFunc("/sync/", h.syncActions)
	mux.HandleFunc("/connectivity", h.connectivity)
	mux.HandleFunc("/connectivity/check", h.connectivityCheck)
	mux.HandleFunc("/gaps", h.gaps)
	mux.HandleFunc("/storage", h.storageUsage)
	mux.HandleFunc("/healthz", h.healthz)
	return mux
}

func (h *handler) drafts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Type     string         `json:"type"`
			EntityID string         `json:"entity_id"`
			Initial  map[string]any `json:"initial"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		draft, err := h.app.Drafts.Create(r.Context(), assessment.Type(payload.Type), payload.EntityID, payload.Initial)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, draft)

	case http.MethodGet:
		drafts, err := h.app.Drafts.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, drafts)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) draftResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/drafts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "current":
		h.currentDraft(w, r, parts[1:])
		return
	case "cleanup":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		removed, err := h.app.Drafts.RemoveSynced(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
		return
	}

	draftID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			draft, err := h.app.Drafts.Get(r.Context(), draftID)
			if err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, draft)
		case http.MethodDelete:
			if err := h.app.Drafts.Delete(r.Context(), draftID); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "sync":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		draft, err := h.app.Drafts.MarkForSync(r.Context(), draftID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	case "select":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		draft, err := h.app.Drafts.Select(r.Context(), draftID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) currentDraft(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) > 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		draft, ok, err := h.app.Drafts.Current(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no draft selected"))
			return
		}
		writeJSON(w, http.StatusOK, draft)
	case http.MethodPatch:
		var payload map[string]any
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		draft, err := h.app.Drafts.Save(r.Context(), payload)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, draft)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) queue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, struct {
			Pending int `json:"pending"`
			Items   any `json:"items"`
		}{
			Pending: h.app.Queue.Pending(),
			Items:   h.app.Queue.Items(),
		})
	case http.MethodDelete:
		if err := h.app.Queue.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) queueResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/queue"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if parts[0] == "refresh" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.app.Queue.Refresh(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"pending": h.app.Queue.Pending()})
		return
	}

	itemID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			item, err := h.app.Queue.Get(r.Context(), itemID)
			if err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodDelete:
			if err := h.app.Queue.Remove(r.Context(), itemID); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "retry" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		item, err := h.app.Executor.RetryItem(r.Context(), itemID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Executor.Status())
}

func (h *handler) syncActions(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sync"), "/")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "start":
		if err := h.app.Executor.StartSync(r.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, syncer.ErrSyncInProgress) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, h.app.Executor.Status())
	case "stop":
		h.app.Executor.StopSync()
		writeJSON(w, http.StatusOK, h.app.Executor.Status())
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) connectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Monitor.Status())
}

func (h *handler) connectivityCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.app.Monitor.Check(r.Context())
	writeJSON(w, http.StatusOK, h.app.Monitor.Status())
}

func (h *handler) gaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.app.GapAnalysis.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) storageUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.app.Usage == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("storage usage not available"))
		return
	}
	usage, err := h.app.Usage.Usage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorStatus maps a lookup error to an HTTP status: missing entities are
// 404, anything else is a server-side failure.
func errorStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
