package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type handler struct {
	store  *Store
	logger *slog.Logger
}

type recordListResponse struct {
	Records       []Record `json:"records"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
	TotalSize     int64    `json:"totalSize"`
}

// listRecords handles GET /records with actor, resource, action,
// outcome, pageSize, and nextPageToken query parameters.
func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	q := Query{
		Actor:     r.URL.Query().Get("actor"),
		Resource:  r.URL.Query().Get("resource"),
		Action:    r.URL.Query().Get("action"),
		Outcome:   r.URL.Query().Get("outcome"),
		PageToken: r.URL.Query().Get("nextPageToken"),
	}
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		v, err := strconv.Atoi(ps)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		q.PageSize = v
	}

	records, nextToken, total, err := h.store.List(r.Context(), q)
	if err != nil {
		if errors.Is(err, ErrInvalidPageToken) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to list audit records", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if records == nil {
		records = []Record{}
	}
	writeJSON(w, http.StatusOK, recordListResponse{
		Records:       records,
		NextPageToken: nextToken,
		TotalSize:     total,
	})
}

// getRecord handles GET /records/{id}.
func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get audit record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "audit record "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
