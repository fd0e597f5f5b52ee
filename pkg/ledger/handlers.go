package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/filter"
	"github.com/modelkeep/modelkeep/pkg/identity"
	"github.com/modelkeep/modelkeep/pkg/registry"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

type handler struct {
	svc    *Service
	logger *slog.Logger
}

type beginExecutionRequest struct {
	ModelVersionID *uint          `json:"modelVersionId"`
	Inputs         map[string]any `json:"inputs"`
	Tags           []string       `json:"tags"`
}

type executionListResponse struct {
	Items         []Execution `json:"items"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// beginExecution starts an execution for the caller. The response is 202:
// the returned execution is running and the backend call proceeds on the
// worker pool.
func (h *handler) beginExecution(w http.ResponseWriter, r *http.Request) {
	var req beginExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	exec, err := h.svc.Begin(r.Context(), BeginRequest{
		ModelVersionID: req.ModelVersionID,
		Inputs:         req.Inputs,
		RequestedBy:    identity.Subject(r.Context()),
		Tags:           req.Tags,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

// listExecutions returns the caller's executions. Admins may widen the
// scope with user= and includeDeleted=.
func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	admin := identity.IsAdminContext(r.Context())

	req := ListRequest{
		RequestedBy: identity.Subject(r.Context()),
		FilterExpr:  q.Get("filter"),
		PageToken:   q.Get("nextPageToken"),
	}
	req.PageSize, _ = strconv.Atoi(q.Get("pageSize"))
	if admin {
		if user := q.Get("user"); user != "" {
			req.RequestedBy = user
		}
		req.IncludeDeleted = q.Get("includeDeleted") == "true"
	}

	var ok bool
	if req.Since, ok = h.timeParam(w, q.Get("from"), "from"); !ok {
		return
	}
	if req.Until, ok = h.timeParam(w, q.Get("to"), "to"); !ok {
		return
	}
	if req.Statuses, ok = h.statusParam(w, q.Get("status")); !ok {
		return
	}

	items, next, err := h.svc.List(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionListResponse{Items: items, NextPageToken: next})
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	admin := identity.IsAdminContext(r.Context())
	exec, err := h.svc.Get(r.Context(), id, admin && r.URL.Query().Get("includeDeleted") == "true")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !admin && exec.RequestedBy != identity.Subject(r.Context()) {
		h.writeDomainError(w, &NotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *handler) deleteExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	admin := identity.IsAdminContext(r.Context())
	exec, err := h.svc.Get(r.Context(), id, true)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !admin && exec.RequestedBy != identity.Subject(r.Context()) {
		h.writeDomainError(w, &NotFoundError{ID: id})
		return
	}
	if err := h.svc.SoftDelete(r.Context(), id, identity.Subject(r.Context())); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// timeParam parses an RFC 3339 timestamp or a bare date.
func (h *handler) timeParam(w http.ResponseWriter, raw, name string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" timestamp "+strconv.Quote(raw))
		return nil, false
	}
	return &t, true
}

func (h *handler) statusParam(w http.ResponseWriter, raw string) ([]Status, bool) {
	if raw == "" {
		return nil, true
	}
	var statuses []Status
	for _, part := range strings.Split(raw, ",") {
		s := Status(strings.TrimSpace(part))
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "unknown execution status "+strconv.Quote(string(s)))
			return nil, false
		}
		statuses = append(statuses, s)
	}
	return statuses, true
}

type errorResponse struct {
	Error       string                  `json:"error"`
	Code        string                  `json:"code,omitempty"`
	FieldErrors schema.ValidationErrors `json:"fieldErrors,omitempty"`
}

// writeDomainError maps domain errors onto the HTTP error envelope:
// 400 for input validation and filter syntax, 404 unknown, 422 wrong
// execution or model state, 500 otherwise.
func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	var verrs schema.ValidationErrors
	var parseErr *filter.ParseError
	var stateErr *StateError
	var notFound *NotFoundError
	var regNotFound *registry.NotFoundError
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verrs.Error(), Code: "validation_error", FieldErrors: verrs})
	case errors.As(err, &parseErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: parseErr.Error(), Code: "invalid_filter"})
	case errors.Is(err, ErrInvalidPageToken):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_page_token"})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: stateErr.Error(), Code: "invalid_state"})
	case errors.As(err, &notFound), errors.As(err, &regNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	default:
		h.logger.Error("ledger request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
