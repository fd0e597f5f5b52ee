package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/identity"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

type handler struct {
	svc    *Service
	logger *slog.Logger
}

type createModelRequest struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description"`
	ArtifactRef string        `json:"artifactRef"`
	Schema      schema.Schema `json:"schema"`
}

type recordTestRequest struct {
	Passed       bool           `json:"passed"`
	SampleInput  map[string]any `json:"sampleInput"`
	SampleOutput map[string]any `json:"sampleOutput"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type modelListResponse struct {
	Items         []ModelVersion `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type testListResponse struct {
	Items []TestRecord `json:"items"`
}

type promotionListResponse struct {
	Items         []PromotionRecord `json:"items"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

func (h *handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mv, err := h.svc.CreateDraft(r.Context(), Draft{
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		ArtifactRef: req.ArtifactRef,
		Schema:      req.Schema,
		CreatedBy:   identity.Subject(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mv)
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	state := LifecycleState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown lifecycle state "+strconv.Quote(string(state)))
		return
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	items, next, err := h.svc.List(r.Context(), state, pageSize, r.URL.Query().Get("nextPageToken"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelListResponse{Items: items, NextPageToken: next})
}

func (h *handler) getModel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	mv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (h *handler) getActive(w http.ResponseWriter, r *http.Request) {
	mv, err := h.svc.GetActive(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if mv == nil {
		writeError(w, http.StatusNotFound, "no active model version")
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (h *handler) recordTest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req recordTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := h.svc.RecordTestResult(r.Context(), id, req.Passed, req.SampleInput, req.SampleOutput, identity.Subject(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listTests(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	records, err := h.svc.ListTestRecords(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, testListResponse{Items: records})
}

func (h *handler) promote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Promote(r.Context(), id, identity.Subject(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := h.svc.Rollback(r.Context(), req.Reason, identity.Subject(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listPromotions(w http.ResponseWriter, r *http.Request) {
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	records, next, err := h.svc.ListPromotions(r.Context(), pageSize, r.URL.Query().Get("nextPageToken"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, promotionListResponse{Items: records, NextPageToken: next})
}

func (h *handler) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid model version id "+strconv.Quote(raw))
		return 0, false
	}
	return uint(id), true
}

type errorResponse struct {
	Error       string                  `json:"error"`
	Code        string                  `json:"code,omitempty"`
	FieldErrors schema.ValidationErrors `json:"fieldErrors,omitempty"`
}

// writeDomainError maps domain errors onto the HTTP error envelope:
// 400 for schema and input validation, 404 unknown, 409 conflict,
// 422 invalid lifecycle transition, 500 otherwise.
func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	var verrs schema.ValidationErrors
	var schemaErr *schema.InvalidSchemaError
	var transitionErr *TransitionError
	var notFound *NotFoundError
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verrs.Error(), Code: "validation_error", FieldErrors: verrs})
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: schemaErr.Error(), Code: "invalid_schema"})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: transitionErr.Error(), Code: "invalid_state"})
	case errors.Is(err, ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	default:
		h.logger.Error("registry request failed", "error", err)
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
