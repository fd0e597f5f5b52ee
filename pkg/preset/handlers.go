package preset

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/identity"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

type handler struct {
	svc    *Service
	logger *slog.Logger
}

type savePresetRequest struct {
	Name   string         `json:"name"`
	Inputs map[string]any `json:"inputs"`
}

type presetListResponse struct {
	Items []Preset `json:"items"`
}

type loadPresetResponse struct {
	Preset        *Preset              `json:"preset"`
	Compatibility *CompatibilityReport `json:"compatibility"`
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	var req savePresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := h.svc.Save(r.Context(), identity.Subject(r.Context()), req.Name, req.Inputs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	presets, err := h.svc.List(r.Context(), identity.Subject(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presetListResponse{Items: presets})
}

func (h *handler) load(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, report, err := h.svc.Load(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !h.mayAccess(r, p) {
		h.writeDomainError(w, &NotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, loadPresetResponse{Preset: p, Compatibility: report})
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.svc.store.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if p == nil || !h.mayAccess(r, p) {
		h.writeDomainError(w, &NotFoundError{ID: id})
		return
	}
	if err := h.svc.Delete(r.Context(), id, identity.Subject(r.Context())); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) mayAccess(r *http.Request, p *Preset) bool {
	return identity.IsAdminContext(r.Context()) || p.Owner == identity.Subject(r.Context())
}

type errorResponse struct {
	Error       string                  `json:"error"`
	Code        string                  `json:"code,omitempty"`
	FieldErrors schema.ValidationErrors `json:"fieldErrors,omitempty"`
}

func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	var verrs schema.ValidationErrors
	var notFound *NotFoundError
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verrs.Error(), Code: "validation_error", FieldErrors: verrs})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	default:
		h.logger.Error("preset request failed", "error", err)
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
