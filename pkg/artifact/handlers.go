package artifact

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/identity"
)

const defaultMaxUploadBytes = 512 << 20

type handler struct {
	store     Store
	logger    *slog.Logger
	maxUpload int64
}

type uploadResponse struct {
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxUpload)
	ref, size, err := h.store.Put(r.Context(), body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "artifact exceeds upload limit")
			return
		}
		h.logger.Error("artifact upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("stored artifact", "ref", ref, "size", size, "uploadedBy", identity.Subject(r.Context()))
	writeJSON(w, http.StatusCreated, uploadResponse{Ref: ref, Size: size})
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	rc, err := h.store.Open(r.Context(), ref)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact download interrupted", "ref", ref, "error", err)
	}
}

func (h *handler) stat(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	size, err := h.store.Stat(r.Context(), ref)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Ref: ref, Size: size})
}

func (h *handler) writeStoreError(w http.ResponseWriter, err error) {
	var refErr *RefError
	var notFound *NotFoundError
	switch {
	case errors.As(err, &refErr):
		writeError(w, http.StatusBadRequest, refErr.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	default:
		h.logger.Error("artifact request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// NewRouter returns the artifact API routes. Uploads require the admin
// role; downloads are open.
func NewRouter(store Store, maxUploadBytes int64, logger *slog.Logger) chi.Router {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{store: store, logger: logger, maxUpload: maxUploadBytes}

	r := chi.NewRouter()
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/{ref}", h.download)
		r.Get("/{ref}/meta", h.stat)
		r.With(identity.RequireAdmin()).Post("/", h.upload)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
