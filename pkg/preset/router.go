package preset

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// NewRouter returns the preset API routes. Presets are owner-scoped:
// handlers hide other owners' presets unless the caller is an admin.
func NewRouter(svc *Service, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Route("/presets", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.save)
		r.Get("/{id}", h.load)
		r.Delete("/{id}", h.delete)
	})
	return r
}
