package registry

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/identity"
)

// NewRouter returns the registry API routes. Reads are open to any
// authenticated caller; mutations require the admin role.
func NewRouter(svc *Service, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Route("/models", func(r chi.Router) {
		r.Get("/", h.listModels)
		r.Get("/active", h.getActive)
		r.Get("/{id}", h.getModel)
		r.Get("/{id}/tests", h.listTests)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAdmin())
			r.Post("/", h.createDraft)
			r.Post("/rollback", h.rollback)
			r.Post("/{id}/tests", h.recordTest)
			r.Post("/{id}/promote", h.promote)
		})
	})
	r.Get("/promotions", h.listPromotions)
	return r
}
