package audit

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/modelkeep/modelkeep/pkg/identity"
)

// NewRouter returns the audit API routes. The trail names other users'
// actions, so both endpoints require the admin role.
func NewRouter(store *Store, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{store: store, logger: logger}

	r := chi.NewRouter()
	r.Route("/records", func(r chi.Router) {
		r.Use(identity.RequireAdmin())
		r.Get("/", h.listRecords)
		r.Get("/{id}", h.getRecord)
	})
	return r
}
