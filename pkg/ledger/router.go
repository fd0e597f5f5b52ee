package ledger

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// NewRouter returns the ledger API routes. Any caller may begin and read
// their own executions; handlers widen reads and deletes for admins.
// Complete and fail have no HTTP surface: results arrive only through
// the runner.
func NewRouter(svc *Service, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Route("/executions", func(r chi.Router) {
		r.Post("/", h.beginExecution)
		r.Get("/", h.listExecutions)
		r.Get("/{id}", h.getExecution)
		r.Delete("/{id}", h.deleteExecution)
	})
	return r
}
