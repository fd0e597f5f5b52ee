package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/identity"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records mutating API calls after they complete. Reads and
// health probes pass through untouched, and a failed audit write never
// fails the request it describes.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isAuditedRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)

			outcome := outcomeFromStatus(capture.statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := identity.Subject(ctx)
			var groups []string
			if id, ok := identity.FromContext(ctx); ok {
				groups = id.Groups
			}

			rec := &Record{
				Actor:      actor,
				RequestID:  middleware.GetReqID(ctx),
				API:        apiGroup(r.URL.Path),
				Resource:   resourceFromPath(r.URL.Path),
				ResourceID: resourceIDFromPath(r.URL.Path),
				Action:     actionFromRequest(r.Method, r.URL.Path),
				Outcome:    outcome,
				StatusCode: capture.statusCode,
				CreatedAt:  start.UTC(),
				Metadata: db.JSONMap{
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(start).String(),
					"groups":   groups,
				},
			}
			if err := store.Append(ctx, rec); err != nil {
				logger.Error("failed to write audit record", "error", err, "requestID", rec.RequestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}
