package identity

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Middleware resolves the caller identity and stores it in the request
// context. Resolution order: bearer JWT when enabled, then the trusted
// X-Remote-User/X-Remote-Group proxy headers, then anonymous. A rejected
// token degrades to anonymous rather than failing the request; role checks
// downstream decide what anonymous may do.
func (e *Extractor) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := e.identify(r, logger)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func (e *Extractor) identify(r *http.Request, logger *slog.Logger) Identity {
	if e.cfg.JWTEnabled {
		if raw := bearerToken(r); raw != "" {
			id, err := e.fromToken(raw)
			if err != nil {
				logger.Warn("rejected bearer token", "error", err)
				return Identity{Subject: Anonymous, Role: RoleUser}
			}
			return id
		}
	}

	user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
	if user != "" {
		groups := splitGroups(r.Header.Values("X-Remote-Group"))
		role := RoleUser
		for _, g := range groups {
			if slices.Contains(e.cfg.AdminGroups, g) {
				role = RoleAdmin
				break
			}
		}
		return Identity{Subject: user, Groups: groups, Role: role}
	}

	return Identity{Subject: Anonymous, Role: RoleUser}
}

// RequireAdmin rejects requests whose identity lacks the admin role.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdminContext(r.Context()) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "admin role required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// splitGroups flattens repeated header values, each of which may carry a
// comma-separated list.
func splitGroups(values []string) []string {
	var groups []string
	for _, v := range values {
		for _, g := range strings.Split(v, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
	}
	return groups
}
