package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/modelkeep/modelkeep/pkg/artifact"
	"github.com/modelkeep/modelkeep/pkg/audit"
	"github.com/modelkeep/modelkeep/pkg/cache"
	"github.com/modelkeep/modelkeep/pkg/ledger"
	"github.com/modelkeep/modelkeep/pkg/preset"
	"github.com/modelkeep/modelkeep/pkg/registry"
)

const (
	registryBasePath = "/api/registry/v1alpha1"
	ledgerBasePath   = "/api/ledger/v1alpha1"
	auditBasePath    = "/api/audit/v1alpha1"

	activeModelPath = registryBasePath + "/models/active"
)

// MountRoutes builds the HTTP router: common middleware, the API groups,
// and the health endpoints.
func (s *Server) MountRoutes() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Remote-User", "X-Remote-Group"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(s.extractor.Middleware(s.logger))

	if s.cfg.Audit.Enabled {
		r.Use(audit.Middleware(s.auditLog, &s.cfg.Audit, s.logger))
		s.logger.Info("audit middleware enabled",
			"logDenied", s.cfg.Audit.LogDenied,
			"retentionDays", s.cfg.Audit.RetentionDays)
	}

	// The artifact routes live under the registry group, so the artifact
	// router hangs off the registry router's catch-all.
	registryAPI := registry.NewRouter(s.registry, s.logger)
	registryAPI.Mount("/", artifact.NewRouter(s.artifacts, s.cfg.Artifact.MaxUploadBytes, s.logger))
	if s.respCache != nil {
		r.With(cache.Middleware(s.respCache, activeModelPath)).Mount(registryBasePath, registryAPI)
		s.logger.Info("active model response caching enabled",
			"ttl", s.cfg.Cache.TTL.String(),
			"maxEntries", s.cfg.Cache.MaxEntries)
	} else {
		r.Mount(registryBasePath, registryAPI)
	}

	ledgerAPI := ledger.NewRouter(s.ledger, s.logger)
	ledgerAPI.Mount("/", preset.NewRouter(s.presets, s.logger))
	r.Mount(ledgerBasePath, ledgerAPI)

	if s.cfg.Audit.Enabled {
		r.Mount(auditBasePath, audit.NewRouter(s.auditLog, s.logger))
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	s.router = r
	return r
}
