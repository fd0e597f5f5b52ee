// Package server assembles the registry, ledger, preset, artifact, and
// audit subsystems over one database and serves them as a single HTTP
// API. The binaries construct a Server, call Init once, mount the routes,
// and run Start/Stop around the HTTP listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/modelkeep/modelkeep/pkg/artifact"
	"github.com/modelkeep/modelkeep/pkg/audit"
	"github.com/modelkeep/modelkeep/pkg/backend"
	"github.com/modelkeep/modelkeep/pkg/cache"
	"github.com/modelkeep/modelkeep/pkg/config"
	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/events"
	"github.com/modelkeep/modelkeep/pkg/ha"
	"github.com/modelkeep/modelkeep/pkg/identity"
	"github.com/modelkeep/modelkeep/pkg/ledger"
	"github.com/modelkeep/modelkeep/pkg/preset"
	"github.com/modelkeep/modelkeep/pkg/registry"
)

// Server owns the wiring between the subsystems: one database, one event
// bus, one execution runner, and the HTTP router in front of them.
type Server struct {
	cfg    *config.Config
	gdb    *gorm.DB
	logger *slog.Logger

	artifacts  artifact.Store
	be         backend.Backend
	extraSinks []events.Sink
	locker     db.MigrationLocker
	elector    *ha.LeaderElector

	registry *registry.Service
	ledger   *ledger.Service
	presets  *preset.Service
	auditLog *audit.Store

	bus       *events.Bus
	runner    *ledger.Runner
	purge     *ledger.PurgeWorker
	retention *audit.RetentionWorker
	extractor *identity.Extractor
	respCache *cache.Cache

	router    chi.Router
	startedAt time.Time

	mu      sync.RWMutex
	ready   bool
	started bool
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMigrationLocker sets the locker that serializes schema migrations
// across replicas. Without it, Init migrates without locking.
func WithMigrationLocker(locker db.MigrationLocker) Option {
	return func(s *Server) {
		s.locker = locker
	}
}

// WithLeaderElector sets the elector that gates the singleton background
// workers. Without it, every worker runs on this instance.
func WithLeaderElector(le *ha.LeaderElector) Option {
	return func(s *Server) {
		s.elector = le
	}
}

// WithArtifactStore overrides the filesystem artifact store, primarily
// so tests can run against an in-memory store.
func WithArtifactStore(store artifact.Store) Option {
	return func(s *Server) {
		s.artifacts = store
	}
}

// WithBackend overrides the execution backend selected by the config.
func WithBackend(be backend.Backend) Option {
	return func(s *Server) {
		s.be = be
	}
}

// WithSinks registers additional event sinks beyond the built-in log and
// cache invalidation sinks.
func WithSinks(sinks ...events.Sink) Option {
	return func(s *Server) {
		s.extraSinks = append(s.extraSinks, sinks...)
	}
}

// NewServer creates a server. Call Init before MountRoutes or Start.
func NewServer(cfg *config.Config, gdb *gorm.DB, logger *slog.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		gdb:       gdb,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init migrates the schema and builds the services, the event bus, and
// the background workers. It must run once before MountRoutes.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifacts == nil {
		fs, err := artifact.NewFSStore(s.cfg.Artifact.Root)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		s.artifacts = fs
		if s.cfg.Artifact.CacheEntries > 0 {
			s.artifacts = artifact.NewCachedStore(fs,
				s.cfg.Artifact.CacheEntries,
				s.cfg.Artifact.CacheTTL,
				s.cfg.Artifact.CacheMaxBytes)
		}
	}

	sinks := []events.Sink{events.NewSlogSink(s.logger)}
	if s.cfg.Cache.Enabled {
		s.respCache = cache.New(s.cfg.Cache.MaxEntries, s.cfg.Cache.TTL)
		sinks = append(sinks, cache.NewInvalidator(s.respCache))
	}
	sinks = append(sinks, s.extraSinks...)
	s.bus = events.NewBus(s.cfg.Events.QueueSize, s.logger, sinks...)

	regStore := registry.NewStore(s.gdb)
	ledStore := ledger.NewStore(s.gdb)
	preStore := preset.NewStore(s.gdb)
	s.auditLog = audit.NewStore(s.gdb)

	// All replicas race to migrate on startup; the locker makes them take
	// turns instead.
	migrate := func() error {
		for _, fn := range []func() error{
			regStore.Migrate, ledStore.Migrate, preStore.Migrate, s.auditLog.Migrate,
		} {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}
	if s.locker != nil {
		s.logger.Info("running migrations with lock")
		if err := s.locker.WithLock(ctx, migrate); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	} else if err := migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	s.registry = registry.NewService(regStore, s.bus, s.logger)
	s.ledger = ledger.NewService(ledStore, s.registry, s.bus, s.logger)
	s.presets = preset.NewService(preStore, s.registry, s.logger)

	if s.be == nil {
		be, err := buildBackend(s.cfg, s.artifacts)
		if err != nil {
			return err
		}
		s.be = be
	}
	s.runner = ledger.NewRunner(s.ledger, s.be, &s.cfg.Ledger, s.logger)
	s.ledger.SetRunner(s.runner)

	s.purge = ledger.NewPurgeWorker(ledStore, s.cfg.Ledger.RetentionDays, s.cfg.Ledger.PurgeInterval, s.logger)
	s.retention = audit.NewRetentionWorker(s.auditLog, s.cfg.Audit.RetentionDays, s.logger)

	ext, err := identity.NewExtractor(s.cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to configure identity extractor: %w", err)
	}
	s.extractor = ext

	s.ready = true
	return nil
}

// buildBackend constructs the execution backend named by the config.
func buildBackend(cfg *config.Config, artifacts artifact.Store) (backend.Backend, error) {
	switch cfg.Backend.Mode {
	case "loopback", "":
		return backend.NewLoopbackBackend(artifacts, cfg.Backend.LoopbackDelay), nil
	case "http":
		be, err := backend.NewHTTPBackend(cfg.Backend.HTTP)
		if err != nil {
			return nil, fmt.Errorf("failed to configure http backend: %w", err)
		}
		return be, nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}
}

// Start launches the event bus, the execution runner, and the singleton
// workers. The workers run until ctx is cancelled; Stop waits for them.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.bus.Run(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(ctx)
	}()

	// Purge and retention sweep tables shared by every replica, so only
	// the leader runs them.
	startSingletons := func(ctx context.Context) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.purge.Run(ctx)
		}()
		if s.cfg.Audit.Enabled {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.retention.Run(ctx)
			}()
		}
	}

	if s.elector == nil {
		startSingletons(ctx)
	} else {
		s.elector.OnStartLeading(startSingletons)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.elector.Run(ctx)
		}()
	}
}

// Stop waits for the background workers to drain, up to the deadline on
// ctx. The workers begin stopping when the context passed to Start is
// cancelled; Stop only observes completion.
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.bus.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background workers did not stop in time: %w", ctx.Err())
	}
}

// Router returns the mounted router.
func (s *Server) Router() chi.Router {
	return s.router
}

// IsLeader reports whether this instance runs the singleton workers.
// True when leader election is not configured.
func (s *Server) IsLeader() bool {
	if s.elector == nil {
		return true
	}
	return s.elector.IsLeader()
}
