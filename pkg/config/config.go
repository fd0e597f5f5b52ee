// Package config loads the server configuration from a YAML file,
// MODELKEEP_* environment variables, and built-in defaults, in that
// order of increasing precedence. Sub-packages keep their own Config
// types; this package assembles them for the binaries.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/modelkeep/modelkeep/pkg/audit"
	"github.com/modelkeep/modelkeep/pkg/backend"
	"github.com/modelkeep/modelkeep/pkg/cache"
	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/ha"
	"github.com/modelkeep/modelkeep/pkg/identity"
	"github.com/modelkeep/modelkeep/pkg/ledger"
)

// Config is the full configuration of a modelkeep server.
type Config struct {
	Server   ServerConfig    `json:"server" yaml:"server"`
	Logging  LoggingConfig   `json:"logging" yaml:"logging"`
	Database db.Config       `json:"database" yaml:"database"`
	Artifact ArtifactConfig  `json:"artifact" yaml:"artifact"`
	Backend  BackendConfig   `json:"backend" yaml:"backend"`
	Identity identity.Config `json:"identity" yaml:"identity"`
	Events   EventsConfig    `json:"events" yaml:"events"`
	Ledger   ledger.Config   `json:"ledger" yaml:"ledger"`
	Audit    audit.Config    `json:"audit" yaml:"audit"`
	Cache    cache.Config    `json:"cache" yaml:"cache"`
	HA       ha.Config       `json:"ha" yaml:"ha"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host               string        `json:"host" yaml:"host"`
	Port               int           `json:"port" yaml:"port"`
	CORSAllowedOrigins []string      `json:"corsAllowedOrigins" yaml:"corsAllowedOrigins"`
	ShutdownTimeout    time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig controls the structured logger. Level is hot-reloadable
// through the config watcher.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// SlogLevel maps the configured name to a slog level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ArtifactConfig controls blob storage and its read-through cache.
type ArtifactConfig struct {
	Root           string        `json:"root" yaml:"root"`
	CacheEntries   int           `json:"cacheEntries" yaml:"cacheEntries"`
	CacheTTL       time.Duration `json:"cacheTTL" yaml:"cacheTTL"`
	CacheMaxBytes  int64         `json:"cacheMaxBytes" yaml:"cacheMaxBytes"`
	MaxUploadBytes int64         `json:"maxUploadBytes" yaml:"maxUploadBytes"`
}

// BackendConfig selects and tunes the execution backend.
type BackendConfig struct {
	Mode          string             `json:"mode" yaml:"mode"` // loopback or http
	HTTP          backend.HTTPConfig `json:"http" yaml:"http"`
	LoopbackDelay time.Duration      `json:"loopbackDelay" yaml:"loopbackDelay"`
}

// EventsConfig tunes the event bus and the webhook sink. The webhook URL
// is hot-reloadable through the config watcher.
type EventsConfig struct {
	QueueSize      int           `json:"queueSize" yaml:"queueSize"`
	WebhookURL     string        `json:"webhookURL" yaml:"webhookURL"`
	WebhookTimeout time.Duration `json:"webhookTimeout" yaml:"webhookTimeout"`
}

// Default returns the built-in configuration: SQLite next to the
// process, loopback backend, no JWT.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: db.DefaultConfig(),
		Artifact: ArtifactConfig{
			Root:           "artifacts",
			CacheEntries:   256,
			CacheTTL:       10 * time.Minute,
			CacheMaxBytes:  8 << 20,
			MaxUploadBytes: 512 << 20,
		},
		Backend: BackendConfig{
			Mode: "loopback",
			HTTP: backend.DefaultHTTPConfig(),
		},
		Identity: identity.DefaultConfig(),
		Events: EventsConfig{
			QueueSize:      128,
			WebhookTimeout: 10 * time.Second,
		},
		Ledger: *ledger.DefaultConfig(),
		Audit:  *audit.DefaultConfig(),
		Cache:  *cache.DefaultConfig(),
		HA:     *ha.DefaultConfig(),
	}
}

// Load reads the configuration. An empty path skips the file and uses
// defaults plus environment variables only; a named file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("MODELKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf so environment-only overrides are
// visible to Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.corsAllowedOrigins", d.Server.CORSAllowedOrigins)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.maxOpenConns", d.Database.MaxOpenConns)
	v.SetDefault("database.maxIdleConns", d.Database.MaxIdleConns)
	v.SetDefault("database.connMaxLifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("artifact.root", d.Artifact.Root)
	v.SetDefault("artifact.cacheEntries", d.Artifact.CacheEntries)
	v.SetDefault("artifact.cacheTTL", d.Artifact.CacheTTL)
	v.SetDefault("artifact.cacheMaxBytes", d.Artifact.CacheMaxBytes)
	v.SetDefault("artifact.maxUploadBytes", d.Artifact.MaxUploadBytes)

	v.SetDefault("backend.mode", d.Backend.Mode)
	v.SetDefault("backend.http.url", d.Backend.HTTP.URL)
	v.SetDefault("backend.http.token", d.Backend.HTTP.Token)
	v.SetDefault("backend.http.timeout", d.Backend.HTTP.Timeout)
	v.SetDefault("backend.loopbackDelay", d.Backend.LoopbackDelay)

	v.SetDefault("identity.jwtEnabled", d.Identity.JWTEnabled)
	v.SetDefault("identity.publicKeyPath", d.Identity.PublicKeyPath)
	v.SetDefault("identity.verifySignature", d.Identity.VerifySignature)
	v.SetDefault("identity.subjectClaim", d.Identity.SubjectClaim)
	v.SetDefault("identity.roleClaim", d.Identity.RoleClaim)
	v.SetDefault("identity.adminRoles", d.Identity.AdminRoles)
	v.SetDefault("identity.adminGroups", d.Identity.AdminGroups)

	v.SetDefault("events.queueSize", d.Events.QueueSize)
	v.SetDefault("events.webhookURL", d.Events.WebhookURL)
	v.SetDefault("events.webhookTimeout", d.Events.WebhookTimeout)

	v.SetDefault("ledger.enabled", d.Ledger.Enabled)
	v.SetDefault("ledger.concurrency", d.Ledger.Concurrency)
	v.SetDefault("ledger.queueSize", d.Ledger.QueueSize)
	v.SetDefault("ledger.executionTimeout", d.Ledger.ExecutionTimeout)
	v.SetDefault("ledger.stuckTimeout", d.Ledger.StuckTimeout)
	v.SetDefault("ledger.janitorInterval", d.Ledger.JanitorInterval)
	v.SetDefault("ledger.retentionDays", d.Ledger.RetentionDays)
	v.SetDefault("ledger.purgeInterval", d.Ledger.PurgeInterval)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.logDenied", d.Audit.LogDenied)
	v.SetDefault("audit.retentionDays", d.Audit.RetentionDays)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.maxEntries", d.Cache.MaxEntries)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("ha.leaderElection", d.HA.LeaderElection)
	v.SetDefault("ha.leaseName", d.HA.LeaseName)
	v.SetDefault("ha.leaseNamespace", d.HA.LeaseNamespace)
	v.SetDefault("ha.leaseDuration", d.HA.LeaseDuration)
	v.SetDefault("ha.renewDeadline", d.HA.RenewDeadline)
	v.SetDefault("ha.retryPeriod", d.HA.RetryPeriod)
	v.SetDefault("ha.migrationLock", d.HA.MigrationLock)
	v.SetDefault("ha.identity", d.HA.Identity)
}
