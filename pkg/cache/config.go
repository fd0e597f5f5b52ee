package cache

import "time"

// Config controls the registry response cache.
type Config struct {
	// Enabled turns response caching on. When false no middleware is
	// applied and reads always hit the store.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MaxEntries caps the number of cached responses.
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`
	// TTL bounds staleness between promotion events.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		MaxEntries: 128,
		TTL:        30 * time.Second,
	}
}
