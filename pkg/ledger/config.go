package ledger

import "time"

// Config controls the execution runner and the retention workers.
type Config struct {
	Enabled          bool          // Whether the runner processes executions. Default true.
	Concurrency      int           // Max concurrent executions. Default 4.
	QueueSize        int           // Dispatch queue depth. Default 64.
	ExecutionTimeout time.Duration // Per-execution backend budget. Default 2m.
	StuckTimeout     time.Duration // Age at which a non-terminal execution is failed. Default 10m.
	JanitorInterval  time.Duration // How often stuck executions are swept. Default 1m.
	RetentionDays    int           // Days soft-deleted executions are kept before purge. Default 30.
	PurgeInterval    time.Duration // How often the purge runs. Default 24h.
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		Concurrency:      4,
		QueueSize:        64,
		ExecutionTimeout: 2 * time.Minute,
		StuckTimeout:     10 * time.Minute,
		JanitorInterval:  time.Minute,
		RetentionDays:    30,
		PurgeInterval:    24 * time.Hour,
	}
}
