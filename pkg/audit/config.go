package audit

// Config controls the audit trail.
type Config struct {
	// Enabled turns the capture middleware and retention worker on.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// LogDenied records actions rejected with 403 as well.
	LogDenied bool `json:"logDenied" yaml:"logDenied"`
	// RetentionDays is how long records are kept before the retention
	// worker removes them.
	RetentionDays int `json:"retentionDays" yaml:"retentionDays"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		LogDenied:     true,
		RetentionDays: 90,
	}
}
