// Package ha supports running modelkeep with more than one replica.
// Kubernetes Lease-based leader election decides which replica runs the
// singleton background workers; the migration lock toggled here lives in
// the db package.
package ha

import (
	"os"
	"time"
)

// Config holds the high-availability settings.
type Config struct {
	// LeaderElection enables Kubernetes Lease-based leader election. When
	// false the instance behaves as the sole leader, which is correct for
	// single-replica deployments.
	LeaderElection bool `json:"leaderElection" yaml:"leaderElection"`

	// LeaseName is the name of the Lease resource used for election.
	LeaseName string `json:"leaseName" yaml:"leaseName"`

	// LeaseNamespace is the namespace holding the Lease resource.
	LeaseNamespace string `json:"leaseNamespace" yaml:"leaseNamespace"`

	// LeaseDuration is how long non-leader candidates wait before trying
	// to acquire the lease.
	LeaseDuration time.Duration `json:"leaseDuration" yaml:"leaseDuration"`

	// RenewDeadline is how long the acting leader retries refreshing the
	// lease before giving up.
	RenewDeadline time.Duration `json:"renewDeadline" yaml:"renewDeadline"`

	// RetryPeriod is the wait between election retries.
	RetryPeriod time.Duration `json:"retryPeriod" yaml:"retryPeriod"`

	// MigrationLock serializes schema migrations across replicas.
	MigrationLock bool `json:"migrationLock" yaml:"migrationLock"`

	// Identity uniquely names this replica in the election. Defaults to
	// the pod name or, outside Kubernetes, the hostname.
	Identity string `json:"identity" yaml:"identity"`
}

// DefaultConfig returns the HA settings for a single-replica deployment:
// migration locking on, leader election off.
func DefaultConfig() *Config {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "modelkeep-system"
	}
	return &Config{
		LeaderElection: false,
		LeaseName:      "modelkeep-server-leader",
		LeaseNamespace: ns,
		LeaseDuration:  15 * time.Second,
		RenewDeadline:  10 * time.Second,
		RetryPeriod:    2 * time.Second,
		MigrationLock:  true,
		Identity:       defaultIdentity(),
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
