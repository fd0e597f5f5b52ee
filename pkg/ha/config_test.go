package ha

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	os.Unsetenv("POD_NAMESPACE")

	cfg := DefaultConfig()

	assert.False(t, cfg.LeaderElection)
	assert.Equal(t, "modelkeep-server-leader", cfg.LeaseName)
	assert.Equal(t, "modelkeep-system", cfg.LeaseNamespace)
	assert.Equal(t, 15*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 10*time.Second, cfg.RenewDeadline)
	assert.Equal(t, 2*time.Second, cfg.RetryPeriod)
	assert.True(t, cfg.MigrationLock)
	assert.NotEmpty(t, cfg.Identity)
}

func TestDefaultConfigNamespaceFromEnv(t *testing.T) {
	t.Setenv("POD_NAMESPACE", "staging")

	cfg := DefaultConfig()
	assert.Equal(t, "staging", cfg.LeaseNamespace)
}

func TestDefaultConfigIdentityFromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "modelkeep-server-abc-123")

	cfg := DefaultConfig()
	assert.Equal(t, "modelkeep-server-abc-123", cfg.Identity)
}
