package ha

import (
	"context"
	"log/slog"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// LeaderElector runs Kubernetes Lease-based leader election. Singleton
// background loops, such as the execution janitor, the purge worker, and
// audit retention, run only on the elected leader replica.
type LeaderElector struct {
	config   *Config
	client   kubernetes.Interface
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
	onStart  func(ctx context.Context)
	onStop   func()
}

// NewLeaderElector creates a LeaderElector. The identity must be unique per
// replica, typically the pod name.
func NewLeaderElector(cfg *Config, client kubernetes.Interface, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		client:   client,
		identity: identity,
		logger:   logger,
	}
}

// OnStartLeading registers a callback invoked when this replica becomes the
// leader. The context passed to the callback is cancelled when leadership
// is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when leadership is lost.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader reports whether this replica currently holds the lease.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Run participates in the election until the context is cancelled.
func (le *LeaderElector) Run(ctx context.Context) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      le.config.LeaseName,
			Namespace: le.config.LeaseNamespace,
		},
		Client: le.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: le.identity,
		},
	}

	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"namespace", le.config.LeaseNamespace,
		"leaseDuration", le.config.LeaseDuration,
		"renewDeadline", le.config.RenewDeadline,
		"retryPeriod", le.config.RetryPeriod,
	)

	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   le.config.LeaseDuration,
		RenewDeadline:   le.config.RenewDeadline,
		RetryPeriod:     le.config.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				le.mu.Lock()
				le.isLeader = true
				le.mu.Unlock()
				le.logger.Info("elected as leader", "identity", le.identity)
				if le.onStart != nil {
					le.onStart(ctx)
				}
			},
			OnStoppedLeading: func() {
				le.mu.Lock()
				le.isLeader = false
				le.mu.Unlock()
				le.logger.Info("lost leadership", "identity", le.identity)
				if le.onStop != nil {
					le.onStop()
				}
			},
			OnNewLeader: func(identity string) {
				if identity != le.identity {
					le.logger.Info("new leader elected", "leader", identity)
				}
			},
		},
	})
}
