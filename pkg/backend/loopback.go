package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/modelkeep/modelkeep/pkg/artifact"
)

// LoopbackBackend is the built-in backend for development and tests. It
// verifies the artifact is readable and echoes the inputs as the output.
// An optional delay simulates inference latency.
type LoopbackBackend struct {
	artifacts artifact.Store
	delay     time.Duration
}

// NewLoopbackBackend creates a loopback backend. artifacts may be nil, in
// which case the artifact check is skipped.
func NewLoopbackBackend(artifacts artifact.Store, delay time.Duration) *LoopbackBackend {
	return &LoopbackBackend{artifacts: artifacts, delay: delay}
}

// Execute implements Backend.
func (b *LoopbackBackend) Execute(ctx context.Context, artifactRef string, inputs map[string]any) (map[string]any, error) {
	if b.artifacts != nil {
		if _, err := b.artifacts.Stat(ctx, artifactRef); err != nil {
			return nil, fmt.Errorf("artifact unavailable: %w", err)
		}
	}
	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.delay):
		}
	}
	return map[string]any{"echo": inputs}, nil
}
