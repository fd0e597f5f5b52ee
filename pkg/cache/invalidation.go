package cache

import (
	"context"

	"github.com/modelkeep/modelkeep/pkg/events"
)

// Invalidator is an event sink that clears the cache whenever the
// active model version may have changed. Between promotions the TTL is
// the only staleness bound.
type Invalidator struct {
	cache *Cache
}

// NewInvalidator returns a sink clearing c on promotion events.
func NewInvalidator(c *Cache) *Invalidator {
	return &Invalidator{cache: c}
}

// Deliver implements events.Sink.
func (i *Invalidator) Deliver(_ context.Context, evt events.Event) error {
	if _, ok := evt.(events.ModelPromoted); ok {
		i.cache.InvalidateAll()
	}
	return nil
}
