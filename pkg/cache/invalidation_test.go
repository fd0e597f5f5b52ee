package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelkeep/modelkeep/pkg/events"
)

func TestInvalidatorClearsOnPromotion(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("k", []byte("v"))

	inv := NewInvalidator(c)
	require.NoError(t, inv.Deliver(context.Background(), events.ModelPromoted{VersionID: 3, Actor: "root"}))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidatorIgnoresOtherEvents(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("k", []byte("v"))

	inv := NewInvalidator(c)
	require.NoError(t, inv.Deliver(context.Background(), events.ExecutionFailed{ExecutionID: "abc"}))

	_, ok := c.Get("k")
	assert.True(t, ok)
}
