package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Deliver(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return c.err
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBusFansOutToAllSinks(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	bus := NewBus(8, nil, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Run(ctx)

	evt := ModelPromoted{VersionID: 2, Actor: "ada", At: time.Now().UTC()}
	bus.Publish(evt)

	waitFor(t, func() bool { return len(a.snapshot()) == 1 && len(b.snapshot()) == 1 })
	assert.Equal(t, evt, a.snapshot()[0])
	assert.Equal(t, "model.promoted", a.snapshot()[0].EventType())

	cancel()
	bus.Wait()
}

func TestBusSinkErrorDoesNotStopOtherSinks(t *testing.T) {
	failing := &captureSink{err: errors.New("sink down")}
	healthy := &captureSink{}
	bus := NewBus(8, nil, failing, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Run(ctx)

	bus.Publish(ExecutionFailed{ExecutionID: "e1", ErrorDetail: "boom"})
	waitFor(t, func() bool { return len(healthy.snapshot()) == 1 })

	cancel()
	bus.Wait()
}

func TestBusPublishNeverBlocksWhenFull(t *testing.T) {
	bus := NewBus(1, nil, &captureSink{})
	// No dispatcher running: the second publish must drop, not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(ModelPromoted{VersionID: 1})
		bus.Publish(ModelPromoted{VersionID: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
}

func TestWebhookSinkPostsEnvelope(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	err := sink.Deliver(context.Background(), ExecutionFailed{ExecutionID: "e1", ErrorDetail: "boom"})
	require.NoError(t, err)

	payload := <-received
	assert.Equal(t, "execution.failed", payload["type"])
	inner, ok := payload["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "e1", inner["executionId"])
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	err := sink.Deliver(context.Background(), ModelPromoted{VersionID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookSinkDisabledWithoutURL(t *testing.T) {
	sink := NewWebhookSink("", time.Second)
	require.NoError(t, sink.Deliver(context.Background(), ModelPromoted{VersionID: 1}))

	sink.SetURL("http://127.0.0.1:1") // closed port
	require.Error(t, sink.Deliver(context.Background(), ModelPromoted{VersionID: 1}))
}
