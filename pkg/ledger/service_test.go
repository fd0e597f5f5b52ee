package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/modelkeep/modelkeep/pkg/events"
	"github.com/modelkeep/modelkeep/pkg/filter"
	"github.com/modelkeep/modelkeep/pkg/registry"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Deliver(_ context.Context, evt events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureSink) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

// newTestHarness wires a ledger service to a real registry over one
// in-memory database, with a running event bus capturing deliveries.
func newTestHarness(t *testing.T) (*Service, *registry.Service, *captureSink) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	regStore := registry.NewStore(gdb)
	require.NoError(t, regStore.Migrate())
	store := NewStore(gdb)
	require.NoError(t, store.Migrate())

	sink := &captureSink{}
	bus := events.NewBus(16, nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	bus.Run(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Wait()
	})

	reg := registry.NewService(regStore, bus, nil)
	svc := NewService(store, reg, bus, nil)
	return svc, reg, sink
}

func waitForEvents(t *testing.T, sink *captureSink, n int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", n, len(sink.snapshot()))
	return nil
}

func fptr(v float64) *float64 { return &v }

func patientSchema() schema.Schema {
	return schema.Schema{
		{Name: "age", Type: schema.TypeInteger, Required: true, Min: fptr(0), Max: fptr(120)},
		{Name: "weight", Type: schema.TypeFloat, Min: fptr(0)},
		{Name: "smoker", Type: schema.TypeBoolean, Default: false},
	}
}

// seedActiveModel walks a draft through test and promotion.
func seedActiveModel(t *testing.T, reg *registry.Service) *registry.ModelVersion {
	t.Helper()
	ctx := context.Background()
	mv, err := reg.CreateDraft(ctx, registry.Draft{
		Name:        "risk-scorer",
		Version:     "1.0.0",
		ArtifactRef: "sha256:0123456789012345678901234567890101234567890123456789012345678901",
		Schema:      patientSchema(),
		CreatedBy:   "admin",
	})
	require.NoError(t, err)
	_, err = reg.RecordTestResult(ctx, mv.ID, true, nil, nil, "admin")
	require.NoError(t, err)
	_, err = reg.Promote(ctx, mv.ID, "admin")
	require.NoError(t, err)
	active, err := reg.Get(ctx, mv.ID)
	require.NoError(t, err)
	return active
}

func TestServiceBeginResolvesActive(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	active := seedActiveModel(t, reg)

	exec, err := svc.Begin(context.Background(), BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, active.ID, exec.ModelVersionID)
	assert.Equal(t, StatusRunning, exec.Status)
	assert.Equal(t, "alice", exec.RequestedBy)
	assert.NotEmpty(t, exec.ID)
}

func TestServiceBeginExplicitVersion(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	active := seedActiveModel(t, reg)

	exec, err := svc.Begin(context.Background(), BeginRequest{
		ModelVersionID: &active.ID,
		Inputs:         map[string]any{"age": 30},
		RequestedBy:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, active.ID, exec.ModelVersionID)
}

func TestServiceBeginNoActiveVersion(t *testing.T) {
	svc, _, _ := newTestHarness(t)

	_, err := svc.Begin(context.Background(), BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "no active model version")
}

func TestServiceBeginNonActiveVersion(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	draft, err := reg.CreateDraft(context.Background(), registry.Draft{
		Name:        "risk-scorer",
		Version:     "2.0.0",
		ArtifactRef: "sha256:abc",
		Schema:      patientSchema(),
	})
	require.NoError(t, err)

	_, err = svc.Begin(context.Background(), BeginRequest{
		ModelVersionID: &draft.ID,
		Inputs:         map[string]any{"age": 30},
		RequestedBy:    "alice",
	})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "draft, not active")
}

func TestServiceBeginMissingVersion(t *testing.T) {
	svc, _, _ := newTestHarness(t)
	missing := uint(777)

	_, err := svc.Begin(context.Background(), BeginRequest{
		ModelVersionID: &missing,
		Inputs:         map[string]any{"age": 30},
		RequestedBy:    "alice",
	})
	var notFound *registry.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestServiceBeginInvalidInputsLeavesNoRecord(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	_, err := svc.Begin(ctx, BeginRequest{
		Inputs:      map[string]any{"age": -5, "bogus": 1},
		RequestedBy: "alice",
	})
	var verrs schema.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)
	assert.Equal(t, "age", verrs[0].Field)
	assert.Equal(t, "below minimum 0", verrs[0].Reason)
	assert.Equal(t, "bogus", verrs[1].Field)
	assert.Equal(t, "unknown field", verrs[1].Reason)

	items, _, err := svc.List(ctx, ListRequest{RequestedBy: "alice"})
	require.NoError(t, err)
	assert.Empty(t, items, "invalid input must leave no record behind")
}

func TestServiceBeginStoresNormalizedInputs(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	seedActiveModel(t, reg)

	exec, err := svc.Begin(context.Background(), BeginRequest{
		Inputs:      map[string]any{"age": 30.0, "weight": 80.5},
		RequestedBy: "alice",
	})
	require.NoError(t, err)

	stored, err := svc.Get(context.Background(), exec.ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 30, stored.Inputs["age"], "whole float coerces to integer")
	assert.EqualValues(t, 80.5, stored.Inputs["weight"])
	assert.Equal(t, false, stored.Inputs["smoker"], "default injected")

	// What the ledger persisted passes the same gate again untouched.
	_, violations := schema.Validate(patientSchema(), stored.Inputs)
	assert.Empty(t, violations, "stored inputs must validate clean on re-read")
}

func TestServiceGetMissing(t *testing.T) {
	svc, _, _ := newTestHarness(t)
	_, err := svc.Get(context.Background(), "no-such-id", false)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-id", notFound.ID)
}

func TestServiceFailPublishesEvent(t *testing.T) {
	svc, reg, sink := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	exec, err := svc.Begin(ctx, BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	require.NoError(t, err)

	_, err = svc.Fail(ctx, exec.ID, "backend exploded")
	require.NoError(t, err)

	got := waitForEvents(t, sink, 2)
	// First event is the ModelPromoted from seeding.
	failedEvt, ok := got[1].(events.ExecutionFailed)
	require.True(t, ok, "expected ExecutionFailed, got %T", got[1])
	assert.Equal(t, exec.ID, failedEvt.ExecutionID)
	assert.Equal(t, exec.ModelVersionID, failedEvt.ModelVersionID)
	assert.Equal(t, "alice", failedEvt.Requester)
	assert.Equal(t, "backend exploded", failedEvt.ErrorDetail)
	assert.False(t, failedEvt.At.IsZero())
}

func TestServiceFailRepeatEmitsOneEvent(t *testing.T) {
	svc, reg, sink := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	exec, err := svc.Begin(ctx, BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	require.NoError(t, err)

	_, err = svc.Fail(ctx, exec.ID, "backend exploded")
	require.NoError(t, err)
	_, err = svc.Fail(ctx, exec.ID, "backend exploded")
	require.NoError(t, err)

	waitForEvents(t, sink, 2)
	time.Sleep(20 * time.Millisecond)
	failures := 0
	for _, evt := range sink.snapshot() {
		if _, ok := evt.(events.ExecutionFailed); ok {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestServiceCompleteEmitsNoEvent(t *testing.T) {
	svc, reg, sink := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	exec, err := svc.Begin(ctx, BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, exec.ID, map[string]any{"risk": 0.1})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)

	waitForEvents(t, sink, 1)
	time.Sleep(20 * time.Millisecond)
	for _, evt := range sink.snapshot() {
		_, failed := evt.(events.ExecutionFailed)
		assert.False(t, failed, "success must not emit ExecutionFailed")
	}
}

func TestServiceListBadFilter(t *testing.T) {
	svc, _, _ := newTestHarness(t)
	_, _, err := svc.List(context.Background(), ListRequest{FilterExpr: "status ="})
	var parseErr *filter.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestServiceListFilterExpr(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	young, err := svc.Begin(ctx, BeginRequest{Inputs: map[string]any{"age": 20}, RequestedBy: "alice"})
	require.NoError(t, err)
	old, err := svc.Begin(ctx, BeginRequest{Inputs: map[string]any{"age": 80}, RequestedBy: "alice"})
	require.NoError(t, err)

	items, _, err := svc.List(ctx, ListRequest{RequestedBy: "alice", FilterExpr: "inputs.age >= 65"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, old.ID, items[0].ID)
	assert.NotEqual(t, young.ID, items[0].ID)
}

func TestServiceSoftDelete(t *testing.T) {
	svc, reg, _ := newTestHarness(t)
	seedActiveModel(t, reg)
	ctx := context.Background()

	exec, err := svc.Begin(ctx, BeginRequest{Inputs: map[string]any{"age": 30}, RequestedBy: "alice"})
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, exec.ID, "alice"))

	_, err = svc.Get(ctx, exec.ID, false)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	kept, err := svc.Get(ctx, exec.ID, true)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, kept.ID)
}

func TestServiceDispatchOverflowFailsExecution(t *testing.T) {
	svc, reg, sink := newTestHarness(t)
	seedActiveModel(t, reg)

	// A runner that is not consuming and has no queue room: every
	// dispatch overflows, which must surface as a failed execution
	// rather than an API error.
	runner := NewRunner(svc, nil, &Config{QueueSize: 0}, nil)
	svc.SetRunner(runner)

	exec, err := svc.Begin(context.Background(), BeginRequest{
		Inputs:      map[string]any{"age": 30},
		RequestedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorDetail, "dispatch failed")

	got := waitForEvents(t, sink, 2)
	_, ok := got[1].(events.ExecutionFailed)
	assert.True(t, ok)
}
