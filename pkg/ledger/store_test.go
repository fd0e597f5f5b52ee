package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/filter"
)

// newTestDB creates an in-memory SQLite DB with the executions table
// migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(gdb).Migrate())
	return gdb
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestDB(t))
}

// seedExec inserts an execution with explicit fields. Create fills only
// what is left empty, so terminal rows can be seeded directly.
func seedExec(t *testing.T, s *Store, requester string, version uint, status Status, startedAt time.Time, inputs map[string]any) *Execution {
	t.Helper()
	exec := &Execution{
		ModelVersionID: version,
		RequestedBy:    requester,
		Status:         status,
		Inputs:         db.JSONMap(inputs),
		StartedAt:      startedAt,
	}
	require.NoError(t, s.Create(context.Background(), exec))
	return exec
}

func beginRunning(t *testing.T, s *Store) *Execution {
	t.Helper()
	exec := seedExec(t, s, "alice", 1, "", time.Time{}, map[string]any{"age": 30})
	running, err := s.MarkRunning(context.Background(), exec.ID)
	require.NoError(t, err)
	return running
}

func TestStoreCreateFillsDefaults(t *testing.T) {
	s := newTestStore(t)
	exec := &Execution{ModelVersionID: 1, RequestedBy: "alice"}
	require.NoError(t, s.Create(context.Background(), exec))

	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, StatusPending, exec.Status)
	assert.False(t, exec.StartedAt.IsZero())
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	exec, err := s.Get(context.Background(), "no-such-id", false)
	require.NoError(t, err)
	assert.Nil(t, exec)
}

func TestStoreMarkRunning(t *testing.T) {
	s := newTestStore(t)
	exec := seedExec(t, s, "alice", 1, "", time.Time{}, nil)

	running, err := s.MarkRunning(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	assert.Nil(t, running.FinishedAt)
}

func TestStoreMarkRunningMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.MarkRunning(context.Background(), "no-such-id")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-id", notFound.ID)
}

func TestStoreCompleteLifecycle(t *testing.T) {
	s := newTestStore(t)
	exec := beginRunning(t, s)

	done, changed, err := s.Complete(context.Background(), exec.ID, map[string]any{"risk": 0.25})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusSucceeded, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.GreaterOrEqual(t, done.DurationMs, int64(0))
	assert.EqualValues(t, 0.25, done.Output["risk"])
}

func TestStoreCompleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	exec := beginRunning(t, s)

	first, changed, err := s.Complete(context.Background(), exec.ID, map[string]any{"risk": 0.25})
	require.NoError(t, err)
	require.True(t, changed)

	time.Sleep(5 * time.Millisecond)
	second, changed, err := s.Complete(context.Background(), exec.ID, map[string]any{"risk": 0.99})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, second.FinishedAt.Equal(*first.FinishedAt), "finished_at must not move on repeat")
	assert.EqualValues(t, 0.25, second.Output["risk"], "first result wins")
}

func TestStoreCrossTerminalRejected(t *testing.T) {
	s := newTestStore(t)

	succeeded := beginRunning(t, s)
	_, _, err := s.Complete(context.Background(), succeeded.ID, nil)
	require.NoError(t, err)
	_, _, err = s.Fail(context.Background(), succeeded.ID, "too late")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "succeeded")

	failed := beginRunning(t, s)
	_, _, err = s.Fail(context.Background(), failed.ID, "backend exploded")
	require.NoError(t, err)
	_, _, err = s.Complete(context.Background(), failed.ID, nil)
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "failed")
}

func TestStoreCompletePendingRejected(t *testing.T) {
	s := newTestStore(t)
	exec := seedExec(t, s, "alice", 1, "", time.Time{}, nil)

	_, _, err := s.Complete(context.Background(), exec.ID, nil)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "pending")
}

func TestStoreFailFromPending(t *testing.T) {
	s := newTestStore(t)
	exec := seedExec(t, s, "alice", 1, "", time.Time{}, nil)

	failed, changed, err := s.Fail(context.Background(), exec.ID, "dispatch failed: queue full")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "dispatch failed: queue full", failed.ErrorDetail)
	require.NotNil(t, failed.FinishedAt)
}

func TestStoreFailIdempotent(t *testing.T) {
	s := newTestStore(t)
	exec := beginRunning(t, s)

	first, changed, err := s.Fail(context.Background(), exec.ID, "backend exploded")
	require.NoError(t, err)
	require.True(t, changed)

	second, changed, err := s.Fail(context.Background(), exec.ID, "another detail")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "backend exploded", second.ErrorDetail)
	assert.True(t, second.FinishedAt.Equal(*first.FinishedAt))
}

func TestStoreModelVersionImmutable(t *testing.T) {
	s := newTestStore(t)
	exec := beginRunning(t, s)

	done, _, err := s.Complete(context.Background(), exec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, exec.ModelVersionID, done.ModelVersionID)
}

func TestStoreSoftDelete(t *testing.T) {
	s := newTestStore(t)
	exec := beginRunning(t, s)
	ctx := context.Background()

	require.NoError(t, s.SoftDelete(ctx, exec.ID))

	hidden, err := s.Get(ctx, exec.ID, false)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	visible, err := s.Get(ctx, exec.ID, true)
	require.NoError(t, err)
	require.NotNil(t, visible)
	assert.True(t, visible.Deleted)
	require.NotNil(t, visible.DeletedAt)

	// Repeat delete is a no-op, an unknown id is not.
	require.NoError(t, s.SoftDelete(ctx, exec.ID))
	var notFound *NotFoundError
	require.ErrorAs(t, s.SoftDelete(ctx, "no-such-id"), &notFound)
}

func TestStorePurgeDeletedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := beginRunning(t, s)
	require.NoError(t, s.SoftDelete(ctx, old.ID))
	longAgo := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, s.db.Model(&Execution{}).Where("id = ?", old.ID).Update("deleted_at", longAgo).Error)

	recent := beginRunning(t, s)
	require.NoError(t, s.SoftDelete(ctx, recent.ID))

	kept := beginRunning(t, s)

	purged, err := s.PurgeDeletedBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	gone, err := s.Get(ctx, old.ID, true)
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := s.Get(ctx, recent.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, still)

	untouched, err := s.Get(ctx, kept.ID, false)
	require.NoError(t, err)
	assert.NotNil(t, untouched)
}

func TestStoreFailStuck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	longAgo := time.Now().UTC().Add(-time.Hour)

	stuckRunning := seedExec(t, s, "alice", 1, StatusRunning, longAgo, nil)
	stuckPending := seedExec(t, s, "alice", 1, StatusPending, longAgo, nil)
	freshRunning := seedExec(t, s, "alice", 1, StatusRunning, time.Now().UTC(), nil)
	finished := seedExec(t, s, "alice", 1, StatusSucceeded, longAgo, nil)

	failed, err := s.FailStuck(ctx, time.Now().UTC().Add(-10*time.Minute), "execution exceeded 10m0s without completing")
	require.NoError(t, err)
	require.Len(t, failed, 2)

	for _, id := range []string{stuckRunning.ID, stuckPending.ID} {
		exec, err := s.Get(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, exec.Status)
		assert.Contains(t, exec.ErrorDetail, "exceeded")
	}

	fresh, err := s.Get(ctx, freshRunning.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, fresh.Status)

	done, err := s.Get(ctx, finished.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
}

func TestStoreListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		exec := seedExec(t, s, "alice", 1, StatusSucceeded, base.Add(time.Duration(i)*time.Minute), nil)
		ids = append(ids, exec.ID)
	}

	page1, token, err := s.List(ctx, ListQuery{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)

	page2, token, err := s.List(ctx, ListQuery{PageSize: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[2], page2[0].ID)
	assert.Equal(t, ids[1], page2[1].ID)

	page3, token, err := s.List(ctx, ListQuery{PageSize: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)
	assert.Empty(t, token)
}

func TestStoreListRestartableAfterDeletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var ids []string
	for i := 0; i < 4; i++ {
		exec := seedExec(t, s, "alice", 1, StatusSucceeded, base.Add(time.Duration(i)*time.Minute), nil)
		ids = append(ids, exec.ID)
	}

	page1, token, err := s.List(ctx, ListQuery{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	// Deleting an already returned row must not shift the next page.
	require.NoError(t, s.SoftDelete(ctx, page1[0].ID))

	page2, _, err := s.List(ctx, ListQuery{PageSize: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[1], page2[0].ID)
	assert.Equal(t, ids[0], page2[1].ID)
}

func TestStoreListPredicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedExec(t, s, "alice", 1, StatusSucceeded, base, map[string]any{"age": 30})
	failed := seedExec(t, s, "alice", 2, StatusFailed, base.Add(time.Minute), map[string]any{"age": 70})
	seedExec(t, s, "bob", 1, StatusSucceeded, base.Add(2*time.Minute), map[string]any{"age": 50})

	byUser, _, err := s.List(ctx, ListQuery{RequestedBy: "alice"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byStatus, _, err := s.List(ctx, ListQuery{Statuses: []Status{StatusFailed}})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, failed.ID, byStatus[0].ID)

	byVersion, _, err := s.List(ctx, ListQuery{ModelVersionID: 2})
	require.NoError(t, err)
	assert.Len(t, byVersion, 1)

	since := base.Add(30 * time.Second)
	until := base.Add(90 * time.Second)
	byRange, _, err := s.List(ctx, ListQuery{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	assert.Equal(t, failed.ID, byRange[0].ID)
}

func TestStoreListFilterExpression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedExec(t, s, "alice", 1, StatusSucceeded, base, map[string]any{"age": 30, "smoker": false})
	old := seedExec(t, s, "alice", 1, StatusFailed, base.Add(time.Minute), map[string]any{"age": 70, "smoker": true})
	seedExec(t, s, "alice", 1, StatusSucceeded, base.Add(2*time.Minute), map[string]any{"age": 80, "smoker": false})

	f, err := filter.Compile(`status = "failed" and inputs.age >= 65`)
	require.NoError(t, err)

	matched, token, err := s.List(ctx, ListQuery{Filter: f, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, old.ID, matched[0].ID)
	assert.Empty(t, token)
}

func TestStoreListFilterPaginatesAcrossBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	// Alternate matching and non-matching rows so page assembly has to
	// scan past misses.
	var matching []string
	for i := 0; i < 10; i++ {
		age := 20
		if i%2 == 0 {
			age = 80
		}
		exec := seedExec(t, s, "alice", 1, StatusSucceeded, base.Add(time.Duration(i)*time.Minute), map[string]any{"age": age})
		if age == 80 {
			matching = append(matching, exec.ID)
		}
	}

	f, err := filter.Compile("inputs.age >= 65")
	require.NoError(t, err)

	page1, token, err := s.List(ctx, ListQuery{Filter: f, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotEmpty(t, token)

	page2, token, err := s.List(ctx, ListQuery{Filter: f, PageSize: 3, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Empty(t, token)

	var got []string
	for _, e := range append(page1, page2...) {
		got = append(got, e.ID)
	}
	// Newest first: reverse of insertion order.
	for i, j := 0, len(matching)-1; i < j; i, j = i+1, j-1 {
		matching[i], matching[j] = matching[j], matching[i]
	}
	assert.Equal(t, matching, got)
}

func TestStoreListIncludeDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := beginRunning(t, s)
	require.NoError(t, s.SoftDelete(ctx, exec.ID))

	hidden, _, err := s.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	visible, _, err := s.List(ctx, ListQuery{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestStoreListInvalidPageToken(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.List(context.Background(), ListQuery{PageToken: "not-a-cursor"})
	require.ErrorIs(t, err, ErrInvalidPageToken)
	assert.Contains(t, err.Error(), "not-a-cursor")
}

func TestStoreClampPageSize(t *testing.T) {
	assert.Equal(t, defaultPageSize, clampPageSize(0))
	assert.Equal(t, defaultPageSize, clampPageSize(-5))
	assert.Equal(t, 50, clampPageSize(50))
	assert.Equal(t, maxPageSize, clampPageSize(1000))
}

func TestExecutionIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
