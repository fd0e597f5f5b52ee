package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/filter"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	listBatchSize   = 200
)

// Store persists executions.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Migrate creates or updates the executions table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Execution{}); err != nil {
		return fmt.Errorf("failed to migrate executions table: %w", err)
	}
	return nil
}

// Create inserts a new execution. ID, status, and start time are filled
// when the caller leaves them empty.
func (s *Store) Create(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Status == "" {
		exec.Status = StatusPending
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Get returns an execution by id, or nil when it does not exist.
// Soft-deleted executions are hidden unless includeDeleted is set.
func (s *Store) Get(ctx context.Context, id string, includeDeleted bool) (*Execution, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}
	var exec Execution
	err := q.First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return &exec, nil
}

// MarkRunning moves a pending execution to running.
func (s *Store) MarkRunning(ctx context.Context, id string) (*Execution, error) {
	exec, _, err := s.transition(ctx, id, StatusRunning, "start execution",
		[]Status{StatusPending},
		func(_ *Execution, _ time.Time) map[string]any {
			return map[string]any{"status": StatusRunning}
		})
	return exec, err
}

// Complete moves a running execution to succeeded and records the output.
// Repeating a Complete on an already succeeded execution is a no-op that
// leaves the finish time and output untouched. The bool reports whether
// this call performed the transition.
func (s *Store) Complete(ctx context.Context, id string, output map[string]any) (*Execution, bool, error) {
	return s.transition(ctx, id, StatusSucceeded, "complete execution",
		[]Status{StatusRunning},
		func(exec *Execution, now time.Time) map[string]any {
			return map[string]any{
				"status":      StatusSucceeded,
				"finished_at": now,
				"output":      db.JSONMap(output),
				"duration_ms": now.Sub(exec.StartedAt).Milliseconds(),
			}
		})
}

// Fail moves a pending or running execution to failed and records the
// error detail. Idempotent on repeat like Complete.
func (s *Store) Fail(ctx context.Context, id string, detail string) (*Execution, bool, error) {
	return s.transition(ctx, id, StatusFailed, "fail execution",
		[]Status{StatusPending, StatusRunning},
		func(exec *Execution, now time.Time) map[string]any {
			return map[string]any{
				"status":       StatusFailed,
				"finished_at":  now,
				"error_detail": detail,
				"duration_ms":  now.Sub(exec.StartedAt).Milliseconds(),
			}
		})
}

// transition performs a status-guarded update. A repeat arrival at the
// target status is idempotent; any other terminal state is a StateError.
// The guard re-reads once when a concurrent writer moved the row first.
func (s *Store) transition(ctx context.Context, id string, to Status, op string, allowedFrom []Status, build func(exec *Execution, now time.Time) map[string]any) (*Execution, bool, error) {
	for attempt := 0; ; attempt++ {
		var exec Execution
		err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, &NotFoundError{ID: id}
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		if exec.Status == to {
			return &exec, false, nil
		}
		if !statusIn(exec.Status, allowedFrom) {
			return nil, false, &StateError{Op: op, Detail: fmt.Sprintf("execution %s is %s", id, exec.Status)}
		}

		now := time.Now().UTC()
		res := s.db.WithContext(ctx).Model(&Execution{}).
			Where("id = ? AND status = ?", id, exec.Status).
			Updates(build(&exec, now))
		if res.Error != nil {
			return nil, false, fmt.Errorf("failed to %s %s: %w", op, id, res.Error)
		}
		if res.RowsAffected > 0 {
			if err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error; err != nil {
				return nil, false, fmt.Errorf("failed to reload execution %s: %w", id, err)
			}
			return &exec, true, nil
		}

		// A concurrent writer moved the status under us. Re-read once and
		// resolve to idempotence or StateError.
		if attempt > 0 {
			return nil, false, fmt.Errorf("failed to %s %s: status kept moving", op, id)
		}
	}
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// SoftDelete hides an execution from queries. Deleting an already deleted
// execution is a no-op; deleting an unknown one is a NotFoundError.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{"deleted": true, "deleted_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var exec Execution
		err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to check execution %s: %w", id, err)
		}
	}
	return nil
}

// ListQuery selects executions for List. Zero fields are ignored.
type ListQuery struct {
	RequestedBy    string
	ModelVersionID uint
	Statuses       []Status
	Since          *time.Time
	Until          *time.Time
	Filter         *filter.Filter
	IncludeDeleted bool
	PageSize       int
	PageToken      string
}

// List returns executions newest-first with cursor pagination. Filter
// predicates are evaluated in-process while scanning DB batches, so a page
// is full pages of matches even when the filter is sparse. The cursor is
// (started_at, id) of the last returned item, which keeps pagination
// restartable when rows are deleted between pages.
func (s *Store) List(ctx context.Context, q ListQuery) ([]Execution, string, error) {
	pageSize := clampPageSize(q.PageSize)

	var cursorAt time.Time
	var cursorID string
	hasCursor := q.PageToken != ""
	if hasCursor {
		at, id, err := parsePageToken(q.PageToken)
		if err != nil {
			return nil, "", err
		}
		cursorAt, cursorID = at, id
	}

	matched := make([]Execution, 0, pageSize+1)
	for {
		dbq := s.db.WithContext(ctx).
			Order("started_at DESC, id DESC").
			Limit(listBatchSize)
		if !q.IncludeDeleted {
			dbq = dbq.Where("deleted = ?", false)
		}
		if q.RequestedBy != "" {
			dbq = dbq.Where("requested_by = ?", q.RequestedBy)
		}
		if q.ModelVersionID != 0 {
			dbq = dbq.Where("model_version_id = ?", q.ModelVersionID)
		}
		if len(q.Statuses) > 0 {
			dbq = dbq.Where("status IN ?", q.Statuses)
		}
		if q.Since != nil {
			dbq = dbq.Where("started_at >= ?", *q.Since)
		}
		if q.Until != nil {
			dbq = dbq.Where("started_at < ?", *q.Until)
		}
		if hasCursor {
			dbq = dbq.Where("started_at < ? OR (started_at = ? AND id < ?)", cursorAt, cursorAt, cursorID)
		}

		var batch []Execution
		if err := dbq.Find(&batch).Error; err != nil {
			return nil, "", fmt.Errorf("failed to list executions: %w", err)
		}

		for i := range batch {
			e := batch[i]
			if q.Filter != nil && !q.Filter.Matches(filter.Target{
				Status:         string(e.Status),
				ModelVersionID: e.ModelVersionID,
				Inputs:         e.Inputs,
			}) {
				continue
			}
			matched = append(matched, e)
			if len(matched) > pageSize {
				break
			}
		}

		if len(matched) > pageSize || len(batch) < listBatchSize {
			break
		}
		last := batch[len(batch)-1]
		cursorAt, cursorID, hasCursor = last.StartedAt, last.ID, true
	}

	nextToken := ""
	if len(matched) > pageSize {
		matched = matched[:pageSize]
		last := matched[pageSize-1]
		nextToken = formatPageToken(last.StartedAt, last.ID)
	}
	return matched, nextToken, nil
}

// FailStuck fails every non-terminal execution started before olderThan
// and returns the executions this call transitioned. Executions that a
// concurrent writer finished in the meantime are skipped.
func (s *Store) FailStuck(ctx context.Context, olderThan time.Time, detail string) ([]Execution, error) {
	var stuck []Execution
	err := s.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?", []Status{StatusPending, StatusRunning}, olderThan).
		Find(&stuck).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck executions: %w", err)
	}

	var failed []Execution
	for _, e := range stuck {
		exec, changed, err := s.Fail(ctx, e.ID, detail)
		if err != nil {
			var stateErr *StateError
			if errors.As(err, &stateErr) {
				continue
			}
			return failed, err
		}
		if changed {
			failed = append(failed, *exec)
		}
	}
	return failed, nil
}

// PurgeDeletedBefore hard-deletes soft-deleted executions whose deletion
// happened before cutoff. Returns the number of purged rows.
func (s *Store) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("deleted = ? AND deleted_at < ?", true, cutoff).
		Delete(&Execution{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}

func formatPageToken(at time.Time, id string) string {
	return at.UTC().Format(time.RFC3339Nano) + "," + id
}

func parsePageToken(token string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(token, ",")
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidPageToken, token)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidPageToken, token)
	}
	return at, id, nil
}
