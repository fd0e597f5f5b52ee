package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/modelkeep/modelkeep/pkg/db"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store persists model versions, test records, and promotion records.
type Store struct {
	db        *gorm.DB
	lifecycle *Lifecycle
}

// NewStore creates a Store backed by the given database.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb, lifecycle: NewLifecycle()}
}

// Migrate creates or updates the registry tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&ModelVersion{}, &TestRecord{}, &PromotionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate registry tables: %w", err)
	}
	return nil
}

// CreateDraft inserts a new version in the draft state. Lifecycle
// timestamps and back-references are cleared regardless of what the caller
// supplied.
func (s *Store) CreateDraft(ctx context.Context, mv *ModelVersion) error {
	mv.State = StateDraft
	mv.TestedAt = nil
	mv.PromotedAt = nil
	mv.ArchivedAt = nil
	mv.ReplacedBy = nil
	if err := s.db.WithContext(ctx).Create(mv).Error; err != nil {
		return fmt.Errorf("failed to create draft model version: %w", err)
	}
	return nil
}

// Get returns a version by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id uint) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.db.WithContext(ctx).First(&mv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version %d: %w", id, err)
	}
	return &mv, nil
}

// GetActive returns the active version, or nil when none is active. This is
// a plain snapshot read; promotion's locks are never taken here.
func (s *Store) GetActive(ctx context.Context) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.db.WithContext(ctx).Where("state = ?", StateActive).First(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active model version: %w", err)
	}
	return &mv, nil
}

// LatestArchived returns the most recently archived version, or nil when
// nothing has been archived. This is the rollback target.
func (s *Store) LatestArchived(ctx context.Context) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.db.WithContext(ctx).
		Where("state = ?", StateArchived).
		Order("archived_at DESC").
		First(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest archived version: %w", err)
	}
	return &mv, nil
}

// List returns versions newest-first with cursor pagination. The token is
// the id of the last item of the previous page.
func (s *Store) List(ctx context.Context, state LifecycleState, pageSize int, pageToken string) ([]ModelVersion, string, error) {
	pageSize = clampPageSize(pageSize)

	q := s.db.WithContext(ctx).Model(&ModelVersion{}).Order("id DESC").Limit(pageSize + 1)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if pageToken != "" {
		cursor, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
		q = q.Where("id < ?", cursor)
	}

	var items []ModelVersion
	if err := q.Find(&items).Error; err != nil {
		return nil, "", fmt.Errorf("failed to list model versions: %w", err)
	}

	nextToken := ""
	if len(items) > pageSize {
		items = items[:pageSize]
		nextToken = strconv.FormatUint(uint64(items[len(items)-1].ID), 10)
	}
	return items, nextToken, nil
}

// AppendTestRecord appends a test record and, on the first passed result
// for a draft, flips the version to tested in the same transaction. It
// returns the version as of the transaction.
func (s *Store) AppendTestRecord(ctx context.Context, rec *TestRecord) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockedByID(tx, &mv, rec.ModelVersionID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Kind: "model version", ID: strconv.FormatUint(uint64(rec.ModelVersionID), 10)}
			}
			return fmt.Errorf("failed to load model version %d: %w", rec.ModelVersionID, err)
		}
		if mv.State != StateDraft && mv.State != StateTested {
			return &TransitionError{From: mv.State, To: StateTested}
		}

		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append test record: %w", err)
		}

		if rec.Passed && mv.State == StateDraft {
			now := time.Now().UTC()
			res := tx.Model(&ModelVersion{}).
				Where("id = ? AND state = ?", mv.ID, StateDraft).
				Updates(map[string]any{"state": StateTested, "tested_at": now})
			if res.Error != nil {
				return fmt.Errorf("failed to mark version %d tested: %w", mv.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			mv.State = StateTested
			mv.TestedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// Promote activates the target version and archives the current active
// version in one transaction, appending a PromotionRecord. Concurrent
// promotions serialize on the row locks; a loser sees the moved state and
// gets ErrConflict.
func (s *Store) Promote(ctx context.Context, versionID uint, actor, reason string, isRollback bool) (*PromotionRecord, error) {
	var rec *PromotionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target ModelVersion
		if err := lockedByID(tx, &target, versionID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Kind: "model version", ID: strconv.FormatUint(uint64(versionID), 10)}
			}
			return fmt.Errorf("failed to load model version %d: %w", versionID, err)
		}
		if err := s.lifecycle.ValidateTransition(target.State, StateActive); err != nil {
			return err
		}

		now := time.Now().UTC()
		var previousActiveID *uint

		var current ModelVersion
		hasCurrent, err := lockedActive(tx, &current)
		if err != nil {
			return fmt.Errorf("failed to load active version: %w", err)
		}
		if hasCurrent {
			id := current.ID
			previousActiveID = &id
			res := tx.Model(&ModelVersion{}).
				Where("id = ? AND state = ?", current.ID, StateActive).
				Updates(map[string]any{
					"state":       StateArchived,
					"archived_at": now,
					"replaced_by": target.ID,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to archive version %d: %w", current.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}

		res := tx.Model(&ModelVersion{}).
			Where("id = ? AND state = ?", target.ID, target.State).
			Updates(map[string]any{"state": StateActive, "promoted_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to activate version %d: %w", target.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		rec = &PromotionRecord{
			ID:               uuid.New().String(),
			ModelVersionID:   target.ID,
			PreviousActiveID: previousActiveID,
			Rollback:         isRollback,
			Reason:           reason,
			PromotedBy:       actor,
			CreatedAt:        now,
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append promotion record: %w", err)
		}
		return nil
	})
	if err != nil {
		if db.IsContention(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return rec, nil
}

// ListTestRecords returns the test history for a version, newest first.
func (s *Store) ListTestRecords(ctx context.Context, versionID uint) ([]TestRecord, error) {
	var records []TestRecord
	err := s.db.WithContext(ctx).
		Where("model_version_id = ?", versionID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list test records for version %d: %w", versionID, err)
	}
	return records, nil
}

// ListPromotions returns promotion history newest-first with cursor
// pagination; the token is the created_at of the last item, RFC3339Nano.
func (s *Store) ListPromotions(ctx context.Context, pageSize int, pageToken string) ([]PromotionRecord, string, error) {
	pageSize = clampPageSize(pageSize)

	q := s.db.WithContext(ctx).Model(&PromotionRecord{}).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		cursor, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
		q = q.Where("created_at < ?", cursor)
	}

	var records []PromotionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("failed to list promotion records: %w", err)
	}

	nextToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = records[len(records)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return records, nextToken, nil
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

// lockedByID loads a version row under FOR UPDATE where the dialect
// supports it, falling back to a plain read elsewhere (SQLite rejects the
// locking clause but serializes writers globally).
func lockedByID(tx *gorm.DB, mv *ModelVersion, id uint) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(mv, id).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		err = tx.First(mv, id).Error
	}
	return err
}

// lockedActive loads the active row under the same locking strategy.
// Returns false when no version is active.
func lockedActive(tx *gorm.DB, mv *ModelVersion) (bool, error) {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("state = ?", StateActive).First(mv).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		err = tx.Where("state = ?", StateActive).First(mv).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
