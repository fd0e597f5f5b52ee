// Package audit keeps an append-only trail of mutating API calls: who
// did what to which resource and how it turned out. Reads are never
// recorded.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modelkeep/modelkeep/pkg/db"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidPageToken reports a malformed list pagination token.
var ErrInvalidPageToken = errors.New("invalid page token")

// Outcomes recorded for an audited action.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// Record is one audited action.
type Record struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Actor      string     `gorm:"index" json:"actor"`
	RequestID  string     `json:"requestId,omitempty"`
	API        string     `json:"api"`
	Resource   string     `gorm:"index" json:"resource"`
	ResourceID string     `json:"resourceId,omitempty"`
	Action     string     `gorm:"index" json:"action"`
	Outcome    string     `gorm:"index" json:"outcome"`
	StatusCode int        `json:"statusCode"`
	Metadata   db.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"createdAt"`
}

// TableName sets the table name for audit records.
func (Record) TableName() string {
	return "audit_records"
}

// Store provides append-only persistence for audit records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Migrate creates or updates the audit table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate audit records: %w", err)
	}
	return nil
}

// Append writes one immutable record, filling ID and CreatedAt when
// empty.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Get returns one record by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record %s: %w", id, err)
	}
	return &rec, nil
}

// Query selects audit records. Zero-valued fields do not filter.
type Query struct {
	Actor     string
	Resource  string
	Action    string
	Outcome   string
	PageSize  int
	PageToken string
}

// List returns matching records newest first, plus a token for the next
// page and the total match count.
func (s *Store) List(ctx context.Context, q Query) ([]Record, string, int64, error) {
	pageSize := clampPageSize(q.PageSize)

	base := s.db.WithContext(ctx).Model(&Record{})
	if q.Actor != "" {
		base = base.Where("actor = ?", q.Actor)
	}
	if q.Resource != "" {
		base = base.Where("resource = ?", q.Resource)
	}
	if q.Action != "" {
		base = base.Where("action = ?", q.Action)
	}
	if q.Outcome != "" {
		base = base.Where("outcome = ?", q.Outcome)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	query := base.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Limit(pageSize + 1)
	if q.PageToken != "" {
		at, id, err := parsePageToken(q.PageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("failed to list audit records: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		records = records[:pageSize]
		last := records[len(records)-1]
		nextToken = formatPageToken(last.CreatedAt, last.ID)
	}
	return records, nextToken, total, nil
}

// DeleteOlderThan removes records created before cutoff and returns how
// many were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old audit records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultPageSize
	case size > maxPageSize:
		return maxPageSize
	default:
		return size
	}
}

func formatPageToken(at time.Time, id string) string {
	return at.UTC().Format(time.RFC3339Nano) + "," + id
}

func parsePageToken(token string) (time.Time, string, error) {
	stamp, id, ok := strings.Cut(token, ",")
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidPageToken, token)
	}
	at, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w %q", ErrInvalidPageToken, token)
	}
	return at, id, nil
}
