// Package ledger records model executions: who ran which model version,
// with what inputs, and how it ended. Executions are append-mostly; the
// only mutations are the status transitions and soft deletion.
package ledger

import (
	"time"

	"github.com/modelkeep/modelkeep/pkg/db"
)

// Status is the lifecycle status of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Execution is the GORM model for one recorded execution. ModelVersionID
// never changes after creation.
type Execution struct {
	ID             string             `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ModelVersionID uint               `gorm:"column:model_version_id;index:idx_executions_version;not null" json:"modelVersionId"`
	RequestedBy    string             `gorm:"column:requested_by;type:varchar(255);index:idx_executions_requester" json:"requestedBy"`
	Status         Status             `gorm:"column:status;type:varchar(16);index:idx_executions_status;not null" json:"status"`
	Inputs         db.JSONMap         `gorm:"column:inputs;type:text" json:"inputs"`
	Output         db.JSONMap         `gorm:"column:output;type:text" json:"output,omitempty"`
	ErrorDetail    string             `gorm:"column:error_detail;type:text" json:"errorDetail,omitempty"`
	Tags           db.JSONStringSlice `gorm:"column:tags;type:text" json:"tags,omitempty"`
	StartedAt      time.Time          `gorm:"column:started_at;index:idx_executions_started" json:"startedAt"`
	FinishedAt     *time.Time         `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	DurationMs     int64              `gorm:"column:duration_ms" json:"durationMs,omitempty"`
	Deleted        bool               `gorm:"column:deleted;index:idx_executions_deleted;not null;default:false" json:"-"`
	DeletedAt      *time.Time         `gorm:"column:deleted_at" json:"-"`
}

// TableName returns the GORM table name.
func (Execution) TableName() string { return "executions" }

// IsTerminal reports whether the execution has finished.
func (e *Execution) IsTerminal() bool { return e.Status.IsTerminal() }
