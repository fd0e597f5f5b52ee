package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

// SchemaJSON stores the ordered input schema as a JSON array column.
type SchemaJSON schema.Schema

// Value implements driver.Valuer.
func (s SchemaJSON) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *SchemaJSON) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported column type %T for schema", value)
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, s)
}

// Schema returns the column as the validation gate's schema type.
func (s SchemaJSON) Schema() schema.Schema { return schema.Schema(s) }

// ModelVersion is one uploaded model artifact with its lifecycle state.
// IDs are monotonically increasing and opaque to callers.
type ModelVersion struct {
	ID          uint           `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	Name        string         `gorm:"column:name;type:varchar(255);index:idx_model_versions_name" json:"name"`
	Version     string         `gorm:"column:version;type:varchar(64)" json:"version"`
	Description string         `gorm:"column:description;type:text" json:"description,omitempty"`
	ArtifactRef string         `gorm:"column:artifact_ref;type:varchar(255)" json:"artifactRef"`
	Schema      SchemaJSON     `gorm:"column:schema;type:text" json:"schema"`
	State       LifecycleState `gorm:"column:state;type:varchar(16);index:idx_model_versions_state" json:"state"`
	CreatedBy   string         `gorm:"column:created_by;type:varchar(255)" json:"createdBy"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	TestedAt    *time.Time     `gorm:"column:tested_at" json:"testedAt,omitempty"`
	PromotedAt  *time.Time     `gorm:"column:promoted_at" json:"promotedAt,omitempty"`
	ArchivedAt  *time.Time     `gorm:"column:archived_at" json:"archivedAt,omitempty"`
	// ReplacedBy points at the version whose promotion archived this one.
	ReplacedBy *uint `gorm:"column:replaced_by" json:"replacedBy,omitempty"`
}

func (ModelVersion) TableName() string { return "model_versions" }

// TestRecord is one recorded test execution for a version. Append-only.
type TestRecord struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ModelVersionID uint       `gorm:"column:model_version_id;index:idx_test_records_version" json:"modelVersionId"`
	Passed         bool       `gorm:"column:passed" json:"passed"`
	SampleInput    db.JSONMap `gorm:"column:sample_input;type:text" json:"sampleInput,omitempty"`
	SampleOutput   db.JSONMap `gorm:"column:sample_output;type:text" json:"sampleOutput,omitempty"`
	RecordedBy     string     `gorm:"column:recorded_by;type:varchar(255)" json:"recordedBy"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (TestRecord) TableName() string { return "test_records" }

// PromotionRecord is the append-only audit trail of promotions and
// rollbacks. ModelVersionID is the version that became active.
type PromotionRecord struct {
	ID               string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ModelVersionID   uint      `gorm:"column:model_version_id;index:idx_promotion_records_version" json:"modelVersionId"`
	PreviousActiveID *uint     `gorm:"column:previous_active_id" json:"previousActiveId,omitempty"`
	Rollback         bool      `gorm:"column:is_rollback" json:"rollback"`
	Reason           string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	PromotedBy       string    `gorm:"column:promoted_by;type:varchar(255)" json:"promotedBy"`
	CreatedAt        time.Time `gorm:"column:created_at;index:idx_promotion_records_created" json:"createdAt"`
}

func (PromotionRecord) TableName() string { return "promotion_records" }
