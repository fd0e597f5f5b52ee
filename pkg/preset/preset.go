// Package preset stores named, reusable execution inputs per owner.
// Presets are saved without validation; compatibility against the active
// model version is checked when a preset is loaded, since the active
// schema may have changed since the preset was written.
package preset

import (
	"fmt"
	"time"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

// Preset is one saved set of execution inputs. (owner, name) is unique;
// saving under an existing name replaces the inputs.
type Preset struct {
	ID        string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Owner     string     `gorm:"column:owner;type:varchar(255);uniqueIndex:idx_presets_owner_name" json:"owner"`
	Name      string     `gorm:"column:name;type:varchar(255);uniqueIndex:idx_presets_owner_name" json:"name"`
	Inputs    db.JSONMap `gorm:"column:inputs;type:text" json:"inputs"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Preset) TableName() string { return "presets" }

// CompatibilityReport describes whether a preset's saved inputs still
// pass validation against the active model version.
type CompatibilityReport struct {
	ActiveVersionID uint                    `json:"activeVersionId,omitempty"`
	Compatible      bool                    `json:"compatible"`
	Violations      schema.ValidationErrors `json:"violations,omitempty"`
	Detail          string                  `json:"detail,omitempty"`
}

// NotFoundError reports an unknown preset.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("preset %s not found", e.ID)
}
