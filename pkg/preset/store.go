package preset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modelkeep/modelkeep/pkg/db"
)

// Store persists presets.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Migrate creates or updates the presets table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Preset{}); err != nil {
		return fmt.Errorf("failed to migrate presets table: %w", err)
	}
	return nil
}

// Upsert saves inputs under (owner, name). An existing preset keeps its
// id and gets the new inputs; otherwise a new preset is created.
func (s *Store) Upsert(ctx context.Context, owner, name string, inputs map[string]any) (*Preset, error) {
	var out Preset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Preset
		err := tx.Where("owner = ? AND name = ?", owner, name).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Update("inputs", db.JSONMap(inputs)).Error; err != nil {
				return fmt.Errorf("failed to update preset %s: %w", existing.ID, err)
			}
			if err := tx.First(&out, "id = ?", existing.ID).Error; err != nil {
				return fmt.Errorf("failed to reload preset %s: %w", existing.ID, err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = Preset{
				ID:     uuid.New().String(),
				Owner:  owner,
				Name:   name,
				Inputs: db.JSONMap(inputs),
			}
			if err := tx.Create(&out).Error; err != nil {
				return fmt.Errorf("failed to create preset: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to look up preset %s/%s: %w", owner, name, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns a preset by id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Preset, error) {
	var p Preset
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset %s: %w", id, err)
	}
	return &p, nil
}

// ListByOwner returns the owner's presets ordered by name.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]Preset, error) {
	var presets []Preset
	err := s.db.WithContext(ctx).Where("owner = ?", owner).Order("name ASC").Find(&presets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list presets for %s: %w", owner, err)
	}
	return presets, nil
}

// Delete removes a preset. Unknown ids are a NotFoundError.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Preset{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete preset %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}
