package preset

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelkeep/modelkeep/pkg/registry"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

// Service wraps the preset store with the compatibility check against
// the registry's active version.
type Service struct {
	store    *Store
	registry *registry.Service
	logger   *slog.Logger
}

// NewService creates a preset service.
func NewService(store *Store, reg *registry.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: reg, logger: logger}
}

// Save upserts a preset under (owner, name).
func (svc *Service) Save(ctx context.Context, owner, name string, inputs map[string]any) (*Preset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, schema.ValidationErrors{{Field: "name", Reason: "required value missing"}}
	}
	p, err := svc.store.Upsert(ctx, owner, name, inputs)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("saved preset", "presetId", p.ID, "owner", owner, "name", name)
	return p, nil
}

// Load returns a preset together with its compatibility report. The
// report never fails the load: with no active model version it says so,
// and violations list what the active schema rejects.
func (svc *Service) Load(ctx context.Context, id string) (*Preset, *CompatibilityReport, error) {
	p, err := svc.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, &NotFoundError{ID: id}
	}
	report, err := svc.check(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return p, report, nil
}

// List returns the owner's presets.
func (svc *Service) List(ctx context.Context, owner string) ([]Preset, error) {
	return svc.store.ListByOwner(ctx, owner)
}

// Delete removes a preset.
func (svc *Service) Delete(ctx context.Context, id string, actor string) error {
	if err := svc.store.Delete(ctx, id); err != nil {
		return err
	}
	svc.logger.Info("deleted preset", "presetId", id, "deletedBy", actor)
	return nil
}

func (svc *Service) check(ctx context.Context, p *Preset) (*CompatibilityReport, error) {
	active, err := svc.registry.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return &CompatibilityReport{Compatible: false, Detail: "no active model version"}, nil
	}
	_, violations := schema.Validate(active.Schema.Schema(), p.Inputs)
	return &CompatibilityReport{
		ActiveVersionID: active.ID,
		Compatible:      len(violations) == 0,
		Violations:      violations,
	}, nil
}
