package registry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/events"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

// Service is the registry's operation surface: schema checks in front of
// the store, domain events behind it.
type Service struct {
	store  *Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewService creates a registry service.
func NewService(store *Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, bus: bus, logger: logger}
}

// Draft carries the caller-supplied fields of a new model version.
type Draft struct {
	Name        string
	Version     string
	Description string
	ArtifactRef string
	Schema      schema.Schema
	CreatedBy   string
}

// CreateDraft validates the definition and registers a new draft version.
// Malformed definitions fail with *schema.InvalidSchemaError.
func (svc *Service) CreateDraft(ctx context.Context, d Draft) (*ModelVersion, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, &schema.InvalidSchemaError{Message: "model name is required"}
	}
	if strings.TrimSpace(d.Version) == "" {
		return nil, &schema.InvalidSchemaError{Message: "version string is required"}
	}
	if strings.TrimSpace(d.ArtifactRef) == "" {
		return nil, &schema.InvalidSchemaError{Message: "artifact reference is required"}
	}
	if err := schema.ValidateSchema(d.Schema); err != nil {
		return nil, err
	}

	mv := &ModelVersion{
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		ArtifactRef: d.ArtifactRef,
		Schema:      SchemaJSON(d.Schema),
		CreatedBy:   d.CreatedBy,
	}
	if err := svc.store.CreateDraft(ctx, mv); err != nil {
		return nil, err
	}
	svc.logger.Info("created draft model version",
		"id", mv.ID, "name", mv.Name, "version", mv.Version, "createdBy", mv.CreatedBy)
	return mv, nil
}

// Get returns a version, or a NotFoundError.
func (svc *Service) Get(ctx context.Context, id uint) (*ModelVersion, error) {
	mv, err := svc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mv == nil {
		return nil, &NotFoundError{Kind: "model version", ID: itoa(id)}
	}
	return mv, nil
}

// GetActive returns the active version, or nil when none is active.
func (svc *Service) GetActive(ctx context.Context) (*ModelVersion, error) {
	return svc.store.GetActive(ctx)
}

// List returns versions filtered by state with cursor pagination.
func (svc *Service) List(ctx context.Context, state LifecycleState, pageSize int, pageToken string) ([]ModelVersion, string, error) {
	return svc.store.List(ctx, state, pageSize, pageToken)
}

// RecordTestResult appends a test record; the first passed result moves a
// draft to tested.
func (svc *Service) RecordTestResult(ctx context.Context, versionID uint, passed bool, sampleInput, sampleOutput map[string]any, actor string) (*TestRecord, error) {
	rec := &TestRecord{
		ModelVersionID: versionID,
		Passed:         passed,
		SampleInput:    db.JSONMap(sampleInput),
		SampleOutput:   db.JSONMap(sampleOutput),
		RecordedBy:     actor,
	}
	mv, err := svc.store.AppendTestRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("recorded test result",
		"versionId", versionID, "passed", passed, "state", mv.State, "recordedBy", actor)
	return rec, nil
}

// ListTestRecords returns the test history for a version.
func (svc *Service) ListTestRecords(ctx context.Context, versionID uint) ([]TestRecord, error) {
	if _, err := svc.Get(ctx, versionID); err != nil {
		return nil, err
	}
	return svc.store.ListTestRecords(ctx, versionID)
}

// Promote activates a tested or archived version, archiving the current
// active version atomically.
func (svc *Service) Promote(ctx context.Context, versionID uint, actor string) (*PromotionRecord, error) {
	rec, err := svc.store.Promote(ctx, versionID, actor, "", false)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("promoted model version", "versionId", versionID, "promotedBy", actor)
	svc.publishPromoted(ctx, rec)
	return rec, nil
}

// Rollback re-promotes the most recently archived version. The reason is
// required and lands on the promotion record.
func (svc *Service) Rollback(ctx context.Context, reason, actor string) (*PromotionRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, schema.ValidationErrors{{Field: "reason", Reason: "required value missing"}}
	}
	target, err := svc.store.LatestArchived(ctx)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &NotFoundError{Kind: "archived model version", ID: "any"}
	}
	rec, err := svc.store.Promote(ctx, target.ID, actor, reason, true)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("rolled back to model version",
		"versionId", target.ID, "reason", reason, "promotedBy", actor)
	svc.publishPromoted(ctx, rec)
	return rec, nil
}

// ListPromotions returns the promotion audit trail.
func (svc *Service) ListPromotions(ctx context.Context, pageSize int, pageToken string) ([]PromotionRecord, string, error) {
	return svc.store.ListPromotions(ctx, pageSize, pageToken)
}

func (svc *Service) publishPromoted(ctx context.Context, rec *PromotionRecord) {
	if svc.bus == nil {
		return
	}
	evt := events.ModelPromoted{
		VersionID:        rec.ModelVersionID,
		PreviousActiveID: rec.PreviousActiveID,
		Rollback:         rec.Rollback,
		Reason:           rec.Reason,
		Actor:            rec.PromotedBy,
		At:               rec.CreatedAt,
	}
	if mv, err := svc.store.Get(ctx, rec.ModelVersionID); err == nil && mv != nil {
		evt.Name = mv.Name
		evt.Version = mv.Version
	}
	svc.bus.Publish(evt)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
