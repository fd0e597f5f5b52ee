package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/events"
	"github.com/modelkeep/modelkeep/pkg/filter"
	"github.com/modelkeep/modelkeep/pkg/registry"
	"github.com/modelkeep/modelkeep/pkg/schema"
)

// Service is the ledger's operation surface. Begin validates against the
// registry before anything is written; the runner reports results back
// through Complete and Fail.
type Service struct {
	store    *Store
	registry *registry.Service
	bus      *events.Bus
	logger   *slog.Logger
	runner   *Runner
}

// NewService creates a ledger service.
func NewService(store *Store, reg *registry.Service, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: reg, bus: bus, logger: logger}
}

// SetRunner attaches the runner Begin dispatches to. Without a runner,
// begun executions stay running until something else finishes them.
func (svc *Service) SetRunner(r *Runner) {
	svc.runner = r
}

// BeginRequest carries the caller-supplied fields of a new execution.
// A nil ModelVersionID resolves to the currently active version.
type BeginRequest struct {
	ModelVersionID *uint
	Inputs         map[string]any
	RequestedBy    string
	Tags           []string
}

// Begin validates the inputs against the resolved version's schema and,
// only when they pass, records a new execution and hands it to the
// runner. Invalid inputs leave no record behind. The returned execution
// is already running; the backend call proceeds asynchronously.
func (svc *Service) Begin(ctx context.Context, req BeginRequest) (*Execution, error) {
	var mv *registry.ModelVersion
	var err error
	if req.ModelVersionID != nil {
		mv, err = svc.registry.Get(ctx, *req.ModelVersionID)
		if err != nil {
			return nil, err
		}
	} else {
		mv, err = svc.registry.GetActive(ctx)
		if err != nil {
			return nil, err
		}
		if mv == nil {
			return nil, &StateError{Op: "begin execution", Detail: "no active model version"}
		}
	}
	if mv.State != registry.StateActive {
		return nil, &StateError{
			Op:     "begin execution",
			Detail: fmt.Sprintf("model version %d is %s, not active", mv.ID, mv.State),
		}
	}

	normalized, verrs := schema.Validate(mv.Schema.Schema(), req.Inputs)
	if len(verrs) > 0 {
		return nil, verrs
	}

	exec := &Execution{
		ModelVersionID: mv.ID,
		RequestedBy:    req.RequestedBy,
		Inputs:         db.JSONMap(normalized),
		Tags:           db.JSONStringSlice(req.Tags),
	}
	if err := svc.store.Create(ctx, exec); err != nil {
		return nil, err
	}
	exec, err = svc.store.MarkRunning(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("began execution",
		"executionId", exec.ID, "modelVersionId", mv.ID, "requestedBy", req.RequestedBy)

	if svc.runner != nil {
		if derr := svc.runner.Dispatch(exec.ID); derr != nil {
			// The queue being full is an execution outcome, not an API
			// error: the record fails, the caller still gets it back.
			exec, err = svc.Fail(ctx, exec.ID, fmt.Sprintf("dispatch failed: %v", derr))
			if err != nil {
				return nil, err
			}
		}
	}
	return exec, nil
}

// Get returns an execution, or a NotFoundError.
func (svc *Service) Get(ctx context.Context, id string, includeDeleted bool) (*Execution, error) {
	exec, err := svc.store.Get(ctx, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, &NotFoundError{ID: id}
	}
	return exec, nil
}

// ListRequest selects executions for List. FilterExpr is the filter DSL
// expression; empty matches everything.
type ListRequest struct {
	RequestedBy    string
	ModelVersionID uint
	Statuses       []Status
	Since          *time.Time
	Until          *time.Time
	FilterExpr     string
	IncludeDeleted bool
	PageSize       int
	PageToken      string
}

// List returns executions newest-first with cursor pagination. A bad
// filter expression fails with *filter.ParseError.
func (svc *Service) List(ctx context.Context, req ListRequest) ([]Execution, string, error) {
	f, err := filter.Compile(req.FilterExpr)
	if err != nil {
		return nil, "", err
	}
	return svc.store.List(ctx, ListQuery{
		RequestedBy:    req.RequestedBy,
		ModelVersionID: req.ModelVersionID,
		Statuses:       req.Statuses,
		Since:          req.Since,
		Until:          req.Until,
		Filter:         f,
		IncludeDeleted: req.IncludeDeleted,
		PageSize:       req.PageSize,
		PageToken:      req.PageToken,
	})
}

// Complete records a successful result. Repeating a Complete on an
// already succeeded execution is a no-op.
func (svc *Service) Complete(ctx context.Context, id string, output map[string]any) (*Execution, error) {
	exec, changed, err := svc.store.Complete(ctx, id, output)
	if err != nil {
		return nil, err
	}
	if changed {
		svc.logger.Info("execution succeeded", "executionId", id, "durationMs", exec.DurationMs)
	}
	return exec, nil
}

// Fail records a failed result and emits ExecutionFailed. Idempotent on
// repeat like Complete; the event fires only on the actual transition.
func (svc *Service) Fail(ctx context.Context, id string, detail string) (*Execution, error) {
	exec, changed, err := svc.store.Fail(ctx, id, detail)
	if err != nil {
		return nil, err
	}
	if changed {
		svc.logger.Warn("execution failed", "executionId", id, "error", detail)
		svc.publishFailed(exec)
	}
	return exec, nil
}

// SoftDelete hides an execution from non-admin reads. The purge worker
// removes it for good after the retention window.
func (svc *Service) SoftDelete(ctx context.Context, id string, actor string) error {
	if err := svc.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	svc.logger.Info("soft-deleted execution", "executionId", id, "deletedBy", actor)
	return nil
}

func (svc *Service) publishFailed(exec *Execution) {
	if svc.bus == nil || exec == nil {
		return
	}
	at := time.Now().UTC()
	if exec.FinishedAt != nil {
		at = *exec.FinishedAt
	}
	svc.bus.Publish(events.ExecutionFailed{
		ExecutionID:    exec.ID,
		ModelVersionID: exec.ModelVersionID,
		Requester:      exec.RequestedBy,
		ErrorDetail:    exec.ErrorDetail,
		At:             at,
	})
}
