// Package events defines the domain events modelkeep emits and a small
// in-process bus that fans them out to notification sinks. Delivery is
// fire-and-forget: sink failures are logged, never propagated.
package events

import "time"

// Event is implemented by every emitted payload.
type Event interface {
	EventType() string
}

// ModelPromoted is emitted after a promotion or rollback transaction
// commits.
type ModelPromoted struct {
	VersionID        uint      `json:"versionId"`
	Name             string    `json:"name,omitempty"`
	Version          string    `json:"version,omitempty"`
	PreviousActiveID *uint     `json:"previousActiveId,omitempty"`
	Rollback         bool      `json:"rollback"`
	Reason           string    `json:"reason,omitempty"`
	Actor            string    `json:"actor"`
	At               time.Time `json:"at"`
}

func (ModelPromoted) EventType() string { return "model.promoted" }

// ExecutionFailed is emitted when an execution reaches the failed state,
// including janitor-detected timeouts.
type ExecutionFailed struct {
	ExecutionID    string    `json:"executionId"`
	ModelVersionID uint      `json:"modelVersionId"`
	Requester      string    `json:"requester"`
	ErrorDetail    string    `json:"errorDetail"`
	At             time.Time `json:"at"`
}

func (ExecutionFailed) EventType() string { return "execution.failed" }
