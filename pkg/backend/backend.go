// Package backend invokes the inference backend that actually runs a
// model. The ledger treats backend failures as data: an Execute error
// lands in the execution's error detail, never in an API response.
package backend

import "context"

// Backend executes a model artifact against validated inputs and returns
// the model's output document.
type Backend interface {
	Execute(ctx context.Context, artifactRef string, inputs map[string]any) (map[string]any, error)
}
