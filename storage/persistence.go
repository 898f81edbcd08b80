// Package storage persistence contract.
//
// ArtifactStorage archives a run's artifacts and step history so a run can
// be inspected or re-synthesized later. The in-memory StateStore stays
// authoritative; persistence is write-through and best-effort.

package storage

import (
	"context"

	"github.com/richinex/deepresearch/model"
)

// ArtifactStorage persists runs, cached artifacts and steps.
type ArtifactStorage interface {
	// SaveRun creates or updates a run record.
	SaveRun(ctx context.Context, run Run) error

	// SaveArtifact stores the cache entry of one step.
	SaveArtifact(ctx context.Context, runID string, entry CacheEntry) error

	// SaveStep stores one step of the history at its 1-based index.
	SaveStep(ctx context.Context, runID string, index int, step model.Step) error

	// LoadArtifacts returns a run's artifacts ordered by step index.
	LoadArtifacts(ctx context.Context, runID string) ([]CacheEntry, error)

	// LoadSteps returns a run's step history in order.
	LoadSteps(ctx context.Context, runID string) ([]model.Step, error)

	// LoadRun returns a run record.
	LoadRun(ctx context.Context, runID string) (Run, bool, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]Run, error)

	// DeleteRun removes a run and everything recorded for it.
	DeleteRun(ctx context.Context, runID string) error
}
