// Package storage persists patches and snapshots for a story's graph, so
// a driver can resume a session or replay it for audit/debugging.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
)

// Snapshot is a full Graph DTO captured at a given patch version, used to
// bound replay cost between snapshot cadence points. Cursor is the node
// the driver had settled on when the snapshot was taken, so a cold-started
// session can resume play without replaying the entire patch log.
type Snapshot struct {
	StoryID string
	Version int64
	Cursor  uuid.UUID
	DTO     graph.DTO
}

// Tx brackets a sequence of store calls that must commit atomically.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PatchStore is the durable home for a story's patch log and snapshots.
// The VM and driver depend only on this interface; memstore and pgstore
// are its two implementations.
type PatchStore interface {
	BeginTx(ctx context.Context) (Tx, error)

	AppendPatch(ctx context.Context, storyID string, version int64, patch *domain.Patch) error
	GetPatches(ctx context.Context, storyID string, fromVersion, toVersion int64) ([]*domain.Patch, error)

	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetLatestSnapshot(ctx context.Context, storyID string, beforeVersion int64) (*Snapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by Get-style lookups that find nothing.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.ID
}
