// Package store defines the durable state contracts for strip jobs and the
// pending-handle index, with filesystem and PostgreSQL backends.
package store

import (
	"context"

	"github.com/impara/comicgen/internal/domain"
)

// StateStore owns the durable Strip records. Writes are durable before
// returning, and a Get immediately following a Put observes the write. The
// store itself does no locking; the orchestrator serializes mutation per job.
type StateStore interface {
	// GetStrip returns the stored record or domain.ErrNotFound.
	GetStrip(ctx context.Context, id string) (*domain.Strip, error)

	// PutStrip persists the full record. A failed write must propagate to
	// the caller; the operation that triggered it cannot proceed on a
	// state it failed to record.
	PutStrip(ctx context.Context, s *domain.Strip) error

	// ListActive returns the ids of jobs not yet in a terminal state, for
	// the stalled-item sweep.
	ListActive(ctx context.Context) ([]string, error)
}

// HandleIndex maps a pending external handle to the item awaiting its
// callback. Records are written at dispatch time and deleted once consumed,
// which is what makes duplicate callback delivery a detectable no-op.
type HandleIndex interface {
	PutHandle(ctx context.Context, handle string, ref domain.HandleRef) error

	// GetHandle returns domain.ErrNotFound for unknown or already-consumed
	// handles.
	GetHandle(ctx context.Context, handle string) (domain.HandleRef, error)

	DeleteHandle(ctx context.Context, handle string) error
}

// Store is the combined persistence surface the orchestrator depends on.
type Store interface {
	StateStore
	HandleIndex
}
