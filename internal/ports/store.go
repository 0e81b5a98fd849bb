package ports

import (
	"context"

	"papertrader/internal/domain"
)

// SnapshotStore persists engine snapshots keyed by session id.
// The engine never calls a store itself; sessions do after every mutation.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored state for the session.
	SaveSnapshot(ctx context.Context, sessionID string, snap *domain.Snapshot) error
	// LoadSnapshot returns the stored state for the session.
	// Returns nil, nil if nothing was saved yet.
	LoadSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	// DeleteSnapshot removes the stored state for the session, if any.
	DeleteSnapshot(ctx context.Context, sessionID string) error
}
