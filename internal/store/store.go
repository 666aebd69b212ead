// Package store provides persistence for the reporting collaborator.
package store

import (
	"context"
	"time"

	"github.com/opencx/agentsim/internal/domain"
)

// Repository persists per-agent interaction history and handling stats.
type Repository interface {
	// RecordInteraction inserts a new active interaction for an agent.
	RecordInteraction(ctx context.Context, rec *domain.InteractionRecord) error

	// CompleteInteraction marks an agent's interaction completed and
	// stores its handling duration. Completing an unknown interaction is
	// a no-op.
	CompleteInteraction(ctx context.Context, agent, id string, completedAt time.Time, duration int) error

	// ActiveInteractions returns the agent's interactions that have not
	// completed yet, oldest first.
	ActiveInteractions(ctx context.Context, agent string) ([]*domain.InteractionRecord, error)

	// HandlingStats returns completed-interaction statistics for an agent.
	HandlingStats(ctx context.Context, agent string) (*domain.HandlingStats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
