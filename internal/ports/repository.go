package ports

import (
	"context"

	"positionLedger/internal/domain"
)

// PositionFilter narrows ListPositions. Empty fields match everything.
type PositionFilter struct {
	PortfolioID string
	Instrument  string
	Status      domain.PositionStatus // Applied by the service after projection
}

// EventStore is the durable, append-only record of position events.
// Events are never updated or deleted.
type EventStore interface {
	// CreatePosition persists a new position and its initial events atomically.
	// It returns the events with their assigned sequence numbers.
	CreatePosition(ctx context.Context, pos *domain.Position, events []domain.Event) ([]domain.Event, error)
	// Append adds ev to the ledger of positionID and returns its sequence number.
	// It also bumps the position's UpdatedAt. Returns ErrNotFound for unknown ids.
	Append(ctx context.Context, positionID string, ev domain.Event) (int64, error)
	// ListEvents returns the ledger of positionID in insertion order.
	ListEvents(ctx context.Context, positionID string) ([]domain.Event, error)
	// FindPosition returns the identity of a position.
	// Returns nil, nil if not found.
	FindPosition(ctx context.Context, positionID string) (*domain.Position, error)
	// ListPositions returns positions matching the filter's PortfolioID and
	// Instrument, ordered by creation time descending.
	ListPositions(ctx context.Context, filter PositionFilter) ([]*domain.Position, error)
	// Close releases the underlying connection(s).
	Close() error
}
