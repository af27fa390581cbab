package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the identity of a tracked holding. Everything else about it is
// derived from its event ledger.
type Position struct {
	ID          string    // UUID assigned when the position is opened
	PortfolioID string    // Owning portfolio
	Instrument  string    // Ticker symbol (e.g., "AAPL")
	CreatedAt   time.Time // Server time of creation
	UpdatedAt   time.Time // Server time of the most recent append
}

// Projection is the state derived by replaying a ledger in (timestamp, seq) order.
type Projection struct {
	CurrentQuantity int64
	AverageCost     decimal.Decimal  // Weighted average of OPEN/BUY lots; untouched by sells
	RealizedPnL     decimal.Decimal  // Sum of qty*(sellPrice-averageCost) over sells
	IsClosed        bool             // CurrentQuantity == 0 after the full ledger
	ActiveStop      *decimal.Decimal // Chronologically latest stop price, nil if none
	TotalBought     int64            // Shares acquired through OPEN and BUY
	TotalSold       int64            // Shares disposed through SELL
	OpenedAt        time.Time        // Timestamp of the OPEN event
	LastEventAt     time.Time        // Timestamp of the chronologically last event
	ClosedAt        *time.Time       // Timestamp of the sell that closed the position, if closed
	EventCount      int
}

// Status returns the lifecycle status implied by the projection.
func (p Projection) Status() PositionStatus {
	if p.IsClosed {
		return StatusClosed
	}
	return StatusOpen
}

// PositionView joins a position's identity with its current projection.
type PositionView struct {
	Position
	Projection
}
