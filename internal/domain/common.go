package domain

import (
	"regexp"
	"time"
)

// EventKind tags the variant of a PositionEvent.
type EventKind string

const (
	KindOpen     EventKind = "OPEN"
	KindBuy      EventKind = "BUY"
	KindSell     EventKind = "SELL"
	KindStopLoss EventKind = "STOP_LOSS"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindOpen, KindBuy, KindSell, KindStopLoss:
		return true
	}
	return false
}

// PositionStatus represents the derived lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// TickerPattern matches instrument symbols such as "AAPL", "BRK.B" or "RDS-A".
var TickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.-]{0,15}$`)

// TimePrecision is the finest timestamp resolution every event store keeps.
// PostgreSQL TIMESTAMPTZ stops at microseconds.
const TimePrecision = time.Microsecond

// LedgerTime normalizes t to UTC at TimePrecision, so the order the guard
// validates is the order the store replays.
func LedgerTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}
