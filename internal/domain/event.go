package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventMeta holds the fields shared by every position event.
type EventMeta struct {
	Seq        int64     // Insertion sequence assigned by the event store; tie-break only
	Timestamp  time.Time // Client-supplied event time, authoritative for ledger order
	Note       string    // Free-form trader note (optional)
	RecordedAt time.Time // Server time at which the event was appended
}

// Meta returns the shared event fields.
func (m EventMeta) Meta() EventMeta { return m }

// Event is an immutable entry of a position ledger.
// The set of implementations is closed: OpenEvent, BuyEvent, SellEvent and StopLossEvent.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	isEvent()
}

// OpenEvent is the first lot of a position. Exactly one per position.
type OpenEvent struct {
	EventMeta
	Quantity int64
	Price    decimal.Decimal
}

// BuyEvent adds shares to an open position.
type BuyEvent struct {
	EventMeta
	Quantity int64
	Price    decimal.Decimal
}

// SellEvent removes shares from a position.
type SellEvent struct {
	EventMeta
	Quantity int64
	Price    decimal.Decimal
}

// StopLossEvent records an advisory stop price. It never changes quantity or cost.
type StopLossEvent struct {
	EventMeta
	StopPrice decimal.Decimal
}

func (OpenEvent) Kind() EventKind     { return KindOpen }
func (BuyEvent) Kind() EventKind      { return KindBuy }
func (SellEvent) Kind() EventKind     { return KindSell }
func (StopLossEvent) Kind() EventKind { return KindStopLoss }

func (OpenEvent) isEvent()     {}
func (BuyEvent) isEvent()      {}
func (SellEvent) isEvent()     {}
func (StopLossEvent) isEvent() {}

// WithSeq returns a copy of ev carrying the given sequence number and record time.
func WithSeq(ev Event, seq int64, recordedAt time.Time) Event {
	switch e := ev.(type) {
	case OpenEvent:
		e.Seq, e.RecordedAt = seq, recordedAt
		return e
	case BuyEvent:
		e.Seq, e.RecordedAt = seq, recordedAt
		return e
	case SellEvent:
		e.Seq, e.RecordedAt = seq, recordedAt
		return e
	case StopLossEvent:
		e.Seq, e.RecordedAt = seq, recordedAt
		return e
	}
	return ev
}

// Less orders events by (timestamp, insertion sequence).
func Less(a, b Event) bool {
	am, bm := a.Meta(), b.Meta()
	if !am.Timestamp.Equal(bm.Timestamp) {
		return am.Timestamp.Before(bm.Timestamp)
	}
	return am.Seq < bm.Seq
}
