package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventRecord is the flat, storage-friendly shape of an Event.
// Quantity and Price are set for OPEN/BUY/SELL, StopPrice for STOP_LOSS.
type EventRecord struct {
	Seq        int64
	PositionID string
	Kind       EventKind
	Timestamp  time.Time
	Quantity   int64
	Price      decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	Note       string
	RecordedAt time.Time
}

// RecordOf flattens ev into an EventRecord belonging to positionID.
func RecordOf(positionID string, ev Event) EventRecord {
	m := ev.Meta()
	rec := EventRecord{
		Seq:        m.Seq,
		PositionID: positionID,
		Kind:       ev.Kind(),
		Timestamp:  m.Timestamp,
		Note:       m.Note,
		RecordedAt: m.RecordedAt,
	}
	switch e := ev.(type) {
	case OpenEvent:
		rec.Quantity, rec.Price = e.Quantity, decimal.NewNullDecimal(e.Price)
	case BuyEvent:
		rec.Quantity, rec.Price = e.Quantity, decimal.NewNullDecimal(e.Price)
	case SellEvent:
		rec.Quantity, rec.Price = e.Quantity, decimal.NewNullDecimal(e.Price)
	case StopLossEvent:
		rec.StopPrice = decimal.NewNullDecimal(e.StopPrice)
	}
	return rec
}

// ToEvent rebuilds the typed event. It fails when the record's kind is unknown
// or a field required by the kind is missing.
func (r EventRecord) ToEvent() (Event, error) {
	meta := EventMeta{Seq: r.Seq, Timestamp: r.Timestamp, Note: r.Note, RecordedAt: r.RecordedAt}
	switch r.Kind {
	case KindOpen, KindBuy, KindSell:
		if !r.Price.Valid || r.Quantity <= 0 {
			return nil, fmt.Errorf("event seq %d (%s) is missing quantity or price", r.Seq, r.Kind)
		}
	case KindStopLoss:
		if !r.StopPrice.Valid {
			return nil, fmt.Errorf("event seq %d (%s) is missing stop price", r.Seq, r.Kind)
		}
	default:
		return nil, fmt.Errorf("event seq %d has unknown kind %q", r.Seq, r.Kind)
	}

	switch r.Kind {
	case KindOpen:
		return OpenEvent{EventMeta: meta, Quantity: r.Quantity, Price: r.Price.Decimal}, nil
	case KindBuy:
		return BuyEvent{EventMeta: meta, Quantity: r.Quantity, Price: r.Price.Decimal}, nil
	case KindSell:
		return SellEvent{EventMeta: meta, Quantity: r.Quantity, Price: r.Price.Decimal}, nil
	default:
		return StopLossEvent{EventMeta: meta, StopPrice: r.StopPrice.Decimal}, nil
	}
}
