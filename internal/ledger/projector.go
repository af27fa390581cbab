// Package ledger derives position state from event ledgers and validates
// candidate events against them.
package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

// Sorted returns a copy of events in ledger order: timestamp ascending, then
// insertion sequence ascending.
func Sorted(events []domain.Event) []domain.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b domain.Event) int {
		switch {
		case domain.Less(a, b):
			return -1
		case domain.Less(b, a):
			return 1
		}
		return 0
	})
	return out
}

// walker replays events one at a time. It is shared by Project and Validate
// so both apply exactly the same arithmetic.
type walker struct {
	opened   bool
	qty      int64
	avgCost  decimal.Decimal
	realized decimal.Decimal
	lastStop *decimal.Decimal
	bought   int64
	sold     int64
	openedAt domain.Event
	last     domain.Event
	closer   domain.Event // sell that brought qty to zero; nil while holding
	count    int
}

func (w *walker) apply(ev domain.Event) error {
	switch e := ev.(type) {
	case domain.OpenEvent:
		w.opened = true
		w.openedAt = ev
		w.addLot(e.Quantity, e.Price)
	case domain.BuyEvent:
		w.addLot(e.Quantity, e.Price)
	case domain.SellEvent:
		if e.Quantity > w.qty {
			return fmt.Errorf("sell of %d at %s (seq %d) exceeds holding of %d: %w",
				e.Quantity, e.Timestamp.Format(time.RFC3339), e.Seq, w.qty, ports.ErrSellExceedsHolding)
		}
		w.realized = w.realized.Add(decimal.NewFromInt(e.Quantity).Mul(e.Price.Sub(w.avgCost)))
		w.qty -= e.Quantity
		w.sold += e.Quantity
		if w.qty == 0 {
			w.closer = ev
		}
	case domain.StopLossEvent:
		stop := e.StopPrice
		w.lastStop = &stop
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
	w.last = ev
	w.count++
	return nil
}

func (w *walker) addLot(qty int64, price decimal.Decimal) {
	held := decimal.NewFromInt(w.qty)
	lot := decimal.NewFromInt(qty)
	w.avgCost = held.Mul(w.avgCost).Add(lot.Mul(price)).Div(held.Add(lot))
	w.qty += qty
	w.bought += qty
	w.closer = nil
}

func (w *walker) projection() domain.Projection {
	p := domain.Projection{
		CurrentQuantity: w.qty,
		AverageCost:     w.avgCost,
		RealizedPnL:     w.realized,
		IsClosed:        w.qty == 0,
		ActiveStop:      w.lastStop,
		TotalBought:     w.bought,
		TotalSold:       w.sold,
		EventCount:      w.count,
	}
	if w.openedAt != nil {
		p.OpenedAt = w.openedAt.Meta().Timestamp
	}
	if w.last != nil {
		p.LastEventAt = w.last.Meta().Timestamp
	}
	if w.closer != nil {
		at := w.closer.Meta().Timestamp
		p.ClosedAt = &at
	}
	return p
}

// Project replays events in ledger order and returns the derived view.
// The input order does not matter. It fails if a sell exceeds the holding at
// its point in the ledger.
func Project(events []domain.Event) (domain.Projection, error) {
	var w walker
	for _, ev := range Sorted(events) {
		if err := w.apply(ev); err != nil {
			return domain.Projection{}, err
		}
	}
	return w.projection(), nil
}
