package ledger

import (
	"errors"
	"fmt"
	"time"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

// Validate checks candidate against the ledger as it would exist with the
// candidate inserted at its (timestamp, seq) slot. The candidate is given the
// next sequence number, so it sorts after stored events sharing its timestamp.
//
// Rules:
//   - OPEN is rejected once the ledger holds any OPEN, BUY or SELL.
//   - BUY, SELL and STOP_LOSS need an OPEN before them in ledger order.
//   - On a closed ledger, BUY, SELL and STOP_LOSS are rejected with
//     ErrPositionClosed unless they sort before the sell that closed it.
//   - Quantity must stay non-negative at the candidate and at every later
//     event, since a backdated sell can invalidate sells stored after it.
func Validate(existing []domain.Event, candidate domain.Event) error {
	var maxSeq int64
	for _, ev := range existing {
		if s := ev.Meta().Seq; s > maxSeq {
			maxSeq = s
		}
	}
	candidate = domain.WithSeq(candidate, maxSeq+1, candidate.Meta().RecordedAt)

	if candidate.Kind() == domain.KindOpen {
		for _, ev := range existing {
			if ev.Kind() != domain.KindStopLoss {
				return fmt.Errorf("position already has a %s event (seq %d): %w", ev.Kind(), ev.Meta().Seq, ports.ErrInvalidInput)
			}
		}
	} else if len(existing) > 0 {
		var before walker
		for _, ev := range Sorted(existing) {
			if err := before.apply(ev); err != nil {
				return fmt.Errorf("stored ledger is inconsistent: %w", err)
			}
		}
		if before.closer != nil && !domain.Less(candidate, before.closer) {
			return fmt.Errorf("%s at %s is not earlier than the closing sell at %s: %w",
				candidate.Kind(), candidate.Meta().Timestamp.Format(time.RFC3339),
				before.closer.Meta().Timestamp.Format(time.RFC3339), ports.ErrPositionClosed)
		}
	}

	var w walker
	reached := false
	for _, ev := range Sorted(append(existing[:len(existing):len(existing)], candidate)) {
		isCandidate := ev.Meta().Seq == candidate.Meta().Seq
		if isCandidate {
			reached = true
			if ev.Kind() != domain.KindOpen && !w.opened {
				return fmt.Errorf("%s at %s precedes the position open: %w",
					ev.Kind(), ev.Meta().Timestamp.Format(time.RFC3339), ports.ErrInvalidInput)
			}
		}
		if err := w.apply(ev); err != nil {
			if !reached {
				return fmt.Errorf("stored ledger is inconsistent: %w", err)
			}
			if !isCandidate && errors.Is(err, ports.ErrSellExceedsHolding) {
				return fmt.Errorf("%s at %s would invalidate a later sell: %w",
					candidate.Kind(), candidate.Meta().Timestamp.Format(time.RFC3339), err)
			}
			return err
		}
	}
	return nil
}

// CheckInvariants replays a stored ledger and verifies every property the
// guard is meant to maintain: exactly one OPEN and it comes first, quantity
// non-negative after every prefix, conservation of shares, and
// closed-iff-zero. It is used by audits, not on the write path.
func CheckInvariants(events []domain.Event) error {
	sorted := Sorted(events)
	if len(sorted) == 0 {
		return errors.New("ledger is empty")
	}
	if sorted[0].Kind() != domain.KindOpen {
		return fmt.Errorf("first event is %s (seq %d), want %s", sorted[0].Kind(), sorted[0].Meta().Seq, domain.KindOpen)
	}

	var w walker
	var in, out int64
	opens := 0
	for _, ev := range sorted {
		switch e := ev.(type) {
		case domain.OpenEvent:
			opens++
			in += e.Quantity
		case domain.BuyEvent:
			in += e.Quantity
		case domain.SellEvent:
			out += e.Quantity
		}
		if err := w.apply(ev); err != nil {
			return err
		}
		if w.qty < 0 {
			return fmt.Errorf("quantity %d negative after seq %d", w.qty, ev.Meta().Seq)
		}
	}
	if opens != 1 {
		return fmt.Errorf("ledger has %d %s events, want 1", opens, domain.KindOpen)
	}

	p := w.projection()
	if p.CurrentQuantity != in-out {
		return fmt.Errorf("quantity %d != bought %d - sold %d", p.CurrentQuantity, in, out)
	}
	if p.IsClosed != (p.CurrentQuantity == 0) {
		return fmt.Errorf("closed=%t with quantity %d", p.IsClosed, p.CurrentQuantity)
	}
	return nil
}
