package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

// at returns t0 shifted by the given number of minutes.
func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func meta(seq int64, ts time.Time) domain.EventMeta {
	return domain.EventMeta{Seq: seq, Timestamp: ts}
}

func openEv(seq int64, ts time.Time, qty int64, price string) domain.Event {
	return domain.OpenEvent{EventMeta: meta(seq, ts), Quantity: qty, Price: decimal.RequireFromString(price)}
}

func buyEv(seq int64, ts time.Time, qty int64, price string) domain.Event {
	return domain.BuyEvent{EventMeta: meta(seq, ts), Quantity: qty, Price: decimal.RequireFromString(price)}
}

func sellEv(seq int64, ts time.Time, qty int64, price string) domain.Event {
	return domain.SellEvent{EventMeta: meta(seq, ts), Quantity: qty, Price: decimal.RequireFromString(price)}
}

func stopEv(seq int64, ts time.Time, price string) domain.Event {
	return domain.StopLossEvent{EventMeta: meta(seq, ts), StopPrice: decimal.RequireFromString(price)}
}
