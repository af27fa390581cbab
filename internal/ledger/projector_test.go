package ledger

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

func TestProject_Scenarios(t *testing.T) {
	// A: open 10 @100, buy 5 @110
	ledgerA := []domain.Event{
		openEv(1, at(0), 10, "100"),
		buyEv(2, at(10), 5, "110"),
	}
	// B: A + sell 8 @120
	ledgerB := append(append([]domain.Event{}, ledgerA...), sellEv(3, at(20), 8, "120"))
	// C: B + sell 7 @115
	ledgerC := append(append([]domain.Event{}, ledgerB...), sellEv(4, at(30), 7, "115"))

	tests := []struct {
		name        string
		events      []domain.Event
		wantQty     int64
		wantAvg     string
		wantPnL     string
		wantClosed  bool
		wantBought  int64
		wantSold    int64
		wantClosing bool
	}{
		{name: "A open then buy", events: ledgerA, wantQty: 15, wantAvg: "103.33", wantPnL: "0.00", wantBought: 15},
		{name: "B partial sell", events: ledgerB, wantQty: 7, wantAvg: "103.33", wantPnL: "133.33", wantBought: 15, wantSold: 8},
		{name: "C full sell closes", events: ledgerC, wantQty: 0, wantAvg: "103.33", wantPnL: "215.00", wantClosed: true, wantBought: 15, wantSold: 15, wantClosing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Project(tt.events)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, p.CurrentQuantity)
			assert.Equal(t, tt.wantAvg, p.AverageCost.StringFixed(2))
			assert.Equal(t, tt.wantPnL, p.RealizedPnL.StringFixed(2))
			assert.Equal(t, tt.wantClosed, p.IsClosed)
			assert.Equal(t, tt.wantBought, p.TotalBought)
			assert.Equal(t, tt.wantSold, p.TotalSold)
			assert.Equal(t, tt.wantClosing, p.ClosedAt != nil)
			assert.Equal(t, len(tt.events), p.EventCount)
			assert.True(t, p.OpenedAt.Equal(at(0)))
		})
	}
}

func TestProject_StopLossLatestByTimestampWins(t *testing.T) {
	events := []domain.Event{
		openEv(1, at(0), 10, "100"),
		stopEv(2, at(10), "95"),
		stopEv(3, at(20), "98"),
	}
	p, err := Project(events)
	require.NoError(t, err)
	require.NotNil(t, p.ActiveStop)
	assert.Equal(t, "98", p.ActiveStop.String())

	// Scenario E: a third, backdated stop does not replace the active one.
	events = append(events, stopEv(4, at(5), "90"))
	p, err = Project(events)
	require.NoError(t, err)
	require.NotNil(t, p.ActiveStop)
	assert.Equal(t, "98", p.ActiveStop.String())
}

func TestProject_SameTimestampUsesSequence(t *testing.T) {
	events := []domain.Event{
		openEv(1, at(0), 10, "100"),
		stopEv(3, at(10), "97"),
		stopEv(2, at(10), "96"),
	}
	p, err := Project(events)
	require.NoError(t, err)
	assert.Equal(t, "97", p.ActiveStop.String())
}

func TestProject_StopLossDoesNotTouchQuantityOrCost(t *testing.T) {
	base := []domain.Event{openEv(1, at(0), 10, "100"), buyEv(2, at(5), 10, "120")}
	withStop := append(append([]domain.Event{}, base...), stopEv(3, at(3), "80"))

	a, err := Project(base)
	require.NoError(t, err)
	b, err := Project(withStop)
	require.NoError(t, err)
	assert.Equal(t, a.CurrentQuantity, b.CurrentQuantity)
	assert.True(t, a.AverageCost.Equal(b.AverageCost))
	assert.True(t, a.RealizedPnL.Equal(b.RealizedPnL))
}

func TestProject_SellExceedingHoldingFails(t *testing.T) {
	_, err := Project([]domain.Event{
		openEv(1, at(0), 10, "100"),
		sellEv(2, at(5), 4, "101"),
		sellEv(3, at(6), 7, "102"),
	})
	assert.ErrorIs(t, err, ports.ErrSellExceedsHolding)
}

func TestProject_InputOrderIrrelevant(t *testing.T) {
	events := []domain.Event{
		openEv(1, at(0), 10, "100"),
		buyEv(2, at(10), 5, "110"),
		sellEv(3, at(20), 8, "120"),
		stopEv(4, at(15), "99"),
		buyEv(5, at(5), 3, "90.5"),
	}
	want, err := Project(events)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Event{}, events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Project(shuffled)
		require.NoError(t, err)
		assert.Equal(t, want.CurrentQuantity, got.CurrentQuantity)
		assert.True(t, want.AverageCost.Equal(got.AverageCost))
		assert.True(t, want.RealizedPnL.Equal(got.RealizedPnL))
		assert.True(t, want.ActiveStop.Equal(*got.ActiveStop))
	}
}

// randomLedger builds a ledger by feeding random candidates through Validate
// and keeping the accepted ones, the same way the service grows a ledger.
func randomLedger(rng *rand.Rand, steps int) []domain.Event {
	events := []domain.Event{openEv(1, at(0), int64(1+rng.Intn(50)), "100")}
	for i := 0; i < steps; i++ {
		seq := int64(len(events) + 1)
		ts := at(1 + rng.Intn(500))
		price := decimal.NewFromInt(int64(50 + rng.Intn(100)))
		var cand domain.Event
		switch rng.Intn(3) {
		case 0:
			cand = domain.BuyEvent{EventMeta: meta(seq, ts), Quantity: int64(1 + rng.Intn(20)), Price: price}
		case 1:
			cand = domain.SellEvent{EventMeta: meta(seq, ts), Quantity: int64(1 + rng.Intn(20)), Price: price}
		default:
			cand = domain.StopLossEvent{EventMeta: meta(seq, ts), StopPrice: price}
		}
		if Validate(events, cand) == nil {
			events = append(events, cand)
		}
	}
	return events
}

func TestProject_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		events := randomLedger(rng, 30)

		// Non-negativity, conservation and closed-iff-zero.
		require.NoError(t, CheckInvariants(events))

		// Cost basis is unchanged across every sell.
		var w walker
		for _, ev := range Sorted(events) {
			before := w.avgCost
			require.NoError(t, w.apply(ev))
			if ev.Kind() == domain.KindSell {
				assert.True(t, before.Equal(w.avgCost), "sell seq %d changed average cost", ev.Meta().Seq)
			}
		}

		// Determinism: projecting twice yields the same view.
		a, err := Project(events)
		require.NoError(t, err)
		b, err := Project(events)
		require.NoError(t, err)
		assert.Equal(t, a.CurrentQuantity, b.CurrentQuantity)
		assert.True(t, a.AverageCost.Equal(b.AverageCost))
		assert.True(t, a.RealizedPnL.Equal(b.RealizedPnL))
		assert.Equal(t, a.IsClosed, a.CurrentQuantity == 0)
	}
}
