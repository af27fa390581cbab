package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

func TestValidate(t *testing.T) {
	openOnly := []domain.Event{openEv(1, at(0), 10, "100")}
	scenarioA := []domain.Event{openEv(1, at(0), 10, "100"), buyEv(2, at(10), 5, "110")}
	closed := []domain.Event{
		openEv(1, at(0), 10, "100"),
		sellEv(2, at(20), 10, "105"),
	}

	tests := []struct {
		name      string
		existing  []domain.Event
		candidate domain.Event
		wantErr   error
	}{
		{name: "open on empty ledger", existing: nil, candidate: openEv(0, at(0), 10, "100")},
		{name: "second open rejected", existing: openOnly, candidate: openEv(0, at(5), 1, "100"), wantErr: ports.ErrInvalidInput},
		{name: "buy after open", existing: openOnly, candidate: buyEv(0, at(5), 3, "101")},
		{name: "buy before open rejected", existing: openOnly, candidate: buyEv(0, at(-5), 3, "101"), wantErr: ports.ErrInvalidInput},
		{name: "stop before open rejected", existing: openOnly, candidate: stopEv(0, at(-1), "90"), wantErr: ports.ErrInvalidInput},
		{name: "buy at open timestamp sorts after open", existing: openOnly, candidate: buyEv(0, at(0), 3, "101")},
		{name: "sell within holding", existing: scenarioA, candidate: sellEv(0, at(15), 15, "120")},
		{name: "sell above final holding", existing: scenarioA, candidate: sellEv(0, at(15), 16, "120"), wantErr: ports.ErrSellExceedsHolding},
		{name: "scenario D backdated sell exceeds holding at its time", existing: scenarioA, candidate: sellEv(0, at(5), 12, "90"), wantErr: ports.ErrSellExceedsHolding},
		{name: "backdated sell within holding at its time", existing: scenarioA, candidate: sellEv(0, at(5), 10, "90")},
		{name: "buy after close rejected", existing: closed, candidate: buyEv(0, at(30), 5, "100"), wantErr: ports.ErrPositionClosed},
		{name: "buy at close timestamp rejected", existing: closed, candidate: buyEv(0, at(20), 5, "100"), wantErr: ports.ErrPositionClosed},
		{name: "sell after close rejected", existing: closed, candidate: sellEv(0, at(30), 1, "100"), wantErr: ports.ErrPositionClosed},
		{name: "stop after close rejected", existing: closed, candidate: stopEv(0, at(30), "90"), wantErr: ports.ErrPositionClosed},
		{name: "stop inserted before close accepted", existing: closed, candidate: stopEv(0, at(10), "90")},
		{name: "buy inserted before close accepted", existing: closed, candidate: buyEv(0, at(10), 5, "100")},
		{name: "sell inserted before close invalidates closing sell", existing: closed, candidate: sellEv(0, at(10), 1, "100"), wantErr: ports.ErrSellExceedsHolding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.existing, tt.candidate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_BackdatedSellInvalidatesLaterSell(t *testing.T) {
	// 10 held, 6 sold at t20. A backdated sell of 5 at t10 leaves 5, so the
	// stored sell of 6 would go negative even though the candidate itself fits.
	existing := []domain.Event{
		openEv(1, at(0), 10, "100"),
		sellEv(2, at(20), 6, "110"),
	}
	err := Validate(existing, sellEv(0, at(10), 5, "105"))
	require.ErrorIs(t, err, ports.ErrSellExceedsHolding)
	assert.Contains(t, err.Error(), "later sell")
}

func TestValidate_DoesNotMutateExisting(t *testing.T) {
	existing := make([]domain.Event, 0, 4)
	existing = append(existing, openEv(1, at(0), 10, "100"), buyEv(2, at(5), 5, "101"))
	require.NoError(t, Validate(existing, sellEv(0, at(7), 3, "102")))
	assert.Len(t, existing, 2)
	assert.Nil(t, existing[:3][2], "candidate leaked into the caller's backing array")
	assert.Equal(t, int64(2), existing[1].Meta().Seq)
}

func TestCheckInvariants(t *testing.T) {
	tests := []struct {
		name    string
		events  []domain.Event
		wantErr bool
	}{
		{name: "valid", events: []domain.Event{openEv(1, at(0), 10, "100"), sellEv(2, at(1), 10, "101")}},
		{name: "empty", events: nil, wantErr: true},
		{name: "starts with buy", events: []domain.Event{buyEv(1, at(0), 10, "100")}, wantErr: true},
		{name: "two opens", events: []domain.Event{openEv(1, at(0), 10, "100"), openEv(2, at(1), 10, "100")}, wantErr: true},
		{name: "negative prefix", events: []domain.Event{openEv(1, at(0), 10, "100"), sellEv(2, at(1), 11, "101")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInvariants(tt.events)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
