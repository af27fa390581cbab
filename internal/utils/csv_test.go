package utils

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionLedger/internal/domain"
)

func TestWriteEventsToCSV(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	records := []domain.EventRecord{
		domain.RecordOf("pos-1", domain.OpenEvent{
			EventMeta: domain.EventMeta{Seq: 1, Timestamp: ts, RecordedAt: ts, Note: "first, lot"},
			Quantity:  10,
			Price:     decimal.RequireFromString("100.25"),
		}),
		domain.RecordOf("pos-1", domain.StopLossEvent{
			EventMeta: domain.EventMeta{Seq: 2, Timestamp: ts.Add(time.Minute), RecordedAt: ts},
			StopPrice: decimal.RequireFromString("95"),
		}),
	}

	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, WriteEventsToCSV(records, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "position_id", rows[0][0])
	assert.Equal(t, []string{"pos-1", "1", "OPEN", "2024-03-01T14:30:00Z", "10", "100.25", "", "first, lot", "2024-03-01T14:30:00Z"}, rows[1])
	assert.Equal(t, []string{"pos-1", "2", "STOP_LOSS", "2024-03-01T14:31:00Z", "", "", "95", "", "2024-03-01T14:30:00Z"}, rows[2])
}

func TestWriteEventsToCSV_BadPath(t *testing.T) {
	err := WriteEventsToCSV(nil, filepath.Join(t.TempDir(), "missing", "events.csv"))
	assert.Error(t, err)
}
