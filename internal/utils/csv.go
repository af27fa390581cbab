package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
)

// WriteEventsToCSV writes event records to filename, one row per event.
func WriteEventsToCSV(records []domain.EventRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write header
	writer.Write([]string{"position_id", "seq", "kind", "timestamp", "quantity", "price", "stop_price", "note", "recorded_at"})

	for _, r := range records {
		qty := ""
		if r.Quantity != 0 {
			qty = strconv.FormatInt(r.Quantity, 10)
		}
		writer.Write([]string{
			r.PositionID,
			strconv.FormatInt(r.Seq, 10),
			string(r.Kind),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			qty,
			nullDecimal(r.Price),
			nullDecimal(r.StopPrice),
			r.Note,
			r.RecordedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writer.Flush()
	return writer.Error()
}

func nullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
