package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"positionLedger/config"
	"positionLedger/internal/adapters/eventstore"
	"positionLedger/internal/adapters/logger"
	"positionLedger/internal/domain"
	"positionLedger/internal/ledger"
	"positionLedger/internal/ports"
	"positionLedger/internal/utils"
)

var (
	portfolio = flag.String("portfolio", "", "audit only this portfolio")
	csvPath   = flag.String("csv", "", "export every audited event to this CSV file")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	appLogger, err := logger.NewZapLogger(logger.Config{Level: logger.LevelWarn, Format: "console", Service: "audit_ledger"})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer appLogger.Sync()

	ctx := context.Background()
	store, err := eventstore.Open(ctx, eventstore.Config{Driver: cfg.StoreDriver, DBPath: cfg.DBPath, DSN: cfg.DatabaseDSN}, appLogger)
	if err != nil {
		log.Fatalf("Error opening event store: %v", err)
	}
	defer store.Close()

	rows, records, err := audit(ctx, store, ports.PositionFilter{PortfolioID: *portfolio})
	if err != nil {
		log.Fatalf("Error auditing ledgers: %v", err)
	}

	failed := printReport(os.Stdout, rows)

	if *csvPath != "" {
		if err := utils.WriteEventsToCSV(records, *csvPath); err != nil {
			log.Fatalf("Error writing %s: %v", *csvPath, err)
		}
		fmt.Printf("\nExported %d events to %s\n", len(records), *csvPath)
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d ledgers failed the audit\n", failed, len(rows))
		os.Exit(1)
	}
}

// auditRow is the outcome of replaying one position.
type auditRow struct {
	Position   *domain.Position
	Projection domain.Projection
	Err        error
}

// audit replays every matching position and re-checks its prefix invariants.
func audit(ctx context.Context, store ports.EventStore, filter ports.PositionFilter) ([]auditRow, []domain.EventRecord, error) {
	positions, err := store.ListPositions(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]auditRow, 0, len(positions))
	var records []domain.EventRecord
	for _, pos := range positions {
		events, err := store.ListEvents(ctx, pos.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, ev := range ledger.Sorted(events) {
			records = append(records, domain.RecordOf(pos.ID, ev))
		}

		row := auditRow{Position: pos}
		if err := ledger.CheckInvariants(events); err != nil {
			row.Err = err
		} else {
			row.Projection, row.Err = ledger.Project(events)
		}
		rows = append(rows, row)
	}
	return rows, records, nil
}

// printReport writes one line per position and returns the number of failures.
func printReport(out io.Writer, rows []auditRow) int {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Position\tPortfolio\tInstrument\tEvents\tQty\tAvgCost\tRealizedPnL\tStatus\tResult\t")

	failed := 0
	for _, r := range rows {
		result := "ok"
		if r.Err != nil {
			failed++
			result = "FAIL: " + r.Err.Error()
		}
		p := r.Projection
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t\n",
			r.Position.ID,
			r.Position.PortfolioID,
			r.Position.Instrument,
			p.EventCount,
			p.CurrentQuantity,
			p.AverageCost.StringFixed(2),
			p.RealizedPnL.StringFixed(2),
			p.Status(),
			result,
		)
	}
	w.Flush()
	return failed
}
