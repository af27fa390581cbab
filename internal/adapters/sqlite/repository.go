package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.EventStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL with a busy timeout keeps the audit tool's readers from failing on
	// the service's writes. Within one process a single connection serializes
	// every statement, so reads wait for an open Append transaction.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS position_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL REFERENCES positions (id),
		kind TEXT NOT NULL,
		event_time TIMESTAMP NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		price TEXT NULL,
		stop_price TEXT NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_portfolio_instrument ON positions (portfolio_id, instrument);
	CREATE INDEX IF NOT EXISTS idx_position_events_position_seq ON position_events (position_id, seq);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreatePosition inserts the position row and its initial events in one transaction.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position, events []domain.Event) ([]domain.Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO positions (id, portfolio_id, instrument, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		pos.ID, pos.PortfolioID, pos.Instrument, pos.CreatedAt.UTC(), pos.UpdatedAt.UTC()); err != nil {
		return nil, unavailable("insert position "+pos.ID, err)
	}

	stored := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		seq, err := insertEvent(ctx, tx, pos.ID, ev)
		if err != nil {
			return nil, err
		}
		stored = append(stored, domain.WithSeq(ev, seq, ev.Meta().RecordedAt))
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit position "+pos.ID, err)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "instrument": pos.Instrument, "events": len(stored)})
	return stored, nil
}

// Append stores ev and bumps the position's updated_at in one transaction.
func (r *Repository) Append(ctx context.Context, positionID string, ev domain.Event) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	recordedAt := ev.Meta().RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	result, err := tx.ExecContext(ctx, `UPDATE positions SET updated_at = ? WHERE id = ?`, recordedAt.UTC(), positionID)
	if err != nil {
		return 0, unavailable("touch position "+positionID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected for position "+positionID, err)
	}
	if rowsAffected == 0 {
		return 0, fmt.Errorf("position %s: %w", positionID, ports.ErrNotFound)
	}

	seq, err := insertEvent(ctx, tx, positionID, domain.WithSeq(ev, 0, recordedAt))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit event for position "+positionID, err)
	}
	r.logger.Debug(ctx, "Event appended", map[string]interface{}{"positionID": positionID, "seq": seq, "kind": ev.Kind()})
	return seq, nil
}

// ListEvents returns the ledger of a position in insertion order.
func (r *Repository) ListEvents(ctx context.Context, positionID string) ([]domain.Event, error) {
	const query = `
	SELECT seq, position_id, kind, event_time, quantity, price, stop_price, note, recorded_at
	FROM position_events
	WHERE position_id = ?
	ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, unavailable("query events of position "+positionID, err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan event of position "+positionID, err)
		}
		ev, err := rec.ToEvent()
		if err != nil {
			return nil, fmt.Errorf("position %s holds a corrupt event: %w", positionID, err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, unavailable("iterate events of position "+positionID, err)
	}
	return events, nil
}

// FindPosition retrieves a position by id. Returns nil, nil if absent.
func (r *Repository) FindPosition(ctx context.Context, positionID string) (*domain.Position, error) {
	const query = `
	SELECT id, portfolio_id, instrument, created_at, updated_at
	FROM positions
	WHERE id = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Position not found by ID", map[string]interface{}{"positionID": positionID})
			return nil, nil
		}
		return nil, unavailable("query position "+positionID, err)
	}
	return pos, nil
}

// ListPositions retrieves positions matching filter, newest first.
func (r *Repository) ListPositions(ctx context.Context, filter ports.PositionFilter) ([]*domain.Position, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.PortfolioID != "" {
		where = append(where, "portfolio_id = ?")
		args = append(args, filter.PortfolioID)
	}
	if filter.Instrument != "" {
		where = append(where, "instrument = ?")
		args = append(args, filter.Instrument)
	}
	query := `SELECT id, portfolio_id, instrument, created_at, updated_at FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query positions", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, unavailable("scan position", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, unavailable("iterate position rows", err)
	}
	return positions, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, positionID string, ev domain.Event) (int64, error) {
	const query = `
	INSERT INTO position_events (position_id, kind, event_time, quantity, price, stop_price, note, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	rec := domain.RecordOf(positionID, ev)
	result, err := tx.ExecContext(ctx, query,
		rec.PositionID, string(rec.Kind), rec.Timestamp.UTC(), rec.Quantity, rec.Price, rec.StopPrice, rec.Note, rec.RecordedAt.UTC())
	if err != nil {
		return 0, unavailable("insert "+string(rec.Kind)+" event for position "+positionID, err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, unavailable("last insert ID for position "+positionID, err)
	}
	return seq, nil
}

func unavailable(action string, err error) error {
	return fmt.Errorf("failed to %s: %w: %v", action, ports.ErrStorageUnavailable, err)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	if err := s.Scan(&p.ID, &p.PortfolioID, &p.Instrument, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanRecord(s scanner) (domain.EventRecord, error) {
	var (
		rec  domain.EventRecord
		kind string
	)
	err := s.Scan(&rec.Seq, &rec.PositionID, &kind, &rec.Timestamp, &rec.Quantity,
		&rec.Price, &rec.StopPrice, &rec.Note, &rec.RecordedAt)
	if err != nil {
		return rec, err
	}
	rec.Kind = domain.EventKind(kind)
	rec.Timestamp = rec.Timestamp.UTC()
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}
