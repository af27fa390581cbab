package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

// Repository implements ports.EventStore on PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger ports.Logger
}

// Config holds configuration for the PostgreSQL repository.
type Config struct {
	DSN    string
	Logger ports.Logger
}

// NewRepository connects to PostgreSQL and makes sure the schema exists.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for PostgreSQL repository")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required for PostgreSQL repository")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		err = fmt.Errorf("failed to create connection pool: %w", err)
		cfg.Logger.Error(ctx, err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		err = fmt.Errorf("failed to ping database: %w", err)
		cfg.Logger.Error(ctx, err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "PostgreSQL connection pool established", map[string]interface{}{"maxConns": pool.Config().MaxConns})

	repo := &Repository{pool: pool, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		pool.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Database schema initialized/verified")
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id UUID PRIMARY KEY,
		portfolio_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS position_events (
		seq BIGSERIAL PRIMARY KEY,
		position_id UUID NOT NULL REFERENCES positions (id),
		kind TEXT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		quantity BIGINT NOT NULL DEFAULT 0,
		price NUMERIC NULL,
		stop_price NUMERIC NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_portfolio_instrument ON positions (portfolio_id, instrument);
	CREATE INDEX IF NOT EXISTS idx_position_events_position_seq ON position_events (position_id, seq);
	`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (r *Repository) Close() error {
	r.logger.Info(context.Background(), "Closing PostgreSQL connection pool")
	r.pool.Close()
	return nil
}

// CreatePosition inserts the position row and its initial events in one transaction.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position, events []domain.Event) ([]domain.Event, error) {
	stored := make([]domain.Event, 0, len(events))
	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const query = `
		INSERT INTO positions (id, portfolio_id, instrument, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, query, pos.ID, pos.PortfolioID, pos.Instrument, pos.CreatedAt.UTC(), pos.UpdatedAt.UTC()); err != nil {
			return unavailable("insert position "+pos.ID, err)
		}
		for _, ev := range events {
			seq, err := insertEvent(ctx, tx, pos.ID, ev)
			if err != nil {
				return err
			}
			stored = append(stored, domain.WithSeq(ev, seq, ev.Meta().RecordedAt))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "instrument": pos.Instrument, "events": len(stored)})
	return stored, nil
}

// Append stores ev and bumps the position's updated_at in one transaction.
func (r *Repository) Append(ctx context.Context, positionID string, ev domain.Event) (int64, error) {
	recordedAt := ev.Meta().RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	var seq int64
	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE positions SET updated_at = $1 WHERE id = $2`, recordedAt.UTC(), positionID)
		if err != nil {
			return unavailable("touch position "+positionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("position %s: %w", positionID, ports.ErrNotFound)
		}
		seq, err = insertEvent(ctx, tx, positionID, domain.WithSeq(ev, 0, recordedAt))
		return err
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug(ctx, "Event appended", map[string]interface{}{"positionID": positionID, "seq": seq, "kind": ev.Kind()})
	return seq, nil
}

// ListEvents returns the ledger of a position in insertion order.
func (r *Repository) ListEvents(ctx context.Context, positionID string) ([]domain.Event, error) {
	const query = `
	SELECT seq, position_id::text, kind, event_time, quantity, price::text, stop_price::text, note, recorded_at
	FROM position_events
	WHERE position_id = $1
	ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, positionID)
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
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate events of position "+positionID, err)
	}
	return events, nil
}

// FindPosition retrieves a position by id. Returns nil, nil if absent.
func (r *Repository) FindPosition(ctx context.Context, positionID string) (*domain.Position, error) {
	const query = `
	SELECT id::text, portfolio_id, instrument, created_at, updated_at
	FROM positions
	WHERE id = $1`

	pos, err := scanPosition(r.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, filter.PortfolioID)
		where = append(where, fmt.Sprintf("portfolio_id = $%d", len(args)))
	}
	if filter.Instrument != "" {
		args = append(args, filter.Instrument)
		where = append(where, fmt.Sprintf("instrument = $%d", len(args)))
	}
	query := `SELECT id::text, portfolio_id, instrument, created_at, updated_at FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate position rows", err)
	}
	return positions, nil
}

// inTx runs f in a read-committed transaction, rolling back on error or panic.
func (r *Repository) inTx(ctx context.Context, f func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return unavailable("begin tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else if cerr := tx.Commit(ctx); cerr != nil {
			err = unavailable("commit tx", cerr)
		}
	}()

	return f(ctx, tx)
}

func insertEvent(ctx context.Context, tx pgx.Tx, positionID string, ev domain.Event) (int64, error) {
	const query = `
	INSERT INTO position_events (position_id, kind, event_time, quantity, price, stop_price, note, recorded_at)
	VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
	RETURNING seq`

	rec := domain.RecordOf(positionID, ev)
	var seq int64
	err := tx.QueryRow(ctx, query,
		rec.PositionID, string(rec.Kind), rec.Timestamp.UTC(), rec.Quantity,
		numericText(rec.Price), numericText(rec.StopPrice), rec.Note, rec.RecordedAt.UTC(),
	).Scan(&seq)
	if err != nil {
		return 0, unavailable("insert "+string(rec.Kind)+" event for position "+positionID, err)
	}
	return seq, nil
}

func numericText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func unavailable(action string, err error) error {
	return fmt.Errorf("failed to %s: %w: %v", action, ports.ErrStorageUnavailable, err)
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	p := &domain.Position{}
	if err := row.Scan(&p.ID, &p.PortfolioID, &p.Instrument, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err // Handle pgx.ErrNoRows in the caller
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanRecord(row pgx.Row) (domain.EventRecord, error) {
	var (
		rec              domain.EventRecord
		kind             string
		price, stopPrice *string
	)
	err := row.Scan(&rec.Seq, &rec.PositionID, &kind, &rec.Timestamp, &rec.Quantity,
		&price, &stopPrice, &rec.Note, &rec.RecordedAt)
	if err != nil {
		return rec, err
	}
	rec.Kind = domain.EventKind(kind)
	rec.Timestamp = rec.Timestamp.UTC()
	rec.RecordedAt = rec.RecordedAt.UTC()
	if rec.Price, err = parseNumeric(price); err != nil {
		return rec, err
	}
	if rec.StopPrice, err = parseNumeric(stopPrice); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseNumeric(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("bad numeric %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
