package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
	"positionLedger/internal/ledger"
	"positionLedger/internal/locking"
	"positionLedger/internal/ports"
)

const (
	opOpen     = "open"
	opBuy      = "buy"
	opSell     = "sell"
	opStopLoss = "stop_loss"

	defaultLockTimeout = 2 * time.Second
	defaultCacheSize   = 1024
)

// Config holds the tunables of the position service.
type Config struct {
	LockTimeout time.Duration // How long a mutation waits for its aggregate lock
	CacheSize   int           // Max cached projections; 0 means defaultCacheSize
}

// PositionService is the public operation surface of the position ledger.
// Mutations on one position are serialized through the lock table; reads
// project whatever events are committed and never take the lock.
type PositionService struct {
	logger      ports.Logger
	store       ports.EventStore
	locks       *locking.KeyedLock
	metrics     ports.Metrics
	lockTimeout time.Duration
	cacheSize   int

	newID func() string
	now   func() time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedProjection // Keyed by position id
}

type cachedProjection struct {
	eventCount int
	projection domain.Projection
}

// NewPositionService creates a new position service instance.
func NewPositionService(
	cfg Config,
	logger ports.Logger,
	store ports.EventStore,
	locks *locking.KeyedLock,
	metrics ports.Metrics,
) (*PositionService, error) {
	if logger == nil || store == nil || locks == nil || metrics == nil {
		return nil, fmt.Errorf("missing required dependencies for PositionService")
	}
	if cfg.LockTimeout < 0 {
		return nil, fmt.Errorf("configuration LockTimeout cannot be negative")
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("configuration CacheSize cannot be negative")
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = defaultLockTimeout
	}

	return &PositionService{
		logger:      logger,
		store:       store,
		locks:       locks,
		metrics:     metrics,
		lockTimeout: cfg.LockTimeout,
		cacheSize:   cfg.CacheSize,
		newID:       func() string { return uuid.NewString() },
		now:         func() time.Time { return domain.LedgerTime(time.Now()) },
		cache:       make(map[string]cachedProjection),
	}, nil
}

// OpenPositionRequest carries the inputs of OpenPosition.
type OpenPositionRequest struct {
	PortfolioID string
	Instrument  string
	Quantity    int64
	Price       decimal.Decimal
	Timestamp   time.Time
	StopPrice   *decimal.Decimal // Optional initial stop, recorded at Timestamp
	Note        string
}

// TradeRequest carries the inputs of BuyShares and SellShares.
type TradeRequest struct {
	PositionID string
	Quantity   int64
	Price      decimal.Decimal
	Timestamp  time.Time
	Note       string
}

// StopLossRequest carries the inputs of SetStopLoss.
type StopLossRequest struct {
	PositionID string
	StopPrice  decimal.Decimal
	Timestamp  time.Time
	Note       string
}

// BuyResult is returned by BuyShares.
type BuyResult struct {
	PositionID    string
	TotalQuantity int64
}

// SellResult is returned by SellShares.
type SellResult struct {
	PositionID        string
	RemainingQuantity int64
	IsClosed          bool
}

// StopLossResult is returned by SetStopLoss.
type StopLossResult struct {
	PositionID string
}

// PositionDetails is a position's view together with its ledger in
// (timestamp, seq) order.
type PositionDetails struct {
	View   domain.PositionView
	Events []domain.Event
}

// OpenPosition creates a position whose ledger starts with an OPEN event.
func (s *PositionService) OpenPosition(ctx context.Context, req OpenPositionRequest) (id string, err error) {
	defer func() { s.finish(ctx, opOpen, id, err) }()

	portfolioID := strings.TrimSpace(req.PortfolioID)
	instrument := strings.ToUpper(strings.TrimSpace(req.Instrument))
	if portfolioID == "" {
		return "", invalidf("portfolio id is required")
	}
	if !domain.TickerPattern.MatchString(instrument) {
		return "", invalidf("invalid instrument %q", req.Instrument)
	}
	if err := checkTrade(req.Quantity, req.Price, req.Timestamp); err != nil {
		return "", err
	}
	if req.StopPrice != nil && !req.StopPrice.IsPositive() {
		return "", invalidf("stop price must be positive, got %s", req.StopPrice)
	}

	id = s.newID()
	release, err := s.acquire(ctx, opOpen, id)
	if err != nil {
		return "", err
	}
	defer release()

	now := domain.LedgerTime(s.now())
	meta := domain.EventMeta{Timestamp: domain.LedgerTime(req.Timestamp), Note: req.Note, RecordedAt: now}
	events := []domain.Event{domain.OpenEvent{EventMeta: meta, Quantity: req.Quantity, Price: req.Price}}
	if err := ledger.Validate(nil, events[0]); err != nil {
		return "", err
	}
	if req.StopPrice != nil {
		stop := domain.StopLossEvent{EventMeta: meta, StopPrice: *req.StopPrice}
		if err := ledger.Validate([]domain.Event{domain.WithSeq(events[0], 1, now)}, stop); err != nil {
			return "", err
		}
		events = append(events, stop)
	}

	pos := &domain.Position{
		ID:          id,
		PortfolioID: portfolioID,
		Instrument:  instrument,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.store.CreatePosition(ctx, pos, events); err != nil {
		return "", fmt.Errorf("failed to create position: %w", err)
	}
	return id, nil
}

// BuyShares adds a BUY lot to a position.
func (s *PositionService) BuyShares(ctx context.Context, req TradeRequest) (res *BuyResult, err error) {
	defer func() { s.finish(ctx, opBuy, req.PositionID, err) }()

	if err := checkPositionID(req.PositionID); err != nil {
		return nil, err
	}
	if err := checkTrade(req.Quantity, req.Price, req.Timestamp); err != nil {
		return nil, err
	}
	ev := domain.BuyEvent{
		EventMeta: domain.EventMeta{Timestamp: domain.LedgerTime(req.Timestamp), Note: req.Note},
		Quantity:  req.Quantity,
		Price:     req.Price,
	}
	p, err := s.mutate(ctx, opBuy, req.PositionID, ev)
	if err != nil {
		return nil, err
	}
	return &BuyResult{PositionID: req.PositionID, TotalQuantity: p.CurrentQuantity}, nil
}

// SellShares records a SELL against a position.
func (s *PositionService) SellShares(ctx context.Context, req TradeRequest) (res *SellResult, err error) {
	defer func() { s.finish(ctx, opSell, req.PositionID, err) }()

	if err := checkPositionID(req.PositionID); err != nil {
		return nil, err
	}
	if err := checkTrade(req.Quantity, req.Price, req.Timestamp); err != nil {
		return nil, err
	}
	ev := domain.SellEvent{
		EventMeta: domain.EventMeta{Timestamp: domain.LedgerTime(req.Timestamp), Note: req.Note},
		Quantity:  req.Quantity,
		Price:     req.Price,
	}
	p, err := s.mutate(ctx, opSell, req.PositionID, ev)
	if err != nil {
		return nil, err
	}
	return &SellResult{PositionID: req.PositionID, RemainingQuantity: p.CurrentQuantity, IsClosed: p.IsClosed}, nil
}

// SetStopLoss records advisory stop-loss metadata. It never sells.
func (s *PositionService) SetStopLoss(ctx context.Context, req StopLossRequest) (res *StopLossResult, err error) {
	defer func() { s.finish(ctx, opStopLoss, req.PositionID, err) }()

	if err := checkPositionID(req.PositionID); err != nil {
		return nil, err
	}
	if !req.StopPrice.IsPositive() {
		return nil, invalidf("stop price must be positive, got %s", req.StopPrice)
	}
	if req.Timestamp.IsZero() {
		return nil, invalidf("timestamp is required")
	}
	ev := domain.StopLossEvent{
		EventMeta: domain.EventMeta{Timestamp: domain.LedgerTime(req.Timestamp), Note: req.Note},
		StopPrice: req.StopPrice,
	}
	if _, err := s.mutate(ctx, opStopLoss, req.PositionID, ev); err != nil {
		return nil, err
	}
	return &StopLossResult{PositionID: req.PositionID}, nil
}

// GetPosition returns a position's current view and its ordered ledger.
func (s *PositionService) GetPosition(ctx context.Context, positionID string) (*PositionDetails, error) {
	if err := checkPositionID(positionID); err != nil {
		return nil, err
	}
	pos, err := s.store.FindPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position %s: %w", positionID, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("position %s: %w", positionID, ports.ErrNotFound)
	}
	events, err := s.store.ListEvents(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events of position %s: %w", positionID, err)
	}
	p, err := s.project(positionID, events)
	if err != nil {
		return nil, err
	}
	return &PositionDetails{
		View:   domain.PositionView{Position: *pos, Projection: p},
		Events: ledger.Sorted(events),
	}, nil
}

// ListPositions returns the views of all positions matching filter, newest first.
// A position whose ledger cannot be projected is logged and left out.
func (s *PositionService) ListPositions(ctx context.Context, filter ports.PositionFilter) ([]domain.PositionView, error) {
	switch filter.Status {
	case "", domain.StatusOpen, domain.StatusClosed:
	default:
		return nil, invalidf("unknown status filter %q", filter.Status)
	}
	filter.Instrument = strings.ToUpper(strings.TrimSpace(filter.Instrument))

	positions, err := s.store.ListPositions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	views := make([]domain.PositionView, 0, len(positions))
	for _, pos := range positions {
		events, err := s.store.ListEvents(ctx, pos.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load events of position %s: %w", pos.ID, err)
		}
		p, err := s.project(pos.ID, events)
		if err != nil {
			s.logger.Error(ctx, err, "Skipping position with inconsistent ledger", map[string]interface{}{"positionID": pos.ID})
			continue
		}
		if filter.Status != "" && p.Status() != filter.Status {
			continue
		}
		views = append(views, domain.PositionView{Position: *pos, Projection: p})
	}
	return views, nil
}

// mutate runs load -> validate -> append under the position's lock and
// returns the projection including the new event.
func (s *PositionService) mutate(ctx context.Context, op, positionID string, candidate domain.Event) (domain.Projection, error) {
	release, err := s.acquire(ctx, op, positionID)
	if err != nil {
		return domain.Projection{}, err
	}
	defer release()

	pos, err := s.store.FindPosition(ctx, positionID)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("failed to load position %s: %w", positionID, err)
	}
	if pos == nil {
		return domain.Projection{}, fmt.Errorf("position %s: %w", positionID, ports.ErrNotFound)
	}
	events, err := s.store.ListEvents(ctx, positionID)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("failed to load events of position %s: %w", positionID, err)
	}

	if err := ledger.Validate(events, candidate); err != nil {
		return domain.Projection{}, err
	}

	recordedAt := domain.LedgerTime(s.now())
	seq, err := s.store.Append(ctx, positionID, domain.WithSeq(candidate, 0, recordedAt))
	s.invalidate(positionID)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("failed to append %s to position %s: %w", candidate.Kind(), positionID, err)
	}

	committed := append(events, domain.WithSeq(candidate, seq, recordedAt))
	return s.project(positionID, committed)
}

func (s *PositionService) acquire(ctx context.Context, op, positionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := s.locks.Acquire(lockCtx, positionID)
	s.metrics.LockWaited(op, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for lock on position %s: %w", positionID, ctx.Err())
		}
		return nil, fmt.Errorf("lock on position %s not acquired within %s: %w", positionID, s.lockTimeout, ports.ErrConcurrentModification)
	}
	return release, nil
}

// project returns the projection of events, reusing the cached one when the
// ledger has not grown since it was computed.
func (s *PositionService) project(positionID string, events []domain.Event) (domain.Projection, error) {
	s.cacheMu.Lock()
	c, ok := s.cache[positionID]
	s.cacheMu.Unlock()
	if ok && c.eventCount == len(events) {
		return c.projection, nil
	}

	p, err := ledger.Project(events)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("position %s has an inconsistent ledger: %w", positionID, err)
	}

	s.cacheMu.Lock()
	if _, ok := s.cache[positionID]; !ok && len(s.cache) >= s.cacheSize {
		// Evict an arbitrary entry; a miss only costs one replay.
		for k := range s.cache {
			delete(s.cache, k)
			break
		}
	}
	s.cache[positionID] = cachedProjection{eventCount: len(events), projection: p}
	s.cacheMu.Unlock()
	return p, nil
}

func (s *PositionService) invalidate(positionID string) {
	s.cacheMu.Lock()
	delete(s.cache, positionID)
	s.cacheMu.Unlock()
}

// finish records the outcome of a mutation in metrics and logs.
func (s *PositionService) finish(ctx context.Context, op, positionID string, err error) {
	s.metrics.MutationRecorded(op, err)
	fields := map[string]interface{}{"op": op, "positionID": positionID}
	switch {
	case err == nil:
		s.logger.Info(ctx, "Position mutation accepted", fields)
	case errors.Is(err, ports.ErrStorageUnavailable):
		s.logger.Error(ctx, err, "Position mutation failed on storage", fields)
	default:
		fields["code"] = ports.ErrorCode(err)
		fields["reason"] = err.Error()
		s.logger.Warn(ctx, "Position mutation rejected", fields)
	}
}

func checkPositionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalidf("malformed position id %q", id)
	}
	return nil
}

func checkTrade(qty int64, price decimal.Decimal, ts time.Time) error {
	if qty <= 0 {
		return invalidf("quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return invalidf("price must be positive, got %s", price)
	}
	if ts.IsZero() {
		return invalidf("timestamp is required")
	}
	return nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ports.ErrInvalidInput)
}
