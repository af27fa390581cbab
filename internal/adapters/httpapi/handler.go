// Package httpapi exposes the position service over REST.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"positionLedger/internal/app"
	"positionLedger/internal/domain"
	"positionLedger/internal/ports"
)

const maxBodyBytes = 1 << 20

// PositionService is the part of app.PositionService the handler drives.
type PositionService interface {
	OpenPosition(ctx context.Context, req app.OpenPositionRequest) (string, error)
	BuyShares(ctx context.Context, req app.TradeRequest) (*app.BuyResult, error)
	SellShares(ctx context.Context, req app.TradeRequest) (*app.SellResult, error)
	SetStopLoss(ctx context.Context, req app.StopLossRequest) (*app.StopLossResult, error)
	GetPosition(ctx context.Context, positionID string) (*app.PositionDetails, error)
	ListPositions(ctx context.Context, filter ports.PositionFilter) ([]domain.PositionView, error)
}

// Config holds the handler options.
type Config struct {
	RequestTimeout time.Duration
	Metrics        http.Handler // Served at /metrics when set
}

// Handler routes REST requests to the position service.
type Handler struct {
	svc    PositionService
	logger ports.Logger
	cfg    Config
	mux    *http.ServeMux
}

// NewHandler creates the REST handler.
func NewHandler(svc PositionService, logger ports.Logger, cfg Config) (*Handler, error) {
	if svc == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Handler")
	}
	h := &Handler{svc: svc, logger: logger, cfg: cfg, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /positions", h.openPosition)
	h.mux.HandleFunc("GET /positions", h.listPositions)
	h.mux.HandleFunc("GET /positions/{id}", h.getPosition)
	h.mux.HandleFunc("PUT /positions/{id}/buy", h.buyShares)
	h.mux.HandleFunc("PUT /positions/{id}/sell", h.sellShares)
	h.mux.HandleFunc("PUT /positions/{id}/stop-loss", h.setStopLoss)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", cfg.Metrics)
	}
	return h, nil
}

// ServeHTTP applies the request timeout and dispatches.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.RequestTimeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) openPosition(w http.ResponseWriter, r *http.Request) {
	var body openPositionBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	ts, err := parseTimestamp(body.Timestamp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.svc.OpenPosition(r.Context(), app.OpenPositionRequest{
		PortfolioID: body.PortfolioID,
		Instrument:  body.Instrument,
		Quantity:    body.Quantity,
		Price:       body.Price,
		Timestamp:   ts,
		StopPrice:   body.StopPrice,
		Note:        body.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, openPositionResponse{PositionID: id})
}

func (h *Handler) buyShares(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTrade(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.BuyShares(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, buyResponse{PositionID: res.PositionID, TotalQuantity: res.TotalQuantity})
}

func (h *Handler) sellShares(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTrade(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.SellShares(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, sellResponse{
		PositionID:        res.PositionID,
		RemainingQuantity: res.RemainingQuantity,
		IsClosed:          res.IsClosed,
	})
}

func (h *Handler) setStopLoss(w http.ResponseWriter, r *http.Request) {
	var body stopLossBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	ts, err := parseTimestamp(body.Timestamp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.SetStopLoss(r.Context(), app.StopLossRequest{
		PositionID: r.PathValue("id"),
		StopPrice:  body.StopPrice,
		Timestamp:  ts,
		Note:       body.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stopLossResponse{PositionID: res.PositionID})
}

func (h *Handler) getPosition(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toPositionView(details.View, details.Events))
}

func (h *Handler) listPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	views, err := h.svc.ListPositions(r.Context(), ports.PositionFilter{
		PortfolioID: q.Get("portfolioId"),
		Instrument:  q.Get("instrument"),
		Status:      domain.PositionStatus(strings.ToLower(q.Get("status"))),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := listResponse{Positions: make([]positionView, 0, len(views))}
	for _, v := range views {
		resp.Positions = append(resp.Positions, toPositionView(v, nil))
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

func decodeTrade(r *http.Request) (app.TradeRequest, error) {
	var body tradeBody
	if err := decodeBody(r, &body); err != nil {
		return app.TradeRequest{}, err
	}
	ts, err := parseTimestamp(body.Timestamp)
	if err != nil {
		return app.TradeRequest{}, err
	}
	return app.TradeRequest{
		PositionID: r.PathValue("id"),
		Quantity:   body.Quantity,
		Price:      body.Price,
		Timestamp:  ts,
		Note:       body.Note,
	}, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %v: %w", err, ports.ErrInvalidInput)
	}
	if len(data) > maxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes: %w", maxBodyBytes, ports.ErrInvalidInput)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("request body is empty: %w", ports.ErrInvalidInput)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("malformed JSON body: %v: %w", err, ports.ErrInvalidInput)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required: %w", ports.ErrInvalidInput)
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601: %w", s, ports.ErrInvalidInput)
	}
	return ts.UTC(), nil
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrPositionClosed), errors.Is(err, ports.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ports.ErrSellExceedsHolding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), err, "Unhandled request error", map[string]interface{}{"method": r.Method, "path": r.URL.Path})
		msg = "internal error"
	}
	if ports.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, r, status, errorResponse{Status: status, Code: ports.ErrorCode(err), Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Error(r.Context(), err, "Failed to encode response", map[string]interface{}{"path": r.URL.Path})
		http.Error(w, `{"status":500,"code":"INTERNAL","message":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
