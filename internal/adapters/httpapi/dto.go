package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"positionLedger/internal/domain"
)

type openPositionBody struct {
	PortfolioID string           `json:"portfolioId"`
	Instrument  string           `json:"instrument"`
	Quantity    int64            `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	Timestamp   string           `json:"timestamp"`
	StopPrice   *decimal.Decimal `json:"stopPrice,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type tradeBody struct {
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
	Note      string          `json:"note,omitempty"`
}

type stopLossBody struct {
	StopPrice decimal.Decimal `json:"stopPrice"`
	Timestamp string          `json:"timestamp"`
	Note      string          `json:"note,omitempty"`
}

type openPositionResponse struct {
	PositionID string `json:"positionId"`
}

type buyResponse struct {
	PositionID    string `json:"positionId"`
	TotalQuantity int64  `json:"totalQuantity"`
}

type sellResponse struct {
	PositionID        string `json:"positionId"`
	RemainingQuantity int64  `json:"remainingQuantity"`
	IsClosed          bool   `json:"isClosed"`
}

type stopLossResponse struct {
	PositionID string `json:"positionId"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type positionView struct {
	PositionID      string           `json:"positionId"`
	PortfolioID     string           `json:"portfolioId"`
	Instrument      string           `json:"instrument"`
	Status          string           `json:"status"`
	CurrentQuantity int64            `json:"currentQuantity"`
	AverageCost     decimal.Decimal  `json:"averageCost"`
	RealizedPnL     decimal.Decimal  `json:"realizedPnl"`
	IsClosed        bool             `json:"isClosed"`
	ActiveStopLoss  *decimal.Decimal `json:"activeStopLoss"`
	TotalBought     int64            `json:"totalBought"`
	TotalSold       int64            `json:"totalSold"`
	EventCount      int              `json:"eventCount"`
	OpenedAt        time.Time        `json:"openedAt"`
	LastEventAt     time.Time        `json:"lastEventAt"`
	ClosedAt        *time.Time       `json:"closedAt"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Events          []eventView      `json:"events,omitempty"`
}

type eventView struct {
	Seq        int64            `json:"seq"`
	Type       domain.EventKind `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	Quantity   int64            `json:"quantity,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
	Note       string           `json:"note,omitempty"`
	RecordedAt time.Time        `json:"recordedAt"`
}

type listResponse struct {
	Positions []positionView `json:"positions"`
}

func toPositionView(v domain.PositionView, events []domain.Event) positionView {
	out := positionView{
		PositionID:      v.ID,
		PortfolioID:     v.PortfolioID,
		Instrument:      v.Instrument,
		Status:          string(v.Status()),
		CurrentQuantity: v.CurrentQuantity,
		AverageCost:     v.AverageCost.Round(4),
		RealizedPnL:     v.RealizedPnL.Round(4),
		IsClosed:        v.IsClosed,
		ActiveStopLoss:  v.ActiveStop,
		TotalBought:     v.TotalBought,
		TotalSold:       v.TotalSold,
		EventCount:      v.EventCount,
		OpenedAt:        v.OpenedAt,
		LastEventAt:     v.LastEventAt,
		ClosedAt:        v.ClosedAt,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	for _, ev := range events {
		out.Events = append(out.Events, toEventView(ev))
	}
	return out
}

func toEventView(ev domain.Event) eventView {
	rec := domain.RecordOf("", ev)
	out := eventView{
		Seq:        rec.Seq,
		Type:       rec.Kind,
		Timestamp:  rec.Timestamp,
		Quantity:   rec.Quantity,
		Note:       rec.Note,
		RecordedAt: rec.RecordedAt,
	}
	if rec.Price.Valid {
		out.Price = &rec.Price.Decimal
	}
	if rec.StopPrice.Valid {
		out.StopPrice = &rec.StopPrice.Decimal
	}
	return out
}
