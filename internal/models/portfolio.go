package models

import "time"

// PortfolioPosition is owned by the external store; read-only here.
type PortfolioPosition struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	AverageCost  float64   `json:"average_cost"`
	PurchaseDate time.Time `json:"purchase_date"`
}

type PositionValuation struct {
	PortfolioPosition
	Quote             *Quote   `json:"quote"`
	MarketValue       *float64 `json:"market_value"`
	CostBasis         float64  `json:"cost_basis"`
	ProfitLoss        *float64 `json:"profit_loss"`
	ProfitLossPercent *float64 `json:"profit_loss_percent"`
}
