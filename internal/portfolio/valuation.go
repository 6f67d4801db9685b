// Package portfolio values a user's positions against current quotes.
package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kjannette/marketdash-backend/internal/alerts"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
	"github.com/kjannette/marketdash-backend/internal/repository"
)

type Summary struct {
	UserID            string                     `json:"user_id"`
	Positions         []models.PositionValuation `json:"positions"`
	TotalMarketValue  float64                    `json:"total_market_value"`
	TotalCostBasis    float64                    `json:"total_cost_basis"`
	TotalProfitLoss   float64                    `json:"total_profit_loss"`
	ProfitLossPercent *float64                   `json:"profit_loss_percent"`
	// Unpriced counts positions with no current quote; they are left out of
	// the totals.
	Unpriced int    `json:"unpriced"`
	Source   string `json:"source"`
}

type Service struct {
	store  repository.PortfolioStore
	quotes alerts.QuoteSource
	log    zerolog.Logger
}

func NewService(store repository.PortfolioStore, quotes alerts.QuoteSource, log zerolog.Logger) *Service {
	return &Service{store: store, quotes: quotes, log: log.With().Str("component", "portfolio").Logger()}
}

func (s *Service) Valuate(ctx context.Context, userID string) (Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Summary{}, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	positions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: list positions: %w", models.ErrPersistence, err)
	}
	if len(positions) == 0 {
		return Summary{UserID: userID, Positions: []models.PositionValuation{}, Source: "api"}, nil
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	resp, err := s.quotes.GetQuotes(ctx, symbols, nil)
	if err != nil {
		return Summary{}, err
	}

	sum := Value(positions, resp.Quotes)
	sum.UserID = userID
	sum.Source = string(resp.Source)
	s.log.Debug().Str("user_id", userID).Int("positions", len(positions)).Int("unpriced", sum.Unpriced).Msg("portfolio valued")
	return sum, nil
}

// Value prices each position with the quote for its symbol.
func Value(positions []models.PortfolioPosition, quotes []models.Quote) Summary {
	bySymbol := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}

	var totalValue, totalCost decimal.Decimal
	out := Summary{Positions: make([]models.PositionValuation, 0, len(positions))}
	for _, p := range positions {
		qty := decimal.NewFromFloat(p.Quantity)
		cost := qty.Mul(decimal.NewFromFloat(p.AverageCost))
		v := models.PositionValuation{PortfolioPosition: p, CostBasis: cost.InexactFloat64()}

		q, ok := bySymbol[market.Normalize(p.Symbol)]
		if !ok || q.Price <= 0 {
			out.Unpriced++
			out.Positions = append(out.Positions, v)
			continue
		}
		value := qty.Mul(decimal.NewFromFloat(q.Price))
		pl := value.Sub(cost)
		mv, plf := value.InexactFloat64(), pl.InexactFloat64()
		v.Quote = &q
		v.MarketValue = &mv
		v.ProfitLoss = &plf
		v.ProfitLossPercent = normalize.PercentChange(mv, v.CostBasis)

		totalValue = totalValue.Add(value)
		totalCost = totalCost.Add(cost)
		out.Positions = append(out.Positions, v)
	}

	out.TotalMarketValue = totalValue.InexactFloat64()
	out.TotalCostBasis = totalCost.InexactFloat64()
	out.TotalProfitLoss = totalValue.Sub(totalCost).InexactFloat64()
	out.ProfitLossPercent = normalize.PercentChange(out.TotalMarketValue, out.TotalCostBasis)
	return out
}
