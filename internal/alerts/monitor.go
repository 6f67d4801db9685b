// Package alerts evaluates active price alerts against live quotes.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/repository"
)

type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string, onProgress aggregator.ProgressFunc) (aggregator.Response, error)
}

type Notifier interface {
	Enabled() bool
	SendAlert(ctx context.Context, a models.AlertWithProfile, price float64) error
}

// Report summarizes one monitor pass.
type Report struct {
	Checked   int `json:"checked"`
	Triggered int `json:"triggered"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type Monitor struct {
	store    repository.AlertStore
	quotes   QuoteSource
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewMonitor(store repository.AlertStore, quotes QuoteSource, notifier Notifier, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:    store,
		quotes:   quotes,
		notifier: notifier,
		log:      log.With().Str("component", "alerts").Logger(),
		now:      time.Now,
	}
}

// Active lists active alerts with owner contact details.
func (m *Monitor) Active(ctx context.Context) ([]models.AlertWithProfile, error) {
	out, err := m.store.ListActiveWithProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list alerts: %w", models.ErrPersistence, err)
	}
	return out, nil
}

// Acknowledge marks one alert triggered and inactive.
func (m *Monitor) Acknowledge(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: alert_id is required", models.ErrValidation)
	}
	err := m.store.MarkTriggered(ctx, id, m.now().UTC())
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("alert %s: %w", id, err)
	case err != nil:
		return fmt.Errorf("%w: mark alert %s: %w", models.ErrPersistence, id, err)
	}
	return nil
}

// Run checks every active alert once. A triggered alert is deactivated after
// delivery; when delivery fails it stays active and is retried on the next
// pass. With no notifier configured alerts are deactivated undelivered.
func (m *Monitor) Run(ctx context.Context) (Report, error) {
	active, err := m.Active(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Checked: len(active)}
	if len(active) == 0 {
		return rep, nil
	}

	symbols := make([]string, 0, len(active))
	for _, a := range active {
		symbols = append(symbols, market.Normalize(a.Symbol))
	}
	resp, err := m.quotes.GetQuotes(ctx, symbols, nil)
	if err != nil {
		return rep, fmt.Errorf("resolve alert quotes: %w", err)
	}
	prices := make(map[string]float64, len(resp.Quotes))
	for _, q := range resp.Quotes {
		prices[q.Symbol] = q.Price
	}

	for _, a := range active {
		price, ok := prices[market.Normalize(a.Symbol)]
		if !ok || !a.Triggered(price) {
			continue
		}
		rep.Triggered++
		log := m.log.With().Str("alert_id", a.ID).Str("symbol", a.Symbol).Float64("price", price).Logger()

		if m.notifier != nil && m.notifier.Enabled() {
			if err := m.notifier.SendAlert(ctx, a, price); err != nil {
				rep.Failed++
				log.Warn().Err(err).Msg("alert not delivered, will retry")
				continue
			}
			rep.Delivered++
		} else {
			log.Warn().Msg("no notifier configured, deactivating undelivered alert")
		}

		if err := m.Acknowledge(ctx, a.ID); err != nil {
			return rep, err
		}
		log.Info().Msg("alert triggered")
	}

	m.log.Info().
		Int("checked", rep.Checked).
		Int("triggered", rep.Triggered).
		Int("delivered", rep.Delivered).
		Int("failed", rep.Failed).
		Msg("alert pass complete")
	return rep, nil
}
