package external

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

// finish applies the invariants every canonical quote must hold: an
// upper-case symbol, a classified market and currency, a non-negative price
// and a change sign that agrees with previous close. It reports false for
// quotes that must be dropped.
func finish(q *models.Quote, provider string, now time.Time) bool {
	q.Symbol = market.Normalize(q.Symbol)
	if q.Symbol == "" || q.Price <= 0 {
		return false
	}
	if q.Name == "" {
		q.Name = q.Symbol
	}
	q.Market = market.Classify(q.Symbol)
	q.Currency = market.CurrencyFor(q.Market)
	normalize.ReconcileChangeSign(q)
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = now
	}
	q.Source = provider
	return true
}

// logFailure records enough context to diagnose a failed upstream call.
func logFailure(log zerolog.Logger, provider string, symbols []string, err error) {
	if errors.Is(err, models.ErrConfigurationMissing) {
		log.Debug().Str("provider", provider).Msg("provider not configured, skipping")
		return
	}
	ev := log.Warn().Str("provider", provider).Strs("symbols", symbols).Err(err)
	if code := httputil.StatusCode(err); code != 0 {
		ev = ev.Int("status", code)
	}
	ev.Msg("upstream fetch failed")
}

func dateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
