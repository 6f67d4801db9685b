package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

// Chain tries strategies in order. Each later strategy is only asked for the
// symbols still missing, so a primary that fails for one ticker gets that
// ticker filled from the next strategy. Anything served past the first
// strategy marks the combined result degraded, and so do symbols that no
// strategy could serve.
type Chain struct {
	name       string
	strategies []QuoteProvider
	log        zerolog.Logger
}

func NewChain(name string, log zerolog.Logger, strategies ...QuoteProvider) *Chain {
	return &Chain{
		name:       name,
		strategies: strategies,
		log:        log.With().Str("chain", name).Logger(),
	}
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) FetchQuotes(ctx context.Context, symbols []string) Result {
	remaining := normalized(symbols)
	var (
		quotes   []models.Quote
		history  map[string][]models.HistoryPoint
		reasons  []error
		degraded bool
	)

	for i, s := range c.strategies {
		if len(remaining) == 0 {
			break
		}
		r := s.FetchQuotes(ctx, remaining)
		if r.Reason != nil {
			reasons = append(reasons, fmt.Errorf("%s: %w", s.Name(), r.Reason))
		}
		if !r.HasData() {
			c.log.Warn().
				Str("provider", s.Name()).
				Strs("symbols", remaining).
				Err(r.Reason).
				Msg("strategy returned no data")
			continue
		}
		if i > 0 || r.Status == StatusDegraded {
			degraded = true
		}

		quotes = append(quotes, r.Quotes...)
		for sym, points := range r.History {
			if history == nil {
				history = make(map[string][]models.HistoryPoint)
			}
			history[sym] = points
		}
		remaining = without(remaining, r.Quotes)
	}

	reason := errors.Join(reasons...)
	switch {
	case len(quotes) == 0:
		return Empty(c.name, reason)
	case degraded || len(remaining) > 0:
		r := Degraded(c.name, quotes, reason)
		r.History = history
		return r
	default:
		r := OK(c.name, quotes)
		r.History = history
		r.Reason = reason
		return r
	}
}

func normalized(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = market.Normalize(s)
		if _, dup := seen[s]; s == "" || dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func without(symbols []string, got []models.Quote) []string {
	have := make(map[string]struct{}, len(got))
	for _, q := range got {
		have[q.Symbol] = struct{}{}
	}
	out := symbols[:0:0]
	for _, s := range symbols {
		if _, ok := have[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
