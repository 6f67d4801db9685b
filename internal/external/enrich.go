package external

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/marketdash-backend/internal/normalize"
)

// MonthlyEnricher fills MonthlyChangePercent for quotes that arrive without
// one, using the oldest bar of a daily series inside the window.
type MonthlyEnricher struct {
	next   QuoteProvider
	series HistoryProvider
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

func NewMonthlyEnricher(next QuoteProvider, series HistoryProvider, log zerolog.Logger) *MonthlyEnricher {
	return &MonthlyEnricher{
		next:   next,
		series: series,
		window: 30 * 24 * time.Hour,
		log:    log.With().Str("component", "monthly-enricher").Logger(),
		now:    time.Now,
	}
}

func (e *MonthlyEnricher) Name() string { return e.next.Name() }

func (e *MonthlyEnricher) FetchQuotes(ctx context.Context, symbols []string) Result {
	r := e.next.FetchQuotes(ctx, symbols)
	if !r.HasData() {
		return r
	}

	since := dateOf(e.now().Add(-e.window))
	var g errgroup.Group
	g.SetLimit(2)
	for i := range r.Quotes {
		if r.Quotes[i].MonthlyChangePercent != nil {
			continue
		}
		g.Go(func() error {
			q := &r.Quotes[i]
			points, err := e.series.FetchHistory(ctx, q.Symbol)
			if err != nil {
				e.log.Debug().Str("symbol", q.Symbol).Err(err).Msg("monthly change unavailable")
				return nil
			}
			window := normalize.TrimSince(normalize.SortHistoryAscending(points), since)
			q.MonthlyChangePercent = normalize.ComputeMonthlyChange(window, q.Price)
			return nil
		})
	}
	_ = g.Wait()
	return r
}
