package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/alerts"
	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
)

type SyncRunner interface {
	Run(ctx context.Context, b marketsync.Batch) (marketsync.Outcome, error)
}

// SyncPullJob resolves a fixed symbol list through the aggregator and feeds
// the result to the sync job, as an in-process alternative to an external
// scheduler posting batches.
type SyncPullJob struct {
	quotes  alerts.QuoteSource
	sync    SyncRunner
	symbols []string
	log     zerolog.Logger
}

func NewSyncPullJob(quotes alerts.QuoteSource, sync SyncRunner, symbols []string, log zerolog.Logger) *SyncPullJob {
	return &SyncPullJob{
		quotes:  quotes,
		sync:    sync,
		symbols: symbols,
		log:     log.With().Str("job", "market-sync").Logger(),
	}
}

func (j *SyncPullJob) Name() string { return "market-sync" }

func (j *SyncPullJob) Run(ctx context.Context) error {
	resp, err := j.quotes.GetQuotes(ctx, j.symbols, nil)
	if err != nil {
		return err
	}
	if len(resp.Quotes) == 0 {
		return errors.New("no quotes resolved for sync symbols")
	}

	batch := BatchFromQuotes(resp.Quotes, "scheduler")
	if skipped := len(resp.Quotes) - len(batch.Quotes); skipped > 0 {
		j.log.Warn().Int("skipped", skipped).Msg("degraded quotes left out of sync")
	}
	if len(batch.Quotes) == 0 {
		return errors.New("only degraded quotes resolved for sync symbols")
	}

	out, err := j.sync.Run(ctx, batch)
	if err != nil {
		return fmt.Errorf("sync run %s: %w", out.RunID, err)
	}
	j.log.Info().
		Str("run_id", out.RunID).
		Int("br_count", out.BRCount).
		Int("us_count", out.USCount).
		Str("quote_source", string(resp.Source)).
		Msg("pulled sync complete")
	return nil
}

// BatchFromQuotes converts normalized quotes into a sync batch. Degraded
// quotes are stale fallback data and are left out of history.
func BatchFromQuotes(quotes []models.Quote, source string) marketsync.Batch {
	b := marketsync.Batch{Source: source, Quotes: make([]marketsync.Quote, 0, len(quotes))}
	for _, q := range quotes {
		if q.Degraded {
			continue
		}
		b.Quotes = append(b.Quotes, marketsync.Quote{
			Symbol:        q.Symbol,
			Name:          q.Name,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			Market:        string(q.Market),
			Currency:      string(q.Currency),
		})
	}
	return b
}

type AlertRunner interface {
	Run(ctx context.Context) (alerts.Report, error)
}

type AlertJob struct {
	monitor AlertRunner
}

func NewAlertJob(monitor AlertRunner) *AlertJob {
	return &AlertJob{monitor: monitor}
}

func (j *AlertJob) Name() string { return "alert-monitor" }

func (j *AlertJob) Run(ctx context.Context) error {
	_, err := j.monitor.Run(ctx)
	return err
}

var _ alerts.QuoteSource = (*aggregator.Service)(nil)
