// Package marketsync ingests quote batches pushed by an external scheduler,
// appends them to history and rebuilds the per-market rankings.
package marketsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const (
	weekAgo  = 7 * 24 * time.Hour
	monthAgo = 30 * 24 * time.Hour
)

type HistoryStore interface {
	InsertHistory(ctx context.Context, rows []models.HistoryRow) error
	// LatestAtOrBefore returns nil, nil when no row qualifies.
	LatestAtOrBefore(ctx context.Context, symbol string, at time.Time) (*models.HistoryRow, error)
}

type RankingStore interface {
	// ReplaceRankings deletes every row for market and inserts entries.
	ReplaceRankings(ctx context.Context, market models.Market, entries []models.RankingEntry) error
	ListRankings(ctx context.Context, market models.Market, limit int) ([]models.RankingEntry, error)
	UpdateTrailingChanges(ctx context.Context, id int64, weekly, monthly *float64) error
}

type SyncLogStore interface {
	InsertSyncLog(ctx context.Context, entry models.SyncLog) error
}

// Quote is one entry of an ingested batch. Numeric fields accept numbers or
// formatted strings. Market and currency are inferred from the symbol when
// omitted.
type Quote struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Price         any    `json:"price"`
	Change        any    `json:"change"`
	ChangePercent any    `json:"changePercent"`
	Volume        any    `json:"volume"`
	Market        string `json:"market"`
	Currency      string `json:"currency"`
}

type Batch struct {
	Quotes []Quote `json:"quotes"`
	Source string  `json:"source,omitempty"`
}

type Outcome struct {
	RunID   string `json:"run_id,omitempty"`
	Success bool   `json:"success"`
	BRCount int    `json:"br_count"`
	USCount int    `json:"us_count"`
	Error   string `json:"error,omitempty"`
}

// Job is stateless between runs; all state lives in the stores.
type Job struct {
	history  HistoryStore
	rankings RankingStore
	logs     SyncLogStore
	log      zerolog.Logger
	now      func() time.Time
}

func NewJob(history HistoryStore, rankings RankingStore, logs SyncLogStore, log zerolog.Logger) *Job {
	return &Job{
		history:  history,
		rankings: rankings,
		logs:     logs,
		log:      log.With().Str("component", "marketsync").Logger(),
		now:      time.Now,
	}
}

// Run validates the batch, then appends history, replaces rankings for each
// market present, backfills weekly and monthly change and records the
// outcome. A storage failure aborts the remaining steps; steps already done
// stay committed.
func (j *Job) Run(ctx context.Context, b Batch) (Outcome, error) {
	rows, err := validate(b)
	if err != nil {
		return Outcome{Error: err.Error()}, err
	}

	now := j.now().UTC()
	source := strings.TrimSpace(b.Source)
	if source == "" {
		source = "external"
	}
	run := models.SyncLog{RunID: uuid.NewString(), Source: source, StartedAt: now}
	log := j.log.With().Str("run_id", run.RunID).Str("source", source).Logger()

	for i := range rows {
		rows[i].Source = source
		rows[i].RecordedAt = now
	}
	if err := j.history.InsertHistory(ctx, rows); err != nil {
		return j.fail(ctx, log, run, "insert history", err)
	}
	log.Info().Int("rows", len(rows)).Msg("history appended")

	byMarket := rankByMarket(rows, now)
	for _, m := range []models.Market{models.MarketBR, models.MarketUS} {
		entries, ok := byMarket[m]
		if !ok {
			continue
		}
		if err := j.rankings.ReplaceRankings(ctx, m, entries); err != nil {
			return j.fail(ctx, log, run, "replace "+string(m)+" rankings", err)
		}
		log.Info().Str("market", string(m)).Int("entries", len(entries)).Msg("rankings replaced")
	}
	run.BRCount = len(byMarket[models.MarketBR])
	run.USCount = len(byMarket[models.MarketUS])

	for _, m := range []models.Market{models.MarketBR, models.MarketUS} {
		if _, ok := byMarket[m]; !ok {
			continue
		}
		if err := j.backfill(ctx, log, m, now); err != nil {
			return j.fail(ctx, log, run, "backfill "+string(m)+" changes", err)
		}
	}

	run.Status = models.SyncSucceeded
	run.FinishedAt = j.now().UTC()
	if err := j.logs.InsertSyncLog(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to record sync outcome")
	}
	log.Info().Int("br_count", run.BRCount).Int("us_count", run.USCount).Msg("sync complete")

	return Outcome{RunID: run.RunID, Success: true, BRCount: run.BRCount, USCount: run.USCount}, nil
}

func (j *Job) fail(ctx context.Context, log zerolog.Logger, run models.SyncLog, step string, cause error) (Outcome, error) {
	err := fmt.Errorf("%w: %s: %w", models.ErrPersistence, step, cause)
	log.Error().Err(cause).Str("step", step).Msg("sync aborted")

	run.Status = models.SyncFailed
	run.Error = err.Error()
	run.FinishedAt = j.now().UTC()
	if logErr := j.logs.InsertSyncLog(ctx, run); logErr != nil {
		log.Error().Err(logErr).Msg("failed to record sync outcome")
	}
	return Outcome{RunID: run.RunID, BRCount: run.BRCount, USCount: run.USCount, Error: err.Error()}, err
}

// backfill sets weekly and monthly change on every current ranking row of
// market from the latest history row at or before 7 and 30 days ago. Missing
// history leaves the field null.
func (j *Job) backfill(ctx context.Context, log zerolog.Logger, m models.Market, now time.Time) error {
	entries, err := j.rankings.ListRankings(ctx, m, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		weekly := j.trailingChange(ctx, log, e, now.Add(-weekAgo))
		monthly := j.trailingChange(ctx, log, e, now.Add(-monthAgo))
		if weekly == nil && monthly == nil {
			continue
		}
		if err := j.rankings.UpdateTrailingChanges(ctx, e.ID, weekly, monthly); err != nil {
			return err
		}
	}
	return nil
}

// trailingChange is nil when the current row has no price, since a batch
// may carry only the daily change.
func (j *Job) trailingChange(ctx context.Context, log zerolog.Logger, e models.RankingEntry, at time.Time) *float64 {
	if e.Price <= 0 {
		return nil
	}
	past, err := j.history.LatestAtOrBefore(ctx, e.Symbol, at)
	if err != nil {
		log.Warn().Err(err).Str("symbol", e.Symbol).Time("at", at).Msg("history lookup failed")
		return nil
	}
	if past == nil {
		return nil
	}
	return normalize.PercentChange(e.Price, past.Price)
}

func validate(b Batch) ([]models.HistoryRow, error) {
	if len(b.Quotes) == 0 {
		return nil, fmt.Errorf("%w: quotes must be a non-empty array", models.ErrValidation)
	}
	var errs []error
	rows := make([]models.HistoryRow, 0, len(b.Quotes))
	for i, q := range b.Quotes {
		row, err := toRow(q)
		if err != nil {
			errs = append(errs, fmt.Errorf("quotes[%d]: %w", i, err))
			continue
		}
		rows = append(rows, row)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, errors.Join(errs...))
	}
	return rows, nil
}

func toRow(q Quote) (models.HistoryRow, error) {
	sym := market.Normalize(q.Symbol)
	if sym == "" {
		return models.HistoryRow{}, errors.New("symbol is required")
	}

	m := market.Classify(sym)
	if q.Market != "" {
		m = models.Market(strings.ToUpper(strings.TrimSpace(q.Market)))
		if !market.Valid(m) {
			return models.HistoryRow{}, fmt.Errorf("%s: unknown market %q", sym, q.Market)
		}
	}
	cur := market.CurrencyFor(m)
	if q.Currency != "" {
		cur = models.Currency(strings.ToUpper(strings.TrimSpace(q.Currency)))
		if cur != models.CurrencyBRL && cur != models.CurrencyUSD {
			return models.HistoryRow{}, fmt.Errorf("%s: unknown currency %q", sym, q.Currency)
		}
	}

	price := normalize.ParsePrice(q.Price)
	if price < 0 {
		return models.HistoryRow{}, fmt.Errorf("%s: negative price", sym)
	}
	name := strings.TrimSpace(q.Name)
	if name == "" {
		name = sym
	}
	return models.HistoryRow{
		Symbol:        sym,
		Name:          name,
		Price:         price,
		ChangePercent: normalize.ParsePercent(q.ChangePercent),
		Volume:        normalize.ParseVolume(q.Volume),
		Market:        m,
		Currency:      cur,
	}, nil
}

// rankByMarket keeps the last row per symbol, orders each market by daily
// change descending (ties by symbol) and assigns ranks 1..N.
func rankByMarket(rows []models.HistoryRow, at time.Time) map[models.Market][]models.RankingEntry {
	latest := make(map[string]models.HistoryRow, len(rows))
	var order []string
	for _, r := range rows {
		if _, seen := latest[r.Symbol]; !seen {
			order = append(order, r.Symbol)
		}
		latest[r.Symbol] = r
	}

	out := make(map[models.Market][]models.RankingEntry)
	for _, sym := range order {
		r := latest[sym]
		out[r.Market] = append(out[r.Market], models.RankingEntry{
			Symbol:        r.Symbol,
			Name:          r.Name,
			Price:         r.Price,
			ChangePercent: r.ChangePercent,
			Market:        r.Market,
			CalculatedAt:  at,
		})
	}
	for m, entries := range out {
		slices.SortStableFunc(entries, func(a, b models.RankingEntry) int {
			switch {
			case a.ChangePercent > b.ChangePercent:
				return -1
			case a.ChangePercent < b.ChangePercent:
				return 1
			}
			return strings.Compare(a.Symbol, b.Symbol)
		})
		for i := range entries {
			entries[i].RankPosition = i + 1
		}
		out[m] = entries
	}
	return out
}
