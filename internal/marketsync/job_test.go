package marketsync

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/marketdash-backend/internal/models"
)

// memStore is an in-memory implementation of all three stores.
type memStore struct {
	mu       sync.Mutex
	history  []models.HistoryRow
	rankings []models.RankingEntry
	logs     []models.SyncLog
	nextID   int64

	failInsert  error
	failReplace error
}

func (s *memStore) InsertHistory(_ context.Context, rows []models.HistoryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return s.failInsert
	}
	s.history = append(s.history, rows...)
	return nil
}

func (s *memStore) LatestAtOrBefore(_ context.Context, symbol string, at time.Time) (*models.HistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.HistoryRow
	for i := range s.history {
		r := s.history[i]
		if r.Symbol != symbol || r.RecordedAt.After(at) {
			continue
		}
		if best == nil || r.RecordedAt.After(best.RecordedAt) {
			best = &r
		}
	}
	return best, nil
}

func (s *memStore) ReplaceRankings(_ context.Context, m models.Market, entries []models.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplace != nil {
		return s.failReplace
	}
	s.rankings = slices.DeleteFunc(s.rankings, func(e models.RankingEntry) bool { return e.Market == m })
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.rankings = append(s.rankings, e)
	}
	return nil
}

func (s *memStore) ListRankings(_ context.Context, m models.Market, limit int) ([]models.RankingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RankingEntry
	for _, e := range s.rankings {
		if e.Market == m {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.RankingEntry) int { return a.RankPosition - b.RankPosition })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateTrailingChanges(_ context.Context, id int64, weekly, monthly *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rankings {
		if s.rankings[i].ID == id {
			s.rankings[i].WeeklyChangePercent = weekly
			s.rankings[i].MonthlyChangePercent = monthly
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memStore) InsertSyncLog(_ context.Context, entry models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

var now = time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

func newJob(s *memStore) *Job {
	j := NewJob(s, s, s, zerolog.Nop())
	j.now = func() time.Time { return now }
	return j
}

func TestRun_RankingsForUSBatch(t *testing.T) {
	s := &memStore{}
	out, err := newJob(s).Run(context.Background(), Batch{
		Quotes: []Quote{
			{Symbol: "MSFT", ChangePercent: 2},
			{Symbol: "AAPL", ChangePercent: 5},
		},
		Source: "test",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, out.BRCount)
	assert.Equal(t, 2, out.USCount)
	assert.NotEmpty(t, out.RunID)

	us, _ := s.ListRankings(context.Background(), models.MarketUS, 0)
	require.Len(t, us, 2)
	assert.Equal(t, "AAPL", us[0].Symbol)
	assert.Equal(t, 1, us[0].RankPosition)
	assert.Equal(t, "MSFT", us[1].Symbol)
	assert.Equal(t, 2, us[1].RankPosition)

	require.Len(t, s.history, 2)
	assert.Equal(t, "test", s.history[0].Source)
	require.Len(t, s.logs, 1)
	assert.Equal(t, models.SyncSucceeded, s.logs[0].Status)
}

func TestRun_ReplaceIsContiguousPerMarket(t *testing.T) {
	s := &memStore{}
	job := newJob(s)

	_, err := job.Run(context.Background(), Batch{Quotes: []Quote{
		{Symbol: "PETR4", ChangePercent: "1,5%"},
		{Symbol: "VALE3", ChangePercent: "-0,5%"},
		{Symbol: "ITUB4", ChangePercent: 3},
		{Symbol: "AAPL", ChangePercent: 1},
	}})
	require.NoError(t, err)

	out, err := job.Run(context.Background(), Batch{Quotes: []Quote{
		{Symbol: "BBAS3", ChangePercent: 0.2, Market: "br", Currency: "brl"},
		{Symbol: "WEGE3", ChangePercent: 4.1},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.BRCount)

	br, _ := s.ListRankings(context.Background(), models.MarketBR, 0)
	require.Len(t, br, 2, "previous BR rows are fully replaced")
	assert.Equal(t, []string{"WEGE3", "BBAS3"}, []string{br[0].Symbol, br[1].Symbol})
	assert.Equal(t, []int{1, 2}, []int{br[0].RankPosition, br[1].RankPosition})

	us, _ := s.ListRankings(context.Background(), models.MarketUS, 0)
	assert.Len(t, us, 1, "a market absent from the batch keeps its rankings")
}

func TestRun_DuplicateSymbolsKeepLast(t *testing.T) {
	s := &memStore{}
	out, err := newJob(s).Run(context.Background(), Batch{Quotes: []Quote{
		{Symbol: "AAPL", ChangePercent: 1},
		{Symbol: "aapl", ChangePercent: 3},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.USCount)
	us, _ := s.ListRankings(context.Background(), models.MarketUS, 0)
	require.Len(t, us, 1)
	assert.Equal(t, 3.0, us[0].ChangePercent)
	assert.Len(t, s.history, 2, "history keeps every submitted row")
}

func TestRun_BackfillsWeeklyAndMonthly(t *testing.T) {
	s := &memStore{history: []models.HistoryRow{
		{Symbol: "AAPL", Price: 100, RecordedAt: now.Add(-8 * 24 * time.Hour)},
		{Symbol: "AAPL", Price: 90, RecordedAt: now.Add(-10 * 24 * time.Hour)},
		{Symbol: "AAPL", Price: 80, RecordedAt: now.Add(-31 * 24 * time.Hour)},
		{Symbol: "MSFT", Price: 50, RecordedAt: now.Add(-9 * 24 * time.Hour)},
		{Symbol: "NVDA", Price: 10, RecordedAt: now.Add(-2 * 24 * time.Hour)},
	}}
	_, err := newJob(s).Run(context.Background(), Batch{Quotes: []Quote{
		{Symbol: "AAPL", Price: 110, ChangePercent: 1},
		{Symbol: "MSFT", Price: "55", ChangePercent: 2},
		{Symbol: "NVDA", Price: 12, ChangePercent: 3},
	}})
	require.NoError(t, err)

	got := map[string]models.RankingEntry{}
	us, _ := s.ListRankings(context.Background(), models.MarketUS, 0)
	for _, e := range us {
		got[e.Symbol] = e
	}

	require.NotNil(t, got["AAPL"].WeeklyChangePercent)
	assert.InDelta(t, 10.0, *got["AAPL"].WeeklyChangePercent, 1e-9)
	require.NotNil(t, got["AAPL"].MonthlyChangePercent)
	assert.InDelta(t, 37.5, *got["AAPL"].MonthlyChangePercent, 1e-9)

	require.NotNil(t, got["MSFT"].WeeklyChangePercent)
	assert.InDelta(t, 10.0, *got["MSFT"].WeeklyChangePercent, 1e-9)
	assert.Nil(t, got["MSFT"].MonthlyChangePercent)

	assert.Nil(t, got["NVDA"].WeeklyChangePercent, "only recent history exists")
	assert.Nil(t, got["NVDA"].MonthlyChangePercent)
}

func TestRun_PricelessQuotesLeaveTrailingNull(t *testing.T) {
	s := &memStore{history: []models.HistoryRow{
		{Symbol: "AAPL", Price: 100, RecordedAt: now.Add(-8 * 24 * time.Hour)},
		{Symbol: "AAPL", Price: 80, RecordedAt: now.Add(-31 * 24 * time.Hour)},
	}}
	_, err := newJob(s).Run(context.Background(), Batch{Quotes: []Quote{
		{Symbol: "AAPL", ChangePercent: 5},
	}})
	require.NoError(t, err)

	us, _ := s.ListRankings(context.Background(), models.MarketUS, 0)
	require.Len(t, us, 1)
	assert.Zero(t, us[0].Price)
	assert.Nil(t, us[0].WeeklyChangePercent)
	assert.Nil(t, us[0].MonthlyChangePercent)
}

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
	}{
		{"empty", Batch{}},
		{"missing symbol", Batch{Quotes: []Quote{{Symbol: " ", ChangePercent: 1}}}},
		{"bad market", Batch{Quotes: []Quote{{Symbol: "AAPL", Market: "EU"}}}},
		{"bad currency", Batch{Quotes: []Quote{{Symbol: "AAPL", Currency: "EUR"}}}},
		{"negative price", Batch{Quotes: []Quote{{Symbol: "AAPL", Price: -1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &memStore{}
			out, err := newJob(s).Run(context.Background(), tt.batch)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
			assert.Empty(t, s.history, "nothing is written for an invalid batch")
		})
	}
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	t.Run("history insert", func(t *testing.T) {
		s := &memStore{failInsert: errors.New("disk full")}
		out, err := newJob(s).Run(context.Background(), Batch{Quotes: []Quote{{Symbol: "AAPL", ChangePercent: 1}}})
		assert.ErrorIs(t, err, models.ErrPersistence)
		assert.False(t, out.Success)
		assert.Empty(t, s.rankings)
		require.Len(t, s.logs, 1)
		assert.Equal(t, models.SyncFailed, s.logs[0].Status)
		assert.Contains(t, s.logs[0].Error, "disk full")
	})

	t.Run("ranking replace", func(t *testing.T) {
		s := &memStore{failReplace: errors.New("deadlock")}
		_, err := newJob(s).Run(context.Background(), Batch{Quotes: []Quote{{Symbol: "AAPL", ChangePercent: 1}}})
		assert.ErrorIs(t, err, models.ErrPersistence)
		assert.Len(t, s.history, 1, "history from the earlier step stays committed")
	})
}

func TestRankByMarket_TiesBySymbol(t *testing.T) {
	ranked := rankByMarket([]models.HistoryRow{
		{Symbol: "MSFT", ChangePercent: 1, Market: models.MarketUS},
		{Symbol: "AAPL", ChangePercent: 1, Market: models.MarketUS},
		{Symbol: "PETR4", ChangePercent: -2, Market: models.MarketBR},
	}, now)
	assert.Equal(t, "AAPL", ranked[models.MarketUS][0].Symbol)
	assert.Equal(t, 1, ranked[models.MarketBR][0].RankPosition)
	assert.Equal(t, now, ranked[models.MarketBR][0].CalculatedAt)
}
