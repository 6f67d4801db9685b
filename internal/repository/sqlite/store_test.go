package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/repository/sqlite"
	"github.com/kjannette/marketdash-backend/internal/testutil"
)

func TestHistory_LatestAtOrBefore(t *testing.T) {
	s := sqlite.New(testutil.SetupSQLite(t))
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertHistory(ctx, []models.HistoryRow{
		{Symbol: "PETR4", Price: 30, Market: models.MarketBR, Currency: models.CurrencyBRL, Source: "test", RecordedAt: now.Add(-10 * 24 * time.Hour)},
		{Symbol: "PETR4", Price: 35, Market: models.MarketBR, Currency: models.CurrencyBRL, Source: "test", RecordedAt: now.Add(-8 * 24 * time.Hour)},
		{Symbol: "PETR4", Price: 38, Market: models.MarketBR, Currency: models.CurrencyBRL, Source: "test", RecordedAt: now},
	}))

	got, err := s.LatestAtOrBefore(ctx, "PETR4", now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 35.0, got.Price)
	assert.Equal(t, models.MarketBR, got.Market)
	assert.True(t, got.RecordedAt.Equal(now.Add(-8*24*time.Hour)))

	got, err = s.LatestAtOrBefore(ctx, "PETR4", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistory_GetBySymbol(t *testing.T) {
	s := sqlite.New(testutil.SetupSQLite(t))
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertHistory(ctx, []models.HistoryRow{
		{Symbol: "AAPL", Price: 190, Volume: 10, Market: models.MarketUS, Currency: models.CurrencyUSD, Source: "test", RecordedAt: now.Add(-48 * time.Hour)},
		{Symbol: "AAPL", Price: 195, Volume: 20, Market: models.MarketUS, Currency: models.CurrencyUSD, Source: "test", RecordedAt: now},
		{Symbol: "AAPL", Price: 192, Volume: 15, Market: models.MarketUS, Currency: models.CurrencyUSD, Source: "test", RecordedAt: now.Add(-24 * time.Hour)},
		{Symbol: "MSFT", Price: 420, Market: models.MarketUS, Currency: models.CurrencyUSD, Source: "test", RecordedAt: now},
	}))

	rows, err := s.GetBySymbol(ctx, "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 195.0, rows[0].Price)
	assert.Equal(t, int64(20), rows[0].Volume)
	assert.Equal(t, models.CurrencyUSD, rows[0].Currency)
	assert.True(t, rows[0].RecordedAt.Equal(now))
	assert.Equal(t, 192.0, rows[1].Price)

	rows, err = s.GetBySymbol(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = s.GetBySymbol(ctx, "NOPE", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRankings_ReplaceAndUpdate(t *testing.T) {
	s := sqlite.New(testutil.SetupSQLite(t))
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceRankings(ctx, models.MarketUS, []models.RankingEntry{
		{Symbol: "AAPL", ChangePercent: 5, RankPosition: 1, Market: models.MarketUS, CalculatedAt: at},
		{Symbol: "MSFT", ChangePercent: 2, RankPosition: 2, Market: models.MarketUS, CalculatedAt: at},
	}))
	require.NoError(t, s.ReplaceRankings(ctx, models.MarketBR, []models.RankingEntry{
		{Symbol: "VALE3", ChangePercent: 1, RankPosition: 1, Market: models.MarketBR, CalculatedAt: at},
	}))
	require.NoError(t, s.ReplaceRankings(ctx, models.MarketUS, []models.RankingEntry{
		{Symbol: "NVDA", ChangePercent: 7, RankPosition: 1, Market: models.MarketUS, CalculatedAt: at},
	}))

	us, err := s.ListRankings(ctx, models.MarketUS, 0)
	require.NoError(t, err)
	require.Len(t, us, 1)
	assert.Equal(t, "NVDA", us[0].Symbol)
	assert.True(t, us[0].CalculatedAt.Equal(at))
	assert.Nil(t, us[0].WeeklyChangePercent)

	br, err := s.ListRankings(ctx, models.MarketBR, 10)
	require.NoError(t, err)
	require.Len(t, br, 1)

	monthly := -3.5
	require.NoError(t, s.UpdateTrailingChanges(ctx, us[0].ID, nil, &monthly))
	us, _ = s.ListRankings(ctx, models.MarketUS, 0)
	assert.Nil(t, us[0].WeeklyChangePercent)
	require.NotNil(t, us[0].MonthlyChangePercent)
	assert.Equal(t, monthly, *us[0].MonthlyChangePercent)

	assert.ErrorIs(t, s.UpdateTrailingChanges(ctx, 9999, nil, nil), models.ErrNotFound)
}

func TestSyncJob_EndToEnd(t *testing.T) {
	stores := sqlite.NewStores(testutil.SetupSQLite(t))
	job := marketsync.NewJob(stores.History, stores.Rankings, stores.SyncLogs, zerolog.Nop())
	ctx := context.Background()

	out, err := job.Run(ctx, marketsync.Batch{
		Quotes: []marketsync.Quote{
			{Symbol: "AAPL", ChangePercent: 5},
			{Symbol: "MSFT", ChangePercent: 2},
		},
		Source: "test",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.USCount)

	us, err := stores.Rankings.ListRankings(ctx, models.MarketUS, 0)
	require.NoError(t, err)
	require.Len(t, us, 2)
	assert.Equal(t, "AAPL", us[0].Symbol)
	assert.Equal(t, 1, us[0].RankPosition)
	assert.Equal(t, "MSFT", us[1].Symbol)
	assert.Equal(t, 2, us[1].RankPosition)

	latest, err := stores.SyncLogs.LatestSyncLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, out.RunID, latest.RunID)
	assert.Equal(t, models.SyncSucceeded, latest.Status)
	assert.Equal(t, "test", latest.Source)
}

func TestAlertsAndPortfolio(t *testing.T) {
	conn := testutil.SetupSQLite(t)
	s := sqlite.New(conn)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	_, err := conn.Exec(`INSERT INTO profiles (id, full_name, phone, email) VALUES ('u1', 'Ana Souza', '+5511999990000', 'ana@example.com')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO price_alerts (id, user_id, symbol, condition, target_price, created_at) VALUES
		('a1', 'u1', 'PETR4', 'above', 40, ?),
		('a2', 'u2', 'AAPL', 'below', 150, ?)`, created, created+1)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO portfolio (id, user_id, symbol, quantity, average_cost, purchase_date) VALUES
		('p1', 'u1', 'PETR4', 100, 32.5, ?)`, created)
	require.NoError(t, err)

	active, err := s.ListActiveWithProfile(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Ana Souza", active[0].FullName)
	assert.Equal(t, models.AlertAbove, active[0].Condition)
	assert.True(t, active[0].IsActive)
	assert.Empty(t, active[1].Phone, "alert without a profile keeps empty contact")

	require.NoError(t, s.MarkTriggered(ctx, "a1", time.Now()))
	active, err = s.ListActiveWithProfile(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a2", active[0].ID)
	assert.ErrorIs(t, s.MarkTriggered(ctx, "missing", time.Now()), models.ErrNotFound)

	positions, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 32.5, positions[0].AverageCost)
	assert.Equal(t, 2024, positions[0].PurchaseDate.Year())

	none, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
