// Package repository holds the Postgres stores. The sqlite subpackage
// provides the same surface for single-node deployments and tests.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
)

// HistoryStore adds the snapshot listing used by the history endpoint when
// upstream providers have nothing.
type HistoryStore interface {
	marketsync.HistoryStore
	// GetBySymbol returns up to limit snapshots, newest first.
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]models.HistoryRow, error)
}

type AlertStore interface {
	ListActiveWithProfile(ctx context.Context) ([]models.AlertWithProfile, error)
	// MarkTriggered deactivates the alert. Unknown ids return models.ErrNotFound.
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

type PortfolioStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.PortfolioPosition, error)
}

type SyncLogReader interface {
	// LatestSyncLog returns nil, nil before the first run.
	LatestSyncLog(ctx context.Context) (*models.SyncLog, error)
}

type SyncLogStore interface {
	marketsync.SyncLogStore
	SyncLogReader
}

// Stores bundles every persistence dependency of the server.
type Stores struct {
	History   HistoryStore
	Rankings  marketsync.RankingStore
	SyncLogs  SyncLogStore
	Alerts    AlertStore
	Portfolio PortfolioStore
	Ping      func(ctx context.Context) error
	Driver    string
}

func NewPostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		History:   NewHistoryRepo(pool),
		Rankings:  NewRankingRepo(pool),
		SyncLogs:  NewSyncLogRepo(pool),
		Alerts:    NewAlertRepo(pool),
		Portfolio: NewPortfolioRepo(pool),
		Ping:      pool.Ping,
		Driver:    "postgres",
	}
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
