package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

var historyColumns = []string{
	"symbol", "name", "price", "change_percent", "volume",
	"market", "currency", "source", "recorded_at",
}

// InsertHistory bulk-loads rows with COPY.
func (r *HistoryRepo) InsertHistory(ctx context.Context, rows []models.HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"quote_history"},
		historyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			h := rows[i]
			return []any{
				h.Symbol, h.Name, h.Price, h.ChangePercent, h.Volume,
				string(h.Market), string(h.Currency), h.Source, h.RecordedAt,
			}, nil
		}),
	)
	return err
}

func (r *HistoryRepo) LatestAtOrBefore(ctx context.Context, symbol string, at time.Time) (*models.HistoryRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, symbol, name, price, change_percent, volume, market, currency, source, recorded_at
		 FROM quote_history
		 WHERE symbol = $1 AND recorded_at <= $2
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		symbol, at,
	)
	h, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// GetBySymbol returns the most recent snapshots for symbol, newest first.
func (r *HistoryRepo) GetBySymbol(ctx context.Context, symbol string, limit int) ([]models.HistoryRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, name, price, change_percent, volume, market, currency, source, recorded_at
		 FROM quote_history WHERE symbol = $1
		 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		symbol, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHistory(row scannable) (*models.HistoryRow, error) {
	var h models.HistoryRow
	var m, cur string
	err := row.Scan(
		&h.ID, &h.Symbol, &h.Name, &h.Price, &h.ChangePercent, &h.Volume,
		&m, &cur, &h.Source, &h.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Market = models.Market(m)
	h.Currency = models.Currency(cur)
	return &h, nil
}
