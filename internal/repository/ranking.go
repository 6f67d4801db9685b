package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type RankingRepo struct {
	pool *pgxpool.Pool
}

func NewRankingRepo(pool *pgxpool.Pool) *RankingRepo {
	return &RankingRepo{pool: pool}
}

// ReplaceRankings swaps a market's rankings in one transaction, so readers
// never see an empty or half-written market.
func (r *RankingRepo) ReplaceRankings(ctx context.Context, market models.Market, entries []models.RankingEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_rankings WHERE market = $1`, string(market)); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"stock_rankings"},
			[]string{
				"symbol", "name", "price", "change_percent",
				"weekly_change_percent", "monthly_change_percent",
				"rank_position", "market", "calculated_at",
			},
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{
					e.Symbol, e.Name, e.Price, e.ChangePercent,
					e.WeeklyChangePercent, e.MonthlyChangePercent,
					e.RankPosition, string(market), e.CalculatedAt,
				}, nil
			}),
		)
		return err
	})
}

func (r *RankingRepo) ListRankings(ctx context.Context, market models.Market, limit int) ([]models.RankingEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, name, price, change_percent, weekly_change_percent,
		        monthly_change_percent, rank_position, market, calculated_at
		 FROM stock_rankings WHERE market = $1
		 ORDER BY rank_position ASC LIMIT $2`,
		string(market), limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRankings(rows)
}

func (r *RankingRepo) UpdateTrailingChanges(ctx context.Context, id int64, weekly, monthly *float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stock_rankings
		 SET weekly_change_percent = $2, monthly_change_percent = $3
		 WHERE id = $1`,
		id, weekly, monthly,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func collectRankings(rows rowsIter) ([]models.RankingEntry, error) {
	out := []models.RankingEntry{}
	for rows.Next() {
		var e models.RankingEntry
		var m string
		if err := rows.Scan(
			&e.ID, &e.Symbol, &e.Name, &e.Price, &e.ChangePercent,
			&e.WeeklyChangePercent, &e.MonthlyChangePercent,
			&e.RankPosition, &m, &e.CalculatedAt,
		); err != nil {
			return nil, err
		}
		e.Market = models.Market(m)
		out = append(out, e)
	}
	return out, rows.Err()
}
