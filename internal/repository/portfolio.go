package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type PortfolioRepo struct {
	pool *pgxpool.Pool
}

func NewPortfolioRepo(pool *pgxpool.Pool) *PortfolioRepo {
	return &PortfolioRepo{pool: pool}
}

func (r *PortfolioRepo) ListByUser(ctx context.Context, userID string) ([]models.PortfolioPosition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, symbol, quantity, average_cost, purchase_date
		 FROM portfolio WHERE user_id = $1
		 ORDER BY purchase_date ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PortfolioPosition{}
	for rows.Next() {
		var p models.PortfolioPosition
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.PurchaseDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
