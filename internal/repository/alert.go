package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

// ListActiveWithProfile joins each active alert with its owner's contact
// details. Alerts whose profile is missing come back with empty contact
// fields.
func (r *AlertRepo) ListActiveWithProfile(ctx context.Context) ([]models.AlertWithProfile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.user_id, a.symbol, a.condition, a.target_price, a.is_active,
		        a.triggered_at, a.created_at,
		        COALESCE(p.full_name, ''), COALESCE(p.phone, ''), COALESCE(p.email, '')
		 FROM price_alerts a
		 LEFT JOIN profiles p ON p.id = a.user_id
		 WHERE a.is_active
		 ORDER BY a.created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AlertWithProfile{}
	for rows.Next() {
		var a models.AlertWithProfile
		var cond string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Symbol, &cond, &a.TargetPrice, &a.IsActive,
			&a.TriggeredAt, &a.CreatedAt,
			&a.FullName, &a.Phone, &a.Email,
		); err != nil {
			return nil, err
		}
		a.Condition = models.AlertCondition(cond)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AlertRepo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE price_alerts SET is_active = false, triggered_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
