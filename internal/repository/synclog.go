package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type SyncLogRepo struct {
	pool *pgxpool.Pool
}

func NewSyncLogRepo(pool *pgxpool.Pool) *SyncLogRepo {
	return &SyncLogRepo{pool: pool}
}

func (r *SyncLogRepo) InsertSyncLog(ctx context.Context, s models.SyncLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_logs
		 (run_id, source, status, br_count, us_count, error, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.RunID, s.Source, string(s.Status), s.BRCount, s.USCount, s.Error,
		s.StartedAt, s.FinishedAt,
	)
	return err
}

func (r *SyncLogRepo) LatestSyncLog(ctx context.Context) (*models.SyncLog, error) {
	var s models.SyncLog
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, run_id, source, status, br_count, us_count, error, started_at, finished_at
		 FROM sync_logs ORDER BY finished_at DESC, id DESC LIMIT 1`,
	).Scan(&s.ID, &s.RunID, &s.Source, &status, &s.BRCount, &s.USCount, &s.Error, &s.StartedAt, &s.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Status = models.SyncStatus(status)
	return &s, nil
}
