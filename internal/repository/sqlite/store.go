// Package sqlite implements the repository stores on an embedded SQLite
// database. Timestamps are stored as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/repository"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func NewStores(db *sql.DB) repository.Stores {
	s := New(db)
	return repository.Stores{
		History:   s,
		Rankings:  s,
		SyncLogs:  s,
		Alerts:    s,
		Portfolio: s,
		Ping:      db.PingContext,
		Driver:    "sqlite",
	}
}

func (s *Store) InsertHistory(ctx context.Context, rows []models.HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO quote_history
			 (symbol, name, price, change_percent, volume, market, currency, source, recorded_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range rows {
			if _, err := stmt.ExecContext(ctx,
				h.Symbol, h.Name, h.Price, h.ChangePercent, h.Volume,
				string(h.Market), string(h.Currency), h.Source, h.RecordedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert %s: %w", h.Symbol, err)
			}
		}
		return nil
	})
}

func (s *Store) LatestAtOrBefore(ctx context.Context, symbol string, at time.Time) (*models.HistoryRow, error) {
	var h models.HistoryRow
	var m, cur string
	var recorded int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, name, price, change_percent, volume, market, currency, source, recorded_at
		 FROM quote_history
		 WHERE symbol = ? AND recorded_at <= ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		symbol, at.UnixMilli(),
	).Scan(&h.ID, &h.Symbol, &h.Name, &h.Price, &h.ChangePercent, &h.Volume, &m, &cur, &h.Source, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.Market = models.Market(m)
	h.Currency = models.Currency(cur)
	h.RecordedAt = fromMillis(recorded)
	return &h, nil
}

func (s *Store) GetBySymbol(ctx context.Context, symbol string, limit int) ([]models.HistoryRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, name, price, change_percent, volume, market, currency, source, recorded_at
		 FROM quote_history WHERE symbol = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryRow
	for rows.Next() {
		var h models.HistoryRow
		var m, cur string
		var recorded int64
		if err := rows.Scan(&h.ID, &h.Symbol, &h.Name, &h.Price, &h.ChangePercent, &h.Volume, &m, &cur, &h.Source, &recorded); err != nil {
			return nil, err
		}
		h.Market = models.Market(m)
		h.Currency = models.Currency(cur)
		h.RecordedAt = fromMillis(recorded)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceRankings(ctx context.Context, market models.Market, entries []models.RankingEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stock_rankings WHERE market = ?`, string(market)); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO stock_rankings
			 (symbol, name, price, change_percent, weekly_change_percent, monthly_change_percent,
			  rank_position, market, calculated_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				e.Symbol, e.Name, e.Price, e.ChangePercent,
				e.WeeklyChangePercent, e.MonthlyChangePercent,
				e.RankPosition, string(market), e.CalculatedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert ranking %s: %w", e.Symbol, err)
			}
		}
		return nil
	})
}

func (s *Store) ListRankings(ctx context.Context, market models.Market, limit int) ([]models.RankingEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, name, price, change_percent, weekly_change_percent,
		        monthly_change_percent, rank_position, market, calculated_at
		 FROM stock_rankings WHERE market = ?
		 ORDER BY rank_position ASC LIMIT ?`,
		string(market), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RankingEntry{}
	for rows.Next() {
		var e models.RankingEntry
		var weekly, monthly sql.NullFloat64
		var m string
		var calculated int64
		if err := rows.Scan(
			&e.ID, &e.Symbol, &e.Name, &e.Price, &e.ChangePercent,
			&weekly, &monthly, &e.RankPosition, &m, &calculated,
		); err != nil {
			return nil, err
		}
		e.WeeklyChangePercent = floatPtr(weekly)
		e.MonthlyChangePercent = floatPtr(monthly)
		e.Market = models.Market(m)
		e.CalculatedAt = fromMillis(calculated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTrailingChanges(ctx context.Context, id int64, weekly, monthly *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stock_rankings SET weekly_change_percent = ?, monthly_change_percent = ? WHERE id = ?`,
		weekly, monthly, id,
	)
	return affected(res, err)
}

func (s *Store) InsertSyncLog(ctx context.Context, l models.SyncLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_logs
		 (run_id, source, status, br_count, us_count, error, started_at, finished_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		l.RunID, l.Source, string(l.Status), l.BRCount, l.USCount, l.Error,
		l.StartedAt.UnixMilli(), l.FinishedAt.UnixMilli(),
	)
	return err
}

func (s *Store) LatestSyncLog(ctx context.Context) (*models.SyncLog, error) {
	var l models.SyncLog
	var status string
	var started, finished int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, source, status, br_count, us_count, error, started_at, finished_at
		 FROM sync_logs ORDER BY finished_at DESC, id DESC LIMIT 1`,
	).Scan(&l.ID, &l.RunID, &l.Source, &status, &l.BRCount, &l.USCount, &l.Error, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Status = models.SyncStatus(status)
	l.StartedAt = fromMillis(started)
	l.FinishedAt = fromMillis(finished)
	return &l, nil
}

func (s *Store) ListActiveWithProfile(ctx context.Context) ([]models.AlertWithProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.user_id, a.symbol, a.condition, a.target_price, a.is_active,
		        a.triggered_at, a.created_at,
		        COALESCE(p.full_name, ''), COALESCE(p.phone, ''), COALESCE(p.email, '')
		 FROM price_alerts a
		 LEFT JOIN profiles p ON p.id = a.user_id
		 WHERE a.is_active = 1
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
		var triggered sql.NullInt64
		var created int64
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Symbol, &cond, &a.TargetPrice, &a.IsActive,
			&triggered, &created,
			&a.FullName, &a.Phone, &a.Email,
		); err != nil {
			return nil, err
		}
		a.Condition = models.AlertCondition(cond)
		if triggered.Valid {
			t := fromMillis(triggered.Int64)
			a.TriggeredAt = &t
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_alerts SET is_active = 0, triggered_at = ? WHERE id = ?`,
		at.UnixMilli(), id,
	)
	return affected(res, err)
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.PortfolioPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, quantity, average_cost, purchase_date
		 FROM portfolio WHERE user_id = ?
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
		var purchased int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &purchased); err != nil {
			return nil, err
		}
		p.PurchaseDate = fromMillis(purchased)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
