package models

import "time"

// HistoryRow is an append-only snapshot written by every sync run.
type HistoryRow struct {
	ID            int64     `json:"id"`
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Market        Market    `json:"market"`
	Currency      Currency  `json:"currency"`
	Source        string    `json:"source"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type RankingEntry struct {
	ID                   int64     `json:"id"`
	Symbol               string    `json:"symbol"`
	Name                 string    `json:"name"`
	Price                float64   `json:"price"`
	ChangePercent        float64   `json:"change_percent"`
	WeeklyChangePercent  *float64  `json:"weekly_change_percent"`
	MonthlyChangePercent *float64  `json:"monthly_change_percent"`
	RankPosition         int       `json:"rank_position"`
	Market               Market    `json:"market"`
	CalculatedAt         time.Time `json:"calculated_at"`
}

type SyncStatus string

const (
	SyncSucceeded SyncStatus = "success"
	SyncFailed    SyncStatus = "error"
)

// SyncLog is the structured outcome of one sync run.
type SyncLog struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Status     SyncStatus `json:"status"`
	BRCount    int        `json:"br_count"`
	USCount    int        `json:"us_count"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
