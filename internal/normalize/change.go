package normalize

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kjannette/marketdash-backend/internal/models"
)

// PercentChange returns (current-base)/base*100, or nil when base is zero.
func PercentChange(current, base float64) *float64 {
	if base == 0 {
		return nil
	}
	b := decimal.NewFromFloat(base)
	v := decimal.NewFromFloat(current).Sub(b).Div(b).Mul(hundred).InexactFloat64()
	return &v
}

// ComputeMonthlyChange compares current against the oldest sample of an
// ascending series. Providers hand back roughly three months of daily bars, so
// the oldest bar in range stands in for "a month ago"; it is an approximation,
// not an exact 30-day lookback. Returns nil for an empty series or a zero
// oldest close.
func ComputeMonthlyChange(series []models.HistoryPoint, current float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	return PercentChange(current, series[0].Close)
}

// SortHistoryAscending returns a copy of points ordered oldest first with one
// point per date. When a date repeats, the later entry wins.
func SortHistoryAscending(points []models.HistoryPoint) []models.HistoryPoint {
	if len(points) == 0 {
		return []models.HistoryPoint{}
	}
	byDate := make(map[string]models.HistoryPoint, len(points))
	for _, p := range points {
		if p.Date == "" {
			continue
		}
		byDate[p.Date] = p
	}
	out := make([]models.HistoryPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.HistoryPoint) int {
		return strings.Compare(a.Date, b.Date)
	})
	return out
}

// TrimSince drops points dated before since (YYYY-MM-DD). Input must be
// ascending.
func TrimSince(points []models.HistoryPoint, since string) []models.HistoryPoint {
	i, _ := slices.BinarySearchFunc(points, since, func(p models.HistoryPoint, d string) int {
		return strings.Compare(p.Date, d)
	})
	return points[i:]
}

// ReconcileChangeSign recomputes Change and ChangePercent from PreviousClose
// when the provider's figures disagree in sign with price-previousClose.
func ReconcileChangeSign(q *models.Quote) {
	if q.Price <= 0 || q.PreviousClose <= 0 {
		return
	}
	diff := decimal.NewFromFloat(q.Price).Sub(decimal.NewFromFloat(q.PreviousClose))
	if diff.IsZero() {
		return
	}
	if q.ChangePercent != 0 && (diff.Sign() > 0) == (q.ChangePercent > 0) {
		return
	}
	q.Change = diff.InexactFloat64()
	if pct := PercentChange(q.Price, q.PreviousClose); pct != nil {
		q.ChangePercent = *pct
	}
}
