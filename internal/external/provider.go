//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks

package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjannette/marketdash-backend/internal/models"
)

// Status tags how a provider result should be trusted.
type Status int

const (
	StatusEmpty Status = iota
	StatusOK
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	default:
		return "empty"
	}
}

// Result is what every quote strategy returns instead of an error. Reason
// explains an Empty or Degraded result.
type Result struct {
	Provider string
	Status   Status
	Quotes   []models.Quote
	// History is filled by providers that return daily bars alongside quotes.
	History map[string][]models.HistoryPoint
	Reason  error
}

func OK(provider string, quotes []models.Quote) Result {
	if len(quotes) == 0 {
		return Empty(provider, fmt.Errorf("%w: no quotes in response", models.ErrMalformedResponse))
	}
	return Result{Provider: provider, Status: StatusOK, Quotes: quotes}
}

func Degraded(provider string, quotes []models.Quote, reason error) Result {
	if len(quotes) == 0 {
		return Empty(provider, reason)
	}
	return Result{Provider: provider, Status: StatusDegraded, Quotes: quotes, Reason: reason}
}

func Empty(provider string, reason error) Result {
	if reason == nil {
		reason = errors.New("no data")
	}
	return Result{Provider: provider, Status: StatusEmpty, Reason: reason}
}

func (r Result) HasData() bool {
	return r.Status != StatusEmpty && len(r.Quotes) > 0
}

// QuoteProvider is one strategy in a fallback chain. Implementations never
// return upstream failures as errors; they come back as an Empty result.
type QuoteProvider interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []string) Result
}

// HistoryProvider returns daily bars for one symbol. Order is not guaranteed.
type HistoryProvider interface {
	FetchHistory(ctx context.Context, symbol string) ([]models.HistoryPoint, error)
}
