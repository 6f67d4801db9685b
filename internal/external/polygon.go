package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const polygonName = "polygon"

// PolygonClient is the primary US provider. Quotes come from the previous
// session aggregate, so change is close minus open of that session rather
// than an intraday move.
type PolygonClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
	now        func() time.Time
	// historyDays bounds FetchHistory.
	historyDays int
}

func NewPolygonClient(apiKey string, opts ClientOptions, log zerolog.Logger) *PolygonClient {
	log = log.With().Str("component", polygonName).Logger()
	return &PolygonClient{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(orDefault(opts.BaseURL, "https://api.polygon.io"), "/"),
		httpClient:  &http.Client{Timeout: orDuration(opts.Timeout, 10*time.Second)},
		retry:       retryOrDefault(opts.Retry, log),
		log:         log,
		now:         time.Now,
		historyDays: 30,
	}
}

func (c *PolygonClient) Name() string { return polygonName }

type polygonAggs struct {
	Ticker  string       `json:"ticker"`
	Status  string       `json:"status"`
	Results []polygonBar `json:"results"`
}

type polygonBar struct {
	T string  `json:"T"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	// Ts is the bar start in unix milliseconds.
	Ts int64 `json:"t"`
}

func (b polygonBar) toQuote(symbol string, now time.Time) models.Quote {
	q := models.Quote{
		Symbol: symbol,
		Price:  b.C,
		Change: b.C - b.O,
		Volume: int64(b.V),
		High:   b.H,
		Low:    b.L,
		Open:   b.O,
	}
	if pct := normalize.PercentChange(b.C, b.O); pct != nil {
		q.ChangePercent = *pct
	}
	if b.Ts > 0 {
		q.UpdatedAt = time.UnixMilli(b.Ts).UTC()
	} else {
		q.UpdatedAt = now
	}
	return q
}

func (c *PolygonClient) prevURL(symbol string) string {
	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("apiKey", c.apiKey)
	return fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?%s", c.baseURL, url.PathEscape(symbol), q.Encode())
}

func (c *PolygonClient) fetchPrev(ctx context.Context, symbol string) (models.Quote, error) {
	var resp polygonAggs
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.prevURL(symbol), &resp); err != nil {
		return models.Quote{}, err
	}
	if len(resp.Results) == 0 {
		return models.Quote{}, fmt.Errorf("%w: no previous session for %s", models.ErrMalformedResponse, symbol)
	}
	now := c.now().UTC()
	q := resp.Results[0].toQuote(symbol, now)
	if !finish(&q, polygonName, now) {
		return models.Quote{}, fmt.Errorf("%w: zero close for %s", models.ErrMalformedResponse, symbol)
	}
	return q, nil
}

// FetchQuotes issues one request per symbol concurrently. Symbols that fail
// are left out; the result carries their errors as Reason.
func (c *PolygonClient) FetchQuotes(ctx context.Context, symbols []string) Result {
	if c.apiKey == "" {
		err := fmt.Errorf("%w: POLYGON_API_KEY", models.ErrConfigurationMissing)
		logFailure(c.log, polygonName, symbols, err)
		return Empty(polygonName, err)
	}
	if len(symbols) == 0 {
		return Empty(polygonName, errors.New("no symbols requested"))
	}

	quotes := make([]*models.Quote, len(symbols))
	errs := make([]error, len(symbols))
	var g errgroup.Group
	for i, sym := range symbols {
		g.Go(func() error {
			q, err := c.fetchPrev(ctx, sym)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", sym, err)
				logFailure(c.log, polygonName, []string{sym}, err)
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Quote, 0, len(symbols))
	for _, q := range quotes {
		if q != nil {
			out = append(out, *q)
		}
	}
	reason := errors.Join(errs...)
	if len(out) == 0 {
		return Empty(polygonName, reason)
	}
	res := OK(polygonName, out)
	res.Reason = reason
	return res
}

// FetchHistory returns up to historyDays of daily bars, newest first as the
// upstream sorts them.
func (c *PolygonClient) FetchHistory(ctx context.Context, symbol string) ([]models.HistoryPoint, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: POLYGON_API_KEY", models.ErrConfigurationMissing)
	}
	now := c.now().UTC()
	from := dateOf(now.AddDate(0, 0, -c.historyDays))
	to := dateOf(now)

	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "desc")
	q.Set("limit", "50")
	q.Set("apiKey", c.apiKey)
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?%s", c.baseURL, url.PathEscape(symbol), from, to, q.Encode())

	var resp polygonAggs
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, u, &resp); err != nil {
		logFailure(c.log, polygonName, []string{symbol}, err)
		return nil, err
	}
	points := make([]models.HistoryPoint, 0, len(resp.Results))
	for _, b := range resp.Results {
		if b.Ts <= 0 {
			continue
		}
		points = append(points, models.HistoryPoint{
			Date:   dateOf(time.UnixMilli(b.Ts)),
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: int64(b.V),
		})
	}
	return points, nil
}
