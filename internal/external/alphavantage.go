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
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const alphaVantageName = "alphavantage"

// AlphaVantageClient backs up the aggregator webhook for a fixed basket and
// supplies the daily series used for monthly change. The free tier allows a
// handful of calls per minute, so fan-out is kept narrow.
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	basket     map[string]struct{}
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewAlphaVantageClient(apiKey string, basket []string, opts ClientOptions, log zerolog.Logger) *AlphaVantageClient {
	log = log.With().Str("component", alphaVantageName).Logger()
	allowed := make(map[string]struct{}, len(basket))
	for _, s := range basket {
		allowed[market.Normalize(s)] = struct{}{}
	}
	return &AlphaVantageClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(orDefault(opts.BaseURL, "https://www.alphavantage.co"), "/"),
		basket:     allowed,
		httpClient: &http.Client{Timeout: orDuration(opts.Timeout, 10*time.Second)},
		retry:      retryOrDefault(opts.Retry, log),
		log:        log,
		now:        time.Now,
	}
}

func (c *AlphaVantageClient) Name() string { return alphaVantageName }

// upstream error fields share one shape across functions
type avStatus struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (s avStatus) err() error {
	switch {
	case s.ErrorMessage != "":
		return fmt.Errorf("%w: %s", models.ErrMalformedResponse, s.ErrorMessage)
	case s.Note != "":
		return fmt.Errorf("%w: rate limited: %s", models.ErrUpstreamUnavailable, s.Note)
	case s.Information != "":
		return fmt.Errorf("%w: %s", models.ErrUpstreamUnavailable, s.Information)
	}
	return nil
}

type avGlobalQuoteResponse struct {
	avStatus
	GlobalQuote avQuote `json:"Global Quote"`
}

type avQuote struct {
	Symbol        string `json:"01. symbol"`
	Open          string `json:"02. open"`
	High          string `json:"03. high"`
	Low           string `json:"04. low"`
	Price         string `json:"05. price"`
	Volume        string `json:"06. volume"`
	LatestDay     string `json:"07. latest trading day"`
	PreviousClose string `json:"08. previous close"`
	Change        string `json:"09. change"`
	ChangePercent string `json:"10. change percent"`
}

type avDailyResponse struct {
	avStatus
	Series map[string]avBar `json:"Time Series (Daily)"`
}

type avBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func (r avQuote) toQuote(now time.Time) models.Quote {
	updated := now
	if d, err := time.Parse("2006-01-02", r.LatestDay); err == nil {
		updated = d
	}
	return models.Quote{
		Symbol:        r.Symbol,
		Price:         normalize.ParsePrice(r.Price),
		Change:        normalize.ParsePrice(r.Change),
		ChangePercent: normalize.ParsePercent(r.ChangePercent),
		Volume:        normalize.ParseVolume(r.Volume),
		High:          normalize.ParsePrice(r.High),
		Low:           normalize.ParsePrice(r.Low),
		Open:          normalize.ParsePrice(r.Open),
		PreviousClose: normalize.ParsePrice(r.PreviousClose),
		UpdatedAt:     updated,
	}
}

func (c *AlphaVantageClient) queryURL(function, symbol string, extra url.Values) string {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	for k, v := range extra {
		q[k] = v
	}
	return c.baseURL + "/query?" + q.Encode()
}

func (c *AlphaVantageClient) fetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var resp avGlobalQuoteResponse
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.queryURL("GLOBAL_QUOTE", symbol, nil), &resp); err != nil {
		return models.Quote{}, err
	}
	if err := resp.err(); err != nil {
		return models.Quote{}, err
	}
	if resp.GlobalQuote.Symbol == "" {
		return models.Quote{}, fmt.Errorf("%w: Global Quote missing for %s", models.ErrMalformedResponse, symbol)
	}
	now := c.now().UTC()
	q := resp.GlobalQuote.toQuote(now)
	if !finish(&q, alphaVantageName, now) {
		return models.Quote{}, fmt.Errorf("%w: no price for %s", models.ErrMalformedResponse, symbol)
	}
	return q, nil
}

// FetchQuotes serves only basket symbols; anything else is ignored.
func (c *AlphaVantageClient) FetchQuotes(ctx context.Context, symbols []string) Result {
	if c.apiKey == "" {
		err := fmt.Errorf("%w: ALPHAVANTAGE_API_KEY", models.ErrConfigurationMissing)
		logFailure(c.log, alphaVantageName, symbols, err)
		return Empty(alphaVantageName, err)
	}
	var allowed []string
	for _, s := range symbols {
		s = market.Normalize(s)
		if _, ok := c.basket[s]; ok {
			allowed = append(allowed, s)
		}
	}
	if len(allowed) == 0 {
		return Empty(alphaVantageName, fmt.Errorf("none of %v in backup basket", symbols))
	}

	quotes := make([]*models.Quote, len(allowed))
	errs := make([]error, len(allowed))
	var g errgroup.Group
	g.SetLimit(2)
	for i, sym := range allowed {
		g.Go(func() error {
			q, err := c.fetchQuote(ctx, sym)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", sym, err)
				logFailure(c.log, alphaVantageName, []string{sym}, err)
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Quote, 0, len(allowed))
	for _, q := range quotes {
		if q != nil {
			out = append(out, *q)
		}
	}
	reason := errors.Join(errs...)
	if len(out) == 0 {
		return Empty(alphaVantageName, reason)
	}
	res := OK(alphaVantageName, out)
	res.Reason = reason
	return res
}

// FetchHistory returns the compact daily series (about 100 sessions).
func (c *AlphaVantageClient) FetchHistory(ctx context.Context, symbol string) ([]models.HistoryPoint, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: ALPHAVANTAGE_API_KEY", models.ErrConfigurationMissing)
	}
	var resp avDailyResponse
	u := c.queryURL("TIME_SERIES_DAILY", market.Normalize(symbol), url.Values{"outputsize": {"compact"}})
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, u, &resp); err != nil {
		logFailure(c.log, alphaVantageName, []string{symbol}, err)
		return nil, err
	}
	if err := resp.err(); err != nil {
		logFailure(c.log, alphaVantageName, []string{symbol}, err)
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("%w: Time Series (Daily) missing for %s", models.ErrMalformedResponse, symbol)
	}

	points := make([]models.HistoryPoint, 0, len(resp.Series))
	for day, bar := range resp.Series {
		points = append(points, models.HistoryPoint{
			Date:   day,
			Open:   normalize.ParsePrice(bar.Open),
			High:   normalize.ParsePrice(bar.High),
			Low:    normalize.ParsePrice(bar.Low),
			Close:  normalize.ParsePrice(bar.Close),
			Volume: normalize.ParseVolume(bar.Volume),
		})
	}
	return normalize.SortHistoryAscending(points), nil
}
