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

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const brapiName = "brapi"

// BrapiClient serves BR quotes. One request covers every symbol and asks
// for three months of daily bars so monthly change can be derived.
type BrapiClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
	now        func() time.Time
}

type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Retry   *httputil.RetryConfig
}

func NewBrapiClient(token string, opts ClientOptions, log zerolog.Logger) *BrapiClient {
	log = log.With().Str("component", brapiName).Logger()
	return &BrapiClient{
		token:      token,
		baseURL:    strings.TrimRight(orDefault(opts.BaseURL, "https://brapi.dev/api"), "/"),
		httpClient: &http.Client{Timeout: orDuration(opts.Timeout, 15*time.Second)},
		retry:      retryOrDefault(opts.Retry, log),
		log:        log,
		now:        time.Now,
	}
}

func (c *BrapiClient) Name() string { return brapiName }

// raw upstream shapes

type brapiResponse struct {
	Results []brapiQuote `json:"results"`
}

type brapiQuote struct {
	Symbol                     string     `json:"symbol"`
	ShortName                  string     `json:"shortName"`
	LongName                   string     `json:"longName"`
	RegularMarketPrice         any        `json:"regularMarketPrice"`
	RegularMarketChange        any        `json:"regularMarketChange"`
	RegularMarketChangePercent any        `json:"regularMarketChangePercent"`
	RegularMarketVolume        any        `json:"regularMarketVolume"`
	RegularMarketDayHigh       any        `json:"regularMarketDayHigh"`
	RegularMarketDayLow        any        `json:"regularMarketDayLow"`
	RegularMarketOpen          any        `json:"regularMarketOpen"`
	RegularMarketPreviousClose any        `json:"regularMarketPreviousClose"`
	RegularMarketTime          any        `json:"regularMarketTime"`
	HistoricalDataPrice        []brapiBar `json:"historicalDataPrice"`
}

type brapiBar struct {
	Date   int64 `json:"date"`
	Open   any   `json:"open"`
	High   any   `json:"high"`
	Low    any   `json:"low"`
	Close  any   `json:"close"`
	Volume any   `json:"volume"`
}

type brapiListResponse struct {
	Stocks []struct {
		Stock  string `json:"stock"`
		Name   string `json:"name"`
		Close  any    `json:"close"`
		Change any    `json:"change"`
		Sector string `json:"sector"`
		Type   string `json:"type"`
	} `json:"stocks"`
}

func (r brapiQuote) history() []models.HistoryPoint {
	points := make([]models.HistoryPoint, 0, len(r.HistoricalDataPrice))
	for _, b := range r.HistoricalDataPrice {
		if b.Date <= 0 {
			continue
		}
		points = append(points, models.HistoryPoint{
			Date:   dateOf(time.Unix(b.Date, 0)),
			Open:   normalize.ParsePrice(b.Open),
			High:   normalize.ParsePrice(b.High),
			Low:    normalize.ParsePrice(b.Low),
			Close:  normalize.ParsePrice(b.Close),
			Volume: normalize.ParseVolume(b.Volume),
		})
	}
	return normalize.SortHistoryAscending(points)
}

func (r brapiQuote) toQuote(now time.Time) (models.Quote, []models.HistoryPoint) {
	name := r.ShortName
	if name == "" {
		name = r.LongName
	}
	q := models.Quote{
		Symbol:        r.Symbol,
		Name:          name,
		Price:         normalize.ParsePrice(r.RegularMarketPrice),
		Change:        normalize.ParsePrice(r.RegularMarketChange),
		ChangePercent: normalize.ParsePercent(r.RegularMarketChangePercent),
		Volume:        normalize.ParseVolume(r.RegularMarketVolume),
		High:          normalize.ParsePrice(r.RegularMarketDayHigh),
		Low:           normalize.ParsePrice(r.RegularMarketDayLow),
		Open:          normalize.ParsePrice(r.RegularMarketOpen),
		PreviousClose: normalize.ParsePrice(r.RegularMarketPreviousClose),
		UpdatedAt:     normalize.ParseTimestamp(r.RegularMarketTime, now),
	}
	hist := r.history()
	q.MonthlyChangePercent = normalize.ComputeMonthlyChange(hist, q.Price)
	return q, hist
}

func (c *BrapiClient) quoteURL(symbols []string) string {
	escaped := make([]string, len(symbols))
	for i, s := range symbols {
		escaped[i] = url.PathEscape(s)
	}
	q := url.Values{}
	q.Set("range", "3mo")
	q.Set("interval", "1d")
	q.Set("token", c.token)
	return fmt.Sprintf("%s/quote/%s?%s", c.baseURL, strings.Join(escaped, ","), q.Encode())
}

func (c *BrapiClient) fetch(ctx context.Context, symbols []string) ([]brapiQuote, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: BRAPI_TOKEN", models.ErrConfigurationMissing)
	}
	var resp brapiResponse
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.quoteURL(symbols), &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: results missing", models.ErrMalformedResponse)
	}
	return resp.Results, nil
}

// FetchQuotes returns quotes in response order. History from the same call
// is attached to the result keyed by symbol.
func (c *BrapiClient) FetchQuotes(ctx context.Context, symbols []string) Result {
	if len(symbols) == 0 {
		return Empty(brapiName, errors.New("no symbols requested"))
	}
	raw, err := c.fetch(ctx, symbols)
	if err != nil {
		logFailure(c.log, brapiName, symbols, err)
		return Empty(brapiName, err)
	}

	now := c.now().UTC()
	quotes := make([]models.Quote, 0, len(raw))
	history := make(map[string][]models.HistoryPoint, len(raw))
	for _, r := range raw {
		q, hist := r.toQuote(now)
		if !finish(&q, brapiName, now) {
			c.log.Debug().Str("symbol", r.Symbol).Msg("dropping quote without price")
			continue
		}
		quotes = append(quotes, q)
		if len(hist) > 0 {
			history[q.Symbol] = hist
		}
	}

	res := OK(brapiName, quotes)
	if res.HasData() {
		res.History = history
	}
	return res
}

func (c *BrapiClient) FetchHistory(ctx context.Context, symbol string) ([]models.HistoryPoint, error) {
	raw, err := c.fetch(ctx, []string{symbol})
	if err != nil {
		logFailure(c.log, brapiName, []string{symbol}, err)
		return nil, err
	}
	return raw[0].history(), nil
}

// Search looks up tickers by free text. The token is optional for this
// endpoint.
func (c *BrapiClient) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	q := url.Values{}
	q.Set("search", query)
	q.Set("limit", "10")
	if c.token != "" {
		q.Set("token", c.token)
	}

	var resp brapiListResponse
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.baseURL+"/quote/list?"+q.Encode(), &resp); err != nil {
		logFailure(c.log, brapiName, []string{query}, err)
		return nil, err
	}

	out := make([]models.SearchResult, 0, len(resp.Stocks))
	for _, s := range resp.Stocks {
		if s.Stock == "" {
			continue
		}
		out = append(out, models.SearchResult{
			Symbol: s.Stock,
			Name:   s.Name,
			Close:  normalize.ParsePrice(s.Close),
			Change: normalize.ParsePercent(s.Change),
			Sector: s.Sector,
			Type:   s.Type,
		})
	}
	return out, nil
}
