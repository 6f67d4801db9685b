// Package quoteclient is a Go client for the quotes API. It keeps its own
// TTL cache in front of the server, keyed the same way the server keys its
// cache, so a repeated request for the same basket never leaves the process.
package quoteclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/cache"
	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

const (
	tagBR = "br"
	tagUS = "us"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TTL        time.Duration
	Clock      cache.Clock
	HTTPClient *http.Client
	Retry      httputil.RetryConfig
}

type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	retry   httputil.RetryConfig
	quotes  *cache.Cache[[]models.Quote]
	history *cache.Cache[[]models.HistoryPoint]
	log     zerolog.Logger
}

// ProgressFunc mirrors the server stream frames: loaded and total count
// requested symbols, partial holds every quote received so far.
type ProgressFunc func(loaded, total int, partial []models.Quote)

func New(opts Options, log zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.APIKey != "" {
		inner := hc.Transport
		if inner == nil {
			inner = http.DefaultTransport
		}
		clone := *hc
		clone.Transport = bearerTransport{key: opts.APIKey, next: inner}
		hc = &clone
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = httputil.NoRetry
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    hc,
		retry:   retry,
		quotes:  cache.New[[]models.Quote](opts.TTL, opts.Clock),
		history: cache.New[[]models.HistoryPoint](opts.TTL, opts.Clock),
		log:     log.With().Str("component", "quoteclient").Logger(),
	}
}

type bearerTransport struct {
	key  string
	next http.RoundTripper
}

func (t bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.key)
	return t.next.RoundTrip(r)
}

type quotesResponse struct {
	Quotes []models.Quote `json:"quotes"`
	Source string         `json:"source"`
}

// GetQuotes answers each market group from the local cache when it can and
// asks the server only for the groups that missed. BR quotes come first.
// Empty and degraded groups are not cached.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	br, us := market.Split(symbols)
	if len(br)+len(us) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", models.ErrValidation)
	}

	cachedBR, hitBR := c.lookup(tagBR, br)
	cachedUS, hitUS := c.lookup(tagUS, us)

	var missing []string
	if !hitBR {
		missing = append(missing, br...)
	}
	if !hitUS {
		missing = append(missing, us...)
	}
	if len(missing) == 0 {
		c.log.Debug().Strs("symbols", symbols).Msg("quotes served from client cache")
		return slices.Concat(cachedBR, cachedUS), nil
	}

	var resp quotesResponse
	body := map[string]any{"symbols": missing}
	if err := httputil.PostJSON(ctx, c.http, c.retry, c.base+"/v1/quotes", body, &resp); err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	fetchedBR, fetchedUS := splitQuotes(resp.Quotes)
	if !hitBR {
		cachedBR = fetchedBR
		c.store(tagBR, br, fetchedBR)
	}
	if !hitUS {
		cachedUS = fetchedUS
		c.store(tagUS, us, fetchedUS)
	}
	return slices.Concat(cachedBR, cachedUS), nil
}

// GetHistory returns the ascending daily series for symbol.
func (c *Client) GetHistory(ctx context.Context, symbol string) ([]models.HistoryPoint, error) {
	symbol = market.Normalize(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", models.ErrValidation)
	}
	key := cache.HistoryKey(symbol)
	if points, ok := c.history.Get(key); ok {
		return points, nil
	}

	var resp struct {
		History []models.HistoryPoint `json:"history"`
	}
	if err := httputil.GetJSON(ctx, c.http, c.retry, c.base+"/v1/history/"+url.PathEscape(symbol), &resp); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", symbol, err)
	}
	if len(resp.History) > 0 {
		c.history.Set(key, resp.History)
	}
	return resp.History, nil
}

type streamFrame struct {
	Loaded int            `json:"loaded"`
	Total  int            `json:"total"`
	Quotes []models.Quote `json:"quotes"`
	Done   bool           `json:"done"`
	Error  string         `json:"error"`
}

// Stream reads progress frames from the websocket endpoint until the final
// frame, then caches the result per group like GetQuotes.
func (c *Client) Stream(ctx context.Context, symbols []string, onProgress ProgressFunc) ([]models.Quote, error) {
	br, us := market.Split(symbols)
	if len(br)+len(us) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", models.ErrValidation)
	}

	u, err := url.Parse(c.base + "/v1/quotes/stream")
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", models.ErrConfigurationMissing, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{"symbols": {strings.Join(slices.Concat(br, us), ",")}}
	if c.apiKey != "" {
		q.Set("access_token", c.apiKey)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial stream: %w", models.ErrUpstreamUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: read stream: %w", models.ErrUpstreamUnavailable, err)
		}
		if f.Error != "" {
			return nil, fmt.Errorf("%w: %s", models.ErrUpstreamUnavailable, f.Error)
		}
		if !f.Done {
			if onProgress != nil {
				onProgress(f.Loaded, f.Total, f.Quotes)
			}
			continue
		}

		fetchedBR, fetchedUS := splitQuotes(f.Quotes)
		c.store(tagBR, br, fetchedBR)
		c.store(tagUS, us, fetchedUS)
		return slices.Concat(fetchedBR, fetchedUS), nil
	}
}

// ClearCache empties both client caches and returns the number of entries
// dropped.
func (c *Client) ClearCache() int {
	return c.quotes.Clear() + c.history.Clear()
}

func (c *Client) lookup(tag string, symbols []string) ([]models.Quote, bool) {
	if len(symbols) == 0 {
		return nil, true
	}
	return c.quotes.Get(cache.QuotesKey(tag, symbols))
}

func (c *Client) store(tag string, symbols []string, quotes []models.Quote) {
	if len(symbols) == 0 || len(quotes) == 0 {
		return
	}
	if slices.ContainsFunc(quotes, func(q models.Quote) bool { return q.Degraded }) {
		return
	}
	c.quotes.Set(cache.QuotesKey(tag, symbols), quotes)
}

// splitQuotes groups quotes by market. Quotes without a market are
// classified by symbol.
func splitQuotes(quotes []models.Quote) (br, us []models.Quote) {
	for _, q := range quotes {
		m := q.Market
		if !market.Valid(m) {
			m = market.Classify(q.Symbol)
		}
		if m == models.MarketBR {
			br = append(br, q)
		} else {
			us = append(us, q)
		}
	}
	return br, us
}
