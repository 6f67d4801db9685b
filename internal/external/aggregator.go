package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const webhookName = "aggregator-webhook"

// AggregatorWebhook asks an external workflow for the global basket. The
// workflow answers with ticker entries wrapped in one envelope object or in
// a list of them.
type AggregatorWebhook struct {
	url        string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewAggregatorWebhook(webhookURL string, opts ClientOptions, log zerolog.Logger) *AggregatorWebhook {
	log = log.With().Str("component", webhookName).Logger()
	retry := httputil.NoRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	retry.Log = &log
	return &AggregatorWebhook{
		url:        webhookURL,
		httpClient: &http.Client{Timeout: orDuration(opts.Timeout, 15*time.Second)},
		retry:      retry,
		log:        log,
		now:        time.Now,
	}
}

func (w *AggregatorWebhook) Name() string { return webhookName }

type aggregatorEnvelope struct {
	Tickers []aggregatorTicker `json:"tickers"`
	Data    []aggregatorTicker `json:"data"`
	Quotes  []aggregatorTicker `json:"quotes"`
}

type aggregatorTicker struct {
	Symbol             string `json:"symbol"`
	Ticker             string `json:"ticker"`
	Name               string `json:"name"`
	Price              any    `json:"price"`
	Change             any    `json:"change"`
	ChangePercent      any    `json:"changePercent"`
	ChangePercentSnake any    `json:"change_percent"`
	MonthlyChange      any    `json:"monthlyChange"`
	MonthlyChangeSnake any    `json:"monthly_change"`
	Volume             any    `json:"volume"`
	High               any    `json:"high"`
	Low                any    `json:"low"`
	Open               any    `json:"open"`
	PreviousClose      any    `json:"previousClose"`
	UpdatedAt          any    `json:"lastUpdated"`
}

func (t aggregatorTicker) symbol() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Ticker
}

func (t aggregatorTicker) toQuote(now time.Time) models.Quote {
	pct := t.ChangePercent
	if pct == nil {
		pct = t.ChangePercentSnake
	}
	q := models.Quote{
		Symbol:        t.symbol(),
		Name:          t.Name,
		Price:         normalize.ParsePrice(t.Price),
		Change:        normalize.ParsePrice(t.Change),
		ChangePercent: normalize.ParsePercent(pct),
		Volume:        normalize.ParseVolume(t.Volume),
		High:          normalize.ParsePrice(t.High),
		Low:           normalize.ParsePrice(t.Low),
		Open:          normalize.ParsePrice(t.Open),
		PreviousClose: normalize.ParsePrice(t.PreviousClose),
		UpdatedAt:     normalize.ParseTimestamp(t.UpdatedAt, now),
	}
	monthly := t.MonthlyChange
	if monthly == nil {
		monthly = t.MonthlyChangeSnake
	}
	if monthly != nil {
		v := normalize.ParsePercent(monthly)
		q.MonthlyChangePercent = &v
	}
	return q
}

// parseTickers accepts {tickers:[...]}, [{tickers:[...]}, ...], a bare list
// of ticker objects, or a single ticker object.
func parseTickers(raw []byte) ([]aggregatorTicker, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", models.ErrMalformedResponse)
	}
	switch raw[0] {
	case '{':
		return parseTickerObject(raw)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
		}
		var out []aggregatorTicker
		for _, item := range items {
			ts, err := parseTickerObject(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ts...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unexpected body %.32q", models.ErrMalformedResponse, raw)
}

func parseTickerObject(raw []byte) ([]aggregatorTicker, error) {
	var env aggregatorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedResponse, err)
	}
	switch {
	case len(env.Tickers) > 0:
		return env.Tickers, nil
	case len(env.Data) > 0:
		return env.Data, nil
	case len(env.Quotes) > 0:
		return env.Quotes, nil
	}
	var single aggregatorTicker
	if err := json.Unmarshal(raw, &single); err == nil && single.symbol() != "" {
		return []aggregatorTicker{single}, nil
	}
	return nil, nil
}

// FetchQuotes keeps only the requested symbols when any are given.
func (w *AggregatorWebhook) FetchQuotes(ctx context.Context, symbols []string) Result {
	if w.url == "" {
		err := fmt.Errorf("%w: AGGREGATOR_WEBHOOK_URL", models.ErrConfigurationMissing)
		logFailure(w.log, webhookName, symbols, err)
		return Empty(webhookName, err)
	}

	raw, err := httputil.ReadBody(ctx, w.httpClient, w.retry, http.MethodPost, w.url, map[string]any{"symbols": symbols})
	if err != nil {
		logFailure(w.log, webhookName, symbols, err)
		return Empty(webhookName, err)
	}
	tickers, err := parseTickers(raw)
	if err != nil {
		logFailure(w.log, webhookName, symbols, err)
		return Empty(webhookName, err)
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[market.Normalize(s)] = struct{}{}
	}
	now := w.now().UTC()
	seen := make(map[string]struct{}, len(tickers))
	quotes := make([]models.Quote, 0, len(tickers))
	for _, t := range tickers {
		q := t.toQuote(now)
		if !finish(&q, webhookName, now) {
			continue
		}
		if _, ok := wanted[q.Symbol]; len(wanted) > 0 && !ok {
			continue
		}
		if _, dup := seen[q.Symbol]; dup {
			continue
		}
		seen[q.Symbol] = struct{}{}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		err := errors.Join(models.ErrMalformedResponse, errors.New("no usable ticker entries"))
		logFailure(w.log, webhookName, symbols, err)
		return Empty(webhookName, err)
	}
	return OK(webhookName, quotes)
}
