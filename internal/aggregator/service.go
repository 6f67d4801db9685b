// Package aggregator routes quote requests to the BR and US provider chains,
// consulting the server cache first.
package aggregator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/marketdash-backend/internal/cache"
	"github.com/kjannette/marketdash-backend/internal/external"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

const (
	tagBR     = "br"
	tagUS     = "us"
	tagGlobal = "global"
)

type Source string

const (
	SourceCache Source = "cache"
	SourceAPI   Source = "api"

	// SourceDatabase marks history rebuilt from stored sync snapshots.
	SourceDatabase Source = "database"
)

// ProgressFunc receives the number of requested symbols whose group has
// resolved, the total requested, and every quote gathered so far. Calls are
// serialized.
type ProgressFunc func(loaded, total int, partial []models.Quote)

type Response struct {
	Quotes  []models.Quote                   `json:"quotes"`
	History map[string][]models.HistoryPoint `json:"history,omitempty"`
	Source  Source                           `json:"source"`
}

type HistoryResponse struct {
	Symbol  string                `json:"symbol"`
	History []models.HistoryPoint `json:"history"`
	Source  Source                `json:"source"`
}

type Options struct {
	BR     external.QuoteProvider
	US     external.QuoteProvider
	Global external.QuoteProvider

	GlobalBasket []string

	BRHistory external.HistoryProvider
	USHistory external.HistoryProvider

	// Quotes and Series are shared for the life of the process. Nil means a
	// fresh cache with the default TTL.
	Quotes *cache.Cache[[]models.Quote]
	Series *cache.Cache[[]models.HistoryPoint]
}

type Service struct {
	br, us, global external.QuoteProvider
	basket         []string
	history        map[models.Market]external.HistoryProvider
	quotes         *cache.Cache[[]models.Quote]
	series         *cache.Cache[[]models.HistoryPoint]
	log            zerolog.Logger
}

func NewService(opts Options, log zerolog.Logger) *Service {
	s := &Service{
		br:     opts.BR,
		us:     opts.US,
		global: opts.Global,
		basket: opts.GlobalBasket,
		history: map[models.Market]external.HistoryProvider{
			models.MarketBR: opts.BRHistory,
			models.MarketUS: opts.USHistory,
		},
		quotes: opts.Quotes,
		series: opts.Series,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
	if s.quotes == nil {
		s.quotes = cache.New[[]models.Quote](cache.DefaultTTL, nil)
	}
	if s.series == nil {
		s.series = cache.New[[]models.HistoryPoint](cache.DefaultTTL, nil)
	}
	return s
}

type group struct {
	tag      string
	provider external.QuoteProvider
	symbols  []string
}

// GetQuotes resolves the BR and US groups concurrently. A group whose
// provider fails contributes nothing; the other group is unaffected. The
// result lists BR quotes before US quotes, each in provider order.
func (s *Service) GetQuotes(ctx context.Context, symbols []string, onProgress ProgressFunc) (Response, error) {
	br, us := market.Split(symbols)
	total := len(br) + len(us)
	if total == 0 {
		return Response{}, fmt.Errorf("%w: at least one symbol is required", models.ErrValidation)
	}

	groups := []group{
		{tag: tagBR, provider: s.br, symbols: br},
		{tag: tagUS, provider: s.us, symbols: us},
	}
	results := make([][]models.Quote, len(groups))
	hits := make([]bool, len(groups))

	var (
		mu      sync.Mutex
		loaded  int
		partial []models.Quote
		g       errgroup.Group
	)
	for i, grp := range groups {
		if len(grp.symbols) == 0 {
			hits[i] = true
			continue
		}
		g.Go(func() error {
			quotes, hit := s.resolve(ctx, grp)
			results[i], hits[i] = quotes, hit

			mu.Lock()
			defer mu.Unlock()
			loaded += len(grp.symbols)
			partial = append(partial, quotes...)
			if onProgress != nil {
				onProgress(loaded, total, slices.Clone(partial))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Quote, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	src := SourceAPI
	if !slices.Contains(hits, false) {
		src = SourceCache
	}
	return Response{Quotes: out, Source: src}, nil
}

// GetGlobalQuotes resolves the configured global basket.
func (s *Service) GetGlobalQuotes(ctx context.Context) Response {
	if len(s.basket) == 0 {
		return Response{Quotes: []models.Quote{}, Source: SourceAPI}
	}
	quotes, hit := s.resolve(ctx, group{tag: tagGlobal, provider: s.global, symbols: s.basket})
	src := SourceAPI
	if hit {
		src = SourceCache
	}
	if quotes == nil {
		quotes = []models.Quote{}
	}
	return Response{Quotes: quotes, Source: src}
}

// resolve serves a group from cache or its provider. Only results that are
// OK and cover every requested symbol are cached; anything less is retried
// on the next call.
func (s *Service) resolve(ctx context.Context, g group) ([]models.Quote, bool) {
	key := cache.QuotesKey(g.tag, g.symbols)
	if quotes, ok := s.quotes.Get(key); ok {
		s.log.Debug().Str("key", key).Msg("cache hit")
		return quotes, true
	}
	if g.provider == nil {
		s.log.Warn().Str("group", g.tag).Msg("no provider configured")
		return nil, false
	}

	r := g.provider.FetchQuotes(ctx, g.symbols)
	for sym, points := range r.History {
		s.series.Set(cache.HistoryKey(sym), points)
	}

	missing := uncovered(g.symbols, r.Quotes)
	switch {
	case r.Status == external.StatusOK && len(missing) == 0:
		s.quotes.Set(key, r.Quotes)
	case r.Status == external.StatusOK:
		s.log.Warn().
			Str("group", g.tag).
			Str("provider", r.Provider).
			Strs("missing", missing).
			Err(r.Reason).
			Msg("partial quotes, not cached")
	case r.Status == external.StatusDegraded:
		s.log.Warn().
			Str("group", g.tag).
			Str("provider", r.Provider).
			Strs("symbols", g.symbols).
			Err(r.Reason).
			Msg("serving degraded quotes")
	default:
		s.log.Warn().
			Str("group", g.tag).
			Str("provider", r.Provider).
			Strs("symbols", g.symbols).
			Err(r.Reason).
			Msg("group unavailable")
	}
	return r.Quotes, false
}

// uncovered lists the requested symbols that have no quote.
func uncovered(symbols []string, quotes []models.Quote) []string {
	have := make(map[string]struct{}, len(quotes))
	for _, q := range quotes {
		have[market.Normalize(q.Symbol)] = struct{}{}
	}
	var out []string
	for _, sym := range symbols {
		if _, ok := have[sym]; !ok {
			out = append(out, sym)
		}
	}
	return out
}

// GetHistory returns an ascending daily series. Provider failures yield an
// empty series rather than an error.
func (s *Service) GetHistory(ctx context.Context, symbol string) (HistoryResponse, error) {
	sym := market.Normalize(symbol)
	if sym == "" {
		return HistoryResponse{}, fmt.Errorf("%w: symbol is required", models.ErrValidation)
	}
	key := cache.HistoryKey(sym)
	if points, ok := s.series.Get(key); ok {
		return HistoryResponse{Symbol: sym, History: points, Source: SourceCache}, nil
	}

	resp := HistoryResponse{Symbol: sym, History: []models.HistoryPoint{}, Source: SourceAPI}
	p := s.history[market.Classify(sym)]
	if p == nil {
		return resp, nil
	}
	points, err := p.FetchHistory(ctx, sym)
	if err != nil {
		s.log.Warn().Str("symbol", sym).Err(err).Msg("history unavailable")
		return resp, nil
	}
	points = normalize.SortHistoryAscending(points)
	if len(points) > 0 {
		s.series.Set(key, points)
	}
	resp.History = points
	return resp, nil
}

// HistoryFor collects series for several symbols concurrently, skipping
// those with no data.
func (s *Service) HistoryFor(ctx context.Context, symbols []string) map[string][]models.HistoryPoint {
	out := make(map[string][]models.HistoryPoint, len(symbols))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(4)
	br, us := market.Split(symbols)
	for _, sym := range append(br, us...) {
		g.Go(func() error {
			h, err := s.GetHistory(ctx, sym)
			if err != nil || len(h.History) == 0 {
				return nil
			}
			mu.Lock()
			out[sym] = h.History
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ClearCache drops every server-side entry and reports how many were held.
func (s *Service) ClearCache() int {
	n := s.quotes.Clear() + s.series.Clear()
	s.log.Info().Int("entries", n).Msg("cache cleared")
	return n
}
