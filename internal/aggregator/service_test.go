package aggregator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/cache"
	"github.com/kjannette/marketdash-backend/internal/external"
	"github.com/kjannette/marketdash-backend/internal/external/mocks"
	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/models"
)

type fixture struct {
	svc    *aggregator.Service
	br     *mocks.MockQuoteProvider
	us     *mocks.MockQuoteProvider
	global *mocks.MockQuoteProvider
	brHist *mocks.MockHistoryProvider
	usHist *mocks.MockHistoryProvider
	clock  *cache.ManualClock
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		br:     mocks.NewMockQuoteProvider(ctrl),
		us:     mocks.NewMockQuoteProvider(ctrl),
		global: mocks.NewMockQuoteProvider(ctrl),
		brHist: mocks.NewMockHistoryProvider(ctrl),
		usHist: mocks.NewMockHistoryProvider(ctrl),
		clock:  cache.NewManualClock(time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC)),
	}
	f.svc = aggregator.NewService(aggregator.Options{
		BR:           f.br,
		US:           f.us,
		Global:       f.global,
		GlobalBasket: []string{"SPY", "QQQ"},
		BRHistory:    f.brHist,
		USHistory:    f.usHist,
		Quotes:       cache.New[[]models.Quote](cache.DefaultTTL, f.clock),
		Series:       cache.New[[]models.HistoryPoint](cache.DefaultTTL, f.clock),
	}, zerolog.Nop())
	return f
}

func brQuote(sym string) models.Quote {
	return models.Quote{Symbol: sym, Price: 10, Market: models.MarketBR, Currency: models.CurrencyBRL}
}

func usQuote(sym string) models.Quote {
	return models.Quote{Symbol: sym, Price: 100, Market: models.MarketUS, Currency: models.CurrencyUSD}
}

func TestGetQuotes_SplitsByMarket(t *testing.T) {
	f := newFixture(t)
	f.br.EXPECT().FetchQuotes(gomock.Any(), []string{"PETR4"}).
		Return(external.OK("brapi", []models.Quote{brQuote("PETR4")}))
	f.us.EXPECT().FetchQuotes(gomock.Any(), []string{"AAPL"}).
		Return(external.OK("polygon", []models.Quote{usQuote("AAPL")}))

	resp, err := f.svc.GetQuotes(context.Background(), []string{"PETR4", "AAPL"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Quotes, 2)
	assert.Equal(t, "PETR4", resp.Quotes[0].Symbol)
	assert.Equal(t, models.CurrencyBRL, resp.Quotes[0].Currency)
	assert.Equal(t, "AAPL", resp.Quotes[1].Symbol)
	assert.Equal(t, models.CurrencyUSD, resp.Quotes[1].Currency)
	assert.Equal(t, aggregator.SourceAPI, resp.Source)
}

func TestGetQuotes_PartialFailureIsolation(t *testing.T) {
	t.Run("us down", func(t *testing.T) {
		f := newFixture(t)
		f.br.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.OK("brapi", []models.Quote{brQuote("PETR4"), brQuote("VALE3")}))
		f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.Empty("us", models.ErrUpstreamUnavailable))

		resp, err := f.svc.GetQuotes(context.Background(), []string{"PETR4", "AAPL", "VALE3"}, nil)
		require.NoError(t, err)
		require.Len(t, resp.Quotes, 2)
		assert.Equal(t, models.MarketBR, resp.Quotes[0].Market)
		assert.Equal(t, models.MarketBR, resp.Quotes[1].Market)
	})

	t.Run("br down", func(t *testing.T) {
		f := newFixture(t)
		f.br.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.Empty("brapi", models.ErrMalformedResponse))
		f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.OK("polygon", []models.Quote{usQuote("AAPL")}))

		resp, err := f.svc.GetQuotes(context.Background(), []string{"PETR4", "AAPL"}, nil)
		require.NoError(t, err)
		require.Len(t, resp.Quotes, 1)
		assert.Equal(t, "AAPL", resp.Quotes[0].Symbol)
	})
}

func TestGetQuotes_SecondRequestIsCacheHit(t *testing.T) {
	f := newFixture(t)
	f.br.EXPECT().FetchQuotes(gomock.Any(), []string{"VALE3"}).
		Return(external.OK("brapi", []models.Quote{brQuote("VALE3")})).
		Times(1)

	first, err := f.svc.GetQuotes(context.Background(), []string{"VALE3"}, nil)
	require.NoError(t, err)
	f.clock.Advance(4 * time.Minute)
	second, err := f.svc.GetQuotes(context.Background(), []string{"VALE3"}, nil)
	require.NoError(t, err)

	assert.Equal(t, aggregator.SourceAPI, first.Source)
	assert.Equal(t, aggregator.SourceCache, second.Source)
	assert.Equal(t, first.Quotes, second.Quotes)
}

func TestGetQuotes_KeySymmetry(t *testing.T) {
	f := newFixture(t)
	f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.OK("polygon", []models.Quote{usQuote("AAPL"), usQuote("MSFT")})).
		Times(1)

	_, err := f.svc.GetQuotes(context.Background(), []string{"AAPL", "MSFT"}, nil)
	require.NoError(t, err)
	resp, err := f.svc.GetQuotes(context.Background(), []string{"MSFT", "aapl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceCache, resp.Source)
}

func TestGetQuotes_RefetchesAfterTTL(t *testing.T) {
	f := newFixture(t)
	f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.OK("polygon", []models.Quote{usQuote("AAPL")})).
		Times(2)

	_, _ = f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
	f.clock.Advance(cache.DefaultTTL)
	resp, err := f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceAPI, resp.Source)
}

func TestGetQuotes_NoNegativeCaching(t *testing.T) {
	f := newFixture(t)
	gomock.InOrder(
		f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.Empty("polygon", models.ErrUpstreamUnavailable)),
		f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.Degraded("static", []models.Quote{usQuote("AAPL")}, errors.New("static"))),
		f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
			Return(external.OK("polygon", []models.Quote{usQuote("AAPL")})),
	)

	for range 3 {
		_, err := f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
		require.NoError(t, err)
	}
	resp, err := f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceCache, resp.Source)
}

func TestGetQuotes_PartialResultIsRefetched(t *testing.T) {
	f := newFixture(t)
	partial := external.OK("polygon", []models.Quote{usQuote("AAPL")})
	partial.Reason = errors.New("XYZ: HTTP 503")
	gomock.InOrder(
		f.us.EXPECT().FetchQuotes(gomock.Any(), []string{"AAPL", "XYZ"}).Return(partial),
		f.us.EXPECT().FetchQuotes(gomock.Any(), []string{"AAPL", "XYZ"}).
			Return(external.OK("polygon", []models.Quote{usQuote("AAPL"), usQuote("XYZ")})),
	)

	first, err := f.svc.GetQuotes(context.Background(), []string{"AAPL", "XYZ"}, nil)
	require.NoError(t, err)
	assert.Len(t, first.Quotes, 1)

	second, err := f.svc.GetQuotes(context.Background(), []string{"AAPL", "XYZ"}, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceAPI, second.Source)
	assert.Len(t, second.Quotes, 2)
}

func TestGetQuotes_USChainRetriesFailedSymbol(t *testing.T) {
	var xyzCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/aggs/ticker/AAPL/prev":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ticker":"AAPL","status":"OK","results":[{"T":"AAPL","o":100,"h":103,"l":99,"c":102,"v":1000,"t":1717444800000}]}`))
		default:
			xyzCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer upstream.Close()

	table, err := external.LoadFallbackTable("")
	require.NoError(t, err)
	polygon := external.NewPolygonClient("key", external.ClientOptions{
		BaseURL: upstream.URL,
		Retry:   &httputil.RetryConfig{MaxAttempts: 1},
	}, zerolog.Nop())
	svc := aggregator.NewService(aggregator.Options{
		US: external.NewChain("us", zerolog.Nop(), polygon, external.NewStaticQuotes(table, zerolog.Nop())),
	}, zerolog.Nop())

	for range 2 {
		resp, err := svc.GetQuotes(context.Background(), []string{"AAPL", "XYZ"}, nil)
		require.NoError(t, err)
		require.Len(t, resp.Quotes, 1)
		assert.Equal(t, aggregator.SourceAPI, resp.Source)
	}
	assert.Equal(t, int32(2), xyzCalls.Load())
}

func TestGetQuotes_OnlyNeededGroupsCalled(t *testing.T) {
	f := newFixture(t)
	f.br.EXPECT().FetchQuotes(gomock.Any(), []string{"PETR4", "^BVSP"}).
		Return(external.OK("brapi", []models.Quote{brQuote("PETR4"), brQuote("^BVSP")}))

	resp, err := f.svc.GetQuotes(context.Background(), []string{"petr4", "^bvsp", "PETR4"}, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Quotes, 2)
}

func TestGetQuotes_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetQuotes(context.Background(), []string{" ", ""}, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.svc.GetQuotes(context.Background(), nil, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGetQuotes_Progress(t *testing.T) {
	f := newFixture(t)
	f.br.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.OK("brapi", []models.Quote{brQuote("PETR4")}))
	f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.Empty("polygon", models.ErrUpstreamUnavailable))

	type call struct {
		loaded, total, partial int
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	_, err := f.svc.GetQuotes(context.Background(), []string{"PETR4", "VALE3", "AAPL"}, func(loaded, total int, partial []models.Quote) {
		mu.Lock()
		calls = append(calls, call{loaded, total, len(partial)})
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	last := calls[1]
	assert.Equal(t, 3, last.loaded)
	assert.Equal(t, 3, last.total)
	assert.Equal(t, 1, last.partial)
	assert.Contains(t, []int{1, 2}, calls[0].loaded)
}

func TestGetQuotes_ProgressFromCacheStillFires(t *testing.T) {
	f := newFixture(t)
	f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.OK("polygon", []models.Quote{usQuote("AAPL")})).
		Times(1)
	_, _ = f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)

	fired := 0
	_, err := f.svc.GetQuotes(context.Background(), []string{"AAPL"}, func(loaded, total int, _ []models.Quote) {
		fired++
		assert.Equal(t, loaded, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t)
	f.usHist.EXPECT().FetchHistory(gomock.Any(), "AAPL").
		Return([]models.HistoryPoint{{Date: "2024-06-03", Close: 3}, {Date: "2024-05-31", Close: 1}}, nil).
		Times(1)

	resp, err := f.svc.GetHistory(context.Background(), "aapl")
	require.NoError(t, err)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "2024-05-31", resp.History[0].Date)
	assert.Equal(t, aggregator.SourceAPI, resp.Source)

	again, err := f.svc.GetHistory(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceCache, again.Source)
}

func TestGetHistory_SeededByQuoteFetch(t *testing.T) {
	f := newFixture(t)
	res := external.OK("brapi", []models.Quote{brQuote("PETR4")})
	res.History = map[string][]models.HistoryPoint{"PETR4": {{Date: "2024-05-01", Close: 35}}}
	f.br.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).Return(res)

	_, err := f.svc.GetQuotes(context.Background(), []string{"PETR4"}, nil)
	require.NoError(t, err)

	hist, err := f.svc.GetHistory(context.Background(), "PETR4")
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceCache, hist.Source)
	assert.Len(t, hist.History, 1)
}

func TestGetHistory_FailureIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.brHist.EXPECT().FetchHistory(gomock.Any(), "VALE3").
		Return(nil, models.ErrUpstreamUnavailable).
		Times(2)

	for range 2 {
		resp, err := f.svc.GetHistory(context.Background(), "VALE3")
		require.NoError(t, err)
		assert.NotNil(t, resp.History)
		assert.Empty(t, resp.History)
	}

	_, err := f.svc.GetHistory(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHistoryFor(t *testing.T) {
	f := newFixture(t)
	f.usHist.EXPECT().FetchHistory(gomock.Any(), "AAPL").
		Return([]models.HistoryPoint{{Date: "2024-06-03", Close: 3}}, nil)
	f.brHist.EXPECT().FetchHistory(gomock.Any(), "PETR4").
		Return(nil, models.ErrUpstreamUnavailable)

	got := f.svc.HistoryFor(context.Background(), []string{"AAPL", "PETR4"})
	assert.Len(t, got, 1)
	assert.Contains(t, got, "AAPL")
}

func TestGetGlobalQuotes(t *testing.T) {
	f := newFixture(t)
	f.global.EXPECT().FetchQuotes(gomock.Any(), []string{"SPY", "QQQ"}).
		Return(external.OK("aggregator-webhook", []models.Quote{usQuote("SPY"), usQuote("QQQ")})).
		Times(1)

	first := f.svc.GetGlobalQuotes(context.Background())
	second := f.svc.GetGlobalQuotes(context.Background())
	assert.Len(t, first.Quotes, 2)
	assert.Equal(t, aggregator.SourceCache, second.Source)
}

func TestGetGlobalQuotes_PartialBasketNotCached(t *testing.T) {
	f := newFixture(t)
	f.global.EXPECT().FetchQuotes(gomock.Any(), []string{"SPY", "QQQ"}).
		Return(external.OK("aggregator-webhook", []models.Quote{usQuote("SPY")})).
		Times(2)

	first := f.svc.GetGlobalQuotes(context.Background())
	second := f.svc.GetGlobalQuotes(context.Background())
	assert.Len(t, first.Quotes, 1)
	assert.Equal(t, aggregator.SourceAPI, second.Source)
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	f.us.EXPECT().FetchQuotes(gomock.Any(), gomock.Any()).
		Return(external.OK("polygon", []models.Quote{usQuote("AAPL")})).
		Times(2)

	_, _ = f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
	assert.Equal(t, 1, f.svc.ClearCache())
	resp, err := f.svc.GetQuotes(context.Background(), []string{"AAPL"}, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregator.SourceAPI, resp.Source)
}
