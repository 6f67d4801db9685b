package external

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
	"github.com/kjannette/marketdash-backend/internal/models"
)

const (
	newsName        = "newsapi"
	MaxNewsPageSize = 10
	newsQuery       = "mercado financeiro OR bolsa de valores OR ibovespa"
)

type NewsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
}

func NewNewsClient(apiKey string, opts ClientOptions, log zerolog.Logger) *NewsClient {
	log = log.With().Str("component", newsName).Logger()
	return &NewsClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(orDefault(opts.BaseURL, "https://newsapi.org/v2"), "/"),
		httpClient: &http.Client{Timeout: orDuration(opts.Timeout, 10*time.Second)},
		retry:      retryOrDefault(opts.Retry, log),
		log:        log,
	}
}

type newsResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		URLToImage  string    `json:"urlToImage"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// ClampPageSize bounds n to [1, MaxNewsPageSize]; zero or less means the max.
func ClampPageSize(n int) int {
	if n <= 0 || n > MaxNewsPageSize {
		return MaxNewsPageSize
	}
	return n
}

// FetchNews never fails: upstream errors and a missing key both yield the
// mock articles truncated to pageSize.
func (c *NewsClient) FetchNews(ctx context.Context, pageSize int) models.NewsPage {
	pageSize = ClampPageSize(pageSize)
	articles, total, err := c.fetch(ctx, pageSize)
	if err != nil {
		logFailure(c.log, newsName, nil, err)
		mocks := MockArticles(pageSize)
		return models.NewsPage{Articles: mocks, TotalResults: len(mocks), Fallback: true}
	}
	return models.NewsPage{Articles: articles, TotalResults: total}
}

func (c *NewsClient) fetch(ctx context.Context, pageSize int) ([]models.NewsArticle, int, error) {
	if c.apiKey == "" {
		return nil, 0, fmt.Errorf("%w: NEWS_API_KEY", models.ErrConfigurationMissing)
	}
	q := url.Values{}
	q.Set("q", newsQuery)
	q.Set("language", "pt")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("apiKey", c.apiKey)

	var resp newsResponse
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.baseURL+"/everything?"+q.Encode(), &resp); err != nil {
		return nil, 0, err
	}
	if resp.Status != "ok" {
		return nil, 0, fmt.Errorf("%w: status %q: %s", models.ErrMalformedResponse, resp.Status, resp.Message)
	}

	out := make([]models.NewsArticle, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.Title == "" || a.Title == "[Removed]" {
			continue
		}
		out = append(out, models.NewsArticle{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			ImageURL:    a.URLToImage,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
	}
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, resp.TotalResults, nil
}

var mockArticles = []models.NewsArticle{
	{Title: "Ibovespa fecha em alta puxado por commodities", Description: "Petrobras e Vale lideram ganhos na sessão.", Source: "MarketDash"},
	{Title: "Dólar recua frente ao real após dados de inflação", Description: "Moeda americana perde força com IPCA abaixo do esperado.", Source: "MarketDash"},
	{Title: "Copom mantém Selic e sinaliza cautela", Description: "Comitê destaca incerteza fiscal no comunicado.", Source: "MarketDash"},
	{Title: "Bolsas americanas renovam máximas com setor de tecnologia", Description: "Nasdaq sobe com resultados acima do previsto.", Source: "MarketDash"},
	{Title: "Fundos imobiliários atraem investidores pessoa física", Description: "IFIX acumula alta no trimestre.", Source: "MarketDash"},
	{Title: "Bitcoin oscila após fluxo recorde em ETFs", Description: "Criptomoeda testa nova faixa de preço.", Source: "MarketDash"},
}

// MockArticles returns up to n canned articles dated relative to now.
func MockArticles(n int) []models.NewsArticle {
	n = min(ClampPageSize(n), len(mockArticles))
	out := make([]models.NewsArticle, n)
	now := time.Now().UTC().Truncate(time.Hour)
	for i := range n {
		a := mockArticles[i]
		a.PublishedAt = now.Add(-time.Duration(i) * time.Hour)
		out[i] = a
	}
	return out
}
