package models

import "time"

type Market string

const (
	MarketBR Market = "BR"
	MarketUS Market = "US"
)

type Currency string

const (
	CurrencyBRL Currency = "BRL"
	CurrencyUSD Currency = "USD"
)

// Quote is the canonical, provider-independent snapshot of a symbol.
// ChangePercent is expressed in percent units: 1.83 means +1.83%.
type Quote struct {
	Symbol               string    `json:"symbol"`
	Name                 string    `json:"name"`
	Price                float64   `json:"price"`
	Change               float64   `json:"change"`
	ChangePercent        float64   `json:"changePercent"`
	MonthlyChangePercent *float64  `json:"monthlyChangePercent,omitempty"`
	Volume               int64     `json:"volume"`
	High                 float64   `json:"high"`
	Low                  float64   `json:"low"`
	Open                 float64   `json:"open"`
	PreviousClose        float64   `json:"previousClose"`
	Market               Market    `json:"market"`
	Currency             Currency  `json:"currency"`
	UpdatedAt            time.Time `json:"lastUpdated"`
	Source               string    `json:"source,omitempty"`
	Degraded             bool      `json:"degraded,omitempty"`
}

// HistoryPoint is one daily bar. Date is a calendar day (YYYY-MM-DD).
type HistoryPoint struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type SearchResult struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Close  float64 `json:"close"`
	Change float64 `json:"change"`
	Sector string  `json:"sector"`
	Type   string  `json:"type"`
}

type NewsArticle struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"urlToImage,omitempty"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
}

type NewsPage struct {
	Articles     []NewsArticle `json:"articles"`
	TotalResults int           `json:"totalResults"`
	Fallback     bool          `json:"fallback,omitempty"`
}
