package external

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

const staticName = "static"

//go:embed fallback.yaml
var defaultFallback []byte

type FallbackTable struct {
	AsOf         string          `yaml:"as_of"`
	USQuotes     []fallbackQuote `yaml:"us_quotes"`
	GlobalBasket []string        `yaml:"global_basket"`
}

type fallbackQuote struct {
	Symbol        string  `yaml:"symbol"`
	Name          string  `yaml:"name"`
	Price         float64 `yaml:"price"`
	Change        float64 `yaml:"change"`
	ChangePercent float64 `yaml:"change_percent"`
	Volume        int64   `yaml:"volume"`
	PreviousClose float64 `yaml:"previous_close"`
}

// LoadFallbackTable reads the table from path, or the embedded default when
// path is empty.
func LoadFallbackTable(path string) (*FallbackTable, error) {
	data := defaultFallback
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read fallback table: %w", err)
		}
	}
	var t FallbackTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse fallback table: %w", err)
	}
	for i := range t.GlobalBasket {
		t.GlobalBasket[i] = market.Normalize(t.GlobalBasket[i])
	}
	return &t, nil
}

// StaticQuotes serves the fallback table. Every quote it returns is flagged
// degraded.
type StaticQuotes struct {
	asOf   time.Time
	quotes map[string]models.Quote
	log    zerolog.Logger
}

func NewStaticQuotes(table *FallbackTable, log zerolog.Logger) *StaticQuotes {
	asOf, err := time.Parse("2006-01-02", table.AsOf)
	if err != nil {
		asOf = time.Time{}
	}
	s := &StaticQuotes{
		asOf:   asOf,
		quotes: make(map[string]models.Quote, len(table.USQuotes)),
		log:    log.With().Str("component", staticName).Logger(),
	}
	for _, f := range table.USQuotes {
		q := models.Quote{
			Symbol:        f.Symbol,
			Name:          f.Name,
			Price:         f.Price,
			Change:        f.Change,
			ChangePercent: f.ChangePercent,
			Volume:        f.Volume,
			PreviousClose: f.PreviousClose,
			UpdatedAt:     asOf,
		}
		if !finish(&q, staticName, asOf) {
			continue
		}
		q.Degraded = true
		s.quotes[q.Symbol] = q
	}
	return s
}

func (s *StaticQuotes) Name() string { return staticName }

// Symbols lists the allowlisted tickers.
func (s *StaticQuotes) Symbols() []string {
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	return out
}

func (s *StaticQuotes) FetchQuotes(_ context.Context, symbols []string) Result {
	var out []models.Quote
	for _, sym := range symbols {
		if q, ok := s.quotes[market.Normalize(sym)]; ok {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return Empty(staticName, fmt.Errorf("no fallback entry for %v", symbols))
	}
	s.log.Info().Int("count", len(out)).Str("as_of", s.asOf.Format("2006-01-02")).Msg("serving static fallback quotes")
	return Degraded(staticName, out, fmt.Errorf("static fallback data as of %s", s.asOf.Format("2006-01-02")))
}
