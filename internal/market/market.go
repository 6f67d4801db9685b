// Package market classifies ticker symbols into the BR or US market.
//
// Every layer that needs a market decision (adapters, the routing service,
// cache keys and the client tier) goes through Classify so that keys built on
// either side of the wire always agree.
package market

import (
	"strings"
	"unicode"

	"github.com/kjannette/marketdash-backend/internal/models"
)

// brSpecial lists BR index, currency and crypto tickers that carry no
// trailing digit.
var brSpecial = map[string]struct{}{
	"^BVSP":  {},
	"IBOV":   {},
	"IFIX":   {},
	"SMLL":   {},
	"USDBRL": {},
	"EURBRL": {},
	"BTCBRL": {},
	"ETHBRL": {},
	"BTC":    {},
	"ETH":    {},
	"DOLAR":  {},
	"EURO":   {},
}

// Normalize trims and upper-cases a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Classify returns MarketBR for symbols ending in a digit or listed in the
// known BR set, and MarketUS for everything else.
func Classify(symbol string) models.Market {
	s := Normalize(symbol)
	if s == "" {
		return models.MarketUS
	}
	if _, ok := brSpecial[s]; ok {
		return models.MarketBR
	}
	last := rune(s[len(s)-1])
	if unicode.IsDigit(last) {
		return models.MarketBR
	}
	return models.MarketUS
}

func CurrencyFor(m models.Market) models.Currency {
	if m == models.MarketBR {
		return models.CurrencyBRL
	}
	return models.CurrencyUSD
}

// Split normalizes and dedupes symbols, returning the BR and US groups in
// first-seen order. Empty symbols are dropped.
func Split(symbols []string) (br, us []string) {
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		s := Normalize(raw)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if Classify(s) == models.MarketBR {
			br = append(br, s)
		} else {
			us = append(us, s)
		}
	}
	return br, us
}

// Valid reports whether m is one of the supported market tags.
func Valid(m models.Market) bool {
	return m == models.MarketBR || m == models.MarketUS
}
