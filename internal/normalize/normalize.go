// Package normalize turns loosely typed upstream values into canonical numbers.
// None of the functions here return errors: unparseable input becomes zero or
// an absent value.
package normalize

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParsePrice accepts a number or a string such as "R$ 1.234,56" or "$12.30"
// and returns its value, or 0 when the input cannot be parsed.
func ParsePrice(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		return parseString(x.String())
	case decimal.Decimal:
		return x.InexactFloat64()
	case string:
		return parseString(x)
	}
	return 0
}

// ParsePercent is ParsePrice with a trailing "%" allowed. "1,83%" is 1.83.
func ParsePercent(v any) float64 {
	if s, ok := v.(string); ok {
		return parseString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}
	return ParsePrice(v)
}

// ParseVolume truncates a parsed value to an integer share count.
func ParseVolume(v any) int64 {
	f := ParsePrice(v)
	if f < 0 {
		return 0
	}
	return int64(f)
}

// ParseTimestamp reads an RFC 3339 string or a unix epoch (seconds or
// milliseconds). fallback is returned for anything else.
func ParseTimestamp(v any, fallback time.Time) time.Time {
	switch x := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x)); err == nil {
			return t.UTC()
		}
	case float64, int64, int, json.Number:
		n := int64(ParsePrice(x))
		if n <= 0 {
			return fallback
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return fallback
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseString(s string) float64 {
	cleaned := clean(s)
	if cleaned == "" {
		return 0
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// clean strips everything but digits, separators and a leading minus sign,
// then rewrites the number with a single dot as decimal separator. When both
// separators appear the rightmost one is the decimal separator; a separator
// that repeats is a thousands separator.
func clean(s string) string {
	var b strings.Builder
	negative := false
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == ',' || r == '.':
			b.WriteRune(r)
		case r == '-' && !seenDigit:
			negative = true
		}
	}
	n := b.String()
	if !seenDigit {
		return ""
	}

	lastComma := strings.LastIndex(n, ",")
	lastDot := strings.LastIndex(n, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		sep := max(lastComma, lastDot)
		n = stripSeparators(n[:sep]) + "." + stripSeparators(n[sep+1:])
	case lastComma >= 0:
		if strings.Count(n, ",") > 1 {
			n = stripSeparators(n)
		} else {
			n = strings.Replace(n, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(n, ".") > 1 {
			n = stripSeparators(n)
		}
	}

	n = strings.TrimSuffix(n, ".")
	if strings.HasPrefix(n, ".") {
		n = "0" + n
	}
	if n == "" {
		return ""
	}
	if negative {
		n = "-" + n
	}
	return n
}

func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}
