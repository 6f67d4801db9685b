package external

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/marketdash-backend/internal/httputil"
)

var defaultRetry = httputil.RetryConfig{
	MaxAttempts: 2,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

func retryOrDefault(r *httputil.RetryConfig, log zerolog.Logger) httputil.RetryConfig {
	cfg := defaultRetry
	if r != nil {
		cfg = *r
	}
	if cfg.Log == nil {
		cfg.Log = &log
	}
	return cfg
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
