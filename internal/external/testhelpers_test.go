package external_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kjannette/marketdash-backend/internal/external"
	"github.com/kjannette/marketdash-backend/internal/httputil"
)

var oneShot = &httputil.RetryConfig{MaxAttempts: 1}

func opts(srv *httptest.Server) external.ClientOptions {
	return external.ClientOptions{BaseURL: srv.URL, Retry: oneShot}
}

// upstream starts a fake provider and counts the requests it receives.
func upstream(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}
