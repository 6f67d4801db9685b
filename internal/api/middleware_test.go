package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveAuth(apiKey, method, target, authorization string) int {
	s := &Server{apiKey: apiKey}
	req := httptest.NewRequest(method, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	s.authMiddleware(okHandler()).ServeHTTP(rr, req)
	return rr.Code
}

func TestAuthMiddleware_NoKeyConfigured(t *testing.T) {
	assert.Equal(t, http.StatusOK, serveAuth("", http.MethodGet, "/v1/rankings/BR", ""))
}

func TestAuthMiddleware_HealthBypass(t *testing.T) {
	assert.Equal(t, http.StatusOK, serveAuth("secret123", http.MethodGet, "/health", ""))
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serveAuth("secret123", http.MethodPost, "/v1/quotes", ""))
}

func TestAuthMiddleware_WrongKey(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serveAuth("secret123", http.MethodPost, "/v1/quotes", "Bearer wrong_key"))
}

func TestAuthMiddleware_CorrectKey(t *testing.T) {
	assert.Equal(t, http.StatusOK, serveAuth("secret123", http.MethodPost, "/v1/quotes", "Bearer secret123"))
}

func TestAuthMiddleware_MalformedBearer(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serveAuth("secret123", http.MethodPost, "/v1/quotes", "Basic secret123"))
}

func TestAuthMiddleware_StreamQueryToken(t *testing.T) {
	assert.Equal(t, http.StatusOK,
		serveAuth("secret123", http.MethodGet, "/v1/quotes/stream?symbols=AAPL&access_token=secret123", ""))
	assert.Equal(t, http.StatusUnauthorized,
		serveAuth("secret123", http.MethodGet, "/v1/quotes?symbols=AAPL&access_token=secret123", ""),
		"query token only works on the stream")
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query    string
		deflt    int
		expected int
	}{
		{"", 100, 100},
		{"?limit=50", 100, 50},
		{"?limit=0", 100, 100},
		{"?limit=-5", 100, 100},
		{"?limit=abc", 100, 100},
		{"?limit=2000", 100, maxQueryLimit},
		{"?limit=1000", 100, 1000},
		{"?limit=1", 50, 1},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/test"+tc.query, nil)
		assert.Equal(t, tc.expected, parseLimit(req, tc.deflt), "parseLimit(%q, %d)", tc.query, tc.deflt)
	}
}

func TestParseSymbols(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/quotes?symbols=PETR4,%20AAPL,,VALE3%20", nil)
	assert.Equal(t, []string{"PETR4", "AAPL", "VALE3"}, parseSymbols(req))
}

func TestCors_Headers(t *testing.T) {
	handler := corsHandler("https://myapp.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/rankings/US", nil)
	req.Header.Set("Origin", "https://myapp.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://myapp.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCors_Preflight(t *testing.T) {
	s := NewServer(Config{APIKey: "secret123"}, Deps{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/v1/quotes", nil)
	req.Header.Set("Origin", "https://myapp.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "preflight needs no credentials")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
