package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/quotes/stream?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestQuoteStream_ProgressThenDone(t *testing.T) {
	f := newFixture(t, Deps{})

	conn, _, err := dialStream(t, f.srv, "symbols=PETR4,AAPL")
	require.NoError(t, err)
	defer conn.Close()

	var frames []streamFrame
	for {
		var fr streamFrame
		if err := conn.ReadJSON(&fr); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		frames = append(frames, fr)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, 1, frames[0].Loaded)
	assert.Equal(t, 2, frames[0].Total)
	assert.Len(t, frames[0].Quotes, 1)
	assert.False(t, frames[0].Done)

	last := frames[2]
	assert.True(t, last.Done)
	assert.Equal(t, 2, last.Loaded)
	assert.Equal(t, 2, last.Total)
	assert.Len(t, last.Quotes, 2)
	assert.Equal(t, "api", last.Source)
	assert.Empty(t, last.Error)
}

func TestQuoteStream_RequiresSymbols(t *testing.T) {
	f := newFixture(t, Deps{})

	_, resp, err := dialStream(t, f.srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteStream_AccessToken(t *testing.T) {
	s := NewServer(Config{APIKey: "secret"}, Deps{Quotes: &fakeQuotes{}}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, resp, err := dialStream(t, srv, "symbols=AAPL")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := dialStream(t, srv, "symbols=AAPL&access_token=secret")
	require.NoError(t, err)
	conn.Close()
}
