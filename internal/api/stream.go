package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

const (
	streamWriteWait = 5 * time.Second
	streamReadLimit = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by CORS and the API key.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamFrame struct {
	Loaded int            `json:"loaded"`
	Total  int            `json:"total"`
	Quotes []models.Quote `json:"quotes"`
	Done   bool           `json:"done,omitempty"`
	Source string         `json:"source,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// handleQuoteStream upgrades to a websocket and sends one frame per resolved
// market group, then a final frame with done set. The socket closes after
// the final frame.
func (s *Server) handleQuoteStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quotes == nil {
		unavailable(w, "quotes")
		return
	}
	symbols := parseSymbols(r)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: the client sends nothing useful; a read error means it left.
	conn.SetReadLimit(streamReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(f streamFrame) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(f)
	}

	// Progress calls are serialized by the aggregator, and the final write
	// happens after GetQuotes returns, so there is one writer at a time.
	resp, err := s.deps.Quotes.GetQuotes(ctx, symbols, func(loaded, total int, partial []models.Quote) {
		if err := send(streamFrame{Loaded: loaded, Total: total, Quotes: partial}); err != nil {
			cancel()
		}
	})

	final := streamFrame{Done: true}
	if err != nil {
		_, final.Error = statusFor(err, "failed to fetch quotes")
	} else {
		br, us := market.Split(symbols)
		final.Loaded, final.Total = len(br)+len(us), len(br)+len(us)
		final.Quotes = resp.Quotes
		final.Source = string(resp.Source)
	}
	if ctx.Err() != nil {
		return
	}
	if err := send(final); err != nil {
		s.log.Debug().Err(err).Msg("stream client went away")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
