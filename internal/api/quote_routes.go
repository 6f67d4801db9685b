package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kjannette/marketdash-backend/internal/aggregator"
	"github.com/kjannette/marketdash-backend/internal/models"
	"github.com/kjannette/marketdash-backend/internal/normalize"
)

// snapshotHistoryLimit bounds the rows read when rebuilding a series from
// stored snapshots.
const snapshotHistoryLimit = 500

type quotesRequest struct {
	Symbols        []string `json:"symbols"`
	IncludeHistory bool     `json:"includeHistory"`
}

func (s *Server) handlePostQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.serveQuotes(w, r, req)
}

func (s *Server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	s.serveQuotes(w, r, quotesRequest{
		Symbols:        parseSymbols(r),
		IncludeHistory: r.URL.Query().Get("includeHistory") == "true",
	})
}

func (s *Server) serveQuotes(w http.ResponseWriter, r *http.Request, req quotesRequest) {
	if s.deps.Quotes == nil {
		unavailable(w, "quotes")
		return
	}
	resp, err := s.deps.Quotes.GetQuotes(r.Context(), req.Symbols, nil)
	if err != nil {
		s.writeFailure(w, r, err, "failed to fetch quotes")
		return
	}
	if req.IncludeHistory {
		resp.History = s.deps.Quotes.HistoryFor(r.Context(), req.Symbols)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quotes == nil {
		unavailable(w, "history")
		return
	}
	resp, err := s.deps.Quotes.GetHistory(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeFailure(w, r, err, "failed to fetch history")
		return
	}
	if len(resp.History) == 0 && s.deps.Snapshots != nil {
		rows, err := s.deps.Snapshots.GetBySymbol(r.Context(), resp.Symbol, snapshotHistoryLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", resp.Symbol).Msg("snapshot history unavailable")
		} else if points := pointsFromSnapshots(rows); len(points) > 0 {
			resp.History = points
			resp.Source = aggregator.SourceDatabase
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// pointsFromSnapshots keeps the latest snapshot of each UTC day. Rows
// arrive newest first.
func pointsFromSnapshots(rows []models.HistoryRow) []models.HistoryPoint {
	seen := make(map[string]bool, len(rows))
	points := make([]models.HistoryPoint, 0, len(rows))
	for _, row := range rows {
		if row.Price <= 0 {
			continue
		}
		date := row.RecordedAt.UTC().Format("2006-01-02")
		if seen[date] {
			continue
		}
		seen[date] = true
		points = append(points, models.HistoryPoint{
			Date:   date,
			Open:   row.Price,
			High:   row.Price,
			Low:    row.Price,
			Close:  row.Price,
			Volume: row.Volume,
		})
	}
	return normalize.SortHistoryAscending(points)
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quotes == nil {
		unavailable(w, "quotes")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Quotes.GetGlobalQuotes(r.Context()))
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quotes == nil {
		unavailable(w, "quotes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.deps.Quotes.ClearCache()})
}
