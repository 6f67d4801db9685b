package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kjannette/marketdash-backend/internal/external"
	"github.com/kjannette/marketdash-backend/internal/market"
	"github.com/kjannette/marketdash-backend/internal/models"
)

const (
	minSearchLen        = 2
	defaultRankingLimit = 50
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) < minSearchLen {
		writeError(w, http.StatusBadRequest, "query must have at least 2 characters")
		return
	}

	results := []models.SearchResult{}
	if s.deps.Search != nil {
		found, err := s.deps.Search.Search(r.Context(), query)
		if err != nil {
			s.log.Warn().Err(err).Str("query", query).Msg("search failed, returning no results")
		} else if found != nil {
			results = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if v := r.URL.Query().Get("pageSize"); v != "" {
		pageSize, _ = strconv.Atoi(v)
	}
	pageSize = external.ClampPageSize(pageSize)

	if s.deps.News == nil {
		mocks := external.MockArticles(pageSize)
		writeJSON(w, http.StatusOK, models.NewsPage{Articles: mocks, TotalResults: len(mocks), Fallback: true})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.News.FetchNews(r.Context(), pageSize))
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rankings == nil {
		unavailable(w, "rankings")
		return
	}
	m := models.Market(strings.ToUpper(chi.URLParam(r, "market")))
	if !market.Valid(m) {
		writeError(w, http.StatusBadRequest, "market must be BR or US")
		return
	}

	rows, err := s.deps.Rankings.ListRankings(r.Context(), m, parseLimit(r, defaultRankingLimit))
	if err != nil {
		s.writeFailure(w, r, err, "failed to fetch rankings")
		return
	}
	if rows == nil {
		rows = []models.RankingEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m, "rankings": rows})
}
