// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Milesbeckerle/mercado-livre-api/internal/app"
	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

// defaultLimit matches the upstream API's own default page size.
const defaultLimit = 10

// Searcher is what the handlers need from the search service.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (domain.SearchResponse, error)
}

type Handlers struct {
	S      Searcher
	Misses domain.FetchLog // optional
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/health", h.health)
	s.mux.Get("/search", h.search)
	s.mux.Get("/v1/misses", h.listMisses)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid query", "query must not be empty")
		return
	}

	limit := defaultLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = l
	}

	resp, err := h.S.Search(r.Context(), query, limit)
	if err != nil {
		var use *domain.UpstreamSearchError
		switch {
		case errors.As(err, &use):
			log.Warn().Int("upstream_status", use.Status).Str("query", query).Msg("upstream search failed")
			writeProblem(w, http.StatusBadGateway, "Upstream search failed", "marketplace search is unavailable")
		case errors.Is(err, app.ErrEmptyQuery), errors.Is(err, app.ErrInvalidLimit):
			writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error())
		default:
			log.Error().Err(err).Str("query", query).Msg("search failed")
			writeProblem(w, http.StatusInternalServerError, "Internal error", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// listMisses exposes the fetch-miss log for operators.
func (h *Handlers) listMisses(w http.ResponseWriter, r *http.Request) {
	if h.Misses == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "fetch-miss log is not configured")
		return
	}

	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}

	out, err := h.Misses.ListRecentMisses(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list fetch misses failed")
		writeProblem(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	if out == nil {
		out = []domain.FetchMiss{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"misses": out})
}
