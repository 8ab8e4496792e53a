package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Milesbeckerle/mercado-livre-api/internal/adapters/observability"
	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

// Input validation failures; the HTTP layer maps these to 400.
var (
	ErrEmptyQuery   = errors.New("query must not be empty")
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// SearchService runs a marketplace search and enriches each result with its
// reviews. Review fetches fan out under a global concurrency cap and every
// per-item failure degrades to an empty review list plus a warning; only a
// failure of the primary search itself is surfaced as an error.
type SearchService struct {
	client   domain.MeliClient
	cache    domain.Cache    // optional
	misses   domain.FetchLog // optional
	sem      *semaphore.Weighted
	maxLimit int
	cacheTTL time.Duration
}

func NewSearchService(c domain.MeliClient, cache domain.Cache, misses domain.FetchLog,
	maxLimit, concurrency int, cacheTTL time.Duration) *SearchService {
	if maxLimit <= 0 {
		maxLimit = 50
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &SearchService{
		client:   c,
		cache:    cache,
		misses:   misses,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		maxLimit: maxLimit,
		cacheTTL: cacheTTL,
	}
}

// Search validates the input, queries the marketplace search endpoint and
// attaches reviews. limit values above the configured maximum are clamped;
// non-positive values are rejected before any upstream call.
func (s *SearchService) Search(ctx context.Context, query string, limit int) (domain.SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return domain.SearchResponse{}, ErrEmptyQuery
	}
	if limit <= 0 {
		return domain.SearchResponse{}, ErrInvalidLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	raw, err := s.client.SearchItems(ctx, query, limit)
	if err != nil {
		return domain.SearchResponse{}, &domain.UpstreamSearchError{
			Status: upstreamStatus(err),
			Msg:    err.Error(),
		}
	}

	items, warnings := s.AttachReviews(ctx, mapItems(raw))
	if warnings == nil {
		warnings = []string{}
	}
	return domain.SearchResponse{
		Query:    query,
		Limit:    limit,
		Items:    items,
		Warnings: warnings,
	}, nil
}

// AttachReviews fetches reviews for every item under the concurrency cap.
// All items are scheduled; the cap throttles in-flight fetches only. Each
// goroutine writes its own slot, so output order is the input order no
// matter how the fetches complete. Warnings follow the same order.
func (s *SearchService) AttachReviews(ctx context.Context, items []domain.Item) ([]domain.Item, []string) {
	outcomes := make([]domain.FetchOutcome, len(items))
	var wg sync.WaitGroup

	for i, it := range items {
		// acquire before launching the goroutine; release inside it
		if err := s.sem.Acquire(ctx, 1); err != nil {
			// request scope ended; resolve the slot without fetching
			outcomes[i] = domain.FetchOutcome{
				ItemID:  it.ID,
				Status:  domain.FetchDegraded,
				Warning: fmt.Sprintf("Erro de rede ao buscar reviews do item %s.", it.ID),
			}
			continue
		}

		wg.Add(1)
		go func(i int, itemID string) {
			defer wg.Done()
			defer s.sem.Release(1)
			outcomes[i] = s.FetchReviews(ctx, itemID)
		}(i, it.ID)
	}
	wg.Wait()

	out := make([]domain.Item, len(items))
	var warnings []string
	for i, it := range items {
		it.Reviews = outcomes[i].Reviews
		if it.Reviews == nil {
			it.Reviews = []domain.Review{}
		}
		out[i] = it
		if outcomes[i].Status == domain.FetchDegraded {
			warnings = append(warnings, outcomes[i].Warning)
		}
	}
	return out, warnings
}

// FetchReviews resolves one item's reviews. It never returns an error: every
// transport failure class maps to a FetchOutcome variant, so one item's
// failure cannot disturb the rest of the response.
func (s *SearchService) FetchReviews(ctx context.Context, itemID string) domain.FetchOutcome {
	key := "reviews:item:" + itemID
	if s.cache != nil {
		var cached []domain.Review
		if ok, _ := s.cache.Get(ctx, key, &cached); ok {
			observability.ObserveFetch("ok")
			return domain.FetchOutcome{ItemID: itemID, Status: domain.FetchOK, Reviews: cached}
		}
	}

	raw, err := s.client.GetItemReviews(ctx, itemID)
	if err != nil {
		return s.degrade(ctx, itemID, err)
	}

	reviews := mapReviews(raw)
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, reviews, int(s.cacheTTL.Seconds()))
	}
	observability.ObserveFetch("ok")
	return domain.FetchOutcome{ItemID: itemID, Status: domain.FetchOK, Reviews: reviews}
}

// degrade classifies a failed review fetch, records it best-effort and
// builds the warning shown to the caller. 404 is the expected no-reviews
// case and contributes no warning.
func (s *SearchService) degrade(ctx context.Context, itemID string, err error) domain.FetchOutcome {
	if errors.Is(err, domain.ErrNotFound) {
		s.logMiss(ctx, itemID, 404, "no reviews")
		observability.ObserveFetch("empty")
		return domain.FetchOutcome{ItemID: itemID, Status: domain.FetchEmpty}
	}

	var status int
	var warning string
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		status = 403
		warning = fmt.Sprintf("Acesso negado às reviews do item %s.", itemID)
	case errors.Is(err, domain.ErrRateLimited):
		status = 429
		warning = fmt.Sprintf("Rate limit ao buscar reviews do item %s.", itemID)
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = 0
		warning = fmt.Sprintf("Erro de rede ao buscar reviews do item %s.", itemID)
	default:
		// bad status or malformed payload
		status = 502
		warning = fmt.Sprintf("Falha ao buscar reviews do item %s.", itemID)
	}
	s.logMiss(ctx, itemID, status, err.Error())
	observability.ObserveFetch("degraded")
	return domain.FetchOutcome{ItemID: itemID, Status: domain.FetchDegraded, Warning: warning}
}

func (s *SearchService) logMiss(ctx context.Context, itemID string, status int, reason string) {
	if s.misses == nil {
		return
	}
	_ = s.misses.LogMiss(ctx, itemID, status, reason)
}

func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return 502
	case errors.Is(err, domain.ErrUnauthorized):
		return 401
	case errors.Is(err, domain.ErrForbidden):
		return 403
	case errors.Is(err, domain.ErrNotFound):
		return 404
	default:
		return 0
	}
}
