package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Milesbeckerle/mercado-livre-api/internal/app"
	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

// ---- fakes ----

type fakeClient struct {
	searchFn  func(ctx context.Context, query string, limit int) ([]map[string]any, error)
	reviewsFn func(ctx context.Context, itemID string) ([]map[string]any, error)
}

func (f *fakeClient) SearchItems(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	return f.searchFn(ctx, query, limit)
}
func (f *fakeClient) GetItemReviews(ctx context.Context, itemID string) ([]map[string]any, error) {
	return f.reviewsFn(ctx, itemID)
}

type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}
func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, _ := json.Marshal(v)
	c.store[key] = b
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error { return nil }

type missEntry struct {
	itemID string
	status int
}

type fakeLog struct {
	mu     sync.Mutex
	misses []missEntry
}

func (l *fakeLog) LogMiss(ctx context.Context, itemID string, status int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.misses = append(l.misses, missEntry{itemID, status})
	return nil
}
func (l *fakeLog) ListRecentMisses(ctx context.Context, limit int) ([]domain.FetchMiss, error) {
	return nil, nil
}

func newService(c domain.MeliClient) *app.SearchService {
	return app.NewSearchService(c, nil, nil, 50, 8, time.Minute)
}

func items(ids ...string) []domain.Item {
	out := make([]domain.Item, len(ids))
	for i, id := range ids {
		out[i] = domain.Item{ID: id, Title: "item " + id}
	}
	return out
}

// ---- aggregator ----

func TestAttachReviews_OrderAndLengthPreserved(t *testing.T) {
	// later items finish first so completion order differs from input order
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			var n int
			fmt.Sscanf(itemID, "MLB%d", &n)
			time.Sleep(time.Duration(20-n) * time.Millisecond)
			return []map[string]any{{"text": "review of " + itemID}}, nil
		},
	}
	s := newService(cl)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLB%d", i+1)
	}
	out, warnings := s.AttachReviews(context.Background(), items(ids...))

	if len(out) != len(ids) {
		t.Fatalf("expected %d items, got %d", len(ids), len(out))
	}
	for i, it := range out {
		if it.ID != ids[i] {
			t.Fatalf("order broken at %d: want %s got %s", i, ids[i], it.ID)
		}
		if len(it.Reviews) != 1 || *it.Reviews[0].Text != "review of "+it.ID {
			t.Fatalf("reviews attached to wrong item: %+v", it)
		}
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestAttachReviews_ConcurrencyCap(t *testing.T) {
	var inflight, peak int32
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			cur := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return nil, nil
		},
	}
	s := newService(cl)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLB%d", i+1)
	}
	out, _ := s.AttachReviews(context.Background(), items(ids...))

	if len(out) != 50 {
		t.Fatalf("cap must throttle, not skip: got %d items", len(out))
	}
	if p := atomic.LoadInt32(&peak); p > 8 {
		t.Fatalf("peak concurrency %d exceeds cap 8", p)
	}
}

func TestAttachReviews_FailureIsolation(t *testing.T) {
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			if itemID == "MLB2" {
				return nil, domain.ErrRateLimited
			}
			return []map[string]any{{"text": "ok"}}, nil
		},
	}
	s := newService(cl)

	out, warnings := s.AttachReviews(context.Background(), items("MLB1", "MLB2", "MLB3"))
	if len(out) != 3 {
		t.Fatalf("expected 3 items, got %d", len(out))
	}
	if len(out[0].Reviews) != 1 || len(out[2].Reviews) != 1 {
		t.Fatalf("healthy items must keep their reviews: %+v", out)
	}
	if len(out[1].Reviews) != 0 {
		t.Fatalf("failed item must degrade to empty reviews: %+v", out[1])
	}
	if len(warnings) != 1 || warnings[0] != "Rate limit ao buscar reviews do item MLB2." {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestAttachReviews_CancellationResolvesAllSlots(t *testing.T) {
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
				return []map[string]any{{"text": "ok"}}, nil
			}
		},
	}
	s := newService(cl)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLB%d", i+1)
	}

	// expires while the first batch is still in flight: in-flight fetches
	// return the context error, queued ones fail semaphore acquire
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out, warnings := s.AttachReviews(ctx, items(ids...))

	if len(out) != 20 {
		t.Fatalf("every slot must resolve under cancellation, got %d", len(out))
	}
	for i, it := range out {
		if it.ID != ids[i] {
			t.Fatalf("order broken at %d: want %s got %s", i, ids[i], it.ID)
		}
		if len(it.Reviews) != 0 {
			t.Fatalf("cancelled fetch must degrade to empty reviews: %+v", it)
		}
	}
	if len(warnings) != 20 {
		t.Fatalf("expected a warning per cancelled item, got %d", len(warnings))
	}
	for i, w := range warnings {
		want := fmt.Sprintf("Erro de rede ao buscar reviews do item %s.", ids[i])
		if w != want {
			t.Fatalf("warning %d: want %q got %q", i, want, w)
		}
	}

	// no permit may leak: the same service must still run a full fan-out
	out2, warnings2 := s.AttachReviews(context.Background(), items(ids...))
	if len(out2) != 20 || len(warnings2) != 0 {
		t.Fatalf("service unusable after cancellation: %d items, %v", len(out2), warnings2)
	}
	for _, it := range out2 {
		if len(it.Reviews) != 1 {
			t.Fatalf("post-cancellation fetch should succeed for %s", it.ID)
		}
	}
}

// ---- fetcher ----

func TestFetchReviews_NotFoundNoWarning(t *testing.T) {
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			return nil, domain.ErrNotFound
		},
	}
	s := newService(cl)

	o := s.FetchReviews(context.Background(), "MLB3")
	if o.Status != domain.FetchEmpty {
		t.Fatalf("expected FetchEmpty, got %v", o.Status)
	}
	if o.Warning != "" {
		t.Fatalf("404 must not warn: %q", o.Warning)
	}
}

func TestFetchReviews_ForbiddenWarning(t *testing.T) {
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			return nil, domain.ErrForbidden
		},
	}
	lg := &fakeLog{}
	s := app.NewSearchService(cl, nil, lg, 50, 8, time.Minute)

	o := s.FetchReviews(context.Background(), "MLB5")
	if o.Status != domain.FetchDegraded {
		t.Fatalf("expected FetchDegraded, got %v", o.Status)
	}
	if o.Warning != "Acesso negado às reviews do item MLB5." {
		t.Fatalf("unexpected warning: %q", o.Warning)
	}
	if len(lg.misses) != 1 || lg.misses[0] != (missEntry{"MLB5", 403}) {
		t.Fatalf("miss not recorded: %+v", lg.misses)
	}
}

func TestFetchReviews_RateLimitedWarning(t *testing.T) {
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			return nil, domain.ErrRateLimited
		},
	}
	s := newService(cl)

	o := s.FetchReviews(context.Background(), "MLB9")
	if o.Status != domain.FetchDegraded || o.Warning != "Rate limit ao buscar reviews do item MLB9." {
		t.Fatalf("unexpected outcome: %+v", o)
	}
}

func TestFetchReviews_MalformedPayloadWarning(t *testing.T) {
	// a 2xx with an undecodable body surfaces from the transport as a plain
	// error, not a sentinel; it must still degrade instead of propagating
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			return nil, errors.New("invalid character '}' looking for beginning of value")
		},
	}
	lg := &fakeLog{}
	s := app.NewSearchService(cl, nil, lg, 50, 8, time.Minute)

	o := s.FetchReviews(context.Background(), "MLB7")
	if o.Status != domain.FetchDegraded {
		t.Fatalf("expected FetchDegraded, got %v", o.Status)
	}
	if o.Warning != "Falha ao buscar reviews do item MLB7." {
		t.Fatalf("unexpected warning: %q", o.Warning)
	}
	if len(o.Reviews) != 0 {
		t.Fatalf("degraded outcome must carry no reviews: %+v", o.Reviews)
	}
	if len(lg.misses) != 1 || lg.misses[0] != (missEntry{"MLB7", 502}) {
		t.Fatalf("miss not recorded: %+v", lg.misses)
	}
}

func TestFetchReviews_CacheHitSkipsTransport(t *testing.T) {
	var calls int32
	cl := &fakeClient{
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			atomic.AddInt32(&calls, 1)
			return []map[string]any{{"text": "fresh", "rating": 5.0}}, nil
		},
	}
	cache := &fakeCache{}
	s := app.NewSearchService(cl, cache, nil, 50, 8, time.Minute)

	// first fetch populates the cache
	o1 := s.FetchReviews(context.Background(), "MLB1")
	if o1.Status != domain.FetchOK || len(o1.Reviews) != 1 {
		t.Fatalf("unexpected first outcome: %+v", o1)
	}

	// second fetch must be served from cache
	o2 := s.FetchReviews(context.Background(), "MLB1")
	if o2.Status != domain.FetchOK || len(o2.Reviews) != 1 {
		t.Fatalf("unexpected cached outcome: %+v", o2)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 transport call, got %d", n)
	}
}

// ---- orchestrator ----

func scenarioClient() *fakeClient {
	return &fakeClient{
		searchFn: func(ctx context.Context, query string, limit int) ([]map[string]any, error) {
			raw := make([]map[string]any, 5)
			for i := range raw {
				raw[i] = map[string]any{
					"id":        fmt.Sprintf("MLB%d", i+1),
					"title":     fmt.Sprintf("Notebook %d", i+1),
					"price":     1000.0 + float64(i),
					"thumbnail": fmt.Sprintf("https://img/MLB%d.jpg", i+1),
				}
			}
			return raw, nil
		},
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			switch itemID {
			case "MLB3":
				return nil, domain.ErrNotFound
			case "MLB5":
				return nil, domain.ErrForbidden
			default:
				return []map[string]any{{"rating": 4.0, "text": "bom"}}, nil
			}
		},
	}
}

func TestSearch_Scenario(t *testing.T) {
	s := newService(scenarioClient())

	resp, err := s.Search(context.Background(), "notebook", 5)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.Query != "notebook" || resp.Limit != 5 {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if len(resp.Items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(resp.Items))
	}
	for i, it := range resp.Items {
		want := fmt.Sprintf("MLB%d", i+1)
		if it.ID != want {
			t.Fatalf("order broken at %d: want %s got %s", i, want, it.ID)
		}
	}
	if len(resp.Items[2].Reviews) != 0 || len(resp.Items[4].Reviews) != 0 {
		t.Fatalf("MLB3 and MLB5 must have empty reviews")
	}
	if len(resp.Items[0].Reviews) != 1 || len(resp.Items[1].Reviews) != 1 || len(resp.Items[3].Reviews) != 1 {
		t.Fatalf("healthy items must have their reviews")
	}
	if len(resp.Warnings) != 1 || resp.Warnings[0] != "Acesso negado às reviews do item MLB5." {
		t.Fatalf("expected exactly one warning for MLB5, got %v", resp.Warnings)
	}
}

func TestSearch_Idempotent(t *testing.T) {
	s := newService(scenarioClient())

	r1, err := s.Search(context.Background(), "notebook", 5)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	r2, err := s.Search(context.Background(), "notebook", 5)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	b1, _ := json.Marshal(r1.Items)
	b2, _ := json.Marshal(r2.Items)
	if string(b1) != string(b2) {
		t.Fatalf("items not byte-identical across runs")
	}
	if !reflect.DeepEqual(r1.Warnings, r2.Warnings) {
		t.Fatalf("warnings differ: %v vs %v", r1.Warnings, r2.Warnings)
	}
}

func TestSearch_UpstreamFailure(t *testing.T) {
	cl := &fakeClient{
		searchFn: func(ctx context.Context, query string, limit int) ([]map[string]any, error) {
			return nil, domain.ErrRateLimited
		},
	}
	s := newService(cl)

	_, err := s.Search(context.Background(), "notebook", 5)
	var use *domain.UpstreamSearchError
	if !errors.As(err, &use) {
		t.Fatalf("expected UpstreamSearchError, got %v", err)
	}
	if use.Status != 502 {
		t.Fatalf("expected 502-class status, got %d", use.Status)
	}
}

func TestSearch_LimitPolicy(t *testing.T) {
	var gotLimit int
	cl := &fakeClient{
		searchFn: func(ctx context.Context, query string, limit int) ([]map[string]any, error) {
			gotLimit = limit
			return nil, nil
		},
		reviewsFn: func(ctx context.Context, itemID string) ([]map[string]any, error) {
			return nil, nil
		},
	}
	s := newService(cl)
	ctx := context.Background()

	if _, err := s.Search(ctx, "", 5); err != app.ErrEmptyQuery {
		t.Fatalf("empty query: want ErrEmptyQuery, got %v", err)
	}
	if _, err := s.Search(ctx, "notebook", 0); err != app.ErrInvalidLimit {
		t.Fatalf("limit 0: want ErrInvalidLimit, got %v", err)
	}
	if _, err := s.Search(ctx, "notebook", -3); err != app.ErrInvalidLimit {
		t.Fatalf("negative limit: want ErrInvalidLimit, got %v", err)
	}

	resp, err := s.Search(ctx, "notebook", 500)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotLimit != 50 || resp.Limit != 50 {
		t.Fatalf("limit must clamp to 50, upstream saw %d, response says %d", gotLimit, resp.Limit)
	}
}
