// internal/adapters/meli/client.go
package meli

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Milesbeckerle/mercado-livre-api/internal/adapters/observability"
	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

const maxAttempts = 3 // 1 initial + 2 retries

type Client struct {
	base   string
	siteID string
	token  string // optional bearer token for the reviews endpoint
	hc     *http.Client
	rl     *rate.Limiter
}

func New(base, siteID, token string, rps int) (*Client, error) {
	if siteID == "" {
		return nil, fmt.Errorf("site id is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		siteID: siteID,
		token:  token,
		hc:     &http.Client{Timeout: 10 * time.Second},
		rl:     rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

func (c *Client) SearchItems(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/sites/%s/search?q=%s&limit=%d",
		c.base, c.siteID, url.QueryEscape(query), limit)
	var out struct {
		Results []map[string]any `json:"results"`
	}
	if err := c.get(ctx, u, "search", &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) GetItemReviews(ctx context.Context, itemID string) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/reviews/item/%s", c.base, url.PathEscape(itemID))
	var out struct {
		Reviews []map[string]any `json:"reviews"`
	}
	if err := c.get(ctx, u, "reviews", &out); err != nil {
		return nil, err
	}
	return out.Reviews, nil
}

// ---- Internals ----

// get performs a GET with client-side rate limiting, retries, and JSON
// decode into out. Retries only on 429/transient 5xx and network errors,
// honoring Retry-After when provided. Terminal statuses resolve to the
// domain sentinels.
func (c *Client) get(ctx context.Context, url, endpoint string, out any) error {
	// client-side rate limiting
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	for i := 0; i < maxAttempts; i++ {
		// build a fresh request each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "mercado-livre-api/1.0")

		resp, err := c.hc.Do(req)
		if err != nil {
			// network error or context canceled
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.ObserveExternal("meli", endpoint, 0, time.Since(start))
			return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		}

		observability.ObserveExternal("meli", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return domain.ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return domain.ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: remote %d", domain.ErrRateLimited, resp.StatusCode)

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return domain.ErrNetwork
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	// seconds form
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	// HTTP-date form
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// i = retry attempt (0,1,2,...). Base doubles each attempt (200ms, 400ms...),
// with up to +50% random jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
