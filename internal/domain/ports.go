package domain

import "context"

// MeliClient is the retrying transport used for both search and review
// requests.
type MeliClient interface {
	SearchItems(ctx context.Context, query string, limit int) ([]map[string]any, error)
	GetItemReviews(ctx context.Context, itemID string) ([]map[string]any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// FetchLog records degraded review fetches for later inspection. Writes are
// best-effort; callers ignore errors.
type FetchLog interface {
	LogMiss(ctx context.Context, itemID string, status int, reason string) error
	ListRecentMisses(ctx context.Context, limit int) ([]FetchMiss, error)
}

type FetchMiss struct {
	ItemID     string `json:"item_id"`
	HTTPStatus int    `json:"http_status"`
	Reason     string `json:"reason"`
	SeenAt     string `json:"seen_at"`
}
