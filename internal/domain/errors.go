package domain

import (
	"errors"
	"fmt"
)

// Transport-level sentinels. The meli client resolves every terminal HTTP
// status or exhausted retry loop into one of these; the fetcher consumes
// them with errors.Is.
var (
	ErrNotFound     = errors.New("meli: not found")
	ErrUnauthorized = errors.New("meli: unauthorized")
	ErrForbidden    = errors.New("meli: forbidden")
	// ErrRateLimited: 429/5xx persisted across the whole retry budget.
	ErrRateLimited = errors.New("meli: rate limited or server error")
	// ErrNetwork: network/timeout failure persisted across the retry budget.
	ErrNetwork = errors.New("meli: network failure")
)

// UpstreamSearchError is the one failure class surfaced to the HTTP
// boundary: the primary search cannot be partially degraded, so it maps to
// a 502-class response.
type UpstreamSearchError struct {
	Status int // upstream HTTP status, 0 when the failure was not HTTP
	Msg    string
}

func (e *UpstreamSearchError) Error() string {
	return fmt.Sprintf("upstream search failed (%d): %s", e.Status, e.Msg)
}
