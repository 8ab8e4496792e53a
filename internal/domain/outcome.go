package domain

// FetchStatus tags the result of one per-item review fetch.
type FetchStatus int

const (
	// FetchOK: reviews retrieved (possibly zero of them).
	FetchOK FetchStatus = iota
	// FetchEmpty: item has no reviews (upstream 404). Expected, no warning.
	FetchEmpty
	// FetchDegraded: fetch failed after recovery; reviews empty, one warning.
	FetchDegraded
)

// FetchOutcome is the typed result of one review fetch attempt sequence.
// The fetcher never returns an error; every failure path resolves to a
// FetchDegraded outcome instead.
type FetchOutcome struct {
	ItemID  string
	Status  FetchStatus
	Reviews []Review
	Warning string // non-empty iff Status == FetchDegraded
}
