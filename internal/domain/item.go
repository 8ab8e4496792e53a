package domain

// Item is one marketplace search result, optionally enriched with reviews.
// Reviews is populated exactly once by the aggregator before the item is
// returned to the caller.
type Item struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Price   float64  `json:"price"`
	Image   string   `json:"image,omitempty"`
	Reviews []Review `json:"reviews"`
}

// Review is a pass-through record from the upstream reviews endpoint.
// Fields are extracted by alias lookup; the schema is not interpreted
// beyond that.
type Review struct {
	SourceID *string  `json:"id,omitempty"`
	Author   *string  `json:"author,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
	Title    *string  `json:"title,omitempty"`
	Text     *string  `json:"text,omitempty"`
}

type SearchResponse struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit"`
	Items    []Item   `json:"items"`
	Warnings []string `json:"warnings"`
}
