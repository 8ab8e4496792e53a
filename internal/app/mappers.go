package app

import (
	"strconv"
	"strings"

	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

/********** alias registries (single source of truth) **********/

// Upstream payloads drift between API versions; each logical field is
// resolved through an ordered alias list.

var itemAliases = map[string][]string{
	"id":    {"id", "item_id", "itemId"},
	"title": {"title", "name"},
	"image": {"thumbnail", "secure_thumbnail", "thumbnail_id", "picture", "image"},
}

var reviewAliases = map[string][]string{
	"author":    {"author", "name", "userName", "reviewer", "reviewer.name", "user.nickname"},
	"title":     {"title", "review_title", "headline", "summary"},
	"text":      {"text", "review_text", "review", "comment", "content", "body", "message"},
	"source_id": {"id", "review_id", "reviewId"},
	"rating":    {"rating", "rate", "score", "rating.value", "stars"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns string at path or "".
func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) *string {
	for _, p := range aliases[key] {
		if s := lookupStr(m, p); s != "" {
			return &s
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// getFloatFlexible: number from several paths (float64/int/string like "8,0").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

/********** mapping **********/

// mapItems converts raw search results into Items, skipping records without
// an id (the id keys the review fetch; nothing can be attached without it).
func mapItems(raw []map[string]any) []domain.Item {
	out := make([]domain.Item, 0, len(raw))
	for _, r := range raw {
		id := deref(firstNonEmptyAlias(r, itemAliases, "id"))
		if id == "" {
			continue
		}
		it := domain.Item{
			ID:      id,
			Title:   deref(firstNonEmptyAlias(r, itemAliases, "title")),
			Image:   deref(firstNonEmptyAlias(r, itemAliases, "image")),
			Reviews: []domain.Review{},
		}
		if p := getFloatFlexible(r, "price", "prices.price", "base_price"); p != nil {
			it.Price = *p
		}
		out = append(out, it)
	}
	return out
}

func mapReviews(raw []map[string]any) []domain.Review {
	out := make([]domain.Review, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.Review{
			SourceID: firstNonEmptyAlias(r, reviewAliases, "source_id"),
			Author:   firstNonEmptyAlias(r, reviewAliases, "author"),
			Rating:   getFloatFlexible(r, reviewAliases["rating"]...),
			Title:    firstNonEmptyAlias(r, reviewAliases, "title"),
			Text:     firstNonEmptyAlias(r, reviewAliases, "text"),
		})
	}
	return out
}
