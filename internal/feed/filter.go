package feed

import (
	"errors"
	"fmt"
	"strings"
)

// FilterType narrows the feed by swap side.
type FilterType string

const (
	FilterAll   FilterType = "all"
	FilterOffer FilterType = "offer"
	FilterNeed  FilterType = "need"
)

// ErrInvalidFilterType indicates an unsupported filter type value.
var ErrInvalidFilterType = errors.New("feed: invalid filter type")

// ParseFilterType accepts all, offer, or need; an empty value means all.
func ParseFilterType(value string) (FilterType, error) {
	switch FilterType(strings.ToLower(strings.TrimSpace(value))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterOffer:
		return FilterOffer, nil
	case FilterNeed:
		return FilterNeed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilterType, value)
	}
}

// Criteria is the search and filter selection applied to a loaded feed.
type Criteria struct {
	SearchText   string
	Neighborhood string
	Type         FilterType
}

// Matches reports whether a post satisfies every criterion.
func (c Criteria) Matches(post Entry) bool {
	if search := strings.ToLower(c.SearchText); search != "" {
		if !strings.Contains(strings.ToLower(post.Offer), search) &&
			!strings.Contains(strings.ToLower(post.Need), search) &&
			!strings.Contains(strings.ToLower(post.Nickname), search) {
			return false
		}
	}
	if c.Neighborhood != "" && post.Neighborhood != c.Neighborhood {
		return false
	}
	switch c.Type {
	case FilterOffer:
		// Offer and need are required on every post, so this only excludes rows with a blank field.
		return post.Offer != ""
	case FilterNeed:
		return post.Need != ""
	default:
		return true
	}
}

// Apply returns the entries matching the criteria, preserving order. The input is not modified.
func Apply(entries []Entry, criteria Criteria) []Entry {
	matched := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if criteria.Matches(entry) {
			matched = append(matched, entry)
		}
	}
	return matched
}
