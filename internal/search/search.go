// Package search decides when a message needs a live web lookup and talks
// to the search backend.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxResults is how many results go into a search context.
const DefaultMaxResults = 4

var (
	// ErrUnavailable marks any search failure. Callers degrade silently.
	ErrUnavailable = errors.New("search unavailable")
	// ErrNoResults is returned when the backend answered with nothing usable.
	ErrNoResults = fmt.Errorf("%w: no results", ErrUnavailable)
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is the search backend.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// FormatContext renders up to max results as "title\nsnippet" blocks
// separated by blank lines. It returns "" when nothing is usable.
func FormatContext(results []Result, max int) string {
	if max <= 0 {
		max = DefaultMaxResults
	}
	blocks := make([]string, 0, max)
	for _, r := range results {
		if len(blocks) >= max {
			break
		}
		title := strings.TrimSpace(r.Title)
		snippet := strings.TrimSpace(r.Snippet)
		if title == "" && snippet == "" {
			continue
		}
		switch {
		case title == "":
			blocks = append(blocks, snippet)
		case snippet == "":
			blocks = append(blocks, title)
		default:
			blocks = append(blocks, title+"\n"+snippet)
		}
	}
	return strings.Join(blocks, "\n\n")
}
