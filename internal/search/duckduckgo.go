package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultDuckDuckGoURL is the HTML endpoint; it needs no API key.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

const maxSearchBody = 1 << 20

// DuckDuckGo scrapes the DuckDuckGo HTML results page.
type DuckDuckGo struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
}

// NewDuckDuckGo creates a searcher against endpoint (DefaultDuckDuckGoURL
// when empty). timeout bounds each request.
func NewDuckDuckGo(endpoint string, maxResults int, timeout time.Duration) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DefaultDuckDuckGoURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &DuckDuckGo{
		endpoint:   endpoint,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Search runs query and returns at most maxResults hits.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxSearchBody))
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}

	results, err := parseDuckDuckGo(io.LimitReader(resp.Body, maxSearchBody), d.maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

func parseDuckDuckGo(r io.Reader, maxResults int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrUnavailable, err)
	}

	var results []Result
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		title := collapseSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, Result{
			Title:   title,
			URL:     unwrapRedirect(href),
			Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < maxResults
	})
	return results, nil
}

// unwrapRedirect turns //duckduckgo.com/l/?uddg=<target>&... into <target>.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
