package forum

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pickscanner/internal/domain"
	"pickscanner/internal/ports"
)

// scoreExpr pulls the leading number out of score labels such as
// "42 points" or "1 point".
var scoreExpr = regexp.MustCompile(`^-?\d+`)

// ThreadScanner fetches the configured discussion-thread page and
// extracts its comments as raw items, newest first (page order).
type ThreadScanner struct {
	threadURL string
	userAgent string
	client    *http.Client
}

var _ ports.ThreadSource = (*ThreadScanner)(nil)

// NewThreadScanner wires an HTTP client; nil defaults to a 20s timeout.
func NewThreadScanner(threadURL, userAgent string, client *http.Client) *ThreadScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "PickScanner/1.0"
	}
	return &ThreadScanner{threadURL: threadURL, userAgent: userAgent, client: client}
}

// FetchThread downloads the thread page and returns its title plus all
// parseable comments. Any transport or parse problem fails the fetch;
// individual malformed comments are skipped.
func (t *ThreadScanner) FetchThread(ctx context.Context) (domain.ThreadListing, error) {
	doc, err := t.fetchDocument(ctx, t.threadURL)
	if err != nil {
		return domain.ThreadListing{}, &domain.SourceFetchError{Err: err}
	}

	listing := domain.ThreadListing{
		Title: strings.TrimSpace(doc.Find(".thread-title").First().Text()),
	}
	if listing.Title == "" {
		listing.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	seen := map[string]struct{}{}
	doc.Find(".comment").Each(func(i int, sel *goquery.Selection) {
		item, ok := parseComment(sel)
		if !ok {
			return
		}
		if _, dup := seen[item.ID]; dup {
			return
		}
		seen[item.ID] = struct{}{}
		listing.Items = append(listing.Items, item)
	})

	return listing, nil
}

func (t *ThreadScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thread page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func parseComment(sel *goquery.Selection) (domain.RawItem, bool) {
	id, _ := sel.Attr("data-id")
	author := strings.TrimSpace(sel.Find(".comment-author").First().Text())
	text := strings.TrimSpace(sel.Find(".comment-body").First().Text())
	if id == "" || author == "" || text == "" {
		return domain.RawItem{}, false
	}

	score := 0
	if raw := strings.TrimSpace(sel.Find(".comment-score").First().Text()); raw != "" {
		if match := scoreExpr.FindString(raw); match != "" {
			if parsed, err := strconv.Atoi(match); err == nil {
				score = parsed
			}
		}
	}

	return domain.RawItem{ID: id, Author: author, Text: text, Score: score}, true
}
