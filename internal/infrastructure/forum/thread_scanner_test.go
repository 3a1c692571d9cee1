package forum

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pickscanner/internal/domain"
)

const threadHTML = `
<html>
<head><title>fallback title</title></head>
<body>
  <h1 class="thread-title">Daily Picks Thread - August 31, 2026</h1>
  <div class="comment" data-id="c3">
    <span class="comment-author">ann</span>
    <span class="comment-score">42 points</span>
    <div class="comment-body">+2 ACME calls, earnings play</div>
  </div>
  <div class="comment" data-id="c2">
    <span class="comment-author">bob</span>
    <span class="comment-score">7 points</span>
    <div class="comment-body">holding XYZ through the dip</div>
  </div>
  <div class="comment" data-id="c2">
    <span class="comment-author">bob</span>
    <div class="comment-body">duplicate listing entry</div>
  </div>
  <div class="comment" data-id="">
    <span class="comment-author">ghost</span>
    <div class="comment-body">no identifier, skipped</div>
  </div>
</body>
</html>`

func TestFetchThread(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "PickScanner/1.0" {
			t.Errorf("unexpected user agent: %s", ua)
		}
		_, _ = w.Write([]byte(threadHTML))
	}))
	defer server.Close()

	sc := NewThreadScanner(server.URL, "", server.Client())

	listing, err := sc.FetchThread(context.Background())
	if err != nil {
		t.Fatalf("FetchThread error: %v", err)
	}

	if listing.Title != "Daily Picks Thread - August 31, 2026" {
		t.Fatalf("unexpected title: %s", listing.Title)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 comments after dedup and skips, got %d", len(listing.Items))
	}

	first := listing.Items[0]
	if first.ID != "c3" || first.Author != "ann" || first.Score != 42 {
		t.Fatalf("unexpected first comment: %+v", first)
	}
	if first.Text != "+2 ACME calls, earnings play" {
		t.Fatalf("unexpected comment text: %q", first.Text)
	}
}

func TestParseCommentScoreVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  int
	}{
		{"42 points", 42},
		{"1 point", 1},
		{"-3 points", -3},
		{"", 0},
		{"pending", 0},
	}
	for _, tc := range tests {
		html := `<html><body><div class="comment" data-id="c1">
			<span class="comment-author">ann</span>
			<span class="comment-score">` + tc.label + `</span>
			<div class="comment-body">some text</div>
		</div></body></html>`

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(html))
		}))
		sc := NewThreadScanner(server.URL, "", server.Client())

		listing, err := sc.FetchThread(context.Background())
		server.Close()
		if err != nil {
			t.Fatalf("FetchThread error for %q: %v", tc.label, err)
		}
		if len(listing.Items) != 1 {
			t.Fatalf("expected 1 comment for %q, got %d", tc.label, len(listing.Items))
		}
		if got := listing.Items[0].Score; got != tc.want {
			t.Errorf("score for %q: expected %d, got %d", tc.label, tc.want, got)
		}
	}
}

func TestFetchThreadUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sc := NewThreadScanner(server.URL, "", server.Client())

	_, err := sc.FetchThread(context.Background())
	var fetchErr *domain.SourceFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected SourceFetchError, got %v", err)
	}
}

func TestFetchThreadTitleFallback(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>plain title</title></head><body></body></html>`))
	}))
	defer server.Close()

	sc := NewThreadScanner(server.URL, "", server.Client())

	listing, err := sc.FetchThread(context.Background())
	if err != nil {
		t.Fatalf("FetchThread error: %v", err)
	}
	if listing.Title != "plain title" {
		t.Fatalf("expected title fallback, got %q", listing.Title)
	}
}
