package update

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"updraft/internal/appcast"
	"updraft/internal/transport"
)

// stubFetcher returns a canned feed or error and counts calls.
type stubFetcher struct {
	feed  *appcast.Appcast
	err   error
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, feedURL string, opts transport.Options) (*appcast.Appcast, error) {
	s.calls++
	return s.feed, s.err
}

func feedWithVersion(version string) *appcast.Appcast {
	return &appcast.Appcast{
		Version: "2.0",
		Channel: &appcast.Channel{
			Title: "Test",
			Items: []appcast.Item{{
				Title: "Release " + version,
				Enclosure: &appcast.Enclosure{
					URL:     "https://example.com/app-" + version + ".zip",
					Version: version,
				},
			}},
		},
	}
}

func strPtr(s string) *string { return &s }

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestChecker(f FeedFetcher) *Checker {
	return NewChecker(WithFetcher(f), WithClock(func() time.Time { return fixedNow }))
}

func TestNewChecker(t *testing.T) {
	c := NewChecker()
	if c.fetcher == nil {
		t.Error("fetcher should not be nil")
	}
	if _, ok := c.fetcher.(*appcast.Manager); !ok {
		t.Errorf("default fetcher = %T, want *appcast.Manager", c.fetcher)
	}
	if c.disabled {
		t.Error("checks should be enabled by default")
	}
}

func TestApplicationStatus(t *testing.T) {
	tests := []struct {
		name      string
		local     *string
		feedURL   string
		fetcher   *stubFetcher
		wantState State
		wantInfo  string
		wantFetch bool
	}{
		{
			name:      "not installed",
			local:     nil,
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateNotInstalled,
		},
		{
			name:      "empty local version",
			local:     strPtr(""),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateUnknown,
		},
		{
			name:      "whitespace local version is compared",
			local:     strPtr("  "),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateUpdateAvailable,
			wantInfo:  "2.0.4711",
			wantFetch: true,
		},
		{
			name:      "no feed url",
			local:     strPtr("2.0.4711"),
			feedURL:   "",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateUnknown,
		},
		{
			name:      "same version",
			local:     strPtr("2.0.4711"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateOK,
			wantFetch: true,
		},
		{
			name:      "local newer than feed",
			local:     strPtr("2.1.0"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateOK,
			wantFetch: true,
		},
		{
			name:      "update available",
			local:     strPtr("2.0.1044"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateUpdateAvailable,
			wantInfo:  "2.0.4711",
			wantFetch: true,
		},
		{
			name:      "snapshot of released version",
			local:     strPtr("2.0.4711-SNAPSHOT"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: feedWithVersion("2.0.4711")},
			wantState: StateUpdateAvailable,
			wantInfo:  "2.0.4711",
			wantFetch: true,
		},
		{
			name:      "feed without releases",
			local:     strPtr("2.0.1044"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{feed: &appcast.Appcast{Channel: &appcast.Channel{Title: "empty"}}},
			wantState: StateFailure,
			wantInfo:  NoVersionInfo,
			wantFetch: true,
		},
		{
			name:    "fetch error",
			local:   strPtr("2.0.1044"),
			feedURL: "https://example.com/appcast.xml",
			fetcher: &stubFetcher{err: &appcast.FetchError{
				Message:    "Unknown Host",
				URL:        "https://example.com/appcast.xml",
				Status:     404,
				StatusInfo: "example.com",
			}},
			wantState: StateFailure,
			wantInfo:  "Unknown Host 'https://example.com/appcast.xml': 404 example.com",
			wantFetch: true,
		},
		{
			name:      "unexpected error",
			local:     strPtr("2.0.1044"),
			feedURL:   "https://example.com/appcast.xml",
			fetcher:   &stubFetcher{err: errors.New("network unreachable")},
			wantState: StateUnknown,
			wantFetch: true,
		},
		{
			name:    "wrapped fetch error",
			local:   strPtr("2.0.1044"),
			feedURL: "https://example.com/appcast.xml",
			fetcher: &stubFetcher{err: fmt.Errorf("fetch: %w", &appcast.FetchError{
				Message: "Timeout reading appcast from URL", URL: "u", Status: 408, StatusInfo: "timeout",
			})},
			wantState: StateFailure,
			wantInfo:  "Timeout reading appcast from URL 'u': 408 timeout",
			wantFetch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := newTestChecker(tt.fetcher).ApplicationStatus(context.Background(), tt.local, tt.feedURL, transport.DefaultOptions())

			if status.State != tt.wantState {
				t.Errorf("State = %v, want %v", status.State, tt.wantState)
			}
			if status.Info != tt.wantInfo {
				t.Errorf("Info = %q, want %q", status.Info, tt.wantInfo)
			}
			if fetched := tt.fetcher.calls > 0; fetched != tt.wantFetch {
				t.Errorf("fetched = %v, want %v", fetched, tt.wantFetch)
			}
			if tt.wantFetch && !status.UpdateTime.Equal(fixedNow) {
				t.Errorf("UpdateTime = %v, want %v", status.UpdateTime, fixedNow)
			}
			if !tt.wantFetch && !status.UpdateTime.IsZero() {
				t.Errorf("UpdateTime = %v, want zero when no fetch happened", status.UpdateTime)
			}
			if got := status.Feed != nil; got != (tt.wantState == StateUpdateAvailable) {
				t.Errorf("Feed attached = %v for state %v", got, status.State)
			}
		})
	}
}

func TestApplicationStatusUpdateAvailableCarriesFeed(t *testing.T) {
	feed := feedWithVersion("2.0.4711")
	status := newTestChecker(&stubFetcher{feed: feed}).ApplicationStatus(
		context.Background(), strPtr("2.0.1044"), "https://example.com/appcast.xml", transport.DefaultOptions())

	if !status.UpdateAvailable() {
		t.Fatalf("UpdateAvailable() = false, status %v", status)
	}
	if status.Feed != feed {
		t.Error("status should carry the fetched feed")
	}
}

func TestApplicationStatusDisabled(t *testing.T) {
	fetcher := &stubFetcher{feed: feedWithVersion("9.9.9")}
	c := NewChecker(WithFetcher(fetcher), WithDisabled(true))

	status := c.ApplicationStatus(context.Background(), strPtr("1.0"), "https://example.com/appcast.xml", transport.DefaultOptions())
	if status.State != StateDisabled {
		t.Errorf("State = %v, want %v", status.State, StateDisabled)
	}
	if fetcher.calls != 0 {
		t.Errorf("disabled checker fetched %d times", fetcher.calls)
	}
}

func TestApplicationStatusHTTP404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	status := NewChecker().ApplicationStatus(context.Background(), strPtr("2.0.1044"), server.URL+"/appcast.xml", transport.DefaultOptions())
	if status.State != StateFailure {
		t.Fatalf("State = %v, want %v", status.State, StateFailure)
	}
	if !strings.Contains(status.Info, "404") {
		t.Errorf("Info = %q, want it to contain 404", status.Info)
	}
	if !strings.Contains(status.Info, server.URL+"/appcast.xml") {
		t.Errorf("Info = %q, want it to contain the feed url", status.Info)
	}
	if status.UpdateTime.IsZero() {
		t.Error("UpdateTime should be set after a fetch attempt")
	}
}

func TestApplicationStatusHTTPFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:sparkle="http://www.andymatuschak.org/xml-namespaces/sparkle">
  <channel>
    <title>Demo</title>
    <item>
      <title>2.0.4711</title>
      <enclosure url="https://example.com/app.zip" length="10" sparkle:version="2.0.4711"/>
    </item>
  </channel>
</rss>`)
	}))
	defer server.Close()

	status := NewChecker().ApplicationStatus(context.Background(), strPtr("1.9.1234"), server.URL, transport.DefaultOptions())
	if status.State != StateUpdateAvailable {
		t.Fatalf("State = %v (%s), want %v", status.State, status.Info, StateUpdateAvailable)
	}
	if status.Info != "2.0.4711" {
		t.Errorf("Info = %q, want %q", status.Info, "2.0.4711")
	}
}

func TestApplicationStatusCancelledIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status := NewChecker().ApplicationStatus(ctx, strPtr("1.0"), server.URL, transport.DefaultOptions())
	if status.State != StateUnknown {
		t.Errorf("State = %v, want %v", status.State, StateUnknown)
	}
	if status.UpdateTime.IsZero() {
		t.Error("UpdateTime should be set after a fetch attempt")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "UNKNOWN"},
		{StateOK, "OK"},
		{StateUpdateAvailable, "UPDATE_AVAILABLE"},
		{StateNotInstalled, "NOT_INSTALLED"},
		{StateDisabled, "DISABLED"},
		{StateFailure, "FAILURE"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestApplicationStatusString(t *testing.T) {
	s := &ApplicationStatus{State: StateUpdateAvailable, Info: "2.0.4711", UpdateTime: fixedNow}
	want := "UPDATE_AVAILABLE {info=2.0.4711, updateTime=2026-03-14T09:26:53Z}"
	if got := s.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := (&ApplicationStatus{}).String(); got != "UNKNOWN {info=, updateTime=never}" {
		t.Errorf("String() = %q", got)
	}
	var nilStatus *ApplicationStatus
	if nilStatus.UpdateAvailable() {
		t.Error("nil status should not report an update")
	}
}
