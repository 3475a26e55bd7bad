package appcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"updraft/internal/debug"
	apperrors "updraft/internal/errors"
	"updraft/internal/transport"
)

// Status codes attached to fetch failures that do not come from an HTTP
// response.
const (
	StatusNotFound     = http.StatusNotFound
	StatusForbidden    = http.StatusForbidden
	StatusTimeout      = http.StatusRequestTimeout
	StatusSetupFailure = http.StatusInternalServerError
)

// FetchError describes a failed feed retrieval. Timeouts, unknown hosts,
// non-OK responses and malformed documents all share this shape and differ
// in Status and StatusInfo.
type FetchError struct {
	Message    string
	URL        string
	Status     int
	StatusInfo string
	Err        error
}

// Error formats the failure as "<message> '<url>': <status> <statusInfo>".
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s '%s': %d %s", e.Message, e.URL, e.Status, e.StatusInfo)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Manager retrieves feeds over HTTP.
type Manager struct {
	defaults transport.Options
	newClient func(transport.Options) (*http.Client, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultOptions sets the transport options used when a fetch passes none.
func WithDefaultOptions(opts transport.Options) ManagerOption {
	return func(m *Manager) {
		m.defaults = opts
	}
}

// WithClientFactory overrides how HTTP clients are built.
func WithClientFactory(factory func(transport.Options) (*http.Client, error)) ManagerOption {
	return func(m *Manager) {
		m.newClient = factory
	}
}

// NewManager creates a feed manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		defaults:  transport.DefaultOptions(),
		newClient: transport.NewClient,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Defaults returns the transport options used by Fetch when none are given.
func (m *Manager) Defaults() transport.Options {
	return m.defaults
}

// Fetch downloads and parses the feed at rawURL. Failures that map onto the
// fetch error taxonomy are returned as *FetchError; anything else (invalid
// URL, cancelled context) is returned as is.
func (m *Manager) Fetch(ctx context.Context, rawURL string, opts transport.Options) (*Appcast, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeFeedFetch, fmt.Sprintf("parse feed url: %v", err), err)
	}
	if u.Scheme == "" {
		return nil, apperrors.New(apperrors.CodeFeedFetch, fmt.Sprintf("parse feed url: missing scheme in %q", rawURL), nil)
	}

	client, err := m.newClient(opts)
	if err != nil {
		return nil, &FetchError{
			Message:    "Could not initialize connection settings",
			URL:        u.String(),
			Status:     StatusSetupFailure,
			StatusInfo: err.Error(),
			Err:        err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Total())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	debug.Debugf("fetching appcast from %q", u)
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, u.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Message:    "Unexpected response from URL",
			URL:        u.String(),
			Status:     resp.StatusCode,
			StatusInfo: http.StatusText(resp.StatusCode),
		}
	}

	feed, err := Parse(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &FetchError{
				Message:    "Timeout reading appcast from URL",
				URL:        u.String(),
				Status:     StatusTimeout,
				StatusInfo: err.Error(),
				Err:        err,
			}
		}
		return nil, &FetchError{
			Message:    "Could not read appcast from URL",
			URL:        u.String(),
			Status:     StatusNotFound,
			StatusInfo: err.Error(),
			Err:        err,
		}
	}
	return feed, nil
}

// LatestVersion fetches the feed and returns its head release version.
func (m *Manager) LatestVersion(ctx context.Context, rawURL string, opts transport.Options) (string, error) {
	feed, err := m.Fetch(ctx, rawURL, opts)
	if err != nil {
		return "", err
	}
	return feed.LatestVersion(), nil
}

// classifyRequestError maps transport failures onto FetchError. A cancelled
// caller context is not a fetch failure and is returned unchanged.
func classifyRequestError(ctx context.Context, rawURL string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}

	if isTimeout(err) {
		return &FetchError{
			Message:    "Timeout reading appcast from URL",
			URL:        rawURL,
			Status:     StatusTimeout,
			StatusInfo: rootCause(err).Error(),
			Err:        err,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{
			Message:    "Unknown Host",
			URL:        rawURL,
			Status:     StatusNotFound,
			StatusInfo: dnsErr.Error(),
			Err:        err,
		}
	}

	return &FetchError{
		Message:    "Could not establish connection to URL",
		URL:        rawURL,
		Status:     StatusForbidden,
		StatusInfo: rootCause(err).Error(),
		Err:        err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func rootCause(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
