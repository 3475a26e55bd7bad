package update

import (
	"context"
	"errors"
	"strings"
	"time"

	"updraft/internal/appcast"
	"updraft/internal/debug"
	"updraft/internal/transport"
)

// NoVersionInfo is the failure info reported when a feed yields no version.
const NoVersionInfo = "No version information found"

// FeedFetcher retrieves a feed. *appcast.Manager implements it.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string, opts transport.Options) (*appcast.Appcast, error)
}

// Checker evaluates the update status of an installed application.
type Checker struct {
	fetcher  FeedFetcher
	disabled bool
	now      func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithFetcher sets the feed fetcher.
func WithFetcher(f FeedFetcher) CheckerOption {
	return func(c *Checker) {
		c.fetcher = f
	}
}

// WithDisabled turns update checks off; every status query reports
// StateDisabled without touching the network.
func WithDisabled(disabled bool) CheckerOption {
	return func(c *Checker) {
		c.disabled = disabled
	}
}

// WithClock sets the time source used for evaluation timestamps.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		c.now = now
	}
}

// NewChecker creates a status checker backed by an appcast.Manager.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		fetcher: appcast.NewManager(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplicationStatus determines whether localVersion is current with respect
// to the feed at feedURL. A nil localVersion means the application is not
// installed. The feed is fetched afresh on every call.
//
// ApplicationStatus never returns an error: fetch failures become
// StateFailure, unexpected errors StateUnknown.
func (c *Checker) ApplicationStatus(ctx context.Context, localVersion *string, feedURL string, opts transport.Options) *ApplicationStatus {
	if c.disabled {
		return &ApplicationStatus{State: StateDisabled}
	}
	if localVersion == nil {
		return &ApplicationStatus{State: StateNotInstalled}
	}
	local := *localVersion
	feedURL = strings.TrimSpace(feedURL)
	if local == "" || feedURL == "" {
		return &ApplicationStatus{State: StateUnknown}
	}

	status := &ApplicationStatus{State: StateUnknown, UpdateTime: c.now()}

	feed, err := c.fetcher.Fetch(ctx, feedURL, opts)
	if err != nil {
		var fetchErr *appcast.FetchError
		if errors.As(err, &fetchErr) {
			status.State = StateFailure
			status.Info = fetchErr.Error()
			debug.Warnf("status check failed: %s", status.Info)
			return status
		}
		debug.Warnf("status check for %q could not complete: %v", feedURL, err)
		return status
	}

	remote := feed.LatestVersion()
	if remote == "" {
		status.State = StateFailure
		status.Info = NoVersionInfo
		return status
	}

	if Compare(local, remote) < 0 {
		status.State = StateUpdateAvailable
		status.Info = remote
		status.Feed = feed
		debug.Infof("update available: %s -> %s", local, remote)
		return status
	}

	status.State = StateOK
	debug.Debugf("version %s is current (feed offers %s)", local, remote)
	return status
}
