package update

import (
	"fmt"
	"time"

	"updraft/internal/appcast"
)

// State is the outcome of an application status check.
type State int

const (
	// StateUnknown means the status could not be determined (no check was
	// performed, or the check hit an unexpected error).
	StateUnknown State = iota
	// StateOK means the installed version is current.
	StateOK
	// StateUpdateAvailable means the feed offers a newer version.
	StateUpdateAvailable
	// StateNotInstalled means there is no local version at all.
	StateNotInstalled
	// StateDisabled means update checks are switched off.
	StateDisabled
	// StateFailure means the check was performed and failed.
	StateFailure
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateUpdateAvailable:
		return "UPDATE_AVAILABLE"
	case StateNotInstalled:
		return "NOT_INSTALLED"
	case StateDisabled:
		return "DISABLED"
	case StateFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ApplicationStatus is the result of a single status evaluation. A fresh
// value is built for every check and never modified after it is returned.
type ApplicationStatus struct {
	State State
	// Info is a human readable detail: the remote version for
	// StateUpdateAvailable, the failure summary for StateFailure.
	Info string
	// UpdateTime is when the feed was evaluated; zero if no fetch was attempted.
	UpdateTime time.Time
	// Feed is the fetched feed, set only for StateUpdateAvailable.
	Feed *appcast.Appcast
}

// UpdateAvailable reports whether the status carries an installable update.
func (s *ApplicationStatus) UpdateAvailable() bool {
	return s != nil && s.State == StateUpdateAvailable && s.Feed != nil
}

// String formats the status for logs.
func (s *ApplicationStatus) String() string {
	if s == nil {
		return "<nil>"
	}
	updated := "never"
	if !s.UpdateTime.IsZero() {
		updated = s.UpdateTime.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s {info=%s, updateTime=%s}", s.State, s.Info, updated)
}
