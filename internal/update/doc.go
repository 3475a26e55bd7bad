// Package update decides whether an installed application is current and
// installs newer releases published in an appcast feed.
//
// This package handles:
//   - Comparing dotted version strings with optional qualifiers
//   - Turning a feed fetch into an ApplicationStatus
//   - Downloading, verifying and placing the head release
//   - Unpacking archives and running shipped hook scripts
//
// Status queries never fail; they report FAILURE or UNKNOWN instead.
// Installs return coded errors from the errors package.
//
// Example usage:
//
//	checker := update.NewChecker()
//	local := "2.0.1044"
//	status := checker.ApplicationStatus(ctx, &local, feedURL, transport.DefaultOptions())
//	if status.UpdateAvailable() {
//	    files, err := update.NewUpdater().Update(ctx, status.Feed, installDir)
//	    // ...
//	}
package update
