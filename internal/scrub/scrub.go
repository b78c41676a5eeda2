// Package scrub redacts short-lived Git credentials embedded in HTTPS clone
// URLs before they reach a log line.
package scrub

import "regexp"

var tokenPattern = regexp.MustCompile(`x-access-token:[^@]+@`)

// Scrub replaces "x-access-token:<anything>@" with "x-access-token:***@" so
// that a rotated GitHub App installation token never appears in logs.
func Scrub(s string) string {
	return tokenPattern.ReplaceAllString(s, "x-access-token:***@")
}
