// Package ferrors defines the sentinel error kinds shared across the
// instance lifecycle engine. Call sites wrap one of these with fmt.Errorf's
// %w so callers can still test membership with errors.Is while getting a
// specific message.
package ferrors

import "errors"

var (
	// ErrNetwork covers HTTP transport failures and non-2xx responses.
	ErrNetwork = errors.New("network error")

	// ErrParse covers version/integer parsing and UTF-8 decode failures.
	ErrParse = errors.New("parse error")

	// ErrCredentialsFailure is returned when an authenticated endpoint
	// responds with a structured {error, message} envelope.
	ErrCredentialsFailure = errors.New("credentials failure")

	// ErrNotAllowed signals a violated precondition: missing credentials,
	// missing save folder, wrong supervisor status, absent pidfile, etc.
	ErrNotAllowed = errors.New("not allowed")

	// ErrInFlight is returned to a follower when the leader of a single-flight
	// fetch failed; the caller may retry.
	ErrInFlight = errors.New("in-flight fetch failed")

	// ErrAlreadyRunning is returned when a live pidfile is found for an
	// instance a caller is trying to (re)compose.
	ErrAlreadyRunning = errors.New("instance already running")

	// ErrInvalidVersionFormat is returned by Version parsing.
	ErrInvalidVersionFormat = errors.New("invalid version format")

	// ErrArchive covers malformed zip/tar entries, including unsafe names.
	ErrArchive = errors.New("archive error")
)
