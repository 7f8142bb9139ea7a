// Package problems holds the error taxonomy shared by every hullclient package.
package problems

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrInvalidConfiguration is returned when client settings are malformed or
	// a required field is missing.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidClaim is returned when an identity claim has no allowed field.
	ErrInvalidClaim = errors.New("invalid claim")
	// ErrMissingClaim is returned by AsUser/AsAccount when no claim is given.
	ErrMissingClaim = errors.New("missing claim")
	// ErrUnsupportedSubjectType guards token building against unknown entity types.
	ErrUnsupportedSubjectType = errors.New("unsupported subject type")
	// ErrUnsupportedMethod is returned for HTTP verbs the REST invoker does not know.
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrMissingConfig is returned by token operations when id or secret is absent.
	ErrMissingConfig = errors.New("missing connector credentials")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
)

// TransportError describes a failed platform call after retries were exhausted
// or a non-retryable response was received.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int // zero when no response was received
	Attempts   int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any transport failure.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base)
// 2. https://hull.io/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	return "https://hull.io/problems"
}

// Type builds a problem type URL for err, used when failures are persisted or
// logged outside the process.
func Type(err error) string {
	slug := "unknown"
	switch {
	case err == nil:
		slug = "none"
	case errors.Is(err, ErrInvalidConfiguration):
		slug = "invalid-configuration"
	case errors.Is(err, ErrInvalidClaim):
		slug = "invalid-claim"
	case errors.Is(err, ErrMissingClaim):
		slug = "missing-claim"
	case errors.Is(err, ErrUnsupportedSubjectType):
		slug = "unsupported-subject-type"
	case errors.Is(err, ErrUnsupportedMethod):
		slug = "unsupported-method"
	case errors.Is(err, ErrMissingConfig):
		slug = "missing-config"
	case errors.Is(err, ErrTransport):
		slug = "transport"
	}
	return Base() + "/" + slug
}
