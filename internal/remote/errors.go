package remote

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a repository, revision or file does not exist.
type NotFoundError struct {
	Repo     Repo
	Revision string
	Path     string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s not found in %s (revision %s)", e.Path, e.Repo, e.Revision)
	case e.Revision != "":
		return fmt.Sprintf("%s not found at revision %s", e.Repo, e.Revision)
	default:
		return fmt.Sprintf("%s not found", e.Repo)
	}
}

// HTTPError carries a non-success response status.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// AuthError is returned when the backend rejects the credentials.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "authentication failed: " + e.Message
}

// StatusCode extracts an HTTP status from err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}
