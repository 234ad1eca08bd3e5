package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx,
// network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// BlockedError marks a source that refused access — a bot wall, a 403,
// a revoked credential. Blocked sources are flagged for manual review
// rather than silently failing forever; retrying does not help.
type BlockedError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *BlockedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s blocked access (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s blocked access (status %d)", e.Source, e.StatusCode)
}

func (e *BlockedError) Unwrap() error {
	return e.Err
}

// NewBlockedError records an access refusal from a source.
func NewBlockedError(source, url string, statusCode int, err error) *BlockedError {
	return &BlockedError{Source: source, URL: url, StatusCode: statusCode, Err: err}
}

// IsBlocked returns true if the error chain contains a BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// IsBlockedHTTPStatus returns true for status codes that indicate the
// caller is being refused rather than the server failing.
func IsBlockedHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 401, 403, 451:
		return true
	default:
		return false
	}
}

// MalformedOutputError marks model output that stayed unparseable even
// after the regex fallback. The subject is left unresolved; retrying
// the same prompt rarely helps, so this is not transient.
type MalformedOutputError struct {
	Source string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned malformed output: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s returned malformed output", e.Source)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// NewMalformedOutputError records an unparseable model response.
func NewMalformedOutputError(source string, err error) *MalformedOutputError {
	return &MalformedOutputError{Source: source, Err: err}
}

// IsMalformedOutput returns true if the error chain contains a
// MalformedOutputError.
func IsMalformedOutput(err error) bool {
	var me *MalformedOutputError
	return errors.As(err, &me)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns
// (network timeouts, connection resets, DNS failures). Blocked errors
// are never transient.
func IsTransient(err error) bool {
	if err == nil || IsBlocked(err) {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
