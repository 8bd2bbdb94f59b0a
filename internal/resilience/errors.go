package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// IOFailure marks a file that could not be read during fingerprinting.
// Callers skip the document and continue the corpus-wide run.
type IOFailure struct {
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("io failure reading %s: %v", e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

// OracleParseFailure marks a classifier response that was not well-formed
// JSON matching the judgment schema. Subject to the retry/shrink policy.
type OracleParseFailure struct {
	Detail string
	Err    error
}

func (e *OracleParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle parse failure: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("oracle parse failure: %s", e.Detail)
}

func (e *OracleParseFailure) Unwrap() error { return e.Err }

// OracleTimeout marks an oracle call that exceeded its wall-clock budget.
// Treated identically to a parse failure for retry purposes.
type OracleTimeout struct {
	Err error
}

func (e *OracleTimeout) Error() string {
	return fmt.Sprintf("oracle timeout: %v", e.Err)
}

func (e *OracleTimeout) Unwrap() error { return e.Err }

// InvalidClusterProposal marks an oracle cluster that violates the
// same-document-type invariant. The cluster is dropped with a warning; the
// batch is not failed.
type InvalidClusterProposal struct {
	Reason string
}

func (e *InvalidClusterProposal) Error() string {
	return fmt.Sprintf("invalid cluster proposal: %s", e.Reason)
}

// ErrResolutionConflict signals an attempt to overwrite a document's
// terminal status with a different label. Rewriting the same label is not a
// conflict; reruns stay idempotent.
var ErrResolutionConflict = errors.New("conflicting resolution label")

// IsRetryableOracleErr reports whether an oracle error should feed the
// retry-then-shrink policy rather than fail the run.
func IsRetryableOracleErr(err error) bool {
	if err == nil {
		return false
	}
	var parse *OracleParseFailure
	if errors.As(err, &parse) {
		return true
	}
	var timeout *OracleTimeout
	if errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsTransient(err)
}

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

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

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
