package oracle

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for scoring calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the oracle took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates a malformed or unreadable response body
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates a rejected API key
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorOutage indicates the oracle is unreachable or returned 5xx
	ErrorOutage ErrorCategory = "outage"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorContractMismatch indicates an unexpected status or payload shape
	ErrorContractMismatch ErrorCategory = "contract_mismatch"

	// ErrorCancelled indicates the caller gave up before the oracle answered
	ErrorCancelled ErrorCategory = "cancelled"

	// ErrorCircuitOpen indicates the call was refused locally after repeated failures
	ErrorCircuitOpen ErrorCategory = "circuit_open"
)

// Error wraps an oracle failure with its category.
type Error struct {
	Category   ErrorCategory
	Message    string
	StatusCode int
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("oracle [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("oracle [%s]: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category ErrorCategory, message string, underlying error) *Error {
	return &Error{Category: category, Message: message, Underlying: underlying}
}

// CategoryOf extracts the category of an oracle error. Errors that did not
// come from this package report ErrorOutage.
func CategoryOf(err error) ErrorCategory {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Category
	}
	return ErrorOutage
}
