package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState indicates the operation is not allowed for the
	// record's current lifecycle state
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrBidTooLow indicates a bid did not exceed the listing's current price
	ErrBidTooLow = errors.New("bid amount too low")

	// ErrSourceUnavailable indicates a chain source could not be reached;
	// callers retry the same window on the next cycle
	ErrSourceUnavailable = errors.New("chain source unavailable")

	// ErrConflictRetryable indicates a transaction lost a write conflict
	// and can be safely retried from the top
	ErrConflictRetryable = errors.New("retryable write conflict")

	// ErrMalformedEvent indicates an event payload that cannot be decoded
	// or fails validation for its kind
	ErrMalformedEvent = errors.New("malformed event")
)
