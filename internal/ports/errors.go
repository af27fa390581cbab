package ports

import (
	"context"
	"errors"
)

// Domain errors returned by the position service.
// Components wrap these with context via fmt.Errorf("...: %w", ErrX);
// callers classify with errors.Is or ErrorCode.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("position not found")
	ErrPositionClosed         = errors.New("position is closed")
	ErrSellExceedsHolding     = errors.New("sell exceeds holding")
	ErrConcurrentModification = errors.New("position is being modified concurrently")

	// ErrStorageUnavailable marks event store I/O failures. Adapters wrap every
	// driver-level error with it. It is the only retryable kind.
	ErrStorageUnavailable = errors.New("event store unavailable")
)

// Error codes exposed on the wire.
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeNotFound               = "NOT_FOUND"
	CodePositionClosed         = "POSITION_CLOSED"
	CodeSellExceedsHolding     = "SELL_EXCEEDS_HOLDING"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeStorageUnavailable     = "STORAGE_UNAVAILABLE"
	CodeTimeout                = "TIMEOUT"
	CodeInternal               = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrNotFound, CodeNotFound},
	{ErrPositionClosed, CodePositionClosed},
	{ErrSellExceedsHolding, CodeSellExceedsHolding},
	{ErrConcurrentModification, CodeConcurrentModification},
	{ErrStorageUnavailable, CodeStorageUnavailable},
	{context.DeadlineExceeded, CodeTimeout},
	{context.Canceled, CodeTimeout},
}

// ErrorCode returns the wire code for err, or CodeInternal if err wraps none of
// the known errors. A nil error has an empty code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsRetryable reports whether a caller may resubmit the same request unchanged
// and reasonably expect a different outcome.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
