package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: peer not listening yet, request timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: transport closed, malformed message.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for bridge failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Peer did not acknowledge in time
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // No listener for the peer id
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Medium failed to carry the message

	// Permanent errors
	ErrCodeClosed       ErrorCode = "CLOSED"        // Transport or medium closed
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Message could not be encoded
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"   // Operation not supported by the channel
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient
	case ErrCodeClosed, ErrCodeInvalidInput, ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "peer did not acknowledge in time",
	ErrCodeUnavailable:  "peer is not listening",
	ErrCodeNetworkErr:   "message medium error",
	ErrCodeClosed:       "transport closed",
	ErrCodeInvalidInput: "invalid message",
	ErrCodeUnsupported:  "operation not supported",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
