package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: store timeouts, bus disconnects, provider overload.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown agent, denied command, malformed payload.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates a sandbox limit was hit.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates bugs: recovered panics, corrupted records.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation or process timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Bus, store or provider unreachable

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Task record absent or expired
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Bad skill parameters or config
	ErrCodeMalformed    ErrorCode = "MALFORMED"     // Event payload failed to decode
	ErrCodeDenied       ErrorCode = "DENIED"        // Command or path rejected by policy
	ErrCodeUnknownAgent ErrorCode = "UNKNOWN_AGENT" // No agent registered under the name
	ErrCodeUnknownSkill ErrorCode = "UNKNOWN_SKILL" // No skill registered under the name
	ErrCodeExecution    ErrorCode = "EXECUTION"     // Agent or skill reported failure
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Context canceled

	// Resource errors
	ErrCodeSpawn ErrorCode = "SPAWN_FAILED" // Sandboxed process could not start

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC" // Recovered from panic
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeMalformed, ErrCodeDenied,
		ErrCodeUnknownAgent, ErrCodeUnknownSkill, ErrCodeExecution, ErrCodeCanceled:
		return CategoryPermanent
	case ErrCodeSpawn:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "service temporarily unavailable",
	ErrCodeNotFound:     "record not found",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeMalformed:    "malformed payload",
	ErrCodeDenied:       "denied by policy",
	ErrCodeUnknownAgent: "unknown agent",
	ErrCodeUnknownSkill: "unknown skill",
	ErrCodeExecution:    "execution failed",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeSpawn:        "process could not be started",
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
