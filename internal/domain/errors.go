package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrValidation     = fmt.Errorf("invalid request")
	ErrBudgetExceeded = fmt.Errorf("budget exceeded")
	ErrAgentNotFound  = fmt.Errorf("agent not found")
	ErrMethodNotFound = fmt.Errorf("method not found")
	ErrTimeout        = fmt.Errorf("operation timed out")
	ErrQuota          = fmt.Errorf("backend quota exhausted")
	ErrAuthInvalid    = fmt.Errorf("authentication failed")
	ErrAgentEngine    = fmt.Errorf("agent engine failure")

	// Negotiation errors.
	ErrCapabilityMissing  = fmt.Errorf("capability not offered by agent")
	ErrNegotiationRefused = fmt.Errorf("negotiation refused")

	// Persistence collaborator errors.
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrStoreUnavailable     = fmt.Errorf("conversation store unavailable")

	// Configuration errors.
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrDecryption = fmt.Errorf("decryption failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Invoke")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether err is transient and may succeed on retry.
// Validation and budget failures are terminal for a given request; timeouts,
// quota pressure, and generic engine failures are worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrQuota) ||
		errors.Is(err, ErrAgentEngine)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeValidation           ErrorCode = "VALIDATION_ERROR"
	CodeBudgetExceeded       ErrorCode = "BUDGET_EXCEEDED"
	CodeAgentNotFound        ErrorCode = "AGENT_NOT_FOUND"
	CodeMethodNotFound       ErrorCode = "METHOD_NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeQuota                ErrorCode = "QUOTA_EXHAUSTED"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeAgentEngine          ErrorCode = "AGENT_ENGINE"
	CodeCapabilityMissing    ErrorCode = "CAPABILITY_MISSING"
	CodeNegotiationRefused   ErrorCode = "NEGOTIATION_REFUSED"
	CodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeDecryption           ErrorCode = "DECRYPTION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrValidation:           CodeValidation,
	ErrBudgetExceeded:       CodeBudgetExceeded,
	ErrAgentNotFound:        CodeAgentNotFound,
	ErrMethodNotFound:       CodeMethodNotFound,
	ErrTimeout:              CodeTimeout,
	ErrQuota:                CodeQuota,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrAgentEngine:          CodeAgentEngine,
	ErrCapabilityMissing:    CodeCapabilityMissing,
	ErrNegotiationRefused:   CodeNegotiationRefused,
	ErrConversationNotFound: CodeConversationNotFound,
	ErrStoreUnavailable:     CodeStoreUnavailable,
	ErrConfigLoad:           CodeConfigLoad,
	ErrDecryption:           CodeDecryption,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
