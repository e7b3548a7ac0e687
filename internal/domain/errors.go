package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")

	// ErrConfig marks configuration problems (malformed descriptor,
	// unregistered agent requested by the router). Fatal at startup,
	// never recovered per-turn.
	ErrConfig = fmt.Errorf("configuration error")

	// ErrForbidden is returned when a role does not satisfy an agent's
	// requirement. The router recovers it into a fallback response; it
	// must never reach the transport as a raw error.
	ErrForbidden = fmt.Errorf("forbidden: insufficient role")

	// ErrAmbiguous means the classifier could not confidently assign an
	// intent or extract parameters. Recovered by falling back to the FAQ
	// agent or a clarifying prompt.
	ErrAmbiguous = fmt.Errorf("intent classification ambiguous")

	// ErrGeneration means the upstream LLM call failed or timed out.
	// Surfaced to the caller as an error response; conversation state is
	// left unchanged so the turn is retryable.
	ErrGeneration = fmt.Errorf("response generation failed")

	// Resilience errors for the LLM adapter.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")

	// Gateway errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrBadFrame          = fmt.Errorf("malformed inbound frame")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Router.Handle")
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

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeDuplicate       ErrorCode = "DUPLICATE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeConfig          ErrorCode = "CONFIG"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeAmbiguous       ErrorCode = "AMBIGUOUS_INTENT"
	CodeGeneration      ErrorCode = "GENERATION_FAILED"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeGatewayAuth     ErrorCode = "GATEWAY_AUTH"
	CodeBadFrame        ErrorCode = "BAD_FRAME"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrDuplicate:         CodeDuplicate,
	ErrTimeout:           CodeTimeout,
	ErrInvalidInput:      CodeInvalidInput,
	ErrConfig:            CodeConfig,
	ErrForbidden:         CodeForbidden,
	ErrAmbiguous:         CodeAmbiguous,
	ErrGeneration:        CodeGeneration,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrContextOverflow:   CodeContextOverflow,
	ErrGatewayAuthFailed: CodeGatewayAuth,
	ErrBadFrame:          CodeBadFrame,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// IsRetryableError reports whether err is a transient error that may
// succeed on retry without any state change.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrGeneration) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}
