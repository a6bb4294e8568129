package domain

import "fmt"

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrToolTimeout        = fmt.Errorf("tool execution timed out")
	ErrMaxIterations      = fmt.Errorf("reached max iterations")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrCodeBlocked        = fmt.Errorf("code contains modification operations")

	// Upstream API errors, mapped from HTTP status codes.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrProviderError   = fmt.Errorf("provider error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Get")
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
