package orchestrator

// The error kinds named in §7. Each is a distinct Go type (not a shared
// "Kind" enum field) so callers can type-switch the way ssrf.SSRFBlockedError
// is type-switched in the teacher.

// ValidationError marks input rejected at the boundary (HTTP 400).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError builds a ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NotFoundError marks an addressed resource that does not exist (HTTP 404).
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{Message: message}
}

// PermissionDeniedError marks an auth/RLS failure, including an invalid
// upstream LLM key (HTTP 401/403).
type PermissionDeniedError struct {
	Message string
}

func (e *PermissionDeniedError) Error() string { return e.Message }

// NewPermissionDeniedError builds a PermissionDeniedError.
func NewPermissionDeniedError(message string) *PermissionDeniedError {
	return &PermissionDeniedError{Message: message}
}

// RateLimitedError marks a 429 from an upstream dependency.
type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string { return e.Message }

// NewRateLimitedError builds a RateLimitedError.
func NewRateLimitedError(message string) *RateLimitedError {
	return &RateLimitedError{Message: message}
}

// ContextOverflowError marks a token-budget overflow that survived every
// remediation tier (§4.11 k>3).
type ContextOverflowError struct {
	Message string
}

func (e *ContextOverflowError) Error() string { return e.Message }

// NewContextOverflowError builds a ContextOverflowError.
func NewContextOverflowError(message string) *ContextOverflowError {
	return &ContextOverflowError{Message: message}
}

// UpstreamTransientError marks a 5xx/timeout from the LLM or embeddings
// provider that triggers failover where configured.
type UpstreamTransientError struct {
	Message string
	Cause   error
}

func (e *UpstreamTransientError) Error() string { return e.Message }
func (e *UpstreamTransientError) Unwrap() error { return e.Cause }

// NewUpstreamTransientError builds an UpstreamTransientError.
func NewUpstreamTransientError(message string, cause error) *UpstreamTransientError {
	return &UpstreamTransientError{Message: message, Cause: cause}
}

// InfrastructureError marks the KV store or SQL pool being unreachable.
type InfrastructureError struct {
	Message string
	Cause   error
}

func (e *InfrastructureError) Error() string { return e.Message }
func (e *InfrastructureError) Unwrap() error { return e.Cause }

// NewInfrastructureError builds an InfrastructureError.
func NewInfrastructureError(message string, cause error) *InfrastructureError {
	return &InfrastructureError{Message: message, Cause: cause}
}
