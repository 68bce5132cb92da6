package errors

import "fmt"

// Error codes
const (
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeInternal   = "INTERNAL_ERROR"
	ErrCodeBadRequest = "BAD_REQUEST"

	// Gate error taxonomy. Content-quality codes are retryable with a
	// cache-bypassing re-analysis; transport codes are retryable as-is;
	// protocol codes fail the current gate session closed.
	ErrCodeContentFetchFailed       = "CONTENT_FETCH_FAILED"
	ErrCodeInsufficientContent      = "INSUFFICIENT_CONTENT"
	ErrCodeMetadataOnly             = "METADATA_ONLY"
	ErrCodeQuestionGenerationFailed = "QUESTION_GENERATION_FAILED"
	ErrCodeMalformedQuestionSet     = "MALFORMED_QUESTION_SET"
	ErrCodeValidationTransport      = "VALIDATION_TRANSPORT_FAILED"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	Code    string // Error code (e.g., "NOT_FOUND", "INSUFFICIENT_CONTENT")
	Message string // Human-readable error message
	Status  int    // HTTP status code
	Err     error  // Wrapped underlying error (optional)
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error wrapping support
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsContentQuality reports whether the error is a recoverable content-quality
// error, for which the client may offer a force-refresh retry.
func (e *AppError) IsContentQuality() bool {
	switch e.Code {
	case ErrCodeInsufficientContent, ErrCodeMetadataOnly:
		return true
	}
	return false
}

// IsTransport reports whether the error is a transport-level failure that a
// plain retry may resolve.
func (e *AppError) IsTransport() bool {
	switch e.Code {
	case ErrCodeContentFetchFailed, ErrCodeValidationTransport:
		return true
	}
	return false
}

// NewNotFoundError creates a new NOT_FOUND error
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %v", resource, id),
		Status:  404,
	}
}

// NewValidationError creates a new VALIDATION_ERROR
func NewValidationError(field string, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("validation failed for %s: %s", field, reason),
		Status:  400,
	}
}

// NewInternalError creates a new INTERNAL_ERROR
func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: "internal server error",
		Status:  500,
		Err:     err,
	}
}

// NewBadRequestError creates a new BAD_REQUEST error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  400,
	}
}

// NewContentFetchError wraps a failure to resolve usable source content.
func NewContentFetchError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeContentFetchFailed,
		Message: "could not fetch source content",
		Status:  502,
		Err:     err,
	}
}

// NewInsufficientContentError marks source content too thin to gate against.
func NewInsufficientContentError(sourceRef string) *AppError {
	return &AppError{
		Code:    ErrCodeInsufficientContent,
		Message: fmt.Sprintf("source has insufficient content: %s", sourceRef),
		Status:  422,
	}
}

// NewMetadataOnlyError marks a source that yielded metadata but no body text.
func NewMetadataOnlyError(sourceRef string) *AppError {
	return &AppError{
		Code:    ErrCodeMetadataOnly,
		Message: fmt.Sprintf("source yielded metadata only: %s", sourceRef),
		Status:  422,
	}
}

// NewQuestionGenerationError wraps a failed question-set generation.
func NewQuestionGenerationError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeQuestionGenerationFailed,
		Message: "question generation failed",
		Status:  502,
		Err:     err,
	}
}

// NewMalformedQuestionSetError marks a question set the gate cannot run.
// This is a protocol violation: the session fails closed.
func NewMalformedQuestionSetError(reason string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedQuestionSet,
		Message: fmt.Sprintf("malformed question set: %s", reason),
		Status:  502,
	}
}

// NewTransportError wraps a network or auth failure talking to the oracle.
func NewTransportError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeValidationTransport,
		Message: "validation transport failed",
		Status:  502,
		Err:     err,
	}
}

// NewAuthError marks an auth-shaped oracle rejection. The session resilience
// layer treats it as a refresh-then-retry signal, never as a wrong answer.
func NewAuthError(status int, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidationTransport,
		Message: message,
		Status:  status,
	}
}
