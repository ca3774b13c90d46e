package errors

import (
	stderrors "errors"
	"fmt"
)

// Error types for pngme operations
var (
	// ErrInvalidChunkTypeBytes is returned when a chunk type byte is not an ASCII letter
	ErrInvalidChunkTypeBytes = &PngError{Code: "INVALID_CHUNK_TYPE_BYTES", Message: "invalid chunk type bytes"}

	// ErrInvalidChunkTypeString is returned when a chunk type string is not 4 ASCII letters
	ErrInvalidChunkTypeString = &PngError{Code: "INVALID_CHUNK_TYPE_STRING", Message: "invalid chunk type string"}

	// ErrTruncatedInput is returned when fewer bytes are available than a field requires
	ErrTruncatedInput = &PngError{Code: "TRUNCATED_INPUT", Message: "truncated input"}

	// ErrTrailingData is returned when bytes follow a chunk that was expected to stand alone
	ErrTrailingData = &PngError{Code: "TRAILING_DATA", Message: "trailing bytes after chunk"}

	// ErrCRCMismatch is returned when the stored chunk CRC does not match the computed one
	ErrCRCMismatch = &PngError{Code: "CRC_MISMATCH", Message: "chunk crc mismatch"}

	// ErrInvalidSignature is returned when the stream does not start with the PNG signature
	ErrInvalidSignature = &PngError{Code: "INVALID_SIGNATURE", Message: "invalid png signature"}

	// ErrNotUTF8 is returned when chunk data is requested as text but is not valid UTF-8
	ErrNotUTF8 = &PngError{Code: "NOT_UTF8", Message: "chunk data is not valid utf-8"}

	// ErrChunkNotFound is returned when no chunk of the requested type exists
	ErrChunkNotFound = &PngError{Code: "CHUNK_NOT_FOUND", Message: "chunk not found"}

	// ErrStorage is returned when reading or writing a png file fails
	ErrStorage = &PngError{Code: "STORAGE_FAILED", Message: "storage operation failed"}

	// ErrEnvelope is returned when a message envelope cannot be sealed or opened
	ErrEnvelope = &PngError{Code: "ENVELOPE_FAILED", Message: "message envelope failed"}
)

// PngError represents a structured error in pngme operations
type PngError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *PngError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PngError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PngError with the same code, so derived
// errors still match their sentinel with errors.Is.
func (e *PngError) Is(target error) bool {
	t, ok := target.(*PngError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause adds a cause to the error
func (e *PngError) WithCause(cause error) *PngError {
	return &PngError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *PngError) WithDetail(key string, value interface{}) *PngError {
	details := make(map[string]interface{})
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &PngError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *PngError) WithMessage(message string) *PngError {
	return &PngError{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// IsPngError checks if an error is, or wraps, a PngError
func IsPngError(err error) bool {
	var pngErr *PngError
	return stderrors.As(err, &pngErr)
}

// GetErrorCode extracts the error code from a PngError anywhere in the chain
func GetErrorCode(err error) string {
	var pngErr *PngError
	if stderrors.As(err, &pngErr) {
		return pngErr.Code
	}
	return ""
}
