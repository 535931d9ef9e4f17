// Package errors provides coded domain errors with localized user messages.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidParameters Code = "INVALID_PARAMETERS"
	CodeNotFound          Code = "NOT_FOUND"

	// Run-level errors abort a bulk apply job.
	CodeMalformedQuery   Code = "MALFORMED_QUERY"
	CodeIndexUnavailable Code = "INDEX_UNAVAILABLE"

	// Item-level errors are recorded and skipped.
	CodeWriteFailed      Code = "WRITE_FAILED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeResolutionFailed Code = "RESOLUTION_FAILED"

	// Interaction errors
	CodeContinuationNotFound Code = "CONTINUATION_NOT_FOUND"
	CodeBulkApplyInProgress  Code = "BULK_APPLY_IN_PROGRESS"
)

// RunLevel reports whether the code aborts a whole job rather than one item.
func (c Code) RunLevel() bool {
	return c == CodeMalformedQuery || c == CodeIndexUnavailable
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidParameters, CodeMalformedQuery:
		return http.StatusBadRequest
	case CodeNotFound, CodeResolutionFailed:
		return http.StatusNotFound
	case CodeContinuationNotFound:
		return http.StatusGone
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeBulkApplyInProgress, CodeWriteFailed:
		return http.StatusConflict
	case CodeIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
