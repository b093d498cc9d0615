// Package core provides shared configuration, HTTP client construction,
// and the error taxonomy used across the image generation pipeline.
//
// errors.go defines typed errors for every failure class a generation
// request can hit. Adapters convert these into failure Results at the
// provider boundary; callers never see raw transport errors.
package core

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling. Each code maps 1:1 to a typed
// error below; the code also appears in failure Result metadata.
const (
	ErrCodeTemplate         = "TEMPLATE_ERROR"
	ErrCodeUpload           = "UPLOAD_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeSubmission       = "SUBMISSION_ERROR"
	ErrCodeBackendExecution = "BACKEND_EXECUTION_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeNoProvider       = "NO_PROVIDER"
)

// PipelineError is the common shape of all generation pipeline errors.
// Code identifies the failure class, Message is human-readable, and Cause
// (optional) preserves the underlying error for unwrapping.
type PipelineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// TemplateError reports a workflow template that is missing or unparsable.
type TemplateError struct{ PipelineError }

// UploadError reports a reference-image fetch, decode, or upload failure.
type UploadError struct{ PipelineError }

// ValidationError reports a workflow referencing a model the backend does
// not have installed.
type ValidationError struct{ PipelineError }

// SubmissionError reports that submission failed with a non-retryable HTTP
// error, or that every endpoint fallback was exhausted.
type SubmissionError struct{ PipelineError }

// BackendExecutionError reports a terminal error status from the backend
// for a job that was accepted.
type BackendExecutionError struct{ PipelineError }

// TimeoutError reports that the wait deadline passed without the job
// reaching a terminal status. Distinct from BackendExecutionError so
// callers can tell "the backend rejected the job" from "the backend never
// finished".
type TimeoutError struct{ PipelineError }

// NoProviderError reports that no provider is registered, or that routing
// and the fallback chain both came up empty.
type NoProviderError struct{ PipelineError }

// NewTemplateError creates a TemplateError for the given template path.
func NewTemplateError(path string, cause error) *TemplateError {
	return &TemplateError{PipelineError{
		Code:    ErrCodeTemplate,
		Message: fmt.Sprintf("workflow template %s is missing or invalid", path),
		Cause:   cause,
	}}
}

// NewUploadError creates an UploadError describing the failed stage
// (fetch, decode, or upload).
func NewUploadError(stage string, cause error) *UploadError {
	return &UploadError{PipelineError{
		Code:    ErrCodeUpload,
		Message: fmt.Sprintf("reference image %s failed", stage),
		Cause:   cause,
	}}
}

// NewValidationError creates a ValidationError naming the missing model.
func NewValidationError(model string, available []string) *ValidationError {
	msg := fmt.Sprintf("workflow references model %q which is not installed", model)
	if len(available) > 0 {
		msg = fmt.Sprintf("%s (installed: %d models)", msg, len(available))
	}
	return &ValidationError{PipelineError{
		Code:    ErrCodeValidation,
		Message: msg,
	}}
}

// NewSubmissionError creates a SubmissionError for the given endpoint.
func NewSubmissionError(endpoint string, cause error) *SubmissionError {
	return &SubmissionError{PipelineError{
		Code:    ErrCodeSubmission,
		Message: fmt.Sprintf("job submission to %s failed", endpoint),
		Cause:   cause,
	}}
}

// NewBackendExecutionError creates a BackendExecutionError carrying the
// backend's own error description.
func NewBackendExecutionError(backend, detail string) *BackendExecutionError {
	return &BackendExecutionError{PipelineError{
		Code:    ErrCodeBackendExecution,
		Message: fmt.Sprintf("%s reported execution error: %s", backend, detail),
	}}
}

// NewTimeoutError creates a TimeoutError for a wait that exceeded its
// deadline.
func NewTimeoutError(jobID string, seconds float64) *TimeoutError {
	return &TimeoutError{PipelineError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("job %s did not finish within %.0f seconds", jobID, seconds),
	}}
}

// NewNoProviderError creates a NoProviderError.
func NewNoProviderError() *NoProviderError {
	return &NoProviderError{PipelineError{
		Code:    ErrCodeNoProvider,
		Message: "no available image provider",
	}}
}

// ErrorCode extracts the pipeline error code from err, walking the wrap
// chain. Returns "" when err carries no PipelineError.
func ErrorCode(err error) string {
	for err != nil {
		switch v := err.(type) {
		case *TemplateError:
			return v.Code
		case *UploadError:
			return v.Code
		case *ValidationError:
			return v.Code
		case *SubmissionError:
			return v.Code
		case *BackendExecutionError:
			return v.Code
		case *TimeoutError:
			return v.Code
		case *NoProviderError:
			return v.Code
		case *PipelineError:
			return v.Code
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
