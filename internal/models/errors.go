package models

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeNotFound   ErrorType = "not_found"
)

const (
	CodeCityNotFound         = "CITY_NOT_FOUND"
	CodeServiceError         = "SERVICE_ERROR"
	CodeEmptyResultSet       = "EMPTY_RESULT_SET"
	CodeGenerationParseError = "GENERATION_PARSE_ERROR"
	CodeMissingFields        = "MISSING_FIELDS"
	CodeWorkflowNotFound     = "WORKFLOW_NOT_FOUND"
	CodeDocumentNotFound     = "DOCUMENT_NOT_FOUND"
	CodeInvalidTripRequest   = "INVALID_TRIP_REQUEST"
	CodeInvalidSearchQuery   = "INVALID_SEARCH_QUERY"
)

type AppError struct {
	Type     ErrorType      `json:"type"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Cause    error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy so that shared sentinel errors are never mutated.
func (e *AppError) WithCause(cause error) *AppError {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

func (e *AppError) WithMetadata(key string, value any) *AppError {
	clone := e.clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]any)
	}
	clone.Metadata[key] = value
	return clone
}

func (e *AppError) clone() *AppError {
	metadata := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return &AppError{
		Type:     e.Type,
		Code:     e.Code,
		Message:  e.Message,
		Cause:    e.Cause,
		Metadata: metadata,
	}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message}
}

func NewExternalError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeExternal, Code: code, Message: message}
}

func NewInternalError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeInternal, Code: code, Message: message}
}

func NewTimeoutError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeTimeout, Code: code, Message: message}
}

func NewNotFoundError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

func WrapExternalError(service string, err error) *AppError {
	return NewExternalError(CodeServiceError, fmt.Sprintf("%s service call failed", service)).WithCause(err)
}

var (
	ErrWorkflowNotFound = NewNotFoundError(CodeWorkflowNotFound, "Workflow not found")
	ErrDocumentNotFound = NewNotFoundError(CodeDocumentNotFound, "Rendered document not found")
)

// HasCode reports whether err (or anything it wraps) is an AppError with the
// given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// MissingFieldsError is returned when required trip parameters are absent
// before itinerary generation. It short-circuits the generation stage; the
// caller renders a diagnostic document listing the fields instead.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required trip fields: %s", CodeMissingFields, strings.Join(e.Fields, ", "))
}

func AsMissingFields(err error) (*MissingFieldsError, bool) {
	var missingErr *MissingFieldsError
	if errors.As(err, &missingErr) {
		return missingErr, true
	}
	return nil, false
}
