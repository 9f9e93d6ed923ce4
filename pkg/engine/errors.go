package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a harness error.
type ErrorClass string

const (
	// ErrorClassUnsupportedSubject indicates the synthesizer cannot produce a
	// statement for the subject's kind and parameter state, e.g. a definition
	// without declared parameters.
	ErrorClassUnsupportedSubject ErrorClass = "unsupported_subject"

	// ErrorClassCompilation indicates the external compiler rejected the
	// synthesized manifest or fact set. The compiler diagnostic is kept as Err.
	ErrorClassCompilation ErrorClass = "compilation"

	// ErrorClassConfiguration indicates required process-wide settings are
	// missing or invalid, e.g. no node name when the subject declares none.
	ErrorClassConfiguration ErrorClass = "configuration"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Subject is the subject name that caused the error, if applicable.
	Subject string `json:"subject,omitempty"`

	// Node is the node identity being compiled, if applicable.
	Node string `json:"node,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Subject != "" && e.Node != "" {
		msg = fmt.Sprintf("%s (subject=%s, node=%s)", msg, e.Subject, e.Node)
	} else if e.Subject != "" {
		msg = fmt.Sprintf("%s (subject=%s)", msg, e.Subject)
	} else if e.Node != "" {
		msg = fmt.Sprintf("%s (node=%s)", msg, e.Node)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewUnsupportedSubjectError creates a new unsupported subject error.
func NewUnsupportedSubjectError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassUnsupportedSubject,
		Message: message,
		Code:    ErrCodeUnsupportedSubject,
		Err:     err,
	}
}

// NewCompilationError creates a new compilation error wrapping the compiler diagnostic.
func NewCompilationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCompilation,
		Message: message,
		Code:    ErrCodeCompilationFailed,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Code:    ErrCodeInvalidConfiguration,
		Err:     err,
	}
}

// WithSubject adds subject context to an error.
func (e *EngineError) WithSubject(name string) *EngineError {
	e.Subject = name
	return e
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(node string) *EngineError {
	e.Node = node
	return e
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsUnsupportedSubject returns true if the error is classified as unsupported subject.
func IsUnsupportedSubject(err error) bool {
	return hasClass(err, ErrorClassUnsupportedSubject)
}

// IsCompilation returns true if the error is classified as a compilation failure.
func IsCompilation(err error) bool {
	return hasClass(err, ErrorClassCompilation)
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeUnsupportedSubject   = "UNSUPPORTED_SUBJECT"
	ErrCodeMissingParameters    = "MISSING_PARAMETERS"
	ErrCodeUnrenderableValue    = "UNRENDERABLE_VALUE"
	ErrCodeCompilationFailed    = "COMPILATION_FAILED"
	ErrCodeInvalidCatalog       = "INVALID_CATALOG"
	ErrCodeInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrCodeMissingNode          = "MISSING_NODE"
	ErrCodeInvalidFacts         = "INVALID_FACTS"
	ErrCodeWorkspace            = "WORKSPACE_ERROR"
)
