package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Pipeline taxonomy
	ErrTypeEmptyCatalog      ErrorType = "empty_catalog"
	ErrTypeEmbeddingService  ErrorType = "embedding_service"
	ErrTypeContextOverflow   ErrorType = "context_overflow"
	ErrTypeGenerationEmpty   ErrorType = "generation_empty"
	ErrTypeGenerationService ErrorType = "generation_service"
	ErrTypeSyntaxInvalid     ErrorType = "syntax_invalid"
	ErrTypeSchemaInvalid     ErrorType = "schema_invalid"
	ErrTypeRejected          ErrorType = "rejected"

	// Ambient
	ErrTypeDatabase   ErrorType = "database"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeAuth       ErrorType = "auth"
	ErrTypeFileSystem ErrorType = "filesystem"
	ErrTypeInternal   ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
	Details     map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithDetail attaches a key/value pair that surfaces in API and CLI output
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}

	e.Details[key] = value

	return e
}

// DetailKeys returns the detail keys in sorted order
func (e *Error) DetailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Retryable reports whether the whole request may be retried by an outer caller.
// Only transport-level failures of the external model services qualify.
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrTypeEmbeddingService, ErrTypeGenerationService, ErrTypeNetwork:
		return true
	default:
		return false
	}
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// IsRetryable reports whether err is a structured error marked retryable
func IsRetryable(err error) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Retryable()
	}

	return false
}

// As is re-exported so callers importing this package under the name "errors"
// keep access to the standard helpers.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is re-exported for the same reason as As.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewEmptyCatalogError reports a catalog or index with no tables
func NewEmptyCatalogError(source string) *Error {
	err := Newf(ErrTypeEmptyCatalog, "no tables found in %s", source)

	return err.
		WithSuggestion("Check that the database user can read information_schema").
		WithSuggestion("Run 'sqlrag index refresh' after creating tables")
}

// FormatSuggestions renders suggestions as an indented bullet list
func FormatSuggestions(err error) string {
	var structErr *Error
	if !errors.As(err, &structErr) || len(structErr.Suggestions) == 0 {
		return ""
	}

	var b strings.Builder
	for _, s := range structErr.Suggestions {
		b.WriteString("  - ")
		b.WriteString(s)
		b.WriteString("\n")
	}

	return b.String()
}
