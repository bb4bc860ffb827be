package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile       ErrorType = "compile"
	ErrorTypeExecution     ErrorType = "execution"
	ErrorTypeCache         ErrorType = "cache"
	ErrorTypeContainer     ErrorType = "container"
	ErrorTypeSerialization ErrorType = "serialization"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeIO            ErrorType = "io"
)

// Common error codes.
const (
	ErrCodeNullByte        = "ERR_NULL_BYTE"
	ErrCodeSyntax          = "ERR_SYNTAX"
	ErrCodeIndentation     = "ERR_INDENTATION"
	ErrCodeExhausted       = "ERR_EXHAUSTED"
	ErrCodeExecution       = "ERR_EXECUTION"
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeLeavesDirectory = "ERR_LEAVES_DIRECTORY"
	ErrCodeNotTimestamped  = "ERR_NOT_TIMESTAMPED"
	ErrCodeNotCached       = "ERR_NOT_CACHED"
	ErrCodeCacheRead       = "ERR_CACHE_READ"
	ErrCodeCacheWrite      = "ERR_CACHE_WRITE"
	ErrCodeEncode          = "ERR_ENCODE"
	ErrCodeDecode          = "ERR_DECODE"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeUnknownLayer    = "ERR_UNKNOWN_LAYER"
	ErrCodePermission      = "ERR_PERMISSION_DENIED"
	ErrCodeRead            = "ERR_READ"
)

// Sentinels for errors.Is comparisons. Matching is by type and code, so
// errors carrying more context still compare equal to these.
var (
	ErrNotFound        = &EngineError{Type: ErrorTypeContainer, Code: ErrCodeNotFound, Message: "name not found"}
	ErrLeavesDirectory = &EngineError{Type: ErrorTypeContainer, Code: ErrCodeLeavesDirectory, Message: "path leaves directory"}
	ErrNotTimestamped  = &EngineError{Type: ErrorTypeContainer, Code: ErrCodeNotTimestamped, Message: "container has no timestamps"}
	ErrNotCached       = &EngineError{Type: ErrorTypeCache, Code: ErrCodeNotCached, Message: "name not cached"}
	ErrExhausted       = &EngineError{Type: ErrorTypeExecution, Code: ErrCodeExhausted, Message: "output sequence already consumed"}
)

// EngineError is a structured error type with context.
type EngineError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context  map[string]interface{}
	Name     string
	FilePath string
	// Section is the index of the document section a compile error belongs to.
	Section int
	Line    int
	Column  int
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Name != "" {
		parts = append(parts, fmt.Sprintf("name:%q", e.Name))
	}

	if e.FilePath != "" || e.Line > 0 {
		location := e.FilePath
		if location == "" {
			location = "<string>"
		}
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Type == ErrorTypeCompile {
		parts = append(parts, fmt.Sprintf("section:%d", e.Section))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *EngineError) WithLocation(filePath string, line, column int) *EngineError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithName records the container name the error is about.
func (e *EngineError) WithName(name string) *EngineError {
	e.Name = name

	return e
}

// Error creation functions

// NewCompileError creates an error locatable to one document section.
// Line is document relative.
func NewCompileError(code, message string, section, line int, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeCompile,
		Code:    code,
		Message: message,
		Cause:   cause,
		Section: section,
		Line:    line,
	}
}

// NewExecutionError wraps a failure raised by embedded code.
func NewExecutionError(message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeExecution,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a lookup failure for name.
func NewNotFoundError(name string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeContainer,
		Code:    ErrCodeNotFound,
		Message: "name not found",
		Cause:   cause,
		Name:    name,
	}
}

// NewLeavesDirectoryError reports a name resolving outside of root.
func NewLeavesDirectoryError(name, root string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeContainer,
		Code:    ErrCodeLeavesDirectory,
		Message: fmt.Sprintf("path leaves directory %q", root),
		Name:    name,
	}
}

// NewContainerError creates a container error.
func NewContainerError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeContainer,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewNotCachedError reports that name has no cache entry.
func NewNotCachedError(name string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeCache,
		Code:    ErrCodeNotCached,
		Message: "name not cached",
		Name:    name,
	}
}

// NewCacheError creates a cache error.
func NewCacheError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeCache,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewSerializationError creates an error for code that cannot round-trip.
func NewSerializationError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeSerialization,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// ErrorHandler logs errors at the level their category deserves.
type ErrorHandler struct {
	logger Logger
	quiet  map[ErrorType]bool
}

// Logger is the part of a structured logger ErrorHandler needs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Quiet logs errors of the given types at debug level.
func (h *ErrorHandler) Quiet(types ...ErrorType) *ErrorHandler {
	if h.quiet == nil {
		h.quiet = make(map[ErrorType]bool, len(types))
	}
	for _, t := range types {
		h.quiet[t] = true
	}

	return h
}

// Handle logs err with the fields matching its category followed by
// fields.
func (h *ErrorHandler) Handle(ctx context.Context, err error, fields ...interface{}) {
	if err == nil || h.logger == nil {
		return
	}

	var ee *EngineError
	if !errors.As(err, &ee) {
		h.logger.Error(ctx, err, "Unhandled error occurred", fields...)

		return
	}
	if h.quiet[ee.Type] {
		h.logger.Debug(ctx, "Error occurred", append([]interface{}{
			"error", err.Error(),
			"type", ee.Type,
			"code", ee.Code}, fields...)...)

		return
	}

	switch ee.Type {
	case ErrorTypeCompile:
		h.logger.Warn(ctx, err, "Compile error occurred", append([]interface{}{
			"code", ee.Code,
			"file", ee.FilePath,
			"line", ee.Line,
			"section", ee.Section}, fields...)...)
	case ErrorTypeContainer:
		h.logger.Warn(ctx, err, "Lookup failed", append([]interface{}{
			"code", ee.Code,
			"name", ee.Name}, fields...)...)
	case ErrorTypeExecution:
		h.logger.Warn(ctx, err, "Execution failed", append([]interface{}{
			"code", ee.Code}, fields...)...)
	default:
		h.logger.Error(ctx, err, "Error occurred", append([]interface{}{
			"type", ee.Type,
			"code", ee.Code}, fields...)...)
	}
}

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
	Suggestions() []string
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
	HelpText     []string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// Suggestions returns helpful suggestions for fixing the error.
func (fve *FieldValidationError) Suggestions() []string {
	return fve.HelpText
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
		HelpText:     suggestions,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	switch len(vec.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return vec.Errors[0].Error()
	}

	msgs := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		msgs = append(msgs, err.Error())
	}

	return fmt.Sprintf("validation failed with %d errors: %s", len(vec.Errors), strings.Join(msgs, "; "))
}

// Add adds a validation error to the collection.
func (vec *ValidationErrorCollection) Add(err ValidationError) {
	vec.Errors = append(vec.Errors, err)
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) {
	vec.Add(NewFieldValidationError(field, value, message, suggestions...))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (vec *ValidationErrorCollection) Unwrap() []error {
	errs := make([]error, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		errs = append(errs, err)
	}

	return errs
}
