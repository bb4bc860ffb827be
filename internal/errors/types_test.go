package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorError(t *testing.T) {
	testCases := []struct {
		name     string
		err      *EngineError
		contains []string
	}{
		{
			name:     "compile error with location",
			err:      NewCompileError(ErrCodeSyntax, "got newline, want expression", 2, 7, nil).WithLocation("index.star", 7, 3),
			contains: []string{"[ERR_SYNTAX]", "index.star:7:3", "section:2", "got newline"},
		},
		{
			name:     "compile error without path",
			err:      NewCompileError(ErrCodeIndentation, "inconsistent indentation", 0, 4, nil),
			contains: []string{"<string>:4", "section:0"},
		},
		{
			name:     "not found with cause",
			err:      NewNotFoundError("a/b.star", fmt.Errorf("stat failed")),
			contains: []string{"[ERR_NOT_FOUND]", `name:"a/b.star"`, "stat failed"},
		},
		{
			name:     "cache error with name",
			err:      NewCacheError(ErrCodeCacheWrite, "write failed", nil).WithName("index.star"),
			contains: []string{"[ERR_CACHE_WRITE]", `name:"index.star"`, "write failed"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, want := range tc.contains {
				assert.Contains(t, msg, want)
			}
		})
	}
}

func TestEngineErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NewNotFoundError("x", nil))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrLeavesDirectory))

	assert.True(t, errors.Is(NewLeavesDirectoryError("../x", "/srv"), ErrLeavesDirectory))
	assert.False(t, errors.Is(NewLeavesDirectoryError("../x", "/srv"), ErrNotFound))
	assert.True(t, errors.Is(NewNotCachedError("x"), ErrNotCached))

	var ee *EngineError
	require.True(t, errors.As(wrapped, &ee))
	assert.Equal(t, "x", ee.Name)
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIOError(ErrCodeRead, "read failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithContext(t *testing.T) {
	err := NewConfigError(ErrCodeConfigInvalid, "bad").WithContext("key", "compiler.strategy")
	assert.Equal(t, "compiler.strategy", err.Context["key"])
}

type recordingLogger struct {
	debugs []string
	warns  []string
	errors []string
	fields [][]interface{}
}

func (l *recordingLogger) Debug(_ context.Context, msg string, fields ...interface{}) {
	l.debugs = append(l.debugs, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Warn(_ context.Context, _ error, msg string, fields ...interface{}) {
	l.warns = append(l.warns, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Error(_ context.Context, _ error, msg string, fields ...interface{}) {
	l.errors = append(l.errors, msg)
	l.fields = append(l.fields, fields)
}

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewCompileError(ErrCodeSyntax, "bad", 0, 1, nil))
	handler.Handle(ctx, fmt.Errorf("wrapped: %w", NewNotFoundError("x", nil)))
	handler.Handle(ctx, NewExecutionError("failed", nil))
	handler.Handle(ctx, NewCacheError(ErrCodeCacheRead, "x", nil))
	handler.Handle(ctx, errors.New("plain"), "name", "index.star")

	assert.Empty(t, logger.debugs)
	assert.Equal(t, []string{"Compile error occurred", "Lookup failed", "Execution failed"}, logger.warns)
	assert.Equal(t, []string{"Error occurred", "Unhandled error occurred"}, logger.errors)
	require.Len(t, logger.fields, 5)
	assert.Equal(t, []interface{}{"name", "index.star"}, logger.fields[4])
}

func TestErrorHandlerQuiet(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger).Quiet(ErrorTypeContainer)
	ctx := context.Background()

	handler.Handle(ctx, NewNotFoundError("x", nil), "status", 404)
	handler.Handle(ctx, NewExecutionError("failed", nil))

	assert.Equal(t, []string{"Error occurred"}, logger.debugs)
	assert.Equal(t, []string{"Execution failed"}, logger.warns)
	assert.Contains(t, logger.fields[0], ErrCodeNotFound)
	assert.Equal(t, []interface{}{"status", 404}, logger.fields[0][len(logger.fields[0])-2:])
}

func TestErrorHandlerWithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewErrorHandler(nil).Handle(context.Background(), errors.New("dropped"))
	})
}

func TestValidationErrorCollection(t *testing.T) {
	var vec ValidationErrorCollection
	assert.False(t, vec.HasErrors())
	assert.Equal(t, "no validation errors", vec.Error())

	vec.AddField("compiler.strategy", "fast", "unknown strategy", "use generic or unified")
	assert.True(t, vec.HasErrors())
	assert.Contains(t, vec.Error(), "compiler.strategy")

	vec.AddField("backend.containers", nil, "at least one container is required")
	assert.Contains(t, vec.Error(), "2 errors")

	var fve *FieldValidationError
	require.True(t, errors.As(&vec, &fve))
	assert.Equal(t, "compiler.strategy", fve.Field())
	assert.Equal(t, []string{"use generic or unified"}, fve.Suggestions())
}
