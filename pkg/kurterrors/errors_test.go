package kurterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name:     "missing field",
			err:      NewValidationError("statement", "must not be empty"),
			contains: []string{"statement", "must not be empty"},
		},
		{
			name:     "bad engine",
			err:      NewValidationError("fetch_engine", "unknown engine \"carbon\""),
			contains: []string{"fetch_engine", "carbon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("f", "m")))
	assert.False(t, IsValidationError(errors.New("plain")))
}

func TestNotFoundErrorUnwrap(t *testing.T) {
	err := NewNotFoundError("document", "doc-123")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "document")
	assert.Contains(t, err.Error(), "doc-123")
}

func TestTransientAndPermanentUnwrap(t *testing.T) {
	base := errors.New("connection reset")

	transient := NewTransientError("fetch.trafilatura", base)
	assert.True(t, errors.Is(transient, base))
	assert.True(t, IsRetryable(transient))

	permanent := NewPermanentError("fetch.trafilatura", base)
	assert.True(t, errors.Is(permanent, base))
	assert.False(t, IsRetryable(permanent))
}

func TestIsRetryableDefaultsFalse(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("unknown failure")))
	assert.False(t, IsRetryable(NewPermanentError("op", errors.New("bad input"))))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewFatalError("checkpoint corrupted", nil)))
	assert.False(t, IsFatal(NewTransientError("op", errors.New("x"))))
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := NewConfigurationError("kurt.toml", "unknown key \"fetch.engien\"")
	assert.Contains(t, err.Error(), "kurt.toml")
	assert.Contains(t, err.Error(), "fetch.engien")

	bare := NewConfigurationError("", "missing db path")
	assert.NotContains(t, bare.Error(), "in :")
}
