package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error is transient", errors.New("boom"), false},
		{"retryable", NewRetryable(errors.New("conn reset"), "send sms"), false},
		{"fatal", NewFatal(ErrBadRequest, "send sms"), true},
		{"policy sentinel", fmt.Errorf("line inbound only: %w", ErrPolicyBlocked), true},
		{"retryable wrapping policy stays retryable", NewRetryable(ErrPolicyBlocked, "odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminal(tt.err))
		})
	}
}

func TestWrappersKeepChain(t *testing.T) {
	err := NewFatal(ErrPolicyBlocked, "job %s", "abc")
	assert.True(t, IsFatal(err))
	assert.True(t, IsPolicyBlocked(err))
	assert.Contains(t, err.Error(), "job abc")

	err = NewRetryable(ErrProvider, "provider 503")
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrProvider)
}
