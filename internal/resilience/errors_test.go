package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_Nil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("push: %w", inner)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_Syscall(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(fmt.Errorf("read: %w", syscall.ECONNRESET)))
}

func TestIsTransient_SalesforceCodes(t *testing.T) {
	assert.True(t, IsTransient(errors.New("UNABLE_TO_LOCK_ROW: record currently unavailable")))
	assert.True(t, IsTransient(errors.New("REQUEST_LIMIT_EXCEEDED: daily api calls exceeded")))
	assert.True(t, IsTransient(errors.New("503 Service Unavailable")))
}

func TestIsTransient_PermanentErrors(t *testing.T) {
	assert.False(t, IsTransient(errors.New("REQUIRED_FIELD_MISSING: StageName")))
	assert.False(t, IsTransient(errors.New("invalid session id")))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	te := NewTransientError(inner, 500)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "boom", te.Error())
	assert.Equal(t, 500, te.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}
