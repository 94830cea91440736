package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	cause := errors.New("connection reset")

	t.Run("matches outer code", func(t *testing.T) {
		err := Wrap(cause, CodeInternal, "failed to create subscription")
		assert.True(t, HasCode(err, CodeInternal))
		assert.False(t, HasCode(err, CodeConflict))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("matches nested code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeTimeout, "transaction aborted")
		err := fmt.Errorf("run tx: %w", Wrap(inner, CodeInternal, "failed"))
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeTimeout))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(cause, CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(cause))
	})
}

func TestToHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeBadRequest:     http.StatusBadRequest,
		CodeTooLarge:       http.StatusRequestEntityTooLarge,
		CodeValidation:     http.StatusUnprocessableEntity,
		CodeConflict:       http.StatusConflict,
		CodeNotFound:       http.StatusNotFound,
		CodeDeliveryFailed: http.StatusBadGateway,
		CodeTimeout:        http.StatusGatewayTimeout,
		CodeInternal:       http.StatusInternalServerError,
		Code("unknown"):    http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "not found", New(CodeNotFound, "not found").Error())
	assert.Equal(t, "insert: boom", Wrap(errors.New("boom"), CodeInternal, "insert").Error())
}

func TestDescribe(t *testing.T) {
	err := fmt.Errorf("handler: %w", Wrap(errors.New("pq: duplicate key"), CodeConflict, "email is already subscribed"))
	assert.Equal(t, "email is already subscribed", Describe(err))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}
