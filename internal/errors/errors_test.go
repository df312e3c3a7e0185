package errors_test

import (
	"fmt"
	"testing"

	spearerrors "github.com/edgeworks-io/spearlet/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewAndError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := spearerrors.New("comm", "SendRequest", cause)

	assert.Equal(t, "comm", err.Component)
	assert.Equal(t, "SendRequest", err.Operation)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, "[comm] SendRequest: connection refused", err.Error())
}

func TestErrorNoCause(t *testing.T) {
	err := spearerrors.New("registry", "CreateTask", nil)
	assert.Equal(t, "[registry] CreateTask", err.Error())
}

func TestWithStatusCodeAndDetails(t *testing.T) {
	err := spearerrors.New("dispatcher", "Invoke", fmt.Errorf("bad args")).
		WithStatusCode(2).
		WithDetails(map[string]any{"method": "cchat_create"})

	assert.Equal(t, 2, err.StatusCode)
	assert.Equal(t, "cchat_create", err.Details["method"])
	assert.Equal(t, "[dispatcher] Invoke (code 2): bad args", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root")
	err := spearerrors.New("x", "y", cause)
	assert.Equal(t, cause, err.Unwrap())
}
