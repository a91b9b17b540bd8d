package acmeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesSameKind(t *testing.T) {
	err := New(KindPollTimeout, "authorization took too long")
	assert.True(t, Is(err, KindPollTimeout))
	assert.False(t, Is(err, KindRequest))
}

func TestIsUnwrapsWrappedErrors(t *testing.T) {
	cause := New(KindRequest, "boom")
	wrapped := fmt.Errorf("context: %w", cause)
	assert.True(t, Is(wrapped, KindRequest))
}

func TestErrorsIsInterop(t *testing.T) {
	err := New(KindAccountNotSet, "")
	target := New(KindAccountNotSet, "")
	require.True(t, errors.Is(err, target))
}

func TestNewRequestErrorPreservesProblem(t *testing.T) {
	problem := &Problem{Type: "urn:ietf:params:acme:error:malformed", Detail: "bad CSR", Status: 400}
	err := NewRequestError(400, problem)
	assert.Equal(t, KindRequest, err.Kind)
	assert.Equal(t, "bad CSR", err.Problem.Detail)
	assert.Contains(t, err.Error(), "bad CSR")
}
