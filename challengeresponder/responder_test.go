package challengeresponder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterTokenMatchesWellKnownPath(t *testing.T) {
	r := New()
	r.RegisterToken("abc123", "abc123.thumbprint")

	keyAuth, ok := r.Match("GET", "/.well-known/acme-challenge/abc123", "example.com")
	assert.True(t, ok)
	assert.Equal(t, "abc123.thumbprint", keyAuth)
}

func TestMatchFailsForUnregisteredToken(t *testing.T) {
	r := New()
	_, ok := r.Match("GET", "/.well-known/acme-challenge/nope", "example.com")
	assert.False(t, ok)
}

func TestDeregisterRemovesMatch(t *testing.T) {
	r := New()
	r.RegisterToken("abc123", "abc123.thumbprint")
	r.Deregister("abc123")

	_, ok := r.Match("GET", "/.well-known/acme-challenge/abc123", "example.com")
	assert.False(t, ok)
}

func TestFirstRegisteredPredicateWins(t *testing.T) {
	r := New()
	r.Register("first", func(method, path, host string) (string, bool) {
		return "first-response", true
	})
	r.Register("second", func(method, path, host string) (string, bool) {
		return "second-response", true
	})

	keyAuth, ok := r.Match("GET", "/anything", "example.com")
	assert.True(t, ok)
	assert.Equal(t, "first-response", keyAuth)
}
