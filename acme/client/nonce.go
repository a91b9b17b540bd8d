package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/small-tech/autotls/acme"
)

// Nonce maintains the freshest anti-replay nonce for a single ACME account's
// signed requests (RFC 8555 section 7.2). At most one queued nonce is held
// at a time; Get consumes it, and the following Get forces a fresh HEAD
// fetch. A mutex serializes concurrent callers so two signed requests never
// consume the same nonce.
type Nonce struct {
	mu        sync.Mutex
	value     string
	transport *Transport
	newNonce  func() (string, bool)
}

// NewNonce builds a Nonce source that fetches from the directory's newNonce
// endpoint, resolved lazily via newNonceURL so the directory can be
// populated after the Nonce is constructed.
func NewNonce(transport *Transport, newNonceURL func() (string, bool)) *Nonce {
	return &Nonce{transport: transport, newNonce: newNonceURL}
}

// Get returns and clears the queued nonce if present; otherwise it sends an
// HTTP HEAD to the newNonce endpoint and returns the Replay-Nonce header
// from the response.
func (n *Nonce) Get(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.value != "" {
		v := n.value
		n.value = ""
		return v, nil
	}

	return n.fetch(ctx)
}

func (n *Nonce) fetch(ctx context.Context) (string, error) {
	url, ok := n.newNonce()
	if !ok {
		return "", fmt.Errorf("nonce: missing %q entry in ACME server directory", acme.NewNonceEndpoint)
	}

	resp, err := n.transport.Head(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nonce: %q returned HTTP status %d, expected %d",
			acme.NewNonceEndpoint, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.ReplayNonceHeader)
	if nonce == "" {
		return "", fmt.Errorf("nonce: %q returned no %q header value",
			acme.NewNonceEndpoint, acme.ReplayNonceHeader)
	}
	return nonce, nil
}

// Set stores a nonce iff it is a non-empty base64url string. Empty or
// malformed values are silently ignored: the slot never holds invalid data.
func (n *Nonce) Set(nonce string) {
	if !isBase64URL(nonce) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = nonce
}

func isBase64URL(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
