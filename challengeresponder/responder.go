// Package challengeresponder implements the in-memory HTTP-01 token to
// key-authorization map served by the plain HTTP front door.
package challengeresponder

import "sync"

// Predicate matches one registered HTTP-01 responder against an incoming
// request's method, path and host. It returns the key authorization to
// serve and true if it matches, or false otherwise.
type Predicate func(method, path, host string) (string, bool)

// Responder holds zero or more registered Predicates and serves the first
// one that matches an incoming request. Safe for concurrent use: Authorization
// goroutines register and deregister while the HTTP front door concurrently
// iterates on every request.
type Responder struct {
	mu         sync.RWMutex
	order      []string
	predicates map[string]Predicate
}

// New builds an empty Responder.
func New() *Responder {
	return &Responder{predicates: make(map[string]Predicate)}
}

// Register adds a predicate under token, appended after any existing
// registrations so registration order determines match priority.
// Registering a token that is already present replaces its predicate and
// keeps its original position.
func (r *Responder) Register(token string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.predicates[token]; !exists {
		r.order = append(r.order, token)
	}
	r.predicates[token] = p
}

// Deregister removes the predicate registered under token, if any.
func (r *Responder) Deregister(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.predicates[token]; !exists {
		return
	}
	delete(r.predicates, token)
	for i, t := range r.order {
		if t == token {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Match iterates registered predicates in registration order and returns
// the key authorization from the first one that matches.
func (r *Responder) Match(method, path, host string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, token := range r.order {
		if keyAuth, ok := r.predicates[token](method, path, host); ok {
			return keyAuth, true
		}
	}
	return "", false
}

// RegisterToken is a convenience wrapper around Register for the common
// case: match GET requests to the canonical HTTP-01 well-known path for
// token, regardless of host.
func (r *Responder) RegisterToken(token, keyAuthorization string) {
	wellKnownPath := "/.well-known/acme-challenge/" + token
	r.Register(token, func(method, path, _ string) (string, bool) {
		if method == "GET" && path == wellKnownPath {
			return keyAuthorization, true
		}
		return "", false
	})
}
