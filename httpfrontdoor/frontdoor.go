// Package httpfrontdoor implements the plain HTTP (port 80) listener that
// serves HTTP-01 challenge responses while a certificate is being
// provisioned, and redirects to HTTPS otherwise.
package httpfrontdoor

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/small-tech/autotls/challengeresponder"
)

// Mode selects how FrontDoor handles an incoming request.
type Mode int32

const (
	// ModeRedirect 307-redirects every request to its HTTPS equivalent.
	ModeRedirect Mode = iota
	// ModeChallenge serves HTTP-01 challenge responses via the configured
	// Responder and fails every other request with 403.
	ModeChallenge
)

// FrontDoor is a port-80 HTTP server whose behavior switches between
// redirect and challenge-serving modes.
type FrontDoor struct {
	responder *challengeresponder.Responder
	server    *http.Server
	mode      int32
}

// New builds a FrontDoor that starts in ModeRedirect, serving HTTP-01
// challenges from responder whenever SetMode(ModeChallenge) is in effect.
func New(responder *challengeresponder.Responder) *FrontDoor {
	f := &FrontDoor{responder: responder, mode: int32(ModeRedirect)}
	f.server = &http.Server{Handler: http.HandlerFunc(f.handle)}
	return f
}

// SetMode switches the FrontDoor's handling mode. Safe for concurrent use
// with request handling.
func (f *FrontDoor) SetMode(mode Mode) {
	atomic.StoreInt32(&f.mode, int32(mode))
}

// ListenAndServe listens on addr (typically ":80") until the server is
// shut down.
func (f *FrontDoor) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpfrontdoor: listening on %q: %w", addr, err)
	}
	return f.server.Serve(ln)
}

// Shutdown terminates all existing connections without waiting for them to
// finish.
func (f *FrontDoor) Shutdown() {
	if err := f.server.Close(); err != nil {
		log.Printf("httpfrontdoor: close: %s", err)
	}
}

func (f *FrontDoor) handle(w http.ResponseWriter, r *http.Request) {
	if Mode(atomic.LoadInt32(&f.mode)) == ModeChallenge {
		f.handleChallenge(w, r)
		return
	}
	f.handleRedirect(w, r)
}

func (f *FrontDoor) handleChallenge(w http.ResponseWriter, r *http.Request) {
	keyAuth, ok := f.responder.Match(r.Method, r.URL.Path, r.Host)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(keyAuth))
}

func (f *FrontDoor) handleRedirect(w http.ResponseWriter, r *http.Request) {
	host, err := url.ParseRequestURI("https://" + r.Host)
	if r.Host == "" || err != nil || host.Hostname() == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	target := url.URL{
		Scheme:   "https",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
}
