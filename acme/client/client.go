// Package client implements the signed-request engine shared by every ACME
// operation: directory resolution, nonce management, JWS signing and the
// underlying HTTP transport. Higher level packages (account, order,
// authorization) send every ACME request through Engine and never issue
// HTTP requests themselves.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/small-tech/autotls/acme"
	"github.com/small-tech/autotls/acme/resources"
	"github.com/small-tech/autotls/acmeerr"
)

// Engine binds an ACME directory, nonce source, account identity and
// transport together to perform signed requests against a single ACME
// server. The zero-value Engine is not usable; build one with NewEngine.
type Engine struct {
	Transport *Transport
	Directory *Directory
	Nonce     *Nonce

	// Identity signs outgoing JWS. Required for every request.
	Identity AccountIdentity
	// Account supplies the Key-ID once the account is registered. May be
	// nil until an account exists; Do requires it whenever useKid is true.
	Account KIDSource
}

// NewEngine builds an Engine against the ACME server whose directory is
// published at directoryURL.
func NewEngine(ctx context.Context, transport *Transport, directoryURL string, identity AccountIdentity) (*Engine, error) {
	dir, err := NewDirectory(ctx, transport, directoryURL)
	if err != nil {
		return nil, fmt.Errorf("client: fetching directory: %w", err)
	}

	e := &Engine{
		Transport: transport,
		Directory: dir,
		Identity:  identity,
	}
	e.Nonce = NewNonce(transport, func() (string, bool) {
		return dir.URL(acme.NewNonceEndpoint)
	})
	return e, nil
}

// Request describes one signed ACME POST.
type Request struct {
	// Operation names a directory entry ("newAccount", "newOrder", ...).
	// Mutually exclusive with URL.
	Operation string
	// URL is an explicit request target, used for resources that are not
	// directory entries: order, authorization, challenge and finalize URLs.
	URL string
	// Payload is marshaled to JSON unless already []byte, in which case it
	// is used verbatim. A nil Payload produces the empty POST-as-GET body.
	Payload interface{}
	// UseKid selects kid-based authentication over embedded-JWK
	// authentication. Every request except newAccount uses kid.
	UseKid bool
	// AcceptedStatusCodes lists the HTTP statuses that count as success.
	// If empty, only 200 is accepted.
	AcceptedStatusCodes []int
}

// Response is the result of a successful signed request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Do resolves req's target URL, signs its payload, executes the POST and
// validates the response status. On any non-accepted status it decodes the
// response body as an RFC 7807 problem document and returns a
// *acmeerr.Error of kind KindRequest wrapping it.
//
// The response's Replay-Nonce header, if present, is stored unconditionally
// before the status check runs, since the ACME server issues a fresh nonce
// on error responses too (RFC 8555 section 6.5).
func (e *Engine) Do(ctx context.Context, req Request) (*Response, error) {
	if e.Directory == nil || e.Identity == nil {
		return nil, acmeerr.New(acmeerr.KindClassNotInitialised, "client: Engine requires a Directory and Identity")
	}
	if req.UseKid && (e.Account == nil || e.Account.KID() == "") {
		return nil, acmeerr.New(acmeerr.KindAccountNotSet, "client: request requires kid authentication but no account is set")
	}

	url := req.URL
	if url == "" {
		var ok bool
		url, ok = e.Directory.URL(req.Operation)
		if !ok {
			return nil, fmt.Errorf("client: directory has no entry for operation %q", req.Operation)
		}
	}

	var payload []byte
	switch p := req.Payload.(type) {
	case nil:
		payload = nil
	case []byte:
		payload = p
	default:
		marshaled, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("client: marshaling payload: %w", err)
		}
		payload = marshaled
	}

	jws, err := e.sign(ctx, url, payload, req.UseKid)
	if err != nil {
		return nil, fmt.Errorf("client: signing request: %w", err)
	}

	resp, body, err := e.Transport.Post(ctx, url, jws)
	if err != nil {
		return nil, fmt.Errorf("client: POST %s: %w", url, err)
	}

	e.Nonce.Set(resp.Header.Get(acme.ReplayNonceHeader))

	accepted := req.AcceptedStatusCodes
	if len(accepted) == 0 {
		accepted = []int{http.StatusOK}
	}
	if !statusAccepted(resp.StatusCode, accepted) {
		var problem resources.Problem
		_ = json.Unmarshal(body, &problem)
		if problem.Status == 0 {
			problem.Status = resp.StatusCode
		}
		return nil, acmeerr.NewRequestError(resp.StatusCode, &acmeerr.Problem{
			Type:   problem.Type,
			Detail: problem.Detail,
			Status: problem.Status,
		})
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func statusAccepted(status int, accepted []int) bool {
	for _, s := range accepted {
		if s == status {
			return true
		}
	}
	return false
}
