// Package order drives the full ACME order lifecycle: creation, concurrent
// authorization resolution, CSR finalization, and certificate download.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-tech/autotls/acme/client"
	"github.com/small-tech/autotls/acme/resources"
	"github.com/small-tech/autotls/acmeerr"
	"github.com/small-tech/autotls/authorization"
	"github.com/small-tech/autotls/challengeresponder"
	"github.com/small-tech/autotls/identity"
)

// finalizeCap bounds the total time Run spends polling an order after
// finalization before giving up with a PollTimeoutError.
const finalizeCap = 5 * time.Minute

const defaultPollInterval = 1 * time.Second

// Order is the outcome of a fully resolved ACME order: the issued
// certificate chain (PEM, leaf first) and the identity whose key the CSR
// embedded.
type Order struct {
	url                 string
	status              string
	expires             string
	identifiers         []resources.Identifier
	authorizations      []string
	finalizeURL         string
	certificateURL      string
	certificatePEM      []byte
	certificateIdentity *identity.Identity
	headers             http.Header
}

// Status returns the order's last observed status.
func (o *Order) Status() string { return o.status }

// Expires returns the order's expiry timestamp, as reported by the server.
func (o *Order) Expires() string { return o.expires }

// Identifiers returns the subject identifiers this order was created for.
func (o *Order) Identifiers() []resources.Identifier { return o.identifiers }

// Authorizations returns the authorization URLs this order required.
func (o *Order) Authorizations() []string { return o.authorizations }

// FinalizeURL returns the URL the CSR was submitted to.
func (o *Order) FinalizeURL() string { return o.finalizeURL }

// CertificateURL returns the URL the certificate chain was downloaded from.
func (o *Order) CertificateURL() string { return o.certificateURL }

// Certificate returns the PEM-encoded certificate chain, leaf first.
func (o *Order) Certificate() []byte { return o.certificatePEM }

// CertificateIdentity returns the identity whose private key signed the
// CSR and corresponds to the issued certificate's public key.
func (o *Order) CertificateIdentity() *identity.Identity { return o.certificateIdentity }

// Headers returns the response headers from the most recent order fetch.
func (o *Order) Headers() http.Header { return o.headers }

// Run executes the full order lifecycle for domains: newOrder, concurrent
// authorization resolution, CSR finalization against a freshly generated
// certificate identity, and certificate chain download.
func Run(ctx context.Context, engine *client.Engine, responder *challengeresponder.Responder, accountIdentity *identity.Identity, domains []string) (*Order, error) {
	identifiers := make([]resources.Identifier, len(domains))
	for i, d := range domains {
		identifiers[i] = resources.Identifier{Type: "dns", Value: d}
	}

	resp, err := engine.Do(ctx, client.Request{
		Operation: "newOrder",
		Payload: struct {
			Identifiers []resources.Identifier `json:"identifiers"`
		}{Identifiers: identifiers},
		UseKid:              true,
		AcceptedStatusCodes: []int{http.StatusCreated},
	})
	if err != nil {
		return nil, fmt.Errorf("order: newOrder: %w", err)
	}

	var doc resources.Order
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("order: decoding newOrder response: %w", err)
	}
	doc.ID = resp.Headers.Get("Location")

	o := &Order{
		url:            doc.ID,
		status:         doc.Status,
		expires:        doc.Expires,
		identifiers:    doc.Identifiers,
		authorizations: doc.Authorizations,
		finalizeURL:    doc.Finalize,
		headers:        resp.Headers,
	}

	if err := o.resolveAuthorizations(ctx, engine, responder, accountIdentity); err != nil {
		return nil, err
	}

	certID, err := identity.New()
	if err != nil {
		return nil, fmt.Errorf("order: generating certificate identity: %w", err)
	}
	o.certificateIdentity = certID

	csr, err := client.BuildCSR(certID.Signer(), domains)
	if err != nil {
		return nil, err
	}

	if err := o.finalize(ctx, engine, csr); err != nil {
		return nil, err
	}

	if err := o.download(ctx, engine); err != nil {
		return nil, err
	}

	return o, nil
}

// resolveAuthorizations runs every authorization concurrently and waits for
// all of them to finish. It returns nil only if every one validated;
// otherwise it returns the first failure reported.
func (o *Order) resolveAuthorizations(ctx context.Context, engine *client.Engine, responder *challengeresponder.Responder, accountIdentity *identity.Identity) error {
	var validated int32
	var wg sync.WaitGroup
	errs := make(chan error, len(o.authorizations))

	for _, authzURL := range o.authorizations {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if _, err := authorization.Resolve(ctx, engine, responder, accountIdentity, url); err != nil {
				errs <- err
				return
			}
			atomic.AddInt32(&validated, 1)
		}(authzURL)
	}
	wg.Wait()
	close(errs)

	if int(validated) != len(o.authorizations) {
		for err := range errs {
			if err != nil {
				return fmt.Errorf("order: authorization failed: %w", err)
			}
		}
		return fmt.Errorf("order: not all authorizations validated")
	}
	return nil
}

func (o *Order) finalize(ctx context.Context, engine *client.Engine, csr string) error {
	resp, err := engine.Do(ctx, client.Request{
		URL: o.finalizeURL,
		Payload: struct {
			CSR string `json:"csr"`
		}{CSR: csr},
		UseKid:              true,
		AcceptedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return fmt.Errorf("order: finalize: %w", err)
	}

	var doc resources.Order
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return fmt.Errorf("order: decoding finalize response: %w", err)
	}
	o.status = doc.Status
	o.certificateURL = doc.Certificate
	o.headers = resp.Headers

	if o.status == "valid" {
		return nil
	}

	return o.pollUntilValid(ctx, engine)
}

func (o *Order) pollUntilValid(ctx context.Context, engine *client.Engine) error {
	deadline := time.Now().Add(finalizeCap)
	interval := defaultPollInterval

	for {
		resp, err := engine.Do(ctx, client.Request{
			URL:                 o.url,
			Payload:             nil,
			UseKid:              true,
			AcceptedStatusCodes: []int{http.StatusOK},
		})
		if err != nil {
			return fmt.Errorf("order: polling: %w", err)
		}

		var doc resources.Order
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return fmt.Errorf("order: decoding poll response: %w", err)
		}
		o.status = doc.Status
		o.certificateURL = doc.Certificate
		o.headers = resp.Headers

		switch o.status {
		case "valid":
			return nil
		case "invalid":
			return acmeerr.New(acmeerr.KindRequest, "order became invalid during finalization")
		}

		if raw := resp.Headers.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil {
				interval = time.Duration(secs) * time.Second
			}
		}
		if time.Now().Add(interval).After(deadline) {
			return acmeerr.New(acmeerr.KindPollTimeout, "order did not finalize within the poll cap")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (o *Order) download(ctx context.Context, engine *client.Engine) error {
	if o.certificateURL == "" {
		return fmt.Errorf("order: finalize succeeded but no certificate URL was provided")
	}

	resp, err := engine.Do(ctx, client.Request{
		URL:                 o.certificateURL,
		Payload:             nil,
		UseKid:              true,
		AcceptedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return fmt.Errorf("order: downloading certificate: %w", err)
	}

	o.certificatePEM = resp.Body
	o.headers = resp.Headers
	return nil
}

// ID returns the order's resource URL, captured from the newOrder
// response's Location header.
func (o *Order) ID() string { return o.url }
