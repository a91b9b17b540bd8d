// Package authorization drives a single ACME authorization from its initial
// state through to "valid" (or a terminal failure), registering and
// deregistering the HTTP-01 challenge response along the way.
package authorization

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/small-tech/autotls/acme/client"
	"github.com/small-tech/autotls/acme/resources"
	"github.com/small-tech/autotls/acmeerr"
	"github.com/small-tech/autotls/challengeresponder"
	"github.com/small-tech/autotls/identity"
)

// pollCap bounds how long Resolve will poll a single authorization before
// giving up with a PollTimeoutError.
const pollCap = 2 * time.Minute

const defaultPollInterval = 1 * time.Second

// Resolve drives the authorization at authzURL to a terminal state: it
// registers the HTTP-01 key authorization with responder, signals
// readiness, and polls until the CA reports "valid" or "invalid". It
// deregisters the challenge response before returning, whatever the
// outcome.
func Resolve(ctx context.Context, engine *client.Engine, responder *challengeresponder.Responder, id *identity.Identity, authzURL string) (*resources.Authorization, error) {
	authz, err := fetch(ctx, engine, authzURL)
	if err != nil {
		return nil, err
	}
	if authz.Status == "valid" {
		return authz, nil
	}

	chall, ok := authz.HTTP01Challenge()
	if !ok {
		return nil, fmt.Errorf("authorization: %q has no http-01 challenge", authzURL)
	}

	keyAuth, err := id.KeyAuthorization(chall.Token)
	if err != nil {
		return nil, err
	}

	responder.RegisterToken(chall.Token, keyAuth)
	defer responder.Deregister(chall.Token)

	if _, err := engine.Do(ctx, client.Request{
		URL:                 chall.URL,
		Payload:             struct{}{},
		UseKid:              true,
		AcceptedStatusCodes: []int{http.StatusOK},
	}); err != nil {
		return nil, fmt.Errorf("authorization: signaling readiness for %q: %w", chall.URL, err)
	}

	deadline := time.Now().Add(pollCap)
	interval := defaultPollInterval

	for {
		authz, retryAfter, err := fetchWithRetryAfter(ctx, engine, authzURL)
		if err != nil {
			return nil, err
		}

		switch authz.Status {
		case "valid":
			return authz, nil
		case "invalid":
			c, _ := authz.HTTP01Challenge()
			detail := ""
			if c.Error != nil {
				detail = c.Error.Detail
			}
			return nil, acmeerr.New(acmeerr.KindRequest, fmt.Sprintf("authorization %q is invalid: %s", authzURL, detail))
		}

		if retryAfter > 0 {
			interval = retryAfter
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, acmeerr.New(acmeerr.KindPollTimeout, fmt.Sprintf("authorization %q did not reach a terminal state within %s", authzURL, pollCap))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func fetch(ctx context.Context, engine *client.Engine, authzURL string) (*resources.Authorization, error) {
	authz, _, err := fetchWithRetryAfter(ctx, engine, authzURL)
	return authz, err
}

func fetchWithRetryAfter(ctx context.Context, engine *client.Engine, authzURL string) (*resources.Authorization, time.Duration, error) {
	resp, err := engine.Do(ctx, client.Request{
		URL:                 authzURL,
		Payload:             nil,
		UseKid:              true,
		AcceptedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("authorization: fetching %q: %w", authzURL, err)
	}

	var authz resources.Authorization
	if err := json.Unmarshal(resp.Body, &authz); err != nil {
		return nil, 0, fmt.Errorf("authorization: decoding %q: %w", authzURL, err)
	}
	authz.ID = authzURL

	var retryAfter time.Duration
	if raw := resp.Headers.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return &authz, retryAfter, nil
}
