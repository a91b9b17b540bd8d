package client

import (
	"context"
	"crypto"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/small-tech/autotls/acme/keys"
)

// AccountIdentity is the capability a signing engine needs from an account's
// cryptographic identity: a Signer to sign with and the corresponding public
// JWK to embed when no Key-ID is yet available. Defined here, rather than
// imported from a concrete identity package, so this package has no import
// dependency on identity or account.
type AccountIdentity interface {
	Signer() crypto.Signer
	PublicJWK() jose.JSONWebKey
}

// KIDSource is the capability a signing engine needs from an ACME account:
// its server-assigned Key-ID. A KID of "" means the account has not been
// registered yet and requests must embed a JWK instead.
type KIDSource interface {
	KID() string
}

// nonceAdapter satisfies jose.NonceSource by delegating to a Nonce, binding
// the context a HEAD fetch may need.
type nonceAdapter struct {
	ctx   context.Context
	nonce *Nonce
}

func (a nonceAdapter) Nonce() (string, error) {
	return a.nonce.Get(a.ctx)
}

// sign builds the JWS-protected serialization of payload for url. Exactly
// one of the "kid" or "jwk" protected header fields is populated: useKid
// selects kid (the account's Key-ID), otherwise the identity's public JWK is
// embedded (RFC 8555 section 6.2).
//
// A nil payload is signed as an empty byte slice, producing the literal
// empty JWS payload that RFC 8555 section 6.3 requires for POST-as-GET.
func (e *Engine) sign(ctx context.Context, url string, payload []byte, useKid bool) ([]byte, error) {
	if payload == nil {
		payload = []byte{}
	}

	signerOpts := &jose.SignerOptions{
		NonceSource: nonceAdapter{ctx: ctx, nonce: e.Nonce},
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	}

	signer := e.Identity.Signer()

	var signingKey jose.SigningKey
	if useKid {
		kid := e.Account.KID()
		if kid == "" {
			return nil, fmt.Errorf("sign: useKid requested but account has no Key-ID")
		}
		signingKey = keys.SigningKeyForSigner(signer, kid)
	} else {
		signerOpts.EmbedJWK = true
		signingKey = keys.SigningKeyForSigner(signer, "")
	}

	joseSigner, err := jose.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, err
	}

	signed, err := joseSigner.Sign(payload)
	if err != nil {
		return nil, err
	}

	return []byte(signed.FullSerialize()), nil
}
