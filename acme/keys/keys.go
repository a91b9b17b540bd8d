// Package keys offers utility functions for working with crypto.Signers, JWS,
// JWKs and PEM serialization. Every identity in this module is RSA-2048.
package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// JWKThumbprintBytes returns the RFC 7638 JWK thumbprint for signer's public
// key, computed over the canonical {"e","kty","n"} member ordering that
// go-jose's Thumbprint implements internally.
func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

// JWKThumbprint returns the base64url (no padding) encoding of the RFC 7638
// thumbprint, as used in HTTP-01 key authorizations.
func JWKThumbprint(signer crypto.Signer) string {
	thumbprintBytes := JWKThumbprintBytes(signer)
	return base64.RawURLEncoding.EncodeToString(thumbprintBytes)
}

func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: "RSA",
	}
}

func SigningKeyForSigner(signer crypto.Signer, keyID string) jose.SigningKey {
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(jose.RS256),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: jose.RS256,
	}
}

// UnmarshalSigner parses a PKCS#1-encoded RSA private key.
func UnmarshalSigner(keyBytes []byte) (crypto.Signer, error) {
	privKey, err := x509.ParsePKCS1PrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}
	return privKey, nil
}

// SignerToPEM encodes signer as a PKCS#1 "RSA PRIVATE KEY" PEM block.
func SignerToPEM(signer crypto.Signer) (string, error) {
	rsaKey, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("unknown key type: %T", signer)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})
	return string(pemBytes), nil
}
