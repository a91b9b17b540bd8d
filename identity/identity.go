// Package identity manages the RSA keypair an account or certificate uses to
// prove possession of its ACME account (the JWS signing key) or, separately,
// to sign its own certificate requests.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/small-tech/autotls/acme/keys"
	"github.com/small-tech/autotls/acmeerr"
)

// rsaKeySize is the RSA modulus size used for every identity this package
// creates. 2048 bits is the minimum CA/Browser Forum baseline requirement and
// matches what Let's Encrypt recommends for both account and certificate
// keys.
const rsaKeySize = 2048

// Identity wraps an RSA private key used either as an ACME account's
// signing key or as a certificate's key. It must be built with New or Load;
// on the zero value, Save, Thumbprint and KeyAuthorization fail with a
// MustBeInstantiatedViaAsyncFactoryMethodError, Signer returns nil and
// PublicJWK returns an empty key.
type Identity struct {
	ready  bool
	signer *rsa.PrivateKey
}

// New generates a fresh RSA-2048 Identity.
func New() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, fmt.Errorf("identity: generating key: %w", err)
	}
	return &Identity{ready: true, signer: key}, nil
}

// Load reads an RSA private key PEM-encoded at path and wraps it in an
// Identity. It returns acmeerr.KindUnsupportedIdentity if the PEM block is
// not an RSA private key.
func Load(path string) (*Identity, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading %q: %w", path, err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, acmeerr.New(acmeerr.KindUnsupportedIdentity, fmt.Sprintf("%q contains no PEM block", path))
	}

	if block.Type != "RSA PRIVATE KEY" {
		return nil, acmeerr.New(acmeerr.KindUnsupportedIdentity, fmt.Sprintf("%q: unsupported PEM block type %q, identities must be RSA keys", path, block.Type))
	}

	signer, err := keys.UnmarshalSigner(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing key from %q: %w", path, err)
	}

	rsaKey, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, acmeerr.New(acmeerr.KindUnsupportedIdentity, fmt.Sprintf("%q: identities must be RSA keys", path))
	}

	return &Identity{ready: true, signer: rsaKey}, nil
}

// LoadOrNew loads the identity at path if it exists, otherwise generates and
// persists a new one.
func LoadOrNew(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: stat %q: %w", path, err)
	}

	id, err := New()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// Save persists the identity's private key as a PEM file at path, creating
// missing parent directories (0700) and writing the file with permissions
// suitable for a secret (0600).
func (id *Identity) Save(path string) error {
	if id == nil || !id.ready {
		return acmeerr.New(acmeerr.KindMustUseFactory, "Identity must be created via New, Load or LoadOrNew")
	}
	pemStr, err := keys.SignerToPEM(id.signer)
	if err != nil {
		return fmt.Errorf("identity: encoding PEM: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("identity: creating %q: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(pemStr), 0o600); err != nil {
		return fmt.Errorf("identity: writing %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Signer returns the underlying crypto.Signer for JWS signing or CSR
// generation.
func (id *Identity) Signer() crypto.Signer {
	if id == nil || !id.ready {
		return nil
	}
	return id.signer
}

// PublicJWK returns the JSON Web Key representation of the identity's public
// key, suitable for embedding in a JWS protected header.
func (id *Identity) PublicJWK() jose.JSONWebKey {
	if id == nil || !id.ready {
		return jose.JSONWebKey{}
	}
	return keys.JWKForSigner(id.signer)
}

// Thumbprint returns the RFC 7638 JWK thumbprint of the identity's public
// key, base64url (no padding) encoded, as used in HTTP-01 key
// authorizations.
func (id *Identity) Thumbprint() (string, error) {
	if id == nil || !id.ready {
		return "", acmeerr.New(acmeerr.KindMustUseFactory, "Identity must be created via New, Load or LoadOrNew")
	}
	return keys.JWKThumbprint(id.signer), nil
}

// KeyAuthorization returns the HTTP-01 key authorization for token, per RFC
// 8555 section 8.1: "token.base64url(JWK thumbprint)".
func (id *Identity) KeyAuthorization(token string) (string, error) {
	if id == nil || !id.ready {
		return "", acmeerr.New(acmeerr.KindMustUseFactory, "Identity must be created via New, Load or LoadOrNew")
	}
	return keys.KeyAuth(id.signer, token), nil
}
