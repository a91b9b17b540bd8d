package client

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// BuildCSR produces a base64url (no padding) encoded DER certificate signing
// request for names, signed by signer. Per RFC 8555 section 7.4 the request
// carries no Subject distinguished name: every identifier is conveyed as
// a subjectAltName DNS entry instead of a Subject CommonName.
func BuildCSR(signer crypto.Signer, names []string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("client: BuildCSR requires at least one name")
	}

	template := x509.CertificateRequest{
		DNSNames: names,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return "", fmt.Errorf("client: creating CSR: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(der), nil
}
