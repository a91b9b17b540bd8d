package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestJWKThumbprintIsDeterministic(t *testing.T) {
	signer := testSigner(t)

	first := JWKThumbprint(signer)
	second := JWKThumbprint(signer)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestDifferentKeysHaveDifferentThumbprints(t *testing.T) {
	a := testSigner(t)
	b := testSigner(t)

	assert.NotEqual(t, JWKThumbprint(a), JWKThumbprint(b))
}

func TestKeyAuthJoinsTokenAndThumbprint(t *testing.T) {
	signer := testSigner(t)

	auth := KeyAuth(signer, "tok123")
	assert.Equal(t, "tok123."+JWKThumbprint(signer), auth)
}

func TestSigningKeyForSignerSetsAlgorithmAndKeyID(t *testing.T) {
	signer := testSigner(t)

	sk := SigningKeyForSigner(signer, "kid-1")
	assert.Equal(t, "RS256", string(sk.Algorithm))

	jwk, ok := sk.Key.(jose.JSONWebKey)
	require.True(t, ok)
	assert.Equal(t, "kid-1", jwk.KeyID)
}

func TestSignerToPEMAndUnmarshalSignerRoundTrip(t *testing.T) {
	signer := testSigner(t)

	out, err := SignerToPEM(signer)
	require.NoError(t, err)
	assert.Contains(t, out, "RSA PRIVATE KEY")

	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)

	recovered, err := UnmarshalSigner(block.Bytes)
	require.NoError(t, err)
	recoveredRSA := recovered.(*rsa.PrivateKey)
	assert.Equal(t, signer.N, recoveredRSA.N)
}

func TestSignerToPEMRejectsNonRSAKeys(t *testing.T) {
	_, err := SignerToPEM(nil)
	assert.Error(t, err)
}

func TestUnmarshalSignerRejectsGarbage(t *testing.T) {
	_, err := UnmarshalSigner([]byte("not a key"))
	assert.Error(t, err)
}
