package ocsp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

type testPair struct {
	leaf   *x509.Certificate
	issuer *x509.Certificate
}

func newTestPair(t *testing.T, responderURL string) (testPair, *rsa.PrivateKey) {
	t.Helper()

	issuerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuerTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test issuer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	issuerDER, err := x509.CreateCertificate(rand.Reader, issuerTemplate, issuerTemplate, &issuerKey.PublicKey, issuerKey)
	require.NoError(t, err)
	issuer, err := x509.ParseCertificate(issuerDER)
	require.NoError(t, err)

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"example.com"},
		OCSPServer:   []string{responderURL},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, issuer, &leafKey.PublicKey, issuerKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return testPair{leaf: leaf, issuer: issuer}, issuerKey
}

func TestStapleFetchesAndCachesResponse(t *testing.T) {
	var (
		srv          *httptest.Server
		pair         testPair
		issuerKey    *rsa.PrivateKey
		requestCount int
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ocsp", func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		reqDER, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ocspReq, err := ocsp.ParseRequest(reqDER)
		require.NoError(t, err)

		respTemplate := ocsp.Response{
			Status:       ocsp.Good,
			SerialNumber: ocspReq.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(2 * time.Hour),
		}
		respDER, err := ocsp.CreateResponse(pair.issuer, pair.issuer, respTemplate, issuerKey)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(respDER)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	pair, issuerKey = newTestPair(t, srv.URL+"/ocsp")

	s := New()
	defer s.Stop()

	raw, err := s.Staple(context.Background(), pair.leaf, pair.issuer)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, 1, requestCount)

	raw2, err := s.Staple(context.Background(), pair.leaf, pair.issuer)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
	assert.Equal(t, 1, requestCount, "a cached response must be served without a second OCSP request")
}

func TestStapleFailsWithoutOCSPServer(t *testing.T) {
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "no-ocsp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTemplate, leafTemplate, &leafKey.PublicKey, leafKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	s := New()
	defer s.Stop()

	_, err = s.Staple(context.Background(), leaf, leaf)
	assert.Error(t, err)
}
