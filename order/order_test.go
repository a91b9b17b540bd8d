package order

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-tech/autotls/acme/client"
	"github.com/small-tech/autotls/challengeresponder"
	"github.com/small-tech/autotls/identity"
)

// testCA is a minimal single-domain ACME server exercising exactly the
// sequence Run depends on: newOrder, one authorization that is already
// valid, finalize, and certificate download.
type testCA struct {
	srv      *httptest.Server
	responder *challengeresponder.Responder
}

func newTestCA(t *testing.T) *testCA {
	ca := &testCA{responder: challengeresponder.New()}
	mux := http.NewServeMux()

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"newNonce":"%[1]s/nonce","newAccount":"%[1]s/acct","newOrder":"%[1]s/order"}`, ca.srv.URL)
	})
	mux.HandleFunc("/nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n-"+fmt.Sprint(time.Now().UnixNano()))
	})
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n-order")
		w.Header().Set("Location", ca.srv.URL+"/order/1")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"status":"ready","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":["%s/authz/1"],"finalize":"%s/finalize/1"}`, ca.srv.URL, ca.srv.URL)
	})
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n-authz")
		fmt.Fprintf(w, `{"status":"valid","identifier":{"type":"dns","value":"example.com"},"challenges":[{"type":"http-01","url":"%s/chall/1","token":"tok1","status":"valid"}]}`, ca.srv.URL)
	})
	mux.HandleFunc("/finalize/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n-finalize")
		fmt.Fprintf(w, `{"status":"valid","certificate":"%s/cert/1"}`, ca.srv.URL)
	})
	mux.HandleFunc("/cert/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n-cert")
		_, _ = w.Write([]byte(testCertPEM()))
	})

	ca.srv = httptest.NewServer(mux)
	return ca
}

func testCertPEM() string {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		DNSNames:     []string{"example.com"},
	}
	der, _ := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestRunDrivesOrderToCertificateDownload(t *testing.T) {
	ca := newTestCA(t)
	defer ca.srv.Close()

	transport, err := client.NewTransport("")
	require.NoError(t, err)

	accountID, err := identity.New()
	require.NoError(t, err)

	ctx := context.Background()
	engine, err := client.NewEngine(ctx, transport, ca.srv.URL+"/directory", accountID)
	require.NoError(t, err)
	engine.Account = fakeAccount("kid-1")

	o, err := Run(ctx, engine, ca.responder, accountID, []string{"example.com"})
	require.NoError(t, err)

	assert.Equal(t, "valid", o.Status())
	assert.NotEmpty(t, o.Certificate())
	assert.NotNil(t, o.CertificateIdentity())
	assert.Equal(t, ca.srv.URL+"/order/1", o.ID())
}

type fakeAccount string

func (f fakeAccount) KID() string { return string(f) }

func TestBuildCSREncodesBase64URL(t *testing.T) {
	id, err := identity.New()
	require.NoError(t, err)

	csr, err := client.BuildCSR(id.Signer(), []string{"example.com"})
	require.NoError(t, err)

	_, err = base64.RawURLEncoding.DecodeString(csr)
	require.NoError(t, err)
}
