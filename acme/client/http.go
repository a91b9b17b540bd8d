package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
)

const (
	version       = "1.0.0"
	userAgentBase = "autotls-acme-client"
	locale        = "en-US"
)

// Transport performs the HTTP GET/HEAD/POST calls used by the signed
// request engine. It sets the User-Agent and Accept-Language headers on
// every outbound request, matching RFC 8555's recommendation that clients
// identify themselves.
type Transport struct {
	httpClient *http.Client
	userAgent  string
}

// NewTransport builds a Transport. If caCertPath is non-empty its PEM
// contents are used as the sole trust root for HTTPS connections to the
// ACME server (useful for a local test CA); otherwise the system root pool
// is used.
func NewTransport(caCertPath string) (*Transport, error) {
	tlsConfig := &tls.Config{}
	if caCertPath != "" {
		pemBundle, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(pemBundle); !ok {
			return nil, fmt.Errorf("no certificates found in %q", caCertPath)
		}
		tlsConfig.RootCAs = pool
	}

	return &Transport{
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		userAgent: fmt.Sprintf("%s/%s (%s; %s)", userAgentBase, version, runtime.GOOS, runtime.GOARCH),
	}, nil
}

func (t *Transport) prepare(req *http.Request) {
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept-Language", locale)
}

// Do executes req, returning the response and its fully read, already
// closed body.
func (t *Transport) Do(req *http.Request) (*http.Response, []byte, error) {
	t.prepare(req)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// Head issues an HTTP HEAD request.
func (t *Transport) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	t.prepare(req)
	return t.httpClient.Do(req)
}

// Get issues an HTTP GET request.
func (t *Transport) Get(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	return t.Do(req)
}

// Post issues an HTTP POST request with the given body and
// application/jose+json Content-Type, as required for all ACME signed
// requests.
func (t *Transport) Post(ctx context.Context, url string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return t.Do(req)
}
