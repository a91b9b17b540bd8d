// Package ocsp performs AIA-driven OCSP requests for stapling and caches the
// response until it needs to be refreshed.
package ocsp

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Stapler caches one OCSP response per certificate serial and refreshes it
// shortly before its NextUpdate.
type Stapler struct {
	httpClient *http.Client

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	raw        []byte
	nextUpdate time.Time
	timer      *time.Timer
}

// New builds an empty Stapler.
func New() *Stapler {
	return &Stapler{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		entries:    make(map[string]*entry),
	}
}

// Staple returns the cached DER-encoded OCSP response for leaf, performing
// a fresh OCSP request against leaf's AIA responder URL if no valid cache
// entry exists. issuer must be leaf's direct issuer certificate.
func (s *Stapler) Staple(ctx context.Context, leaf, issuer *x509.Certificate) ([]byte, error) {
	serial := leaf.SerialNumber.String()

	s.mu.Lock()
	e, ok := s.entries[serial]
	s.mu.Unlock()
	if ok && time.Now().Before(e.nextUpdate) {
		return e.raw, nil
	}

	raw, nextUpdate, err := s.request(ctx, leaf, issuer)
	if err != nil {
		return nil, err
	}

	s.cache(serial, raw, nextUpdate, leaf, issuer)
	return raw, nil
}

func (s *Stapler) request(ctx context.Context, leaf, issuer *x509.Certificate) ([]byte, time.Time, error) {
	if len(leaf.OCSPServer) == 0 {
		return nil, time.Time{}, fmt.Errorf("ocsp: certificate has no OCSP responder URL")
	}

	reqDER, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ocsp: building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(reqDER))
	if err != nil {
		return nil, time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ocsp: request to %q: %w", leaf.OCSPServer[0], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("ocsp: responder returned HTTP status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ocsp: reading response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ocsp: parsing response: %w", err)
	}

	return raw, parsed.NextUpdate, nil
}

func (s *Stapler) cache(serial string, raw []byte, nextUpdate time.Time, leaf, issuer *x509.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[serial]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	e := &entry{raw: raw, nextUpdate: nextUpdate}
	refreshIn := time.Until(nextUpdate) - time.Hour
	if refreshIn > 0 {
		e.timer = time.AfterFunc(refreshIn, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if newRaw, newNextUpdate, err := s.request(ctx, leaf, issuer); err == nil {
				s.cache(serial, newRaw, newNextUpdate, leaf, issuer)
			}
		})
	}
	s.entries[serial] = e
}

// Stop cancels every pending refresh timer. Must be called before process
// shutdown.
func (s *Stapler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
