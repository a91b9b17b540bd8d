// Package certificate persists an issued certificate chain, parses its
// validity window, and schedules renewal ahead of expiry.
package certificate

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/small-tech/autotls/acmeerr"
	"github.com/small-tech/autotls/identity"
)

// renewalWindow is how far ahead of notAfter a certificate is renewed.
const renewalWindow = 30 * 24 * time.Hour

// renewalCheckInterval is how often the background timer re-evaluates
// whether renewal is due.
const renewalCheckInterval = 24 * time.Hour

// ProvisionFunc performs a full order and returns the resulting PEM chain
// and certificate identity. Certificate calls this to provision on first
// use and to renew.
type ProvisionFunc func(ctx context.Context) (pemChain []byte, certIdentity *identity.Identity, err error)

// Certificate holds the current PEM chain for one domain set, its parsed
// metadata, and a cached TLS secure context. It is safe for concurrent use.
type Certificate struct {
	path         string
	identityPath string
	provision    ProvisionFunc

	mu          sync.Mutex
	pemChain    []byte
	parsed      *x509.Certificate
	issuer      *x509.Certificate
	secureCtx   *tls.Certificate
	provisioning bool

	renewalTimer *time.Timer
	stopped      bool
}

// Info exposes the parsed metadata of a Certificate's current chain.
type Info struct {
	IssuerCN  string
	SubjectCN string
	SANs      []string
	NotBefore time.Time
	NotAfter  time.Time
	Serial    string
}

// Load constructs a Certificate for the given paths. If a PEM chain already
// exists at path it is loaded and parsed, and a renewal check runs
// immediately (the "also check now" semantics); otherwise the Certificate
// starts empty and the caller's first GetSecureContext call provisions it.
func Load(path, identityPath string, provision ProvisionFunc) (*Certificate, error) {
	c := &Certificate{path: path, identityPath: identityPath, provision: provision}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("certificate: reading %q: %w", path, err)
	}

	if err := c.setChain(data); err != nil {
		return nil, err
	}
	c.scheduleRenewalCheck(true)
	return c, nil
}

func (c *Certificate) setChain(pemChain []byte) error {
	rest := pemChain
	block, rest := pem.Decode(rest)
	if block == nil {
		return acmeerr.New(acmeerr.KindCertificateParse, fmt.Sprintf("%q contains no PEM block", c.path))
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return acmeerr.Wrap(acmeerr.KindCertificateParse, fmt.Sprintf("parsing leaf certificate from %q", c.path), err)
	}

	// The issuer, if present, is the next CERTIFICATE block in the chain.
	var issuer *x509.Certificate
	for {
		var issuerBlock *pem.Block
		issuerBlock, rest = pem.Decode(rest)
		if issuerBlock == nil {
			break
		}
		if issuerBlock.Type != "CERTIFICATE" {
			continue
		}
		issuer, err = x509.ParseCertificate(issuerBlock.Bytes)
		if err != nil {
			issuer = nil
		}
		break
	}

	cert, err := tls.X509KeyPair(pemChain, pemChain)
	if err != nil {
		// A chain downloaded from the CA carries no private key: pair it
		// with the certificate identity persisted at identityPath.
		if keyPEM, readErr := os.ReadFile(c.identityPath); readErr == nil {
			cert, err = tls.X509KeyPair(pemChain, keyPEM)
		}
	}
	var secureCtx *tls.Certificate
	if err == nil {
		secureCtx = &cert
	}

	c.mu.Lock()
	c.pemChain = pemChain
	c.parsed = parsed
	c.issuer = issuer
	c.secureCtx = secureCtx
	c.mu.Unlock()
	return nil
}

// Chain returns the cached leaf certificate and, if the persisted chain
// included one, its issuer. ok is false until a certificate has been
// provisioned or loaded.
func (c *Certificate) Chain() (leaf, issuer *x509.Certificate, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parsed == nil {
		return nil, nil, false
	}
	return c.parsed, c.issuer, true
}

// Info returns the parsed metadata of the currently cached certificate, or
// false if none has been provisioned yet.
func (c *Certificate) Info() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parsed == nil {
		return Info{}, false
	}
	sans := append([]string(nil), c.parsed.DNSNames...)
	return Info{
		IssuerCN:  c.parsed.Issuer.CommonName,
		SubjectCN: c.parsed.Subject.CommonName,
		SANs:      sans,
		NotBefore: c.parsed.NotBefore,
		NotAfter:  c.parsed.NotAfter,
		Serial:    c.parsed.SerialNumber.String(),
	}, true
}

// ErrBusy is returned by GetSecureContext when provisioning is already in
// flight, so the caller can reset the connection rather than stall it.
var ErrBusy = fmt.Errorf("certificate: provisioning already in progress")

// GetSecureContext returns the cached TLS certificate, provisioning it
// first if necessary. A cached certificate whose NotAfter has passed is
// never returned: its holder reprovisions exactly as if nothing had been
// cached yet. If a provisioning run is already in flight it returns ErrBusy
// immediately instead of waiting.
func (c *Certificate) GetSecureContext(ctx context.Context) (*tls.Certificate, error) {
	c.mu.Lock()
	if c.secureCtx != nil && c.parsed != nil && time.Now().Before(c.parsed.NotAfter) {
		ctxCopy := *c.secureCtx
		c.mu.Unlock()
		return &ctxCopy, nil
	}
	if c.provisioning {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.provisioning = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.provisioning = false
		c.mu.Unlock()
	}()

	return c.runProvision(ctx)
}

func (c *Certificate) runProvision(ctx context.Context) (*tls.Certificate, error) {
	pemChain, certID, err := c.provision(ctx)
	if err != nil {
		return nil, fmt.Errorf("certificate: provisioning: %w", err)
	}

	if err := writeAtomic(c.path, pemChain); err != nil {
		return nil, err
	}
	if err := certID.Save(c.identityPath); err != nil {
		return nil, err
	}
	if err := c.setChain(pemChain); err != nil {
		return nil, err
	}

	c.scheduleRenewalCheck(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secureCtx == nil {
		return nil, fmt.Errorf("certificate: provisioned chain did not parse as a valid key pair")
	}
	ctxCopy := *c.secureCtx
	return &ctxCopy, nil
}

// scheduleRenewalCheck arms the daily renewal timer. If checkNow is true, it
// evaluates renewal immediately before arming the recurring timer.
func (c *Certificate) scheduleRenewalCheck(checkNow bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.renewalTimer != nil {
		c.renewalTimer.Stop()
	}
	c.mu.Unlock()

	if checkNow {
		c.maybeRenew()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.renewalTimer = time.AfterFunc(renewalCheckInterval, func() {
		c.maybeRenew()
		c.scheduleRenewalCheck(false)
	})
}

func (c *Certificate) maybeRenew() {
	c.mu.Lock()
	parsed := c.parsed
	c.mu.Unlock()
	if parsed == nil {
		return
	}
	if time.Now().Before(parsed.NotAfter.Add(-renewalWindow)) {
		return
	}

	backoff := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		_, err := c.runProvision(ctx)
		cancel()
		if err == nil {
			return
		}
		if time.Now().After(parsed.NotAfter) {
			log.Printf("certificate: renewal for %q failed and the certificate has already expired: %s", c.path, err)
			return
		}
		log.Printf("certificate: renewal attempt for %q failed, retrying in %s: %s", c.path, backoff, err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > time.Hour {
			backoff = time.Hour
		}
	}
}

// StopCheckingForRenewal clears the renewal timer. Must be called before
// process shutdown to allow a clean exit.
func (c *Certificate) StopCheckingForRenewal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.renewalTimer != nil {
		c.renewalTimer.Stop()
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("certificate: creating %q: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("certificate: writing %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
