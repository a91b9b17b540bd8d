// Package autotls integrates the ACME client into a TLS server: it hooks
// per-connection SNI lookups to opportunistically provision a certificate
// on first use, serves OCSP staples, and owns the lifetime of every
// background timer and listener the client starts.
package autotls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"golang.org/x/sync/singleflight"

	"github.com/small-tech/autotls/acme/client"
	"github.com/small-tech/autotls/account"
	"github.com/small-tech/autotls/acmeerr"
	"github.com/small-tech/autotls/certificate"
	"github.com/small-tech/autotls/challengeresponder"
	"github.com/small-tech/autotls/config"
	"github.com/small-tech/autotls/httpfrontdoor"
	"github.com/small-tech/autotls/identity"
	"github.com/small-tech/autotls/ocsp"
	"github.com/small-tech/autotls/order"
)

// Options configures a Server.
type Options struct {
	Configuration *config.Configuration
	// Contacts are "mailto:" addresses (without the scheme) registered
	// against the ACME account, if one does not already exist.
	Contacts []string
	// CACertPath, if non-empty, pins the ACME server's TLS trust root
	// (useful for a local test CA). Empty uses the system root pool.
	CACertPath string
}

// Server wires together every client component behind a *tls.Config,
// provisioning the configured domain set's certificate on first handshake.
type Server struct {
	opts            Options
	domains         map[string]bool
	responder       *challengeresponder.Responder
	frontDoor       *httpfrontdoor.FrontDoor
	ocsp            *ocsp.Stapler
	engine          *client.Engine
	account         *account.Account
	accountIdentity *identity.Identity
	cert            *certificate.Certificate

	group singleflight.Group
}

// New builds a Server and its ACME engine, loading or creating the account
// identity and account record. It does not provision a certificate: that
// happens lazily on the first matching TLS handshake.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Configuration

	transport, err := client.NewTransport(opts.CACertPath)
	if err != nil {
		return nil, err
	}

	accountIdentity, err := identity.LoadOrNew(cfg.AccountIdentityPath())
	if err != nil {
		return nil, fmt.Errorf("autotls: account identity: %w", err)
	}

	engine, err := client.NewEngine(ctx, transport, cfg.DirectoryURL(), accountIdentity)
	if err != nil {
		return nil, fmt.Errorf("autotls: building engine: %w", err)
	}

	acct, err := account.Load(ctx, cfg.AccountPath(), engine, opts.Contacts)
	if err != nil {
		return nil, fmt.Errorf("autotls: account: %w", err)
	}
	engine.Account = acct

	domains := make(map[string]bool, len(cfg.Domains()))
	for _, d := range cfg.Domains() {
		domains[d] = true
	}

	responder := challengeresponder.New()
	s := &Server{
		opts:            opts,
		domains:         domains,
		responder:       responder,
		frontDoor:       httpfrontdoor.New(responder),
		ocsp:            ocsp.New(),
		engine:          engine,
		account:         acct,
		accountIdentity: accountIdentity,
	}

	s.cert, err = certificate.Load(cfg.CertificatePath(), cfg.CertificateIdentityPath(), s.provision)
	if err != nil {
		return nil, fmt.Errorf("autotls: certificate: %w", err)
	}

	return s, nil
}

// provision runs a full order for the server's configured domain set,
// single-flighted so concurrent first-hit handshakes never start more than
// one order at a time.
func (s *Server) provision(ctx context.Context) ([]byte, *identity.Identity, error) {
	type result struct {
		pemChain []byte
		certID   *identity.Identity
	}

	v, err, _ := s.group.Do("provision", func() (interface{}, error) {
		s.frontDoor.SetMode(httpfrontdoor.ModeChallenge)
		defer s.frontDoor.SetMode(httpfrontdoor.ModeRedirect)

		domains := s.opts.Configuration.Domains()
		o, err := order.Run(ctx, s.engine, s.responder, s.accountIdentity, domains)
		if err != nil {
			return nil, err
		}
		return result{pemChain: o.Certificate(), certID: o.CertificateIdentity()}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	r := v.(result)
	return r.pemChain, r.certID, nil
}

// GetCertificate is the hook to install as tls.Config.GetCertificate. It
// rejects names outside the configured domain set with
// SNIIgnoreUnsupportedDomainError, and returns ErrBusy (surfaced here as a
// plain error, forcing the caller to drop the connection) when provisioning
// is already running. On success it attaches a fresh OCSP staple to the
// returned certificate whenever the issuer is known and stapling succeeds;
// a stapling failure is not fatal to the handshake.
func (s *Server) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	if name == "" || !s.domains[name] {
		return nil, acmeerr.New(acmeerr.KindSNIIgnoreUnsupportedDomain, fmt.Sprintf("server name %q is not in the configured domain set", name))
	}

	tlsCert, err := s.cert.GetSecureContext(hello.Context())
	if err != nil {
		return nil, err
	}

	if leaf, issuer, ok := s.cert.Chain(); ok && issuer != nil {
		if staple, err := s.StapleOCSP(hello.Context(), leaf, issuer); err == nil {
			tlsCert.OCSPStaple = staple
		}
	}

	return tlsCert, nil
}

// StapleOCSP returns a DER-encoded OCSP response for the currently served
// certificate, suitable for tls.Config.GetCertificate callers to attach via
// Certificate.OCSPStaple.
func (s *Server) StapleOCSP(ctx context.Context, leaf, issuer *x509.Certificate) ([]byte, error) {
	return s.ocsp.Staple(ctx, leaf, issuer)
}

// CreateServer builds a *tls.Config wired to this Server's GetCertificate
// hook and wraps ln in a TLS listener using it. It does not serve: the
// caller accepts connections from the returned listener. The HTTP front
// door must be started separately via ListenChallengePort.
func (s *Server) CreateServer(ln net.Listener) (net.Listener, *tls.Config) {
	tlsConfig := &tls.Config{
		GetCertificate: s.GetCertificate,
	}
	return tls.NewListener(ln, tlsConfig), tlsConfig
}

// ListenChallengePort starts the plain HTTP front door on addr (typically
// ":80"). It blocks until Shutdown is called.
func (s *Server) ListenChallengePort(addr string) error {
	return s.frontDoor.ListenAndServe(addr)
}

// Shutdown cancels every background timer and closes the HTTP front door.
// Must be called before process exit.
func (s *Server) Shutdown() {
	s.cert.StopCheckingForRenewal()
	s.ocsp.Stop()
	s.frontDoor.Shutdown()
}
