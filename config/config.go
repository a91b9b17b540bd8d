// Package config resolves a Configuration: the ACME server endpoint, the
// domain set a certificate covers, and the opaque filesystem paths the rest
// of the module reads and writes through.
package config

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/net/idna"

	"github.com/small-tech/autotls/acmeerr"
)

// ServerType selects which ACME directory a Configuration resolves to.
type ServerType int

const (
	// Production is Let's Encrypt's production directory.
	Production ServerType = iota
	// Staging is Let's Encrypt's staging directory, which issues
	// certificates signed by an untrusted test root but has far higher
	// rate limits.
	Staging
	// LocalTest points at a locally run ACME test CA (e.g. Pebble)
	// listening on localhost:14000.
	LocalTest
)

const (
	productionDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"
	stagingDirectoryURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	localTestDirectoryURL  = "https://localhost:14000/dir"
)

func (s ServerType) directoryURL() string {
	switch s {
	case Staging:
		return stagingDirectoryURL
	case LocalTest:
		return localTestDirectoryURL
	default:
		return productionDirectoryURL
	}
}

func (s ServerType) dirName() string {
	switch s {
	case Staging:
		return "staging"
	case LocalTest:
		return "local"
	default:
		return "production"
	}
}

// Configuration resolves the ACME endpoint, the domain set to obtain
// a certificate for, and the opaque paths the rest of the module persists
// state under. Build one with New; it validates its inputs eagerly.
type Configuration struct {
	serverType ServerType
	domains    []string
	root       string
}

// New validates domains (must be non-empty, every entry a syntactically
// valid, IDNA-normalized domain name) and builds a Configuration rooted at
// root for the given serverType.
func New(serverType ServerType, domains []string, root string) (*Configuration, error) {
	if len(domains) == 0 {
		return nil, acmeerr.New(acmeerr.KindDomainsNotStrings, "domains must be a non-empty array of strings")
	}

	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			return nil, acmeerr.New(acmeerr.KindDomainsNotStrings, "domains must be a non-empty array of strings")
		}
		ascii, err := idna.Lookup.ToASCII(d)
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.KindDomainsNotStrings, fmt.Sprintf("invalid domain %q", d), err)
		}
		normalized = append(normalized, ascii)
	}

	return &Configuration{
		serverType: serverType,
		domains:    normalized,
		root:       root,
	}, nil
}

// DirectoryURL returns the ACME directory URL for this configuration's
// server type.
func (c *Configuration) DirectoryURL() string {
	return c.serverType.directoryURL()
}

// Domains returns the configured domain set.
func (c *Configuration) Domains() []string {
	out := make([]string, len(c.domains))
	copy(out, c.domains)
	return out
}

func (c *Configuration) serverRoot() string {
	return filepath.Join(c.root, c.serverType.dirName())
}

// AccountPath returns the path of the persisted account record.
func (c *Configuration) AccountPath() string {
	return filepath.Join(c.serverRoot(), "account.json")
}

// AccountIdentityPath returns the path of the account's persisted signing
// key.
func (c *Configuration) AccountIdentityPath() string {
	return filepath.Join(c.serverRoot(), "account-identity.pem")
}

// CertificatePath returns the path of the persisted certificate chain for
// this configuration's domain set.
func (c *Configuration) CertificatePath() string {
	return filepath.Join(c.serverRoot(), c.certDirName(), "certificate.pem")
}

// CertificateIdentityPath returns the path of the persisted certificate
// subject key for this configuration's domain set.
func (c *Configuration) CertificateIdentityPath() string {
	return filepath.Join(c.serverRoot(), c.certDirName(), "certificate-identity.pem")
}

// certDirName derives a filesystem-safe directory name from the domain set:
// the domain itself for a single domain, a joined "d1--d2--and--dN" form for
// 2-4 domains, and a truncated "d1--d2--and--(N-2)--others--<hash>" form for
// 5 or more, where hash is the hex BLAKE2s-256 digest of the full joined
// domain list so two different large domain sets never collide.
func (c *Configuration) certDirName() string {
	domains := c.domains
	switch {
	case len(domains) == 1:
		return domains[0]
	case len(domains) <= 4:
		return strings.Join(domains[:len(domains)-1], "--") + "--and--" + domains[len(domains)-1]
	default:
		joined := strings.Join(domains, "--")
		sum := blake2s.Sum256([]byte(joined))
		shown := domains[:2]
		remaining := len(domains) - 2
		return fmt.Sprintf("%s--and--(%d)--others--%s", strings.Join(shown, "--"), remaining, hex.EncodeToString(sum[:]))
	}
}
