package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-tech/autotls/acmeerr"
)

func TestNewRejectsEmptyDomains(t *testing.T) {
	_, err := New(Production, nil, t.TempDir())
	require.Error(t, err)
	assert.True(t, acmeerr.Is(err, acmeerr.KindDomainsNotStrings))
}

func TestNewRejectsBlankDomain(t *testing.T) {
	_, err := New(Production, []string{"example.com", "  "}, t.TempDir())
	require.Error(t, err)
	assert.True(t, acmeerr.Is(err, acmeerr.KindDomainsNotStrings))
}

func TestDirectoryURLsPerServerType(t *testing.T) {
	root := t.TempDir()

	prod, err := New(Production, []string{"example.com"}, root)
	require.NoError(t, err)
	assert.Equal(t, "https://acme-v02.api.letsencrypt.org/directory", prod.DirectoryURL())

	staging, err := New(Staging, []string{"example.com"}, root)
	require.NoError(t, err)
	assert.Equal(t, "https://acme-staging-v02.api.letsencrypt.org/directory", staging.DirectoryURL())

	local, err := New(LocalTest, []string{"example.com"}, root)
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:14000/dir", local.DirectoryURL())
}

func TestCertDirNameSingleDomain(t *testing.T) {
	cfg, err := New(Production, []string{"example.com"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.certDirName())
}

func TestCertDirNameFewDomains(t *testing.T) {
	cfg, err := New(Production, []string{"a.com", "b.com", "c.com"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "a.com--b.com--and--c.com", cfg.certDirName())
}

func TestCertDirNameManyDomainsIsDeterministicAndCollisionResistant(t *testing.T) {
	domainsA := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}
	domainsB := []string{"a.com", "b.com", "c.com", "d.com", "f.com"}

	cfgA, err := New(Production, domainsA, t.TempDir())
	require.NoError(t, err)
	cfgB, err := New(Production, domainsB, t.TempDir())
	require.NoError(t, err)

	nameA1 := cfgA.certDirName()
	nameA2 := cfgA.certDirName()
	assert.Equal(t, nameA1, nameA2, "certDirName must be a pure function of the domain list")
	assert.NotEqual(t, nameA1, cfgB.certDirName())
	assert.Contains(t, nameA1, "a.com--b.com--and--(3)--others--")
}

func TestAccountAndCertificatePathsAreScopedByServerType(t *testing.T) {
	root := t.TempDir()
	staging, err := New(Staging, []string{"example.com"}, root)
	require.NoError(t, err)
	prod, err := New(Production, []string{"example.com"}, root)
	require.NoError(t, err)

	assert.NotEqual(t, staging.AccountPath(), prod.AccountPath())
	assert.Contains(t, staging.AccountPath(), "staging")
	assert.Contains(t, prod.CertificatePath(), "production")
	assert.Contains(t, staging.CertificatePath(), "example.com")
}
