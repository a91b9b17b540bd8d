package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/small-tech/autotls/acme/resources"
	"github.com/small-tech/autotls/acmeerr"
)

// Directory fetches and caches the ACME directory document (RFC 8555
// section 7.1.1). It must be instantiated through NewDirectory; on a
// zero-value Directory, TermsOfService and Website fail with a
// MustBeInstantiatedViaAsyncFactoryMethodError and URL reports false.
type Directory struct {
	ready bool
	doc   resources.DirectoryDocument
}

// NewDirectory fetches the directory document from endpointURL and returns
// a ready Directory. Fetch failures propagate to the caller; there is no
// retry.
func NewDirectory(ctx context.Context, transport *Transport, endpointURL string) (*Directory, error) {
	resp, body, err := transport.Get(ctx, endpointURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: %q returned HTTP status %d", endpointURL, resp.StatusCode)
	}

	var doc resources.DirectoryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("directory: invalid JSON: %w", err)
	}

	return &Directory{ready: true, doc: doc}, nil
}

// URL returns the directory URL for the named operation, and whether it was
// present. A Directory that was not built via NewDirectory always returns
// false.
func (d *Directory) URL(operation string) (string, bool) {
	if d == nil || !d.ready {
		return "", false
	}
	return d.doc.URL(operation)
}

// TermsOfService returns the CA's terms-of-service URL from the directory's
// meta object.
func (d *Directory) TermsOfService() (string, error) {
	if d == nil || !d.ready {
		return "", acmeerr.New(acmeerr.KindMustUseFactory, "Directory must be created via NewDirectory")
	}
	return d.doc.Meta.TermsOfService, nil
}

// Website returns the CA's website URL from the directory's meta object.
func (d *Directory) Website() (string, error) {
	if d == nil || !d.ready {
		return "", acmeerr.New(acmeerr.KindMustUseFactory, "Directory must be created via NewDirectory")
	}
	return d.doc.Meta.Website, nil
}
