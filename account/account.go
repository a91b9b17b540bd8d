// Package account manages the ACME account resource: its server-assigned
// Key-ID and the local record that persists it across process restarts.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/small-tech/autotls/acme/client"
	"github.com/small-tech/autotls/acme/resources"
	"github.com/small-tech/autotls/acmeerr"
)

// record is the on-disk JSON shape persisted at Configuration.AccountPath().
type record struct {
	KID string `json:"kid"`
}

// Account holds an ACME account's Key-ID. It must be built with Load; the
// zero value responds to KID with an empty string, satisfying
// client.KIDSource in the not-yet-registered state without panicking.
type Account struct {
	ready bool
	kid   string
}

// KID returns the account's Key-ID, or "" if the account has not been
// created or loaded yet.
func (a *Account) KID() string {
	if a == nil || !a.ready {
		return ""
	}
	return a.kid
}

// Load returns the Account persisted at path, or, if no record exists yet,
// registers a new one with the ACME server via engine and persists it.
//
// Registration authenticates with the embedded account-identity JWK
// (useKid=false) and accepts either 201 (freshly created) or 200 (an
// account already existed for this JWK, per RFC 8555 section 7.3.1).
func Load(ctx context.Context, path string, engine *client.Engine, contacts []string) (*Account, error) {
	if existing, err := loadRecord(path); err == nil {
		return &Account{ready: true, kid: existing.KID}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("account: reading %q: %w", path, err)
	}

	payload := resources.NewAccountRequestFor(contacts)
	resp, err := engine.Do(ctx, client.Request{
		Operation:           "newAccount",
		Payload:             payload,
		UseKid:              false,
		AcceptedStatusCodes: []int{http.StatusOK, http.StatusCreated},
	})
	if err != nil {
		return nil, fmt.Errorf("account: newAccount: %w", err)
	}

	kid := resp.Headers.Get("Location")
	if kid == "" {
		return nil, acmeerr.New(acmeerr.KindRequest, "newAccount response carried no Location header")
	}

	a := &Account{ready: true, kid: kid}
	if err := a.save(path); err != nil {
		return nil, err
	}
	return a, nil
}

func loadRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("account: invalid JSON in %q: %w", path, err)
	}
	return &r, nil
}

func (a *Account) save(path string) error {
	data, err := json.Marshal(record{KID: a.kid})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("account: creating %q: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("account: writing %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
