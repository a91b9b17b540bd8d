// Package resources provides types for representing and interacting with ACME
// protocol resources.
package resources

import "fmt"

// NewAccountRequest is the payload sent to the newAccount endpoint.
//
// See RFC 8555 section 7.3.
type NewAccountRequest struct {
	Contact              []string `json:"contact,omitempty"`
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
}

// Account is the server's representation of an ACME account resource,
// returned from newAccount or fetched via POST-as-GET to its Location URL.
//
// The account's Key-ID (used as the JWS "kid" for all subsequent requests)
// is not part of the JSON body: it is the Location header on the newAccount
// response. Callers populate ID after decoding the body.
//
// See RFC 8555 section 7.1.2.
type Account struct {
	// ID is the server-assigned account URL (the "kid"). Not part of the
	// JSON wire representation.
	ID string `json:"-"`
	// Status is one of "valid", "deactivated" or "revoked".
	Status string `json:"status,omitempty"`
	// Contact holds zero or more "mailto:" contact URIs.
	Contact []string `json:"contact,omitempty"`
	// Orders is a URL for the account's orders list, if the server
	// implements it.
	Orders string `json:"orders,omitempty"`
}

// String returns the Account's kid, or an empty string if it has not been
// created with the ACME server yet.
func (a Account) String() string {
	return a.ID
}

// NewAccountRequestFor builds the newAccount payload for a set of contact
// email addresses, normalizing them into "mailto:" URIs.
func NewAccountRequestFor(emails []string) NewAccountRequest {
	var contacts []string
	for _, e := range emails {
		if e == "" {
			continue
		}
		contacts = append(contacts, fmt.Sprintf("mailto:%s", e))
	}
	return NewAccountRequest{
		Contact:              contacts,
		TermsOfServiceAgreed: true,
	}
}
