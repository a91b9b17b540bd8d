// Package acme provides ACME protocol constants shared by the resources and
// client packages.
package acme

const (
	// Directory document keys. See RFC 8555 section 7.1.1.
	NewNonceEndpoint   = "newNonce"
	NewAccountEndpoint = "newAccount"
	NewOrderEndpoint   = "newOrder"
	KeyChangeEndpoint  = "keyChange"
	RevokeCertEndpoint = "revokeCert"

	// ReplayNonceHeader carries the anti-replay nonce. See RFC 8555 section
	// 6.5.1.
	ReplayNonceHeader = "Replay-Nonce"
	// RetryAfterHeader indicates the interval to wait before the next poll.
	RetryAfterHeader = "Retry-After"
	// LocationHeader carries the server-assigned resource URL for newly
	// created resources (accounts, orders).
	LocationHeader = "Location"

	// ContentTypeJOSE is the required Content-Type for ACME JWS requests.
	ContentTypeJOSE = "application/jose+json"
	// ContentTypeProblem is the Content-Type used for RFC 7807 problem
	// documents.
	ContentTypeProblem = "application/problem+json"

	// ChallengeTypeHTTP01 identifies the only challenge type this client
	// implements.
	ChallengeTypeHTTP01 = "http-01"

	// Order and authorization statuses. See RFC 8555 section 7.1.6.
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
)
