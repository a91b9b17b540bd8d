package resources

// Challenge represents an action the client must take to prove control of
// an identifier. This client only consumes the "http-01" type.
//
// See RFC 8555 sections 7.1.5 and 8.3 for the http-01 challenge and 7.1.6
// for status transitions.
type Challenge struct {
	// Type is the challenge type, e.g. "http-01".
	Type string `json:"type"`
	// URL identifies the challenge resource, and is POSTed to in order to
	// signal readiness for validation.
	URL string `json:"url"`
	// Token is used to construct the HTTP-01 key authorization.
	Token string `json:"token"`
	// Status is the challenge's current lifecycle state.
	Status string `json:"status"`
	// Error is the problem document associated with an invalid challenge.
	Error *Problem `json:"error,omitempty"`
}

// String returns the URL of the Challenge.
func (c Challenge) String() string {
	return c.URL
}
