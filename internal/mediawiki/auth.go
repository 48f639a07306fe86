package mediawiki

import "net/http"

// Authenticator applies the bot credential to outgoing requests.
type Authenticator interface {
	Apply(req *http.Request, credential string)
}

// NoAuth sends anonymous requests.
type NoAuth struct{}

func (NoAuth) Apply(_ *http.Request, _ string) {}

// BearerAuth sends an OAuth 2.0 owner-only access token.
type BearerAuth struct{}

func (BearerAuth) Apply(req *http.Request, credential string) {
	req.Header.Set("Authorization", "Bearer "+credential)
}
