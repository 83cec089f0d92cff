package driver

import "github.com/orneryd/nornicgraph/pkg/auth"

// AuthToken holds the credentials a driver presents on every request.
type AuthToken struct {
	creds auth.Credentials
}

// BasicAuth authenticates with a user name and password.
func BasicAuth(principal, credentials string) AuthToken {
	return AuthToken{creds: auth.Credentials{Scheme: auth.SchemeBasic, Principal: principal, Secret: credentials}}
}

// BearerAuth authenticates with a token issued by the server.
func BearerAuth(token string) AuthToken {
	return AuthToken{creds: auth.Credentials{Scheme: auth.SchemeBearer, Secret: token}}
}

// NoAuth sends no Authorization header.
func NoAuth() AuthToken {
	return AuthToken{creds: auth.Credentials{Scheme: auth.SchemeNone}}
}

// Scheme returns "basic", "bearer" or "none".
func (t AuthToken) Scheme() string {
	if t.creds.Scheme == "" {
		return auth.SchemeNone
	}
	return t.creds.Scheme
}

// header is the Authorization header value, empty for no auth.
func (t AuthToken) header() string {
	return t.creds.Header()
}
