package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Authorization schemes.
const (
	SchemeBasic  = "basic"
	SchemeBearer = "bearer"
	SchemeNone   = "none"
)

// Credentials is a parsed Authorization header. For Basic, Principal and
// Secret are the user name and password; for Bearer, Secret is the token.
type Credentials struct {
	Scheme    string
	Principal string
	Secret    string
}

// Header renders the credentials as an Authorization header value. The none
// scheme renders as the empty string.
func (c Credentials) Header() string {
	switch c.Scheme {
	case SchemeBasic:
		return BasicHeader(c.Principal, c.Secret)
	case SchemeBearer:
		return BearerHeader(c.Secret)
	}
	return ""
}

// BasicHeader builds a Basic Authorization header value.
func BasicHeader(principal, credentials string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(principal+":"+credentials))
}

// BearerHeader builds a Bearer Authorization header value.
func BearerHeader(token string) string {
	return "Bearer " + token
}

// ParseAuthorization parses a Basic or Bearer Authorization header. The
// scheme name is case-insensitive.
func ParseAuthorization(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, ErrNoCredentials
	}
	scheme, rest, _ := strings.Cut(header, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(scheme) {
	case SchemeBasic:
		decoded, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: invalid basic auth encoding", ErrInvalidCredentials)
		}
		principal, secret, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return Credentials{}, fmt.Errorf("%w: invalid basic auth format", ErrInvalidCredentials)
		}
		return Credentials{Scheme: SchemeBasic, Principal: principal, Secret: secret}, nil
	case SchemeBearer:
		if rest == "" {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{Scheme: SchemeBearer, Secret: rest}, nil
	}
	return Credentials{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
}
