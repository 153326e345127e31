// Package identity carries the authenticated caller explicitly through every
// core call. There is no ambient "current user".
package identity

import "strings"

// Identity is the caller proven by a validated access token. AccessToken is
// the raw bearer value, forwarded unchanged to the Ownership Store so that
// ownership is enforced with the caller's own credential.
type Identity struct {
	Username    string
	AccessToken string
}

func New(username, accessToken string) Identity {
	return Identity{Username: username, AccessToken: accessToken}
}

func (i Identity) IsZero() bool {
	return i.Username == "" || i.AccessToken == ""
}

// BearerHeader renders the Authorization header value for outbound calls.
func (i Identity) BearerHeader() string {
	return "Bearer " + i.AccessToken
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
