package gateway

import (
	"crypto/subtle"

	"studyportal/internal/domain"
)

// ClientInfo holds the identity of an authenticated gateway client.
type ClientInfo struct {
	UserID string
	Role   domain.Role
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// TokenEntry is one static credential.
type TokenEntry struct {
	Token  string
	UserID string
	Role   string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
// Role strings are normalized; unknown ones are kept verbatim so the
// router denies them.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{
		entries: make([]authEntry, len(entries)),
	}
	for i, e := range entries {
		a.entries[i] = authEntry{
			token: []byte(e.Token),
			info:  &ClientInfo{UserID: e.UserID, Role: normalizeRole(e.Role)},
		}
	}
	return a
}

// normalizeRole maps role strings like "Consultant" or "ADMIN" onto their
// canonical forms. Strings that name no known role pass through verbatim
// and fail closed at the role gate.
func normalizeRole(s string) domain.Role {
	if r, ok := domain.ParseRole(s); ok {
		return r
	}
	return domain.Role(s)
}

// Authenticate returns client info if the token is valid.
// Uses constant-time comparison to prevent timing attacks.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}
