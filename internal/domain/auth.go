package domain

import (
	"context"
	"strings"
)

// Role represents a portal user role.
type Role string

const (
	RoleConsultant Role = "consultant"
	RoleAdmin      Role = "admin"
	RoleSME        Role = "sme"

	// RoleAny on a descriptor means every authenticated role is allowed.
	RoleAny Role = "all"
)

// AllRoles lists every valid user role for validation purposes.
var AllRoles = []Role{RoleConsultant, RoleAdmin, RoleSME}

// roleRank orders roles for the implied hierarchy: admin satisfies every
// consultant-level requirement. SME sits beside consultant, not above it.
var roleRank = map[Role]int{
	RoleConsultant: 1,
	RoleSME:        1,
	RoleAdmin:      2,
}

// Satisfies reports whether the user role meets the requirement.
// Unknown or empty roles fail closed: they satisfy nothing but RoleAny.
func (r Role) Satisfies(required Role) bool {
	if required == RoleAny {
		return true
	}
	userRank, ok := roleRank[r]
	if !ok {
		return false
	}
	if r == required {
		return true
	}
	reqRank, ok := roleRank[required]
	if !ok {
		return false
	}
	// Admin outranks consultant-level requirements; peers do not cross.
	return userRank > reqRank
}

// ParseRole normalizes a role string. Unknown values return ("", false)
// so callers deny by default.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return known, true
		}
	}
	return "", false
}

// User identifies the caller of a conversation turn.
type User struct {
	ID   string
	Role Role
}

type ctxKey string

const userCtxKey ctxKey = "portal_user"

// ContextWithUser returns a new context carrying the caller identity.
func ContextWithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userCtxKey, u)
}

// UserFromContext extracts the caller identity from the context.
// Returns a zero User if not set.
func UserFromContext(ctx context.Context) User {
	if v, ok := ctx.Value(userCtxKey).(User); ok {
		return v
	}
	return User{}
}
