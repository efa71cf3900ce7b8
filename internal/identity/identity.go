// Package identity defines the authentication-ready view of a user shared by
// the lookup adapter, the session manager and the access policy.
package identity

import "strings"

// RolePrefix is prepended to bare role names when checking authorities.
const RolePrefix = "ROLE_"

// Authenticatable is anything that can be checked for credentials and
// authorities.
type Authenticatable interface {
	Username() string
	PasswordHash() string
	Authorities() []string
}

// Identity is an immutable Authenticatable value.
type Identity struct {
	username     string
	passwordHash string
	authorities  []string
}

// New builds an Identity. The authorities slice is copied.
func New(username, passwordHash string, authorities ...string) Identity {
	cp := make([]string, 0, len(authorities))
	for _, a := range authorities {
		if a = strings.TrimSpace(a); a != "" {
			cp = append(cp, a)
		}
	}
	return Identity{username: username, passwordHash: passwordHash, authorities: cp}
}

// Username returns the login name.
func (i Identity) Username() string { return i.username }

// PasswordHash returns the stored hash. Identities rebuilt from a session
// carry no hash.
func (i Identity) PasswordHash() string { return i.passwordHash }

// Authorities returns a copy of the granted authority labels.
func (i Identity) Authorities() []string {
	out := make([]string, len(i.authorities))
	copy(out, i.authorities)
	return out
}

// WithoutCredentials returns the identity with the password hash erased.
func (i Identity) WithoutCredentials() Identity {
	i.passwordHash = ""
	return i
}

// HasAuthority reports whether a holds the authority, case-sensitively.
func HasAuthority(a Authenticatable, authority string) bool {
	if a == nil {
		return false
	}
	for _, granted := range a.Authorities() {
		if granted == authority {
			return true
		}
	}
	return false
}

// HasRole reports whether a holds role, accepting both "ADMIN" and
// "ROLE_ADMIN" spellings.
func HasRole(a Authenticatable, role string) bool {
	return HasAuthority(a, RoleAuthority(role))
}

// RoleAuthority turns a role name into its authority label.
func RoleAuthority(role string) string {
	role = strings.TrimSpace(role)
	if role == "" || strings.HasPrefix(role, RolePrefix) {
		return role
	}
	return RolePrefix + strings.ToUpper(role)
}

var _ Authenticatable = Identity{}
