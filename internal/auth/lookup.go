package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/users"
)

// Lookup adapts credential records into identities. It never hashes or
// compares passwords.
type Lookup struct {
	store       users.Store
	defaultRole string
}

// NewLookup builds a Lookup. Records stored without a role get defaultRole.
func NewLookup(store users.Store, defaultRole string) *Lookup {
	if strings.TrimSpace(defaultRole) == "" {
		defaultRole = users.DefaultRole
	}
	return &Lookup{store: store, defaultRole: identity.RoleAuthority(defaultRole)}
}

// LoadByUsername returns the identity for username with its single role as
// authority.
func (l *Lookup) LoadByUsername(ctx context.Context, username string) (identity.Identity, error) {
	u, err := l.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return identity.Identity{}, ErrUserNotFound
		}
		return identity.Identity{}, fmt.Errorf("auth: load user: %w", err)
	}
	role := u.Role
	if strings.TrimSpace(role) == "" {
		role = l.defaultRole
	}
	return identity.New(u.Username, u.PasswordHash, role), nil
}
