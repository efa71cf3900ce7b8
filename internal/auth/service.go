package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aula-web/aula/internal/auth/password"
	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/users"
)

// dummyPassword is hashed once at startup so lookups of unknown users still
// spend one bcrypt comparison.
const dummyPassword = "aula-unknown-user"

// Service wraps authentication and registration rules.
type Service struct {
	store       users.Store
	lookup      *Lookup
	hasher      password.Hasher
	defaultRole string
	dummyHash   string
	logger      *slog.Logger
}

// NewService constructs a Service. defaultRole is assigned at registration.
func NewService(store users.Store, hasher password.Hasher, defaultRole string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}
	lookup := NewLookup(store, defaultRole)
	return &Service{
		store:       store,
		lookup:      lookup,
		hasher:      hasher,
		defaultRole: lookup.defaultRole,
		dummyHash:   dummy,
		logger:      logger,
	}, nil
}

// Lookup returns the user lookup adapter.
func (s *Service) Lookup() *Lookup {
	return s.lookup
}

// Authenticate verifies credentials and returns the identity without its
// password hash.
func (s *Service) Authenticate(ctx context.Context, username, plain string) (identity.Identity, error) {
	username = users.NormalizeUsername(username)
	id, err := s.lookup.LoadByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.Verify(plain, s.dummyHash)
		}
		return identity.Identity{}, err
	}
	if !s.hasher.Verify(plain, id.PasswordHash()) {
		return identity.Identity{}, ErrInvalidCredentials
	}
	return id.WithoutCredentials(), nil
}

// Register creates a credential record with the default role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*users.User, error) {
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	username := users.NormalizeUsername(req.Username)
	if username == "" {
		return nil, users.ErrInvalidUser
	}
	if utf8.RuneCountInString(username) > users.MaxUsernameLength {
		return nil, users.ErrUsernameTooLong
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, ErrPasswordRequired
	}

	_, err := s.store.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrDuplicateUser
	case !errors.Is(err, users.ErrNotFound):
		return nil, fmt.Errorf("auth: check username: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Save(ctx, &users.User{
		Username:     username,
		PasswordHash: hash,
		Role:         s.defaultRole,
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateUser) {
			return nil, ErrDuplicateUser
		}
		if errors.Is(err, users.ErrUsernameTooLong) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: save user: %w", err)
	}
	s.logger.Info("user registered", slog.String("user", created.Username), slog.String("role", created.Role))
	return created, nil
}
