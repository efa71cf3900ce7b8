package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aula-web/aula/internal/auth/password"
)

// Repository is the full store used by the admin pages.
type Repository interface {
	Store
	Lister
}

// ErrUnknownRole indicates a role outside the assignable set.
var ErrUnknownRole = errors.New("users: unknown role")

// AssignableRoles lists the roles an administrator may grant.
var AssignableRoles = []string{"ROLE_USER", "ROLE_ADMIN"}

// Service handles user administration.
type Service struct {
	repo      Repository
	hasher    password.Hasher
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(repo Repository, hasher password.Hasher) *Service {
	return &Service{repo: repo, hasher: hasher, validator: validator.New()}
}

type newUserInput struct {
	Username string `validate:"required,max=50"`
	Password string `validate:"required,max=72"`
}

// ListUsers returns all users ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// CreateUser stores a new account with an explicit role.
func (s *Service) CreateUser(ctx context.Context, username, plain, role string) (*User, error) {
	username = NormalizeUsername(username)
	if err := s.validate(newUserInput{Username: username, Password: plain}); err != nil {
		return nil, err
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if !strings.HasPrefix(role, "ROLE_") {
		role = "ROLE_" + role
	}
	if !assignable(role) {
		return nil, ErrUnknownRole
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.Save(ctx, &User{Username: username, PasswordHash: hash, Role: role})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) || errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrUsernameTooLong) {
			return nil, err
		}
		return nil, fmt.Errorf("users: create: %w", err)
	}
	return created, nil
}

func (s *Service) validate(in newUserInput) error {
	err := s.validator.Struct(in)
	if err == nil {
		if strings.TrimSpace(in.Password) == "" {
			return ErrPasswordRequired
		}
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		switch {
		case fe.Field() == "Username" && fe.Tag() == "max":
			return ErrUsernameTooLong
		case fe.Field() == "Password" && fe.Tag() == "max":
			return password.ErrPasswordTooLong
		case fe.Field() == "Password":
			return ErrPasswordRequired
		}
	}
	return ErrInvalidUser
}

func assignable(role string) bool {
	for _, r := range AssignableRoles {
		if r == role {
			return true
		}
	}
	return false
}
