// Package auth verifies credentials, adapts stored users to identities and
// drives the login, logout and registration flows.
package auth

import (
	"errors"

	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/users"
)

var (
	// ErrUserNotFound indicates the username has no credential record.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrInvalidCredentials indicates a password that does not verify.
	ErrInvalidCredentials = shared.ErrInvalidCredentials
	// ErrPasswordMismatch indicates differing password and confirmation.
	ErrPasswordMismatch = errors.New("auth: password confirmation does not match")
	// ErrDuplicateUser indicates the username is already registered.
	ErrDuplicateUser = users.ErrDuplicateUser
	// ErrPasswordRequired indicates a blank password.
	ErrPasswordRequired = users.ErrPasswordRequired
)

// RegisterRequest is the sign-up input.
type RegisterRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
}
