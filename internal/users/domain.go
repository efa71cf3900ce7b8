package users

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultRole is the baseline authority granted at registration.
const DefaultRole = "ROLE_USER"

// MaxUsernameLength matches the users.username column width.
const MaxUsernameLength = 50

var (
	// ErrNotFound indicates no record matches the username.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicateUser indicates the username is already taken.
	ErrDuplicateUser = errors.New("users: duplicate username")
	// ErrInvalidUser indicates a record missing mandatory fields.
	ErrInvalidUser = errors.New("users: username and password hash required")
	// ErrUsernameTooLong indicates a username wider than the column.
	ErrUsernameTooLong = errors.New("users: username too long")
	// ErrPasswordRequired indicates an empty or whitespace-only password.
	ErrPasswordRequired = errors.New("users: password required")
)

// User is a stored credential record. PasswordHash always holds the output
// of the password hasher, never plaintext.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
}

// NormalizeUsername trims whitespace and folds the username to NFC so that
// visually identical names collide on the unique constraint.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

func validate(u *User) error {
	if u == nil || u.Username == "" || u.PasswordHash == "" {
		return ErrInvalidUser
	}
	if utf8.RuneCountInString(u.Username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	return nil
}
