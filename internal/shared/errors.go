package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthenticationRequired indicates an anonymous caller on a protected resource.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrForbidden indicates an authenticated actor lacking the required authority.
	ErrForbidden = errors.New("forbidden")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserSafeMessage maps an error to text that can be shown to end users
// without leaking storage or hashing details.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Usuario o contraseña incorrectos"
	case errors.Is(err, ErrAuthenticationRequired):
		return "Debes iniciar sesión"
	case errors.Is(err, ErrForbidden):
		return "Acceso denegado"
	case errors.Is(err, ErrNotFound):
		return "Recurso no encontrado"
	case errors.Is(err, ErrCSRFTokenMissing), errors.Is(err, ErrCSRFTokenMismatch):
		return "La sesión del formulario ha caducado, inténtalo de nuevo"
	default:
		return "Se ha producido un error inesperado"
	}
}
