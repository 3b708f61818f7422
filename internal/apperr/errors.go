// Package apperr holds the error taxonomy shared by every layer.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrForbidden     = errors.New("forbidden")

	// ErrConfiguration marks a missing API key or a disabled integration.
	// The user has to fix settings; retrying does not help.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientProvider marks network, timeout or 5xx failures of an
	// upstream provider.
	ErrTransientProvider = errors.New("provider unavailable")
	// ErrAuthorization marks a missing or expired external credential.
	ErrAuthorization = errors.New("authorization required")
	// ErrStateMismatch marks an OAuth callback whose state is unknown.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrCredentialPermission marks a 403 from an external provider.
	ErrCredentialPermission = errors.New("permission denied by provider")
)

// GenericMessage is the only text callers see for errors that are not
// a UserError.
const GenericMessage = "Something went wrong while processing your request. Please try again."

// UserError wraps an error with a message that is safe to show to the caller.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// User returns a UserError carrying msg and wrapping err.
func User(msg string, err error) error {
	return &UserError{Message: msg, Err: err}
}

// Public returns the caller-facing text for err.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return GenericMessage
}
