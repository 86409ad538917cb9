package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Class sentinels for protocol-level failures. Match with errors.Is against a
// *StatusError returned by any client operation.
var (
	// ErrValidation is the 400 class: the server rejected the payload as
	// malformed.
	ErrValidation = errors.New("remote: validation failed")

	// ErrAuth is the 401 class: the client is not authenticated.
	ErrAuth = errors.New("remote: authentication failed")

	// ErrPermission is the 403 class: the change is not permitted. The sync
	// engine discards the pending change on this class.
	ErrPermission = errors.New("remote: permission denied")

	// ErrConflict is the 409 class: a concurrent upsert won. The pending
	// change stays intact; the caller retries the upload cycle.
	ErrConflict = errors.New("remote: conflict")

	// ErrGone is the 410 class: the document was already removed server-side.
	// The sync engine discards the pending change on this class.
	ErrGone = errors.New("remote: gone")
)

// StatusError is a non-success protocol response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

// Is maps the status code onto the class sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Status == http.StatusBadRequest
	case ErrAuth:
		return e.Status == http.StatusUnauthorized
	case ErrPermission:
		return e.Status == http.StatusForbidden
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrGone:
		return e.Status == http.StatusGone
	default:
		return false
	}
}

// IsDiscard reports whether err is a failure class after which the pending
// local change must be abandoned (403 and 410).
func IsDiscard(err error) bool {
	return errors.Is(err, ErrPermission) || errors.Is(err, ErrGone)
}
