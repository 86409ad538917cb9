package mirrordb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mirrordb/geo"
	"github.com/hupe1980/mirrordb/local"
	"github.com/hupe1980/mirrordb/remote"
)

var (
	// ErrValidation unifies the malformed-input conditions: malformed
	// selectors and geometries, base mismatches, and server-side 400s.
	// Validation failures surface on the first delivery and are never
	// retried.
	ErrValidation = errors.New("validation failed")

	// ErrClosed is returned from operations on a closed database.
	ErrClosed = errors.New("database is closed")
)

// translateError normalizes subpackage errors into the facade taxonomy.
// Adapter I/O and transport errors pass through unmodified.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Validation unification.
	if errors.Is(err, geo.ErrMalformedGeometry) || errors.Is(err, geo.ErrUnsupportedGeometry) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var bim *local.ErrBaseIDMismatch
	if errors.As(err, &bim) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var bcm *local.ErrBaseCountMismatch
	if errors.As(err, &bcm) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if errors.Is(err, remote.ErrValidation) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return err
}

// isRemoteUnavailable reports whether err is a transport-level failure rather
// than a protocol response. Unavailability triggers local fallback where the
// configuration allows it; protocol responses always surface.
func isRemoteUnavailable(err error) bool {
	var se *remote.StatusError
	return err != nil && !errors.As(err, &se)
}
