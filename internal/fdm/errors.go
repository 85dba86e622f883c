// internal/fdm/errors.go
package fdm

import (
	"errors"
	"fmt"
)

// Local validation errors, raised before any device interaction.
var (
	ErrContentTooLong     = errors.New("fdm: field content exceeds field length")
	ErrPaddingUnspecified = errors.New("fdm: field needs padding but no pad character was given")
	ErrMissingTaxLetter   = errors.New("fdm: order line has no resolvable tax identification letter")
	ErrMissingOperator    = errors.New("fdm: no INSZ/BIS operator identifier for the fiscal event")
	ErrInvalidPinFormat   = errors.New("fdm: pin must be 1 to 5 digits")
	ErrShortResponse      = errors.New("fdm: response shorter than the fixed layout")
)

// ErrNoConnection reports that the device gave no response at all.
var ErrNoConnection = errors.New("fdm: no response from fiscal data module")

// ErrStaleResponse reports a reply whose identifier or sequence number
// does not match the request in flight.
var ErrStaleResponse = errors.New("fdm: response does not correlate with the request in flight")

// ProtocolError is a fatal, classified device error. RequiresPinEntry marks
// the one condition that triggers a PIN-entry flow instead of an abort.
type ProtocolError struct {
	Kind             ErrorKind
	Error1           int
	Error2           int
	RequiresPinEntry bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("fdm: %s (error %d/%02d)", e.Kind, e.Error1, e.Error2)
}
