package dispatcher

import "errors"

var (
	// ErrValidation is returned when a command or registration is
	// rejected before any state was written.
	ErrValidation = errors.New("dispatcher: validation failed")

	// ErrTransportUnavailable is returned when the outbound publish
	// ultimately failed. For Dispatch the desired state was still
	// recorded; the unit catches up on the next delivery.
	ErrTransportUnavailable = errors.New("dispatcher: transport unavailable")
)
