package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an external ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an external ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidExternalID is returned when an external ID is empty or malformed.
	ErrInvalidExternalID = errors.New("device: invalid external id")

	// ErrInvalidMode is returned when a mode value is not recognised.
	ErrInvalidMode = errors.New("device: invalid mode")

	// ErrInvalidTemperature is returned when a temperature is outside the supported range.
	ErrInvalidTemperature = errors.New("device: invalid temperature")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")
)
