package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxRoomLength = 100

	// placeholderSuffixLen is how many identifier characters (colons
	// stripped) make up a generated display name.
	placeholderSuffixLen = 4
)

// Pre-computed validation sets for O(1) lookups.
var (
	validModes  map[Mode]struct{}
	validBrands map[Brand]struct{}
)

func init() {
	validModes = make(map[Mode]struct{}, len(AllModes()))
	for _, m := range AllModes() {
		validModes[m] = struct{}{}
	}

	validBrands = make(map[Brand]struct{}, len(AllBrands()))
	for _, b := range AllBrands() {
		validBrands[b] = struct{}{}
	}
}

// ValidateDevice performs validation on a full device record.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateExternalID(d.ExternalID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if len(d.Room) > maxRoomLength {
		return fmt.Errorf("%w: room exceeds %d characters", ErrInvalidDevice, maxRoomLength)
	}
	if err := ValidateMode(d.Mode); err != nil {
		return err
	}
	if err := ValidateTemperature(d.Temperature); err != nil {
		return err
	}
	if _, ok := validBrands[d.Brand]; !ok {
		return fmt.Errorf("%w: unknown brand %q", ErrInvalidDevice, d.Brand)
	}

	return nil
}

// ValidateExternalID checks that a hardware identifier is usable as a
// registry key and a topic segment.
func ValidateExternalID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidExternalID
	}
	if strings.ContainsAny(id, "+#/") {
		return fmt.Errorf("%w: contains topic separators or wildcards", ErrInvalidExternalID)
	}
	return nil
}

// ValidateName checks a device display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateMode checks that a mode is one of the supported values.
func ValidateMode(m Mode) error {
	if _, ok := validModes[m]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	return nil
}

// ValidateTemperature checks that a setpoint is within the supported range.
func ValidateTemperature(t int) error {
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidTemperature, t, MinTemperature, MaxTemperature)
	}
	return nil
}

// ClampTemperature forces a reported setpoint into the supported range.
// Device reports are clamped rather than rejected so a unit with odd
// firmware still reconciles.
func ClampTemperature(t int) int {
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}

// NormalizeBrand maps a free-form brand string to a recognised Brand.
// Unknown values fall back to BrandGeneric instead of erroring so a
// unit with unexpected firmware still registers.
func NormalizeBrand(s string) Brand {
	b := Brand(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validBrands[b]; ok {
		return b
	}
	return BrandGeneric
}

// PlaceholderName generates a display name for a device discovered
// before any operator named it, using the tail of its hardware ID.
func PlaceholderName(externalID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(externalID, ":", ""))
	if len(compact) > placeholderSuffixLen {
		compact = compact[len(compact)-placeholderSuffixLen:]
	}
	return "AC-" + compact
}
