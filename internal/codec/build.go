package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ventoline/smartac-core/internal/device"
)

// ErrMissingCredentials is returned when a config payload is requested
// for a device without stored Wi-Fi credentials.
var ErrMissingCredentials = errors.New("codec: device has no wifi credentials")

// commandPayload is the outbound command wire shape. Always the full
// desired triad plus brand, never a diff, so a unit that missed
// messages re-synchronizes completely from any single delivery.
// Credentials deliberately have no field here.
type commandPayload struct {
	Power       bool   `json:"power"`
	Temperature int    `json:"temperature"`
	Mode        string `json:"mode"`
	Brand       string `json:"brand"`
}

// configPayload is the outbound provisioning wire shape.
type configPayload struct {
	Type       string `json:"type"`
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName"`
	Brand      string `json:"brand"`
}

// BuildCommandPayload encodes the device's full desired state for the
// command topic. The setpoint is clamped as a final guard; validation
// upstream should already have rejected out-of-range operator input.
func BuildCommandPayload(d *device.Device) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("codec: nil device")
	}

	payload, err := json.Marshal(commandPayload{
		Power:       d.Power,
		Temperature: device.ClampTemperature(d.Temperature),
		Mode:        string(d.Mode),
		Brand:       string(d.Brand),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command payload: %w", err)
	}
	return payload, nil
}

// BuildConfigPayload encodes the Wi-Fi provisioning message for the
// config topic. This is the only outbound family that carries
// credentials.
func BuildConfigPayload(d *device.Device) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("codec: nil device")
	}
	if d.WifiSSID == "" {
		return nil, ErrMissingCredentials
	}

	payload, err := json.Marshal(configPayload{
		Type:       "wifi_config",
		SSID:       d.WifiSSID,
		Password:   d.WifiPassword,
		DeviceName: d.Name,
		Brand:      string(d.Brand),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding config payload: %w", err)
	}
	return payload, nil
}
