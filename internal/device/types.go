package device

import "time"

// Device represents one air-conditioning unit known to the controller.
// This matches the database schema in migrations/20260210_120000_initial_schema.up.sql.
//
// Fields fall into three channels with different write rules:
//
//   - Identity: ExternalID is assigned by the hardware and immutable.
//   - User-authored: Name, Room, Brand, Model and the Wi-Fi credentials
//     belong to the operator. The device channel may fill Name and Brand
//     once, while they are still blank, and never overwrites them after.
//   - Device-reported: the power/temperature/mode triad, IsOnline and
//     LastSeenAt follow whatever the unit last reported.
type Device struct {
	// Identity
	ExternalID string `json:"external_id"`

	// User-authored metadata
	Name  string `json:"name"`
	Room  string `json:"room"`
	Brand Brand  `json:"brand"`
	Model string `json:"model,omitempty"`

	// Provisioning credentials. Write-only: accepted on the inbound API
	// surface, never serialized back out.
	WifiSSID     string `json:"-"`
	WifiPassword string `json:"-"`

	// Lifecycle flags
	IsRegistered  bool `json:"is_registered"`
	IsProvisioned bool `json:"is_provisioned"`
	IsOnline      bool `json:"is_online"`

	// Desired/observed state triad
	Power       bool `json:"power"`
	Temperature int  `json:"temperature"`
	Mode        Mode `json:"mode"`

	// Timestamps
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	LastCommandAt *time.Time `json:"last_command_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns an independent copy of the Device.
// Pointer fields reference immutable time.Time values, so a value copy
// is sufficient for cache isolation.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	return &cpy
}

// Mode is an operating mode of the air conditioner.
type Mode string

// Operating modes supported across the fleet.
const (
	ModeCool Mode = "cool"
	ModeHeat Mode = "heat"
	ModeFan  Mode = "fan"
	ModeDry  Mode = "dry"
	ModeAuto Mode = "auto"
)

// AllModes returns every valid operating mode.
func AllModes() []Mode {
	return []Mode{ModeCool, ModeHeat, ModeFan, ModeDry, ModeAuto}
}

// Brand identifies the unit manufacturer, selecting the infrared
// protocol the firmware emulates.
type Brand string

// Supported brands. BrandGeneric is the fallback for units that report
// no brand or one the controller does not recognise.
const (
	BrandCarrier  Brand = "carrier"
	BrandMidea    Brand = "midea"
	BrandSpringer Brand = "springer"
	BrandFujitsu  Brand = "fujitsu"
	BrandSamsung  Brand = "samsung"
	BrandLG       Brand = "lg"
	BrandDaikin   Brand = "daikin"
	BrandConsul   Brand = "consul"
	BrandElgin    Brand = "elgin"
	BrandGree     Brand = "gree"
	BrandGeneric  Brand = "generic"
)

// AllBrands returns every recognised brand.
func AllBrands() []Brand {
	return []Brand{
		BrandCarrier, BrandMidea, BrandSpringer, BrandFujitsu,
		BrandSamsung, BrandLG, BrandDaikin, BrandConsul,
		BrandElgin, BrandGree, BrandGeneric,
	}
}

// Temperature limits and defaults enforced fleet-wide (degrees Celsius).
const (
	MinTemperature     = 16
	MaxTemperature     = 30
	DefaultTemperature = 24
)

// NewDiscovered builds the record created when an unknown unit first
// announces itself. The triad starts at the safe defaults (off, 24,
// cool); the unit's first status report overwrites them.
func NewDiscovered(externalID, nameHint string, brandHint Brand, seenAt time.Time) *Device {
	name := nameHint
	if name == "" {
		name = PlaceholderName(externalID)
	}
	brand := brandHint
	if brand == "" {
		brand = BrandGeneric
	}

	seen := seenAt.UTC()
	return &Device{
		ExternalID:  externalID,
		Name:        name,
		Brand:       brand,
		IsOnline:    true,
		Power:       false,
		Temperature: DefaultTemperature,
		Mode:        ModeCool,
		LastSeenAt:  &seen,
	}
}

// ObservedUpdate carries device-reported changes. Nil triad fields are
// left untouched; Name and Brand are hints applied only while the
// stored value is still blank (or generic, for brand). SeenAt advances
// LastSeenAt monotonically and marks the unit online.
type ObservedUpdate struct {
	Power       *bool
	Temperature *int
	Mode        *Mode
	Name        string
	Brand       Brand
	SeenAt      time.Time
}

// DesiredUpdate carries operator intent. Nil fields keep the current
// desired value; CommandAt advances LastCommandAt monotonically.
type DesiredUpdate struct {
	Power       *bool
	Temperature *int
	Mode        *Mode
	CommandAt   time.Time
}
