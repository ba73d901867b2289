package codec

// Kind is the closed set of message families on the wire. Inbound
// traffic is decided once, at the boundary; downstream code switches
// over a known shape instead of probing optional keys.
type Kind int

const (
	// KindMalformed marks a message that must be dropped: unparseable
	// payload, unrecognised topic, or missing identity.
	KindMalformed Kind = iota

	// KindDiscovery is a unit announcing itself (or refreshing its
	// presence): identity plus optional name and brand hints.
	KindDiscovery

	// KindStatus is a unit reporting observed state: identity plus any
	// subset of the power/temperature/mode triad.
	KindStatus

	// KindCommand is controller-to-device traffic seen on a command
	// topic. The controller never consumes these; the kind exists so a
	// subscriber to the whole namespace can still classify them.
	KindCommand

	// KindConfig is controller-to-device provisioning traffic.
	KindConfig
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindStatus:
		return "status"
	case KindCommand:
		return "command"
	case KindConfig:
		return "config"
	default:
		return "malformed"
	}
}

// InboundMessage is the normalized result of classifying one inbound
// MQTT message. Field aliases are resolved at decode time: downstream
// components only ever see the canonical names.
//
// Triad fields are pointers because status reports are partial; nil
// means the report did not carry the field.
type InboundMessage struct {
	Kind       Kind
	ExternalID string

	// Hints carried by discovery announcements.
	Name  string
	Brand string

	// Observed state triad, each optional.
	Power       *bool
	Temperature *int
	Mode        *string

	// Reason says why a message was classified Malformed.
	Reason string
}
