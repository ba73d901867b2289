package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ventoline/smartac-core/internal/infrastructure/mqtt"
)

// Codec classifies inbound messages and builds outbound payloads for
// one topic namespace.
type Codec struct {
	topics mqtt.Topics
}

// New creates a codec for the given topic namespace.
func New(namespace string) Codec {
	return Codec{topics: mqtt.Topics{Namespace: namespace}}
}

// Classify decides what one inbound message is. It never returns an
// error: undecodable traffic comes back as KindMalformed with a
// diagnostic reason, and the caller drops it.
//
// Decision order: topic suffix selects the channel; an explicit "type"
// field inside the payload overrides; otherwise payload shape decides
// (any triad field present means status, a bare announcement means
// discovery).
func (c Codec) Classify(topic string, payload []byte) InboundMessage {
	switch {
	case c.topics.IsDiscovery(topic):
		return c.classifyPayload("", payload)

	case strings.HasPrefix(topic, c.topics.Namespace+"/") && strings.HasSuffix(topic, "/command"):
		return InboundMessage{Kind: KindCommand}

	case strings.HasPrefix(topic, c.topics.Namespace+"/") && strings.HasSuffix(topic, "/config"):
		return InboundMessage{Kind: KindConfig}
	}

	if externalID, ok := c.topics.ParseState(topic); ok {
		return c.classifyPayload(externalID, payload)
	}

	return malformed(fmt.Sprintf("unrecognised topic %q", topic))
}

// classifyPayload decodes and classifies a state or discovery payload.
// topicID, when non-empty, is the identity carried by the topic itself
// and wins over any identity field inside the payload.
func (c Codec) classifyPayload(topicID string, payload []byte) InboundMessage {
	var raw inboundPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return malformed(fmt.Sprintf("undecodable payload: %v", err))
	}

	externalID := topicID
	if externalID == "" {
		externalID = raw.identity()
	}
	if strings.TrimSpace(externalID) == "" {
		return malformed("missing external id")
	}

	msg := InboundMessage{
		ExternalID:  externalID,
		Name:        raw.displayName(),
		Brand:       strings.TrimSpace(raw.Brand),
		Power:       raw.Power.value(),
		Temperature: raw.temperature(),
		Mode:        raw.mode(),
	}

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "discovery":
		msg.Kind = KindDiscovery
	case "status":
		msg.Kind = KindStatus
	default:
		if msg.Power != nil || msg.Temperature != nil || msg.Mode != nil {
			msg.Kind = KindStatus
		} else {
			msg.Kind = KindDiscovery
		}
	}

	return msg
}

func malformed(reason string) InboundMessage {
	return InboundMessage{Kind: KindMalformed, Reason: reason}
}

// inboundPayload is the raw wire shape with every alias the fleet's
// firmware generations have used. Canonical names win over aliases.
type inboundPayload struct {
	Type string `json:"type"`

	ExternalID  string `json:"externalId"`
	ExternalID2 string `json:"external_id"`
	DeviceID    string `json:"device_id"`

	Name       string `json:"name"`
	DeviceName string `json:"deviceName"`
	Brand      string `json:"brand"`

	Power       flexBool `json:"power"`
	Temperature *flexInt `json:"temperature"`
	Temp        *flexInt `json:"temp"`
	Mode        string   `json:"mode"`
}

// identity resolves the external ID aliases.
func (p inboundPayload) identity() string {
	for _, id := range []string{p.ExternalID, p.ExternalID2, p.DeviceID} {
		if strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

// displayName resolves the name aliases.
func (p inboundPayload) displayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return strings.TrimSpace(p.Name)
	}
	return strings.TrimSpace(p.DeviceName)
}

// temperature resolves the temp/temperature alias pair.
func (p inboundPayload) temperature() *int {
	if p.Temperature != nil {
		v := int(*p.Temperature)
		return &v
	}
	if p.Temp != nil {
		v := int(*p.Temp)
		return &v
	}
	return nil
}

// mode returns the lowercased mode, or nil when absent.
func (p inboundPayload) mode() *string {
	m := strings.ToLower(strings.TrimSpace(p.Mode))
	if m == "" {
		return nil
	}
	return &m
}

// flexBool decodes the boolean spellings seen across firmware
// revisions: true/false, 0/1, "on"/"off", "true"/"false".
// Unrecognised spellings are dropped (left unset) rather than failing
// the whole report, matching how unknown mode values are handled.
type flexBool struct {
	set bool
	val bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))

	switch strings.ToLower(strings.Trim(s, `"`)) {
	case "true", "on", "1":
		f.set, f.val = true, true
	case "false", "off", "0":
		f.set, f.val = true, false
	}
	return nil
}

func (f flexBool) value() *bool {
	if !f.set {
		return nil
	}
	v := f.val
	return &v
}

// flexInt decodes integers arriving as JSON numbers (including the
// float form some firmwares emit) or numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" || s == "" {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot interpret %q as integer", s)
	}
	*f = flexInt(int(v))
	return nil
}
