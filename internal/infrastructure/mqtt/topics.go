package mqtt

import "strings"

// Topics builds the topic names used by the SmartAC namespace.
//
// All device topics carry the device's hardware identifier as the
// second segment:
//
//	{namespace}/{external_id}/command   controller -> device
//	{namespace}/{external_id}/state     device -> controller
//	{namespace}/{external_id}/config    controller -> device (provisioning)
//	{namespace}/discovery               device -> controller (hello)
//	{namespace}/controller/status       controller presence (retained, LWT)
type Topics struct {
	Namespace string
}

// Command returns the per-device command topic.
func (t Topics) Command(externalID string) string {
	return t.Namespace + "/" + externalID + "/command"
}

// State returns the per-device state topic.
func (t Topics) State(externalID string) string {
	return t.Namespace + "/" + externalID + "/state"
}

// Config returns the per-device provisioning topic.
func (t Topics) Config(externalID string) string {
	return t.Namespace + "/" + externalID + "/config"
}

// Discovery returns the shared discovery topic.
func (t Topics) Discovery() string {
	return t.Namespace + "/discovery"
}

// AllStates returns the wildcard subscription matching every device
// state topic.
func (t Topics) AllStates() string {
	return t.Namespace + "/+/state"
}

// ControllerStatus returns the controller presence topic.
func (t Topics) ControllerStatus() string {
	return t.Namespace + "/controller/status"
}

// ParseState extracts the external ID from a state topic. The second
// return value is false when the topic is not a state topic in this
// namespace, or when the ID segment is empty.
func (t Topics) ParseState(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.Namespace || parts[2] != "state" {
		return "", false
	}
	if parts[1] == "" || parts[1] == "controller" {
		return "", false
	}
	return parts[1], true
}

// IsDiscovery reports whether topic is this namespace's discovery topic.
func (t Topics) IsDiscovery(topic string) bool {
	return topic == t.Discovery()
}
