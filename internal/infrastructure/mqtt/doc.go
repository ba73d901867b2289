// Package mqtt wraps the Eclipse Paho client with the conventions the
// controller relies on: automatic reconnection with re-subscription,
// panic-safe message handlers, and a retained Last Will on the
// controller status topic.
//
// Topic layout (namespace configurable, default "smart_ac"):
//
//	smart_ac/{external_id}/command    controller -> device
//	smart_ac/{external_id}/state      device -> controller
//	smart_ac/{external_id}/config     controller -> device (Wi-Fi provisioning)
//	smart_ac/discovery                device -> controller (first hello)
//	smart_ac/controller/status        retained presence marker
//
// Connection flow:
//
//	Connect(cfg)
//	   |
//	   v
//	broker session ----lost----> paho auto-reconnect
//	   |                              |
//	   v                              v
//	publish "online" (retained)   restoreSubscriptions()
//
// Subscriptions registered through Subscribe are tracked and silently
// re-established on every reconnect, so callers subscribe once at
// startup and never deal with link flaps.
package mqtt
