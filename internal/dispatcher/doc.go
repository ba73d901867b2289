// Package dispatcher is the outbound half of the control loop: it
// records operator intent and pushes it to the fleet.
//
//	CommandRequest --> validate --> ApplyDesired --> full-state publish
//	                   (reject                       smart_ac/{id}/command
//	                    before any                   bounded retries
//	                    write)
//
// The registry write and the publish are deliberately not atomic. If
// the broker is down the intent is still recorded and
// ErrTransportUnavailable tells the caller delivery is pending; the
// payload is idempotent full state, so any later publish fully
// resynchronizes the unit.
//
// Provisioning uses the separate config topic and sends the credential
// payload twice with a pause. Marking a unit provisioned is keyed to
// local publish success only, a best-effort signal; Reconfigure
// replays the payload for units that never applied it.
package dispatcher
