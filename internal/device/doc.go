// Package device is the registry at the heart of the controller: the
// durable record of every air conditioner the system has ever heard
// from or been told about.
//
// Architecture:
//
//	           Registry (cache + per-device write locks)
//	               |
//	               v
//	           Repository (interface)
//	               |
//	               v
//	        SQLiteRepository ---> devices table
//
// A record carries three channels that must not trample each other:
//
//   - identity (ExternalID, immutable once created)
//   - user-authored fields (Name, Room, Brand, Model, Wi-Fi credentials)
//   - device-reported state (power/temperature/mode, IsOnline, LastSeenAt)
//
// ApplyObservedUpdate is the only door the device channel gets, and it
// can touch user-authored fields solely to fill a blank Name or a
// still-generic Brand. ApplyDesiredUpdate is the operator's door into
// the triad. Both are partial merges, safe under at-least-once message
// delivery: timestamps move forward only and field writes are
// idempotent.
//
// The Registry wrapper serializes all mutations to a single external
// ID behind a per-key mutex, so a discovery announcement and a status
// report for the same unit can never interleave their read-then-write
// sequences, while different units reconcile concurrently.
package device
