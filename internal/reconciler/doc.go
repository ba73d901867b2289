// Package reconciler folds inbound device traffic into the registry.
//
//	smart_ac/+/state ----\
//	                      +--> Classify --> reconcile --> Registry
//	smart_ac/discovery --/                      |
//	                                            +--> StateSinks
//	                                                 (websocket feed,
//	                                                  history writer)
//
// Three inbound situations, all idempotent:
//
//	unknown unit, any message    create a Discovered record, then for
//	                             status reports fold the triad in
//	known unit, discovery        refresh presence; fill a blank name or
//	                             generic brand, never touch the triad,
//	                             the room, or credentials
//	known unit, status           overwrite each triad field the report
//	                             carried, clamp the setpoint
//
// Failures are logged and the message is consumed. The transport
// delivers at least once and every fold converges, so redelivery is
// the retry mechanism; the reconciler keeps no queue of its own.
package reconciler
