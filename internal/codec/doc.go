// Package codec is the wire boundary: it turns raw MQTT traffic into a
// closed inbound message variant and renders outbound payloads.
//
//	raw topic + bytes                   InboundMessage
//	        |                                ^
//	        v                                |
//	   Classify() --- alias rules -----------+
//	                  (temp -> temperature,
//	                   externalId/device_id/external_id,
//	                   tolerant bool/int forms)
//
// Everything north of this package works with canonical field names
// and exactly three inbound kinds: discovery, status, malformed.
// Malformed is a classification, not an error; the reconciler logs the
// reason and drops the message.
//
// Outbound there are two families. Command payloads carry the complete
// desired triad plus brand and never a diff. Config payloads carry
// Wi-Fi credentials and travel only on the config topic; credentials
// structurally cannot appear in a command payload.
package codec
