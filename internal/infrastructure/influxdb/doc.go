// Package influxdb records observed device state history in InfluxDB.
//
// Each state report accepted by the reconciler lands as one point in
// the ac_state measurement, tagged by device and brand with the power,
// temperature and mode triad as fields. Writes are buffered and fully
// asynchronous; a dead InfluxDB degrades history, never control.
package influxdb
