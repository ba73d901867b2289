package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// measurementState is the measurement name for observed device state.
const measurementState = "ac_state"

// StatePoint is one observed state sample for a device.
type StatePoint struct {
	ExternalID  string
	Brand       string
	Power       bool
	Temperature int
	Mode        string
	Timestamp   time.Time
}

// WriteState records an observed state sample.
//
// The write is buffered and asynchronous. Brand and external ID are
// tags so Flux queries can group per device and per vendor; the triad
// itself lands as fields.
func (c *Client) WriteState(p StatePoint) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	power := 0
	if p.Power {
		power = 1
	}

	point := influxdb2.NewPoint(
		measurementState,
		map[string]string{
			"device_id": p.ExternalID,
			"brand":     p.Brand,
		},
		map[string]any{
			"power":       power,
			"temperature": p.Temperature,
			"mode":        p.Mode,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
