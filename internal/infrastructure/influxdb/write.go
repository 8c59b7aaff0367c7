package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatusTransition records one entity status transition.
//
// Tags are low-cardinality entity identity (address, kind, key, unit);
// the raw controller value is always stored, and a parsed numeric
// field is added when the value is numeric so dashboards can graph it
// directly.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteStatusTransition(address, kind, key, value, uom string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"address": address,
		"kind":    kind,
		"key":     key,
	}
	if uom != "" {
		tags["uom"] = uom
	}

	fields := map[string]interface{}{
		"value_raw": value,
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		fields["value"] = f
	}

	c.writeAPI.WritePoint(write.NewPoint("entity_status", tags, fields, at))
}

// WriteConnectionTransition records a stream connection state change.
func (c *Client) WriteConnectionTransition(status string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"stream_connection",
		map[string]string{"status": status},
		map[string]interface{}{"transition": 1},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
