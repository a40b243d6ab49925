package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by growrack core.
const (
	MeasurementReadings = "rack_readings"
	MeasurementEvents   = "automation_events"
)

// WriteReading records one sensor reading, stamped with the gateway's
// observation time rather than the time core received it.
func (c *Client) WriteReading(rackID string, temperature, humidity, moisture, lightLevel float64, observedAt time.Time) {
	c.writePoint(
		MeasurementReadings,
		map[string]string{"rack_id": rackID},
		map[string]any{
			"temperature": temperature,
			"humidity":    humidity,
			"moisture":    moisture,
			"light_level": lightLevel,
		},
		observedAt,
	)
}

// WriteAutomationEvent records an automation cycle that executed commands.
//
// ruleID is a tag so per-rule firing rates can be graphed; the executed
// action descriptors are stored as a comma-joined field.
func (c *Client) WriteAutomationEvent(rackID, ruleID, ruleName string, actions []string, at time.Time) {
	c.writePoint(
		MeasurementEvents,
		map[string]string{
			"rack_id": rackID,
			"rule_id": ruleID,
		},
		map[string]any{
			"rule_name":    ruleName,
			"actions":      strings.Join(actions, ","),
			"action_count": len(actions),
		},
		at,
	)
}

// writePoint queues one point. Points written after Close are dropped.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
