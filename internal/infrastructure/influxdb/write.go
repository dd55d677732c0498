package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLink    = "ble_link"
	MeasurementAdapter = "ble_adapter"
	MeasurementRSSI    = "ble_rssi"
)

// WriteLinkEvent records one connect or disconnect attempt. It implements
// ble.Telemetry.
//
//	client.WriteLinkEvent("AA:BB:CC:DD:EE:FF", "connect", "ok", 840*time.Millisecond)
func (c *Client) WriteLinkEvent(deviceID, event, outcome string, duration time.Duration) {
	c.writePoint(linkPoint(deviceID, event, outcome, duration, time.Now()))
}

// WriteAdapterState records a radio power-state transition.
func (c *Client) WriteAdapterState(state string, usable bool) {
	c.writePoint(adapterPoint(state, usable, time.Now()))
}

// WriteRSSI records the signal strength of an advertising device.
func (c *Client) WriteRSSI(deviceID string, rssi int16) {
	c.writePoint(write.NewPoint(
		MeasurementRSSI,
		map[string]string{"device_id": deviceID},
		map[string]any{"rssi": int64(rssi)},
		time.Now(),
	))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func linkPoint(deviceID, event, outcome string, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLink,
		map[string]string{
			"device_id": deviceID,
			"event":     event,
			"outcome":   outcome,
		},
		map[string]any{
			"duration_ms": float64(duration) / float64(time.Millisecond),
			"count":       int64(1),
		},
		ts,
	)
}

func adapterPoint(state string, usable bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAdapter,
		map[string]string{"state": state},
		map[string]any{"usable": usable},
		ts,
	)
}
