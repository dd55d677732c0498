// Package influxdb records BLE link telemetry in InfluxDB v2.
//
// Measurements:
//
//	ble_link     tags device_id, event, outcome; fields duration_ms, count
//	ble_adapter  tags state; fields usable
//	ble_rssi     tags device_id; fields rssi
//
// Writes go through the non-blocking batched write API (batch_size and
// flush_interval from config). Asynchronous write failures are delivered
// to the SetOnError callback; connection and health errors are returned.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package influxdb
