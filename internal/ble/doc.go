// Package ble implements the BLE connection lifecycle.
//
// A Service composes four parts over one device.Registry:
//
//   - Scanner: the shared, owner-counted scan session. It filters
//     advertisements (named, or on the allow-list) and records each device
//     once per session.
//   - Orchestrator: connect, disconnect and disconnect-all. Connects are
//     de-duplicated through keyed in-flight operations and paced by a
//     token bucket; first-time connects are appended to the saved list.
//   - AutoPairer: timed rounds that reconnect saved devices as they
//     advertise, one attempt per device per round.
//   - Monitor: serialises radio power transitions. Power-on may start a
//     round; anything else stops scanning and drops every link.
//
// The radio itself sits behind the Radio interface; internal/radio holds
// the BlueZ implementation.
//
// # Usage
//
//	svc, err := ble.New(ble.Options{Radio: r, KV: kv, Config: cfg})
//	if err != nil {
//	    return err
//	}
//	if err := svc.Init(ctx); err != nil {
//	    return err
//	}
//	defer svc.Shutdown(shutdownCtx)
//
//	outcome, err := svc.Connect(ctx, device.Device{ID: "B8:27:EB:80:3B:99"})
package ble
