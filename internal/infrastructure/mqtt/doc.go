// Package mqtt connects the BLE service to the Gray Logic message bus.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration and a retained status topic backed by a Last Will:
//
//	graylogic/system/{client_id}/status   {"status":"online",...}
//
// Bridge topics follow the flat scheme graylogic/{category}/{protocol}/{id}:
//
//	graylogic/state/ble/{device_id}     retained device state
//	graylogic/command/ble/{target}      commands in
//	graylogic/ack/ble/{target}          command acknowledgements
//	graylogic/health/ble                bridge health
//	graylogic/core/event/{event_type}   lifecycle events
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("ble"), 1, handler)
package mqtt
