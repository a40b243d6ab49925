// Package mqtt provides MQTT client connectivity for growrack core.
//
// This package manages:
//   - the broker session, with auto-reconnect and route replay
//   - publish and subscribe, bounded by operation timeouts
//   - the retained core status topic and its Last Will
//
// # Architecture
//
// Rack gateways and core never talk directly. Gateways publish readings
// and command acknowledgements; core publishes actuator commands and
// automation events.
//
//	Rack Gateway ↔ MQTT Broker ↔ growrack core
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllReadings(), 1,
//	    func(topic string, payload []byte) error {
//	        rackID, _ := mqtt.ParseReadingTopic(topic)
//	        ...
//	    })
//
// Tests that need a live broker carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
