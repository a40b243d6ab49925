// Package dispatch delivers resolved actuator commands to rack gateways
// over MQTT.
//
// Each command is published as JSON to growrack/command/<rack>/<channel>.
// Publishing runs through a circuit breaker (sony/gobreaker) and a bounded
// exponential retry (cenkalti/backoff). With AwaitAck set, Dispatch then
// waits for the gateway's reply on growrack/ack/<rack>/<command_id>.
//
// Whether a failed dispatch still counts as executed is the automation
// engine's decision, not this package's.
package dispatch
