// Package ingress delivers sensor readings to the automation engine.
//
// Readings arrive on MQTT (growrack/reading/<rack>) and, optionally, on a
// Kafka topic. Both sources feed the same pipeline:
//
//	decode → validate → de-duplicate → order check → telemetry → active check → Engine.Submit
//
// A physical observation is identified by (rack_id, observed_at). Gateways
// publishing at QoS 1 may redeliver a reading, and a reading bridged onto
// both buses arrives twice; the Deduper makes delivery at-most-once per
// observation within its TTL.
//
// Readings are never retried: a dropped reading is superseded by the next
// one from the same rack.
package ingress
