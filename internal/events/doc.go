// Package events provides the automation event sinks.
//
// Every sink implements automation.EventSink. Multi fans one event out to
// several of them:
//
//   - AuditStore: SQLite automation_events and dispatch_failures tables
//   - MQTTPublisher: growrack/event/<rack>
//   - InfluxWriter: the automation_events measurement
//   - KafkaWriter: the configured events topic, keyed by rack
//   - HubBroadcaster: WebSocket clients subscribed to automation.event
//
// AuditStore also implements automation.FailureSink and is the read side
// for the event history API.
package events
