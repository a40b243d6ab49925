// Package influxdb provides InfluxDB connectivity for growrack core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring.
//
// # Purpose
//
// This package stores time-series data for:
//   - Sensor readings per rack (measurement rack_readings)
//   - Automation events per rack and rule (measurement automation_events)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("rack-a", 22.5, 61, 28, 12000, reading.ObservedAt)
//
// Writes are non-blocking. Asynchronous write failures are delivered to
// the callback registered with SetOnError.
package influxdb
