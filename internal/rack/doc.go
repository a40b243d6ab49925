// Package rack provides growing-rack metadata.
//
// A Rack is the unit the automation engine schedules work for. Its only
// behavioural field is IsActive: readings for a rack marked inactive are
// dropped at ingress and its automation worker is torn down. Racks that
// have never been registered are treated as active so a new gateway can
// start reporting before an operator creates its record.
//
// The package provides a Repository interface with a SQLite implementation
// and a Registry that caches every rack in memory.
//
// # Thread Safety
//
// Registry is safe for concurrent use. SQLiteRepository relies on the
// connection pool of the underlying *sql.DB.
package rack
