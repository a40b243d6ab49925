// Package automation provides the rule engine for GrowRack Core.
//
// A rule says "when this rack's readings look like X, do Y": a set of
// threshold conditions on moisture, temperature, humidity and light level,
// plus at most one action per actuator channel (watering, grow_light), and
// a cooldown in minutes.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                   │
//	│  One rackWorker per rack, created on first reading    │
//	│  ┌──────────────┐    ┌───────────────┐                │
//	│  │   Registry   │───▶│  Repository   │                │
//	│  │(registry.go) │    │(repository.go)│                │
//	│  └──────────────┘    └───────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Cycle (worker.go), one reading at a time     │    │
//	│  │  1. Load the rack's rules                     │    │
//	│  │  2. Evaluate enabled rules (evaluator.go)     │    │
//	│  │  3. Reserve cooldown (cooldown*.go)           │    │
//	│  │  4. Resolve conflicts, last wins (resolver.go)│    │
//	│  │  5. Dispatch commands                         │    │
//	│  │  6. Emit one AutomatedEvent                   │    │
//	│  │  7. Persist last_triggered_at                 │    │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - AutomationRule: conditions, actions and cooldown for one rack
//   - SensorReading: one snapshot of a rack's sensors
//   - ActuatorCommand: a resolved command for one channel
//   - AutomatedEvent: audit record of one cycle that executed commands
//   - Engine: per-rack worker supervisor
//   - Registry: thread-safe in-memory cache wrapping Repository
//
// # Failure Handling
//
// A stored rule that cannot be executed (ErrDataIntegrity) is skipped and
// the others still run. A storage failure while loading rules or reserving
// cooldown (ErrStorage) drops the reading. A failed dispatch goes to the
// FailureSink and never releases the cooldown.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	registry := automation.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	engine, err := automation.NewEngine(automation.Collaborators{
//	    Rules:      registry,
//	    Cooldowns:  automation.NewMemoryCooldownTracker(),
//	    Dispatcher: dispatcher,
//	    Events:     sinks,
//	}, automation.Options{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	err = engine.Submit(reading)
package automation
