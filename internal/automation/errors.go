package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrInvalidCondition is returned when a bound is non-finite or out of range.
	ErrInvalidCondition = errors.New("rule: invalid condition")

	// ErrInvalidAction is returned when an action is malformed.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrNoConditions is returned when a rule constrains no metric.
	ErrNoConditions = errors.New("rule: no conditions")

	// ErrNoActions is returned when a rule targets no channel.
	ErrNoActions = errors.New("rule: no actions")

	// ErrInvalidReading is returned for readings outside the physical ranges.
	ErrInvalidReading = errors.New("reading: invalid")

	// ErrDataIntegrity marks a stored rule the engine cannot execute.
	// The rule is skipped; the rest of the rack's rules still run.
	ErrDataIntegrity = errors.New("automation: data integrity")

	// ErrStorage marks a rule-store or cooldown-store failure. The reading
	// being processed is dropped.
	ErrStorage = errors.New("automation: storage unavailable")

	// ErrDispatchRejected is returned by dispatchers when the gateway refuses a command.
	ErrDispatchRejected = errors.New("dispatch: rejected")

	// ErrDispatchTimeout is returned by dispatchers when no acknowledgement arrives.
	ErrDispatchTimeout = errors.New("dispatch: timed out")

	// ErrEngineClosed is returned by Submit after Close.
	ErrEngineClosed = errors.New("automation: engine closed")

	// ErrRackStopping is returned by Submit while the rack's worker is being
	// torn down. The reading is dropped.
	ErrRackStopping = errors.New("automation: rack stopping")

	// ErrQueueFull is returned by Submit when a rack's mailbox is full.
	// The reading is dropped.
	ErrQueueFull = errors.New("automation: rack queue full")
)
