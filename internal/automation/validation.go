package automation

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength         = 100
	maxDescriptionLen     = 500
	maxRackIDLength       = 64
	MaxCooldownMinutes    = 10080 // one week
	DefaultWateringMS     = 5000
	MinWateringDurationMS = 1000
	MaxWateringDurationMS = 60000
)

// metricRange is the physical range of a metric, inclusive.
type metricRange struct {
	min, max float64
}

var metricRanges = map[Metric]metricRange{
	MetricTemperature: {-50, 100},
	MetricHumidity:    {0, 100},
	MetricMoisture:    {0, 100},
	MetricLightLevel:  {0, math.Inf(1)},
}

// ApplyDefaults fills optional fields at the API boundary, before
// validation. A watering start without a duration gets DefaultWateringMS.
// The engine never applies defaults.
func ApplyDefaults(r *AutomationRule) {
	if r.ID == "" {
		r.ID = GenerateID()
	}
	if w := r.Actions.Watering; w != nil && w.Action == WateringStart && w.DurationMS == nil {
		d := DefaultWateringMS
		w.DurationMS = &d
	}
}

// ValidateRule performs full boundary validation on a rule.
// Returns an error describing the first validation failure found.
func ValidateRule(r *AutomationRule) error {
	if r == nil {
		return ErrInvalidRule
	}

	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if strings.TrimSpace(r.RackID) == "" {
		return fmt.Errorf("%w: rack_id is required", ErrInvalidRule)
	}
	if len(r.RackID) > maxRackIDLength {
		return fmt.Errorf("%w: rack_id exceeds %d characters", ErrInvalidRule, maxRackIDLength)
	}
	if r.Description != nil && len(*r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}
	if r.CooldownMinutes < 0 || r.CooldownMinutes > MaxCooldownMinutes {
		return fmt.Errorf("%w: cooldown_minutes must be 0-%d", ErrInvalidRule, MaxCooldownMinutes)
	}

	if err := ValidateConditions(r.Conditions); err != nil {
		return err
	}
	return ValidateActions(r.Actions)
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateConditions requires at least one constrained metric and every
// threshold finite and inside the metric's physical range.
func ValidateConditions(c RuleCondition) error {
	if c.IsEmpty() {
		return ErrNoConditions
	}
	for _, m := range AllMetrics() {
		b := c.Bound(m)
		if b.IsEmpty() {
			continue
		}
		rng := metricRanges[m]
		thresholds := []struct {
			label string
			v     *float64
		}{{"less_than", b.LessThan}, {"greater_than", b.GreaterThan}}
		for _, th := range thresholds {
			label, v := th.label, th.v
			if v == nil {
				continue
			}
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				return fmt.Errorf("%w: %s.%s must be finite", ErrInvalidCondition, m, label)
			}
			if *v < rng.min || *v > rng.max {
				return fmt.Errorf("%w: %s.%s %g outside [%g,%g]", ErrInvalidCondition, m, label, *v, rng.min, rng.max)
			}
		}
	}
	return nil
}

// ValidateActions requires at least one action and each action to build a
// valid command.
func ValidateActions(a RuleActions) error {
	if a.IsEmpty() {
		return ErrNoActions
	}
	for _, ch := range AllChannels() {
		if !a.Targets(ch) {
			continue
		}
		if _, err := commandFor(a, ch); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidAction, ch, err)
		}
	}
	return nil
}

// CheckIntegrity is the engine-side check on a stored rule. It catches rules
// that could never fire correctly: no conditions, or an action that cannot
// be dispatched. Offending rules are skipped, not repaired.
func CheckIntegrity(r *AutomationRule) error {
	if r.Conditions.IsEmpty() {
		return fmt.Errorf("%w: rule %s has no conditions", ErrDataIntegrity, r.ID)
	}
	for _, ch := range AllChannels() {
		if !r.Actions.Targets(ch) {
			continue
		}
		if _, err := commandFor(r.Actions, ch); err != nil {
			return fmt.Errorf("%w: rule %s: %w", ErrDataIntegrity, r.ID, err)
		}
	}
	return nil
}

// ValidateReading checks a reading's rack ID, timestamp and physical ranges.
func ValidateReading(r SensorReading) error {
	if strings.TrimSpace(r.RackID) == "" {
		return fmt.Errorf("%w: rack_id is required", ErrInvalidReading)
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at is required", ErrInvalidReading)
	}
	for _, m := range AllMetrics() {
		v := r.Value(m)
		rng := metricRanges[m]
		if math.IsNaN(v) || v < rng.min || v > rng.max {
			return fmt.Errorf("%w: %s %g outside [%g,%g]", ErrInvalidReading, m, v, rng.min, rng.max)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a rule, event or failure record.
func GenerateID() string {
	return uuid.New().String()
}
