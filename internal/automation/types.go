package automation

import (
	"fmt"
	"math"
	"time"
)

// SensorReading is one environmental observation for a rack, pushed by the
// rack's gateway. Readings are immutable values.
type SensorReading struct {
	RackID      string    `json:"rack_id"`
	Temperature float64   `json:"temperature"` // °C, [-50,100]
	Humidity    float64   `json:"humidity"`    // %, [0,100]
	Moisture    float64   `json:"moisture"`    // %, [0,100]
	LightLevel  float64   `json:"light_level"` // lux, >= 0
	ObservedAt  time.Time `json:"observed_at"`
}

// Metric names a sensor value a rule condition can constrain.
type Metric string

const (
	MetricMoisture    Metric = "moisture"
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricLightLevel  Metric = "light_level"
)

// AllMetrics returns every metric in evaluation order.
func AllMetrics() []Metric {
	return []Metric{MetricMoisture, MetricTemperature, MetricHumidity, MetricLightLevel}
}

// Value returns the reading's value for m. Unknown metrics yield NaN, which
// satisfies no bound.
func (r SensorReading) Value(m Metric) float64 {
	switch m {
	case MetricMoisture:
		return r.Moisture
	case MetricTemperature:
		return r.Temperature
	case MetricHumidity:
		return r.Humidity
	case MetricLightLevel:
		return r.LightLevel
	default:
		return math.NaN()
	}
}

// Bound is a pair of optional strict thresholds on one metric.
type Bound struct {
	LessThan    *float64 `json:"less_than,omitempty"`
	GreaterThan *float64 `json:"greater_than,omitempty"`
}

// IsEmpty reports whether the bound constrains nothing.
func (b *Bound) IsEmpty() bool {
	return b == nil || (b.LessThan == nil && b.GreaterThan == nil)
}

// Holds reports whether v satisfies every threshold present.
func (b *Bound) Holds(v float64) bool {
	if b == nil {
		return true
	}
	if b.LessThan != nil && !(v < *b.LessThan) {
		return false
	}
	if b.GreaterThan != nil && !(v > *b.GreaterThan) {
		return false
	}
	return true
}

func (b *Bound) clone() *Bound {
	if b == nil {
		return nil
	}
	return &Bound{
		LessThan:    cloneFloatPtr(b.LessThan),
		GreaterThan: cloneFloatPtr(b.GreaterThan),
	}
}

// RuleCondition holds an optional bound per metric. A nil or empty bound
// leaves that metric unconstrained.
type RuleCondition struct {
	Moisture    *Bound `json:"moisture,omitempty"`
	Temperature *Bound `json:"temperature,omitempty"`
	Humidity    *Bound `json:"humidity,omitempty"`
	LightLevel  *Bound `json:"light_level,omitempty"`
}

// Bound returns the condition's bound for m (nil when unconstrained).
func (c RuleCondition) Bound(m Metric) *Bound {
	switch m {
	case MetricMoisture:
		return c.Moisture
	case MetricTemperature:
		return c.Temperature
	case MetricHumidity:
		return c.Humidity
	case MetricLightLevel:
		return c.LightLevel
	default:
		return nil
	}
}

// IsEmpty reports whether no metric is constrained.
func (c RuleCondition) IsEmpty() bool {
	for _, m := range AllMetrics() {
		if !c.Bound(m).IsEmpty() {
			return false
		}
	}
	return true
}

// Channel identifies one actuator on a rack.
type Channel string

const (
	ChannelWatering  Channel = "watering"
	ChannelGrowLight Channel = "grow_light"
)

// AllChannels returns every actuator channel in dispatch order.
func AllChannels() []Channel {
	return []Channel{ChannelWatering, ChannelGrowLight}
}

// WateringOp is the watering pump instruction.
type WateringOp string

const (
	WateringStart WateringOp = "start"
	WateringStop  WateringOp = "stop"
)

// LightOp is the grow light instruction.
type LightOp string

const (
	LightOn  LightOp = "on"
	LightOff LightOp = "off"
)

// WateringAction is the watering part of a rule's actions.
// DurationMS is required for start and forbidden for stop.
type WateringAction struct {
	Action     WateringOp `json:"action"`
	DurationMS *int       `json:"duration_ms,omitempty"`
}

// GrowLightAction is the grow light part of a rule's actions.
type GrowLightAction struct {
	Action LightOp `json:"action"`
}

// RuleActions holds at most one action per channel.
type RuleActions struct {
	Watering  *WateringAction  `json:"watering,omitempty"`
	GrowLight *GrowLightAction `json:"grow_light,omitempty"`
}

// Targets reports whether the actions include an instruction for ch.
func (a RuleActions) Targets(ch Channel) bool {
	switch ch {
	case ChannelWatering:
		return a.Watering != nil
	case ChannelGrowLight:
		return a.GrowLight != nil
	default:
		return false
	}
}

// IsEmpty reports whether no channel is targeted.
func (a RuleActions) IsEmpty() bool {
	for _, ch := range AllChannels() {
		if a.Targets(ch) {
			return false
		}
	}
	return true
}

// Command is a concrete, validated actuator instruction. The concrete
// types are WateringCommand and GrowLightCommand.
type Command interface {
	Channel() Channel
	// Describe returns the human-readable descriptor recorded in events.
	Describe() string
	isCommand()
}

// WateringCommand starts the pump for DurationMS, or stops it.
type WateringCommand struct {
	Action     WateringOp
	DurationMS int // zero for stop
}

func (WateringCommand) Channel() Channel { return ChannelWatering }
func (WateringCommand) isCommand()       {}

// Describe renders e.g. "watering:start 5000ms" or "watering:stop".
func (c WateringCommand) Describe() string {
	if c.Action == WateringStart {
		return fmt.Sprintf("%s:%s %dms", ChannelWatering, c.Action, c.DurationMS)
	}
	return fmt.Sprintf("%s:%s", ChannelWatering, c.Action)
}

// GrowLightCommand switches the grow light.
type GrowLightCommand struct {
	Action LightOp
}

func (GrowLightCommand) Channel() Channel { return ChannelGrowLight }
func (GrowLightCommand) isCommand()       {}

// Describe renders e.g. "grow_light:on".
func (c GrowLightCommand) Describe() string {
	return fmt.Sprintf("%s:%s", ChannelGrowLight, c.Action)
}

// ActuatorCommand is a resolved command addressed to one rack, tagged with
// the rule whose action won the channel.
type ActuatorCommand struct {
	RackID   string
	RuleID   string
	RuleName string
	Command  Command
}

// Channel is shorthand for c.Command.Channel().
func (c ActuatorCommand) Channel() Channel {
	return c.Command.Channel()
}

// AutomationRule is an operator-defined rule attached to one rack.
//
// The engine only reads rule definitions; LastTriggeredAt is the one field
// it writes.
type AutomationRule struct {
	ID          string  `json:"id"`
	RackID      string  `json:"rack_id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`

	Conditions RuleCondition `json:"conditions"`
	Actions    RuleActions   `json:"actions"`

	CooldownMinutes int        `json:"cooldown_minutes"`
	IsEnabled       bool       `json:"is_enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cooldown returns the rule's cooldown window.
func (r *AutomationRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// DeepCopy creates a complete independent copy of the rule.
// Pointer fields are cloned so modifications to the copy do not reach
// cached instances.
func (r *AutomationRule) DeepCopy() *AutomationRule {
	if r == nil {
		return nil
	}

	cpy := *r
	cpy.Description = cloneStringPtr(r.Description)
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		cpy.LastTriggeredAt = &t
	}

	cpy.Conditions = RuleCondition{
		Moisture:    r.Conditions.Moisture.clone(),
		Temperature: r.Conditions.Temperature.clone(),
		Humidity:    r.Conditions.Humidity.clone(),
		LightLevel:  r.Conditions.LightLevel.clone(),
	}

	cpy.Actions = RuleActions{}
	if r.Actions.Watering != nil {
		w := *r.Actions.Watering
		w.DurationMS = cloneIntPtr(r.Actions.Watering.DurationMS)
		cpy.Actions.Watering = &w
	}
	if r.Actions.GrowLight != nil {
		g := *r.Actions.GrowLight
		cpy.Actions.GrowLight = &g
	}

	return &cpy
}

// AutomatedEvent is the append-only record of one cycle that executed at
// least one command.
type AutomatedEvent struct {
	ID              string    `json:"id"`
	RackID          string    `json:"rack_id"`
	RuleID          string    `json:"rule_id"`
	RuleName        string    `json:"rule_name"`
	ExecutedActions []string  `json:"executed_actions"`
	Timestamp       time.Time `json:"timestamp"`
}

// DispatchFailure records a command the actuator channel rejected or never
// acknowledged.
type DispatchFailure struct {
	ID         string    `json:"id"`
	RackID     string    `json:"rack_id"`
	RuleID     string    `json:"rule_id"`
	Channel    Channel   `json:"channel"`
	Command    string    `json:"command"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
