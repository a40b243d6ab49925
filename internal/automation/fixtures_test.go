package automation

import (
	"time"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func below(v float64) *Bound { return &Bound{LessThan: f64(v)} }
func above(v float64) *Bound { return &Bound{GreaterThan: f64(v)} }

// reading returns a mid-range reading for rackID.
func reading(rackID string) SensorReading {
	return SensorReading{
		RackID:      rackID,
		Temperature: 22,
		Humidity:    55,
		Moisture:    40,
		LightLevel:  300,
		ObservedAt:  baseTime,
	}
}

func withMoisture(r SensorReading, v float64) SensorReading {
	r.Moisture = v
	return r
}

func waterStart(ms int) RuleActions {
	return RuleActions{Watering: &WateringAction{Action: WateringStart, DurationMS: intp(ms)}}
}

func waterStop() RuleActions {
	return RuleActions{Watering: &WateringAction{Action: WateringStop}}
}

func light(op LightOp) RuleActions {
	return RuleActions{GrowLight: &GrowLightAction{Action: op}}
}

// testRule builds an enabled rule; createdOffset fixes evaluation order.
func testRule(id, rackID string, createdOffset time.Duration, cond RuleCondition, actions RuleActions) AutomationRule {
	return AutomationRule{
		ID:         id,
		RackID:     rackID,
		Name:       "rule " + id,
		Conditions: cond,
		Actions:    actions,
		IsEnabled:  true,
		CreatedAt:  baseTime.Add(createdOffset),
		UpdatedAt:  baseTime.Add(createdOffset),
	}
}

func describeAll(cmds []ActuatorCommand) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Command.Describe()
	}
	return out
}
