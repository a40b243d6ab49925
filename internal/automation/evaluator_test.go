package automation

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	r := reading("rack-a") // moisture 40, temperature 22, humidity 55, light 300

	tests := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{"empty conditions never fire", RuleCondition{}, false},
		{"empty bounds never fire", RuleCondition{Moisture: &Bound{}}, false},
		{"below threshold", RuleCondition{Moisture: below(50)}, true},
		{"less than is strict", RuleCondition{Moisture: below(40)}, false},
		{"greater than is strict", RuleCondition{Moisture: above(40)}, false},
		{"above threshold", RuleCondition{Temperature: above(20)}, true},
		{"window holds", RuleCondition{Humidity: &Bound{GreaterThan: f64(50), LessThan: f64(60)}}, true},
		{"window misses", RuleCondition{Humidity: &Bound{GreaterThan: f64(56), LessThan: f64(60)}}, false},
		{"metrics are ANDed", RuleCondition{Moisture: below(50), LightLevel: below(100)}, false},
		{"all metrics hold", RuleCondition{
			Moisture:    below(50),
			Temperature: above(10),
			Humidity:    below(90),
			LightLevel:  above(100),
		}, true},
		{"impossible window", RuleCondition{Moisture: &Bound{GreaterThan: f64(60), LessThan: f64(30)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(r, tt.cond); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBound_NaNNeverHolds(t *testing.T) {
	b := &Bound{LessThan: f64(50)}
	if b.Holds(math.NaN()) {
		t.Error("NaN should not satisfy less_than")
	}
	b = &Bound{GreaterThan: f64(50)}
	if b.Holds(math.NaN()) {
		t.Error("NaN should not satisfy greater_than")
	}
}

func TestSensorReading_Value(t *testing.T) {
	r := reading("rack-a")
	if got := r.Value(MetricLightLevel); got != 300 {
		t.Errorf("Value(light_level) = %v, want 300", got)
	}
	if got := r.Value(Metric("co2")); !math.IsNaN(got) {
		t.Errorf("Value(co2) = %v, want NaN", got)
	}
}
