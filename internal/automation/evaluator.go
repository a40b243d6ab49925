package automation

// Evaluate reports whether reading satisfies conditions.
//
// Every constrained metric must satisfy all of its bounds (strict < and >).
// Metrics without a bound impose nothing. A condition set that constrains
// no metric is never satisfied. Evaluate is pure and safe for concurrent use.
func Evaluate(reading SensorReading, conditions RuleCondition) bool {
	constrained := false
	for _, m := range AllMetrics() {
		b := conditions.Bound(m)
		if b.IsEmpty() {
			continue
		}
		constrained = true
		if !b.Holds(reading.Value(m)) {
			return false
		}
	}
	return constrained
}
