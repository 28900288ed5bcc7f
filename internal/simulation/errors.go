package simulation

import "fmt"

// InvalidCapacityError reports a targeting capacity that is non-positive or,
// in strict mode, larger than the candidate population.
type InvalidCapacityError struct {
	Capacity   int
	Population int
}

func (e *InvalidCapacityError) Error() string {
	return fmt.Sprintf("invalid targeting capacity %d for population of %d", e.Capacity, e.Population)
}

// UnknownFeatureError reports a what-if parameter naming a feature absent
// from the model's coefficient table.
type UnknownFeatureError struct {
	Feature   string
	ModelKind string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("feature %q is not in the %s coefficient table", e.Feature, e.ModelKind)
}

// InvalidInterventionError reports an intervention factor outside [0,1].
// Factors above 1 would model worsening risk, which this simulator's
// contract disallows.
type InvalidInterventionError struct {
	Feature string
	Factor  float64
}

func (e *InvalidInterventionError) Error() string {
	return fmt.Sprintf("intervention factor %v for %q outside [0,1]", e.Factor, e.Feature)
}
