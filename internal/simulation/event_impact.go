package simulation

import (
	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EventImpactRequest evaluates a hypothetical additive shift in behavioral
// signals against the fitted conversion model.
type EventImpactRequest struct {
	UserIDs       []string
	FeatureDeltas map[string]float64
	Coefficients  models.CoefficientTable
	Features      FeatureTable
}

// SimulateEventImpact reconstructs each affected user's conversion
// probability from the coefficient table, applies the feature deltas, and
// reports the mean probability change. Features not named in the deltas are
// held fixed. Shifted counts that would go negative clamp to zero, since
// counts cannot be negative.
func SimulateEventImpact(req EventImpactRequest) (models.ScenarioResult, error) {
	if req.Coefficients.ModelKind != models.ModelKindConversion {
		return models.ScenarioResult{}, &artifacts.SchemaMismatchError{
			Artifact: "event_impact_coefficients",
			Detail:   "expected conversion model coefficients, got " + req.Coefficients.ModelKind,
		}
	}
	if len(req.UserIDs) == 0 {
		return models.ScenarioResult{}, errors.New("event impact requires at least one affected user")
	}

	for _, feature := range sortedKeys(req.FeatureDeltas) {
		if _, ok := req.Coefficients.Coefficients[feature]; !ok {
			return models.ScenarioResult{}, &UnknownFeatureError{Feature: feature, ModelKind: req.Coefficients.ModelKind}
		}
	}

	users := sortedUserSet(req.UserIDs)

	var baselineSum, simulatedSum float64
	for _, userID := range users {
		current := req.Features[userID]

		baseline := Logistic(LinearScore(req.Coefficients, current))

		shifted := make(FeatureVector, len(current)+len(req.FeatureDeltas))
		for name, value := range current {
			shifted[name] = value
		}
		for name, delta := range req.FeatureDeltas {
			v := shifted[name] + delta
			if v < 0 {
				v = 0
			}
			shifted[name] = v
		}
		simulated := Logistic(LinearScore(req.Coefficients, shifted))

		baselineSum += baseline
		simulatedSum += simulated
	}

	n := float64(len(users))
	baselineMean := baselineSum / n
	simulatedMean := simulatedSum / n

	inputs := make(map[string]float64, len(req.FeatureDeltas))
	for name, delta := range req.FeatureDeltas {
		inputs[name] = delta
	}

	confidence := Confidence(len(req.FeatureDeltas))

	return models.ScenarioResult{
		ScenarioID:             uuid.New(),
		ScenarioKind:           models.ScenarioEventImpact,
		ModelKind:              models.ModelKindConversion,
		Inputs:                 inputs,
		BaselineMetric:         baselineMean,
		SimulatedMetric:        simulatedMean,
		Delta:                  simulatedMean - baselineMean,
		AffectedPopulationSize: len(users),
		Confidence:             &confidence,
	}, nil
}
