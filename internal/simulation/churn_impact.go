package simulation

import (
	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ChurnImpactRequest evaluates a retention intervention that scales down
// churn-driving signals. Each factor multiplies the named feature's current
// value; a factor below 1 models a risk-reducing intervention.
type ChurnImpactRequest struct {
	UserIDs            []string
	InterventionEffect map[string]float64
	Coefficients       models.CoefficientTable
	Features           FeatureTable
	RevenuePerUser     float64
}

// SimulateChurnImpact recomputes churn probability with the intervention
// applied, using the same logistic mechanics as the event impact simulator.
// Delta is the mean churn-probability reduction, and
// expected_revenue_protected sums each user's probability reduction times
// the revenue per user.
func SimulateChurnImpact(req ChurnImpactRequest) (models.ScenarioResult, error) {
	if req.Coefficients.ModelKind != models.ModelKindChurn {
		return models.ScenarioResult{}, &artifacts.SchemaMismatchError{
			Artifact: "churn_impact_coefficients",
			Detail:   "expected churn model coefficients, got " + req.Coefficients.ModelKind,
		}
	}
	if len(req.UserIDs) == 0 {
		return models.ScenarioResult{}, errors.New("churn impact requires at least one affected user")
	}

	for _, feature := range sortedKeys(req.InterventionEffect) {
		factor := req.InterventionEffect[feature]
		if factor < 0 || factor > 1 {
			return models.ScenarioResult{}, &InvalidInterventionError{Feature: feature, Factor: factor}
		}
		if _, ok := req.Coefficients.Coefficients[feature]; !ok {
			return models.ScenarioResult{}, &UnknownFeatureError{Feature: feature, ModelKind: req.Coefficients.ModelKind}
		}
	}

	users := sortedUserSet(req.UserIDs)

	var baselineSum, simulatedSum, revenueProtected float64
	for _, userID := range users {
		current := req.Features[userID]

		baseline := Logistic(LinearScore(req.Coefficients, current))

		damped := make(FeatureVector, len(current))
		for name, value := range current {
			damped[name] = value
		}
		for name, factor := range req.InterventionEffect {
			damped[name] = damped[name] * factor
		}
		simulated := Logistic(LinearScore(req.Coefficients, damped))

		baselineSum += baseline
		simulatedSum += simulated
		revenueProtected += (baseline - simulated) * req.RevenuePerUser
	}

	n := float64(len(users))
	baselineMean := baselineSum / n
	simulatedMean := simulatedSum / n

	inputs := make(map[string]float64, len(req.InterventionEffect))
	for name, factor := range req.InterventionEffect {
		inputs[name] = factor
	}

	confidence := Confidence(len(req.InterventionEffect))

	return models.ScenarioResult{
		ScenarioID:               uuid.New(),
		ScenarioKind:             models.ScenarioChurnImpact,
		ModelKind:                models.ModelKindChurn,
		Inputs:                   inputs,
		BaselineMetric:           baselineMean,
		SimulatedMetric:          simulatedMean,
		Delta:                    baselineMean - simulatedMean,
		AffectedPopulationSize:   len(users),
		ExpectedRevenueProtected: &revenueProtected,
		Confidence:               &confidence,
	}, nil
}
