package simulation

import (
	"testing"

	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/stretchr/testify/require"
)

func conversionCoefficients() models.CoefficientTable {
	return models.CoefficientTable{
		ModelKind: models.ModelKindConversion,
		Intercept: -2.0,
		Coefficients: map[string]float64{
			models.FeatureEngagementActivity:   0.05,
			models.FeaturePlayerInteraction:    0.3,
			models.FeaturePredictionEngagement: 0.0,
			models.FeatureNavigationIntent:     0.0,
		},
	}
}

func TestSimulateEventImpactWorkedExample(t *testing.T) {
	features := FeatureTable{
		"u1": {
			models.FeatureEngagementActivity: 10,
			models.FeaturePlayerInteraction:  2,
		},
	}

	result, err := SimulateEventImpact(EventImpactRequest{
		UserIDs:       []string{"u1"},
		FeatureDeltas: map[string]float64{models.FeaturePlayerInteraction: 1},
		Coefficients:  conversionCoefficients(),
		Features:      features,
	})
	require.NoError(t, err)

	// baseline score -2.0 + 0.5 + 0.6 = -0.9, simulated -0.6
	require.InDelta(t, 0.289, result.BaselineMetric, 0.001)
	require.InDelta(t, 0.354, result.SimulatedMetric, 0.001)
	require.InDelta(t, 0.065, result.Delta, 0.001)
	require.Equal(t, 1, result.AffectedPopulationSize)
}

func TestSimulateEventImpactZeroDeltasAreNeutral(t *testing.T) {
	features := FeatureTable{
		"u1": {models.FeatureEngagementActivity: 4},
		"u2": {models.FeaturePlayerInteraction: 7},
	}

	result, err := SimulateEventImpact(EventImpactRequest{
		UserIDs: []string{"u1", "u2"},
		FeatureDeltas: map[string]float64{
			models.FeatureEngagementActivity: 0,
			models.FeaturePlayerInteraction:  0,
		},
		Coefficients: conversionCoefficients(),
		Features:     features,
	})
	require.NoError(t, err)
	require.Zero(t, result.Delta)
}

func TestSimulateEventImpactClampsNegativeCounts(t *testing.T) {
	features := FeatureTable{
		"u1": {models.FeaturePlayerInteraction: 2},
	}

	result, err := SimulateEventImpact(EventImpactRequest{
		UserIDs:       []string{"u1"},
		FeatureDeltas: map[string]float64{models.FeaturePlayerInteraction: -5},
		Coefficients:  conversionCoefficients(),
		Features:      features,
	})
	require.NoError(t, err)

	// Count floors at zero instead of going to -3.
	expected := Logistic(-2.0) // all signals at zero
	require.InDelta(t, expected, result.SimulatedMetric, 1e-12)
}

func TestSimulateEventImpactUnknownFeature(t *testing.T) {
	_, err := SimulateEventImpact(EventImpactRequest{
		UserIDs:       []string{"u1"},
		FeatureDeltas: map[string]float64{"made_up": 1},
		Coefficients:  conversionCoefficients(),
		Features:      FeatureTable{},
	})

	var unknown *UnknownFeatureError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "made_up", unknown.Feature)
}

func TestSimulateEventImpactRejectsChurnCoefficients(t *testing.T) {
	coeffs := conversionCoefficients()
	coeffs.ModelKind = models.ModelKindChurn

	_, err := SimulateEventImpact(EventImpactRequest{
		UserIDs:      []string{"u1"},
		Coefficients: coeffs,
		Features:     FeatureTable{},
	})

	var mismatch *artifacts.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestSimulateEventImpactRequiresUsers(t *testing.T) {
	_, err := SimulateEventImpact(EventImpactRequest{
		Coefficients: conversionCoefficients(),
		Features:     FeatureTable{},
	})
	require.Error(t, err)
}

func TestSimulateEventImpactDedupesUsers(t *testing.T) {
	features := FeatureTable{"u1": {models.FeatureEngagementActivity: 4}}

	result, err := SimulateEventImpact(EventImpactRequest{
		UserIDs:       []string{"u1", "u1", "u1"},
		FeatureDeltas: map[string]float64{models.FeatureEngagementActivity: 1},
		Coefficients:  conversionCoefficients(),
		Features:      features,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.AffectedPopulationSize)
}

func TestConfidenceSaturatesAtFiveBehaviors(t *testing.T) {
	require.InDelta(t, 60.0, Confidence(1), 0.01)
	require.InDelta(t, 80.0, Confidence(3), 0.01)
	require.InDelta(t, 100.0, Confidence(5), 0.01)
	require.InDelta(t, 100.0, Confidence(9), 0.01)
}
