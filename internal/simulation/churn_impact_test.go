package simulation

import (
	"testing"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/stretchr/testify/require"
)

func churnCoefficients() models.CoefficientTable {
	return models.CoefficientTable{
		ModelKind: models.ModelKindChurn,
		Intercept: -1.0,
		Coefficients: map[string]float64{
			models.FeatureEngagementActivity:   -0.2,
			models.FeaturePlayerInteraction:    -0.1,
			models.FeaturePredictionEngagement: 0.0,
			models.FeatureNavigationIntent:     0.4,
		},
	}
}

func TestSimulateChurnImpactReducesRisk(t *testing.T) {
	features := FeatureTable{
		"p1": {models.FeatureNavigationIntent: 6, models.FeatureEngagementActivity: 1},
		"p2": {models.FeatureNavigationIntent: 3},
	}

	result, err := SimulateChurnImpact(ChurnImpactRequest{
		UserIDs:            []string{"p1", "p2"},
		InterventionEffect: map[string]float64{models.FeatureNavigationIntent: 0.5},
		Coefficients:       churnCoefficients(),
		Features:           features,
		RevenuePerUser:     9.99,
	})
	require.NoError(t, err)

	require.Greater(t, result.Delta, 0.0, "halving a churn-driving signal must reduce mean churn probability")
	require.NotNil(t, result.ExpectedRevenueProtected)
	require.Greater(t, *result.ExpectedRevenueProtected, 0.0)
	require.Equal(t, models.ScenarioChurnImpact, result.ScenarioKind)
}

func TestSimulateChurnImpactUnitFactorsAreNeutral(t *testing.T) {
	features := FeatureTable{
		"p1": {models.FeatureNavigationIntent: 6},
	}

	result, err := SimulateChurnImpact(ChurnImpactRequest{
		UserIDs:            []string{"p1"},
		InterventionEffect: map[string]float64{models.FeatureNavigationIntent: 1.0},
		Coefficients:       churnCoefficients(),
		Features:           features,
		RevenuePerUser:     9.99,
	})
	require.NoError(t, err)

	require.Zero(t, result.Delta)
	require.Zero(t, *result.ExpectedRevenueProtected)
}

func TestSimulateChurnImpactRejectsFactorsOutsideUnitInterval(t *testing.T) {
	for _, factor := range []float64{-0.1, 1.2} {
		_, err := SimulateChurnImpact(ChurnImpactRequest{
			UserIDs:            []string{"p1"},
			InterventionEffect: map[string]float64{models.FeatureNavigationIntent: factor},
			Coefficients:       churnCoefficients(),
			Features:           FeatureTable{},
		})

		var invalid *InvalidInterventionError
		require.ErrorAs(t, err, &invalid)
		require.Equal(t, factor, invalid.Factor)
	}
}

func TestSimulateChurnImpactUnknownFeature(t *testing.T) {
	_, err := SimulateChurnImpact(ChurnImpactRequest{
		UserIDs:            []string{"p1"},
		InterventionEffect: map[string]float64{"made_up": 0.5},
		Coefficients:       churnCoefficients(),
		Features:           FeatureTable{},
	})

	var unknown *UnknownFeatureError
	require.ErrorAs(t, err, &unknown)
}

func TestSimulateChurnImpactRevenueAggregation(t *testing.T) {
	features := FeatureTable{
		"p1": {models.FeatureNavigationIntent: 4},
	}
	coeffs := churnCoefficients()

	baseline := Logistic(coeffs.Intercept + 0.4*4)
	simulated := Logistic(coeffs.Intercept + 0.4*2)

	result, err := SimulateChurnImpact(ChurnImpactRequest{
		UserIDs:            []string{"p1"},
		InterventionEffect: map[string]float64{models.FeatureNavigationIntent: 0.5},
		Coefficients:       coeffs,
		Features:           features,
		RevenuePerUser:     10,
	})
	require.NoError(t, err)

	require.InDelta(t, baseline-simulated, result.Delta, 1e-12)
	require.InDelta(t, (baseline-simulated)*10, *result.ExpectedRevenueProtected, 1e-12)
}

func TestBuildFeatureTableKeepsLatestPeriod(t *testing.T) {
	rows := []models.BehavioralFeatureRow{
		{UserID: "u1", Period: "2025-03-01", EngagementActivity: 2},
		{UserID: "u1", Period: "2025-03-05", EngagementActivity: 9},
		{UserID: "u1", Period: "2025-03-03", EngagementActivity: 4},
		{UserID: "u2", Period: "2025-03-02", PlayerInteraction: 1},
	}

	table := BuildFeatureTable(rows)
	require.Len(t, table, 2)
	require.Equal(t, 9.0, table["u1"][models.FeatureEngagementActivity])
	require.Equal(t, 1.0, table["u2"][models.FeaturePlayerInteraction])
}
