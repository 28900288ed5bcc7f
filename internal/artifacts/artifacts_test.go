package artifacts

import (
	"testing"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/stretchr/testify/require"
)

func coefficientRows(kind string) []models.ModelCoefficient {
	return []models.ModelCoefficient{
		{ModelKind: kind, FeatureName: models.FeatureEngagementActivity, Coefficient: 0.05, Intercept: -2},
		{ModelKind: kind, FeatureName: models.FeaturePlayerInteraction, Coefficient: 0.3, Intercept: -2},
		{ModelKind: kind, FeatureName: models.FeaturePredictionEngagement, Coefficient: 0.12, Intercept: -2},
		{ModelKind: kind, FeatureName: models.FeatureNavigationIntent, Coefficient: -0.08, Intercept: -2},
	}
}

func TestBuildCoefficientTable(t *testing.T) {
	table, err := BuildCoefficientTable(models.ModelKindConversion, coefficientRows(models.ModelKindConversion))
	require.NoError(t, err)

	require.Equal(t, models.ModelKindConversion, table.ModelKind)
	require.Equal(t, -2.0, table.Intercept)
	require.Len(t, table.Coefficients, 4)
	require.Equal(t, 0.3, table.Coefficients[models.FeaturePlayerInteraction])
}

func TestBuildCoefficientTableMissingFeature(t *testing.T) {
	rows := coefficientRows(models.ModelKindChurn)[:3]

	_, err := BuildCoefficientTable(models.ModelKindChurn, rows)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Contains(t, mismatch.Missing, models.FeatureNavigationIntent)
}

func TestBuildCoefficientTableUnknownFeature(t *testing.T) {
	rows := append(coefficientRows(models.ModelKindConversion), models.ModelCoefficient{
		ModelKind: models.ModelKindConversion, FeatureName: "days_since_signup", Coefficient: 0.01, Intercept: -2,
	})

	_, err := BuildCoefficientTable(models.ModelKindConversion, rows)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Contains(t, mismatch.Unknown, "days_since_signup")
}

func TestBuildCoefficientTableMixedKinds(t *testing.T) {
	rows := coefficientRows(models.ModelKindConversion)
	rows[2].ModelKind = models.ModelKindChurn

	_, err := BuildCoefficientTable(models.ModelKindConversion, rows)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestBuildCoefficientTableDuplicateFeature(t *testing.T) {
	rows := coefficientRows(models.ModelKindConversion)
	rows[3].FeatureName = models.FeatureEngagementActivity

	_, err := BuildCoefficientTable(models.ModelKindConversion, rows)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Contains(t, mismatch.Error(), "duplicate")
}

func TestBuildCoefficientTableInconsistentIntercept(t *testing.T) {
	rows := coefficientRows(models.ModelKindConversion)
	rows[1].Intercept = -1.5

	_, err := BuildCoefficientTable(models.ModelKindConversion, rows)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestValidateScores(t *testing.T) {
	scores := []models.ScoreRecord{
		{UserID: "u1", Probability: 0.4, ModelKind: models.ModelKindConversion},
		{UserID: "u2", Probability: 0.9, ModelKind: models.ModelKindConversion},
	}
	require.NoError(t, ValidateScores(models.ModelKindConversion, scores))

	scores[1].Probability = 1.4
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, ValidateScores(models.ModelKindConversion, scores), &mismatch)

	scores[1].Probability = 0.9
	scores[0].ModelKind = models.ModelKindChurn
	require.ErrorAs(t, ValidateScores(models.ModelKindConversion, scores), &mismatch)
}
