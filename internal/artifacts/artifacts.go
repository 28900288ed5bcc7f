package artifacts

import (
	"fmt"
	"sort"
	"strings"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/pkg/errors"
)

// SchemaMismatchError reports a model artifact whose columns disagree with
// the behavioral feature schema. Raised at load time so the simulators never
// see an inconsistent coefficient or score table.
type SchemaMismatchError struct {
	Artifact string
	Missing  []string
	Unknown  []string
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema mismatch in %s", e.Artifact)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing features %v", e.Missing)
	}
	if len(e.Unknown) > 0 {
		fmt.Fprintf(&b, ": unknown features %v", e.Unknown)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// BuildCoefficientTable assembles upstream coefficient rows into a validated
// CoefficientTable for the given model kind. The feature set must match the
// behavioral feature schema exactly; anything else is a configuration error,
// not a warning.
func BuildCoefficientTable(kind string, rows []models.ModelCoefficient) (models.CoefficientTable, error) {
	if kind != models.ModelKindConversion && kind != models.ModelKindChurn {
		return models.CoefficientTable{}, errors.Errorf("unknown model kind %q", kind)
	}
	if len(rows) == 0 {
		return models.CoefficientTable{}, &SchemaMismatchError{
			Artifact: kind + "_coefficients",
			Missing:  models.BehavioralFeatureNames(),
		}
	}

	table := models.CoefficientTable{
		ModelKind:    kind,
		Coefficients: make(map[string]float64, len(rows)),
	}

	schema := make(map[string]bool, 4)
	for _, name := range models.BehavioralFeatureNames() {
		schema[name] = true
	}

	var unknown []string
	for i, row := range rows {
		if row.ModelKind != kind {
			return models.CoefficientTable{}, &SchemaMismatchError{
				Artifact: kind + "_coefficients",
				Detail:   fmt.Sprintf("row for %q mixed into %q table", row.ModelKind, kind),
			}
		}
		if _, dup := table.Coefficients[row.FeatureName]; dup {
			return models.CoefficientTable{}, &SchemaMismatchError{
				Artifact: kind + "_coefficients",
				Detail:   fmt.Sprintf("duplicate coefficient for %q", row.FeatureName),
			}
		}
		if !schema[row.FeatureName] {
			unknown = append(unknown, row.FeatureName)
		}
		// The intercept repeats on every row of the upstream export; all
		// rows must agree.
		if i > 0 && row.Intercept != table.Intercept {
			return models.CoefficientTable{}, &SchemaMismatchError{
				Artifact: kind + "_coefficients",
				Detail:   "inconsistent intercept across rows",
			}
		}
		table.Intercept = row.Intercept
		table.Coefficients[row.FeatureName] = row.Coefficient
	}

	var missing []string
	for _, name := range models.BehavioralFeatureNames() {
		if _, ok := table.Coefficients[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(unknown)
		return models.CoefficientTable{}, &SchemaMismatchError{
			Artifact: kind + "_coefficients",
			Missing:  missing,
			Unknown:  unknown,
		}
	}

	return table, nil
}

// ValidateScores checks a score table against the data model: uniform model
// kind and probabilities in [0,1].
func ValidateScores(kind string, scores []models.ScoreRecord) error {
	for _, s := range scores {
		if s.ModelKind != kind {
			return &SchemaMismatchError{
				Artifact: kind + "_scores",
				Detail:   fmt.Sprintf("record for user %s has model kind %q", s.UserID, s.ModelKind),
			}
		}
		if s.Probability < 0 || s.Probability > 1 {
			return &SchemaMismatchError{
				Artifact: kind + "_scores",
				Detail:   fmt.Sprintf("probability %v for user %s outside [0,1]", s.Probability, s.UserID),
			}
		}
	}
	return nil
}
