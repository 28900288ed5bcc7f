package simulation

import (
	"math"
	"sort"

	"example.com/astrocoach/services/insight/internal/models"
)

// FeatureVector holds one user's current behavioral signal values.
type FeatureVector map[string]float64

// FeatureTable maps user IDs to their most recent feature vectors.
type FeatureTable map[string]FeatureVector

// BuildFeatureTable reduces consolidated feature rows to the most recent
// vector per user. A user absent from the rows has no recorded activity and
// scores as an all-zero vector.
func BuildFeatureTable(rows []models.BehavioralFeatureRow) FeatureTable {
	latest := make(map[string]string, len(rows))
	table := make(FeatureTable, len(rows))
	for _, row := range rows {
		if period, ok := latest[row.UserID]; ok && row.Period <= period {
			continue
		}
		latest[row.UserID] = row.Period
		table[row.UserID] = row.FeatureValues()
	}
	return table
}

// Logistic is the standard sigmoid.
func Logistic(score float64) float64 {
	return 1 / (1 + math.Exp(-score))
}

// LinearScore reconstructs intercept + sum(coefficient_f * value_f). Features
// are summed in sorted name order so repeated runs produce bit-identical
// floats.
func LinearScore(coeffs models.CoefficientTable, features FeatureVector) float64 {
	names := make([]string, 0, len(coeffs.Coefficients))
	for name := range coeffs.Coefficients {
		names = append(names, name)
	}
	sort.Strings(names)

	score := coeffs.Intercept
	for _, name := range names {
		score += coeffs.Coefficients[name] * features[name]
	}
	return score
}

// Confidence estimates simulation confidence as a percentage from the number
// of behaviors covered, saturating at five.
func Confidence(behaviors int) float64 {
	coverage := float64(behaviors) / 5
	if coverage > 1 {
		coverage = 1
	}
	return math.Round((0.5+0.5*coverage)*1000) / 10
}

// sortedUserSet dedupes and sorts a user ID set so every simulator walks
// users in a deterministic order.
func sortedUserSet(userIDs []string) []string {
	seen := make(map[string]bool, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// sortedKeys returns map keys in sorted order for deterministic validation
// and aggregation.
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
