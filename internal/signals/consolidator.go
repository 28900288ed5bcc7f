package signals

import (
	"fmt"
	"sort"
	"time"

	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/google/uuid"
)

// UnmappedEventTypeError reports a raw event type with no entry in the
// consolidation mapping. Unmapped events are a data-quality failure, not
// something to drop silently: a silent drop would skew every probability
// computed downstream.
type UnmappedEventTypeError struct {
	EventType string
}

func (e *UnmappedEventTypeError) Error() string {
	return fmt.Sprintf("event type %q has no behavioral feature mapping", e.EventType)
}

// DefaultEventMapping is the app's fixed event taxonomy, mapped many-to-one
// onto the behavioral feature columns.
func DefaultEventMapping() map[string]string {
	return map[string]string{
		"app_open":         models.FeatureEngagementActivity,
		"daily_login":      models.FeatureEngagementActivity,
		"streak_view":      models.FeatureEngagementActivity,
		"session_start":    models.FeatureEngagementActivity,
		"audio_play":       models.FeaturePlayerInteraction,
		"audio_pause":      models.FeaturePlayerInteraction,
		"audio_complete":   models.FeaturePlayerInteraction,
		"meditation_start": models.FeaturePlayerInteraction,
		"horoscope_view":   models.FeaturePredictionEngagement,
		"prediction_open":  models.FeaturePredictionEngagement,
		"tarot_draw":       models.FeaturePredictionEngagement,
		"compat_check":     models.FeaturePredictionEngagement,
		"menu_tap":         models.FeatureNavigationIntent,
		"search":           models.FeatureNavigationIntent,
		"plan_page_view":   models.FeatureNavigationIntent,
		"paywall_view":     models.FeatureNavigationIntent,
	}
}

// Options controls consolidation output shape.
type Options struct {
	// Dense emits a zero-count row for every (user, period) combination in
	// the observed period range instead of only periods with activity.
	// Default output stays proportional to activity.
	Dense bool
}

// Consolidate aggregates raw events into per-user, per-period behavioral
// feature rows.
//
// The mapping must cover every event type present in the input; the first
// uncovered event type (in input order) fails the whole run. Output row order
// is the insertion order of the first occurrence of each (user, period) pair,
// so two runs over identical input produce identical output regardless of
// map traversal order.
func Consolidate(events []models.RawEvent, mapping map[string]string, opts Options) ([]models.BehavioralFeatureRow, error) {
	if err := validateMapping(mapping); err != nil {
		return nil, err
	}

	// Fail fast on coverage before any aggregation.
	for _, ev := range events {
		if _, ok := mapping[ev.EventType]; !ok {
			return nil, &UnmappedEventTypeError{EventType: ev.EventType}
		}
	}

	index := make(map[rowKey]int, len(events))
	rows := make([]models.BehavioralFeatureRow, 0, len(events))

	for _, ev := range events {
		k := rowKey{userID: ev.UserID, period: models.PeriodOf(ev.Timestamp)}
		i, ok := index[k]
		if !ok {
			rows = append(rows, models.BehavioralFeatureRow{
				ID:     uuid.New(),
				UserID: k.userID,
				Period: k.period,
			})
			i = len(rows) - 1
			index[k] = i
		}
		rows[i].Increment(mapping[ev.EventType])
	}

	if opts.Dense {
		rows = densify(rows, index)
	}

	return rows, nil
}

// validateMapping rejects mapping targets outside the feature schema.
func validateMapping(mapping map[string]string) error {
	schema := make(map[string]bool, 4)
	for _, name := range models.BehavioralFeatureNames() {
		schema[name] = true
	}

	var unknown []string
	for _, feature := range mapping {
		if !schema[feature] {
			unknown = append(unknown, feature)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &artifacts.SchemaMismatchError{
			Artifact: "event_mapping",
			Unknown:  unknown,
		}
	}
	return nil
}

type rowKey struct {
	userID string
	period string
}

// densify fills zero-count rows for every period in the observed range, per
// user. Users keep their first-occurrence order; within a user, periods run
// ascending.
func densify(sparse []models.BehavioralFeatureRow, index map[rowKey]int) []models.BehavioralFeatureRow {
	if len(sparse) == 0 {
		return sparse
	}

	minPeriod, maxPeriod := sparse[0].Period, sparse[0].Period
	for _, row := range sparse[1:] {
		if row.Period < minPeriod {
			minPeriod = row.Period
		}
		if row.Period > maxPeriod {
			maxPeriod = row.Period
		}
	}

	var users []string
	seen := make(map[string]bool)
	for _, row := range sparse {
		if !seen[row.UserID] {
			seen[row.UserID] = true
			users = append(users, row.UserID)
		}
	}

	start, _ := time.Parse(models.PeriodLayout, minPeriod)
	end, _ := time.Parse(models.PeriodLayout, maxPeriod)

	dense := make([]models.BehavioralFeatureRow, 0, len(sparse))
	for _, user := range users {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			period := d.Format(models.PeriodLayout)
			if i, ok := index[rowKey{user, period}]; ok {
				dense = append(dense, sparse[i])
				continue
			}
			dense = append(dense, models.BehavioralFeatureRow{
				ID:     uuid.New(),
				UserID: user,
				Period: period,
			})
		}
	}
	return dense
}
