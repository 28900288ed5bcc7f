package signals

import (
	"testing"
	"time"

	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/stretchr/testify/require"
)

func eventAt(user, eventType, day string) models.RawEvent {
	ts, _ := time.Parse(models.PeriodLayout, day)
	return models.RawEvent{UserID: user, EventType: eventType, Timestamp: ts.Add(9 * time.Hour)}
}

func TestConsolidateAggregatesByUserAndPeriod(t *testing.T) {
	events := []models.RawEvent{
		eventAt("u1", "app_open", "2025-03-01"),
		eventAt("u1", "horoscope_view", "2025-03-01"),
		eventAt("u1", "horoscope_view", "2025-03-01"),
		eventAt("u2", "audio_play", "2025-03-01"),
		eventAt("u1", "app_open", "2025-03-02"),
	}

	rows, err := Consolidate(events, DefaultEventMapping(), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Insertion order of first (user, period) occurrence.
	require.Equal(t, "u1", rows[0].UserID)
	require.Equal(t, "2025-03-01", rows[0].Period)
	require.Equal(t, 1, rows[0].EngagementActivity)
	require.Equal(t, 2, rows[0].PredictionEngagement)

	require.Equal(t, "u2", rows[1].UserID)
	require.Equal(t, 1, rows[1].PlayerInteraction)

	require.Equal(t, "u1", rows[2].UserID)
	require.Equal(t, "2025-03-02", rows[2].Period)
}

func TestConsolidateFailsFastOnUnmappedEventType(t *testing.T) {
	events := []models.RawEvent{
		eventAt("u1", "app_open", "2025-03-01"),
		eventAt("u1", "mystery_event", "2025-03-01"),
	}

	_, err := Consolidate(events, DefaultEventMapping(), Options{})
	require.Error(t, err)

	var unmapped *UnmappedEventTypeError
	require.ErrorAs(t, err, &unmapped)
	require.Equal(t, "mystery_event", unmapped.EventType)
}

func TestConsolidateRejectsMappingOutsideSchema(t *testing.T) {
	mapping := map[string]string{"app_open": "made_up_feature"}

	_, err := Consolidate([]models.RawEvent{eventAt("u1", "app_open", "2025-03-01")}, mapping, Options{})

	var mismatch *artifacts.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Contains(t, mismatch.Unknown, "made_up_feature")
}

func TestConsolidateTotality(t *testing.T) {
	events := []models.RawEvent{
		eventAt("u1", "app_open", "2025-03-01"),
		eventAt("u1", "audio_play", "2025-03-01"),
		eventAt("u1", "menu_tap", "2025-03-02"),
		eventAt("u1", "tarot_draw", "2025-03-03"),
		eventAt("u1", "tarot_draw", "2025-03-03"),
	}

	rows, err := Consolidate(events, DefaultEventMapping(), Options{})
	require.NoError(t, err)

	total := 0
	for _, row := range rows {
		total += row.EngagementActivity + row.PlayerInteraction + row.PredictionEngagement + row.NavigationIntent
	}
	require.Equal(t, len(events), total, "no event may be dropped silently")
}

func TestConsolidateDeterministic(t *testing.T) {
	events := []models.RawEvent{
		eventAt("u2", "search", "2025-03-02"),
		eventAt("u1", "app_open", "2025-03-01"),
		eventAt("u2", "app_open", "2025-03-01"),
		eventAt("u1", "audio_play", "2025-03-02"),
	}

	first, err := Consolidate(events, DefaultEventMapping(), Options{})
	require.NoError(t, err)
	second, err := Consolidate(events, DefaultEventMapping(), Options{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].UserID, second[i].UserID)
		require.Equal(t, first[i].Period, second[i].Period)
		require.Equal(t, first[i].FeatureValues(), second[i].FeatureValues())
	}
}

func TestConsolidateDenseFillsQuietPeriods(t *testing.T) {
	events := []models.RawEvent{
		eventAt("u1", "app_open", "2025-03-01"),
		eventAt("u1", "app_open", "2025-03-03"),
	}

	rows, err := Consolidate(events, DefaultEventMapping(), Options{Dense: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "2025-03-02", rows[1].Period)
	require.Zero(t, rows[1].EngagementActivity)
	require.Zero(t, rows[1].PlayerInteraction)
}
