package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Behavioral feature columns. Every raw event type consolidates into exactly
// one of these.
const (
	FeatureEngagementActivity   = "engagement_activity"
	FeaturePlayerInteraction    = "player_interaction"
	FeaturePredictionEngagement = "prediction_engagement"
	FeatureNavigationIntent     = "navigation_intent"
)

// BehavioralFeatureNames returns the feature columns in schema order.
func BehavioralFeatureNames() []string {
	return []string{
		FeatureEngagementActivity,
		FeaturePlayerInteraction,
		FeaturePredictionEngagement,
		FeatureNavigationIntent,
	}
}

// Subscription statuses
const (
	StatusFree    = "free"
	StatusPremium = "premium"
	StatusChurned = "churned"
)

// Model kinds for scoring artifacts
const (
	ModelKindConversion = "conversion"
	ModelKindChurn      = "churn"
)

// Scenario kinds
const (
	ScenarioTargeting   = "targeting"
	ScenarioEventImpact = "event_impact"
	ScenarioChurnImpact = "churn_impact"
)

// PeriodLayout is the calendar-day period format used across all tables.
const PeriodLayout = "2006-01-02"

// PeriodOf truncates a timestamp to its calendar-day period.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// RawEvent is an append-only source record from the app's event log.
type RawEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UserID    string    `gorm:"not null;index" json:"user_id"`
	EventType string    `gorm:"not null" json:"event_type"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

// UserProfile is a subscriber record owned by the ingestion boundary.
type UserProfile struct {
	UserID             string         `gorm:"primaryKey" json:"user_id"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
	SubscriptionStatus string         `gorm:"not null;index" json:"subscription_status"`
	SignupDate         time.Time      `json:"signup_date"`
	PlanAmount         *float64       `json:"plan_amount"`
}

// BehavioralFeatureRow holds consolidated per-user, per-period signal counts.
// Derived and recomputable; the consolidation job overwrites these.
type BehavioralFeatureRow struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID               string    `gorm:"not null;uniqueIndex:idx_user_period" json:"user_id"`
	Period               string    `gorm:"not null;uniqueIndex:idx_user_period" json:"period"`
	EngagementActivity   int       `gorm:"not null;default:0" json:"engagement_activity"`
	PlayerInteraction    int       `gorm:"not null;default:0" json:"player_interaction"`
	PredictionEngagement int       `gorm:"not null;default:0" json:"prediction_engagement"`
	NavigationIntent     int       `gorm:"not null;default:0" json:"navigation_intent"`
}

// Increment bumps the count for the named feature. Returns false for a
// feature outside the schema.
func (r *BehavioralFeatureRow) Increment(feature string) bool {
	switch feature {
	case FeatureEngagementActivity:
		r.EngagementActivity++
	case FeaturePlayerInteraction:
		r.PlayerInteraction++
	case FeaturePredictionEngagement:
		r.PredictionEngagement++
	case FeatureNavigationIntent:
		r.NavigationIntent++
	default:
		return false
	}
	return true
}

// FeatureValues returns the row's counts keyed by feature column name.
func (r *BehavioralFeatureRow) FeatureValues() map[string]float64 {
	return map[string]float64{
		FeatureEngagementActivity:   float64(r.EngagementActivity),
		FeaturePlayerInteraction:    float64(r.PlayerInteraction),
		FeaturePredictionEngagement: float64(r.PredictionEngagement),
		FeatureNavigationIntent:     float64(r.NavigationIntent),
	}
}

// ScoreRecord is a precomputed per-user probability produced by the upstream
// modeling pipeline. Read-only here.
type ScoreRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID      string    `gorm:"not null;index" json:"user_id"`
	Probability float64   `gorm:"not null" json:"probability"`
	ModelKind   string    `gorm:"not null;index" json:"model_kind"`
	AsOfPeriod  string    `gorm:"not null" json:"as_of_period"`
}

// ModelCoefficient is one row of an upstream coefficient table.
type ModelCoefficient struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	ModelKind   string    `gorm:"not null;index" json:"model_kind"`
	FeatureName string    `gorm:"not null" json:"feature_name"`
	Coefficient float64   `gorm:"not null" json:"coefficient"`
	Intercept   float64   `gorm:"not null" json:"intercept"`
}

// CoefficientTable is the assembled, validated form of a model's coefficient
// rows, as consumed by the impact simulators.
type CoefficientTable struct {
	ModelKind    string             `json:"model_kind"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

// DemandPoint is one period of the premium demand series.
type DemandPoint struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	Period      string    `gorm:"not null;uniqueIndex" json:"period"`
	DemandValue float64   `gorm:"not null" json:"demand_value"`
}

// TrendLabel is a persisted trend classification for one period.
// Derived and recomputable.
type TrendLabel struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	Period string    `gorm:"not null;uniqueIndex:idx_period_window" json:"period"`
	// WINDOW is a reserved word in PostgreSQL, so the column carries an
	// explicit non-reserved name.
	Window int       `gorm:"column:window_size;not null;uniqueIndex:idx_period_window" json:"window"`
	Label  string    `gorm:"not null" json:"label"`
}

// ScenarioResult is the immutable record of one simulator invocation and the
// service's sole durable output. Never updated after creation.
type ScenarioResult struct {
	ScenarioID               uuid.UUID          `gorm:"type:uuid;primaryKey;column:scenario_id" json:"scenario_id"`
	CreatedAt                time.Time          `gorm:"autoCreateTime" json:"created_at"`
	ScenarioKind             string             `gorm:"not null;index" json:"scenario_kind"`
	ModelKind                string             `gorm:"not null" json:"model_kind"`
	Inputs                   map[string]float64 `gorm:"serializer:json;type:jsonb" json:"inputs"`
	BaselineMetric           float64            `gorm:"not null" json:"baseline_metric"`
	SimulatedMetric          float64            `gorm:"not null" json:"simulated_metric"`
	Delta                    float64            `gorm:"not null" json:"delta"`
	AffectedPopulationSize   int                `gorm:"not null" json:"affected_population_size"`
	ExpectedRevenueProtected *float64           `json:"expected_revenue_protected,omitempty"`
	Confidence               *float64           `json:"confidence,omitempty"`
	SelectedUserIDs          []string           `gorm:"serializer:json;type:jsonb" json:"selected_user_ids,omitempty"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&RawEvent{},
		&UserProfile{},
		&BehavioralFeatureRow{},
		&ScoreRecord{},
		&ModelCoefficient{},
		&DemandPoint{},
		&TrendLabel{},
		&ScenarioResult{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
