package repositories

import (
	"context"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventRepository provides access to the raw event log
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListOrdered returns the full event log in timestamp order. Consolidation
// depends on this ordering for deterministic output.
func (r *EventRepository) ListOrdered(ctx context.Context) ([]models.RawEvent, error) {
	var events []models.RawEvent
	err := r.readOnlyDB.WithContext(ctx).
		Order("timestamp ASC, user_id ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list raw events")
	}
	return events, nil
}

// ProfileRepository provides access to subscriber records
type ProfileRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ProfileRepository {
	return &ProfileRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListByStatus returns profiles with the given subscription status
func (r *ProfileRepository) ListByStatus(ctx context.Context, status string) ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	err := r.readOnlyDB.WithContext(ctx).
		Where("subscription_status = ?", status).
		Order("user_id ASC").
		Find(&profiles).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s profiles", status)
	}
	return profiles, nil
}

// CountByStatus counts profiles with the given subscription status
func (r *ProfileRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("subscription_status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s profiles", status)
	}
	return count, nil
}

// CountAll counts all subscriber records
func (r *ProfileRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.UserProfile{}).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count profiles")
	}
	return count, nil
}

// ScoreRepository provides read access to upstream score artifacts
type ScoreRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ScoreRepository {
	return &ScoreRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListByKindAndStatus returns scores joined against profiles with the given
// subscription status, e.g. conversion scores for free users only.
func (r *ScoreRepository) ListByKindAndStatus(ctx context.Context, kind, status string) ([]models.ScoreRecord, error) {
	var scores []models.ScoreRecord
	err := r.readOnlyDB.WithContext(ctx).
		Joins("JOIN user_profiles ON user_profiles.user_id = score_records.user_id").
		Where("score_records.model_kind = ? AND user_profiles.subscription_status = ?", kind, status).
		Order("score_records.user_id ASC").
		Find(&scores).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s scores for %s users", kind, status)
	}
	return scores, nil
}

// CoefficientRepository provides read access to upstream coefficient tables
type CoefficientRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewCoefficientRepository creates a new coefficient repository
func NewCoefficientRepository(db *gorm.DB, readOnlyDB *gorm.DB) *CoefficientRepository {
	return &CoefficientRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListByKind returns all coefficient rows for a model kind
func (r *CoefficientRepository) ListByKind(ctx context.Context, kind string) ([]models.ModelCoefficient, error) {
	var rows []models.ModelCoefficient
	err := r.readOnlyDB.WithContext(ctx).
		Where("model_kind = ?", kind).
		Order("feature_name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s coefficients", kind)
	}
	return rows, nil
}

// FeatureRepository provides access to consolidated behavioral feature rows
type FeatureRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(db *gorm.DB, readOnlyDB *gorm.DB) *FeatureRepository {
	return &FeatureRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ReplaceAll swaps the derived feature table for a freshly consolidated one.
// The table is a recomputable cache, so a full replace is safe.
func (r *FeatureRepository) ReplaceAll(ctx context.Context, rows []models.BehavioralFeatureRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&models.BehavioralFeatureRow{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear feature rows")
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return errors.Wrap(err, "failed to insert feature rows")
		}
		return nil
	})
}

// ListAll returns every feature row ordered by user and period
func (r *FeatureRepository) ListAll(ctx context.Context) ([]models.BehavioralFeatureRow, error) {
	var rows []models.BehavioralFeatureRow
	err := r.readOnlyDB.WithContext(ctx).
		Order("user_id ASC, period ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feature rows")
	}
	return rows, nil
}

// ListForUsers returns feature rows for the given users
func (r *FeatureRepository) ListForUsers(ctx context.Context, userIDs []string) ([]models.BehavioralFeatureRow, error) {
	var rows []models.BehavioralFeatureRow
	err := r.readOnlyDB.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("user_id ASC, period ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feature rows for users")
	}
	return rows, nil
}

// DemandRepository provides access to the premium demand series
type DemandRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewDemandRepository creates a new demand repository
func NewDemandRepository(db *gorm.DB, readOnlyDB *gorm.DB) *DemandRepository {
	return &DemandRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListOrdered returns the demand series in period order
func (r *DemandRepository) ListOrdered(ctx context.Context) ([]models.DemandPoint, error) {
	var points []models.DemandPoint
	err := r.readOnlyDB.WithContext(ctx).
		Order("period ASC").
		Find(&points).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list demand series")
	}
	return points, nil
}

// TrendRepository provides access to persisted trend labels
type TrendRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewTrendRepository creates a new trend repository
func NewTrendRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TrendRepository {
	return &TrendRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Replace swaps the labels for a window with a freshly classified set
func (r *TrendRepository) Replace(ctx context.Context, window int, labels []models.TrendLabel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("window_size = ?", window).
			Delete(&models.TrendLabel{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear trend labels")
		}
		if len(labels) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(labels, 500).Error; err != nil {
			return errors.Wrap(err, "failed to insert trend labels")
		}
		return nil
	})
}

// ListByWindow returns persisted labels for a window in period order
func (r *TrendRepository) ListByWindow(ctx context.Context, window int) ([]models.TrendLabel, error) {
	var labels []models.TrendLabel
	err := r.readOnlyDB.WithContext(ctx).
		Where("window_size = ?", window).
		Order("period ASC").
		Find(&labels).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trend labels")
	}
	return labels, nil
}

// ScenarioRepository provides access to scenario results
type ScenarioRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewScenarioRepository creates a new scenario repository
func NewScenarioRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ScenarioRepository {
	return &ScenarioRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create persists a scenario result. Results are immutable; there is no
// update path.
func (r *ScenarioRepository) Create(ctx context.Context, result *models.ScenarioResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

// GetByID gets a scenario result by ID
func (r *ScenarioRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScenarioResult, error) {
	var result models.ScenarioResult
	err := r.readOnlyDB.WithContext(ctx).
		Where("scenario_id = ?", id).
		First(&result).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scenario result by ID")
	}
	return &result, nil
}

// ListRecent returns the most recent scenario results, optionally filtered
// by kind
func (r *ScenarioRepository) ListRecent(ctx context.Context, kind string, limit int) ([]models.ScenarioResult, error) {
	q := r.readOnlyDB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("scenario_kind = ?", kind)
	}

	var results []models.ScenarioResult
	if err := q.Find(&results).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list scenario results")
	}
	return results, nil
}
