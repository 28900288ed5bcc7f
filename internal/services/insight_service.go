package services

import (
	"context"
	"time"

	"example.com/astrocoach/services/insight/config"
	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/cache"
	"example.com/astrocoach/services/insight/internal/messaging"
	"example.com/astrocoach/services/insight/internal/models"
	"example.com/astrocoach/services/insight/internal/repositories"
	"example.com/astrocoach/services/insight/internal/search"
	"example.com/astrocoach/services/insight/internal/signals"
	"example.com/astrocoach/services/insight/internal/simulation"
	"example.com/astrocoach/services/insight/internal/tracing"
	"example.com/astrocoach/services/insight/internal/trend"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	coefficientCacheTTL = 10 * time.Minute
	trendCacheTTL       = 15 * time.Minute
	overviewCacheTTL    = time.Minute
)

// EventStore reads the raw event log
type EventStore interface {
	ListOrdered(ctx context.Context) ([]models.RawEvent, error)
}

// ProfileStore reads subscriber records
type ProfileStore interface {
	ListByStatus(ctx context.Context, status string) ([]models.UserProfile, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// ScoreStore reads upstream score artifacts
type ScoreStore interface {
	ListByKindAndStatus(ctx context.Context, kind, status string) ([]models.ScoreRecord, error)
}

// CoefficientStore reads upstream coefficient tables
type CoefficientStore interface {
	ListByKind(ctx context.Context, kind string) ([]models.ModelCoefficient, error)
}

// FeatureStore holds consolidated behavioral feature rows
type FeatureStore interface {
	ReplaceAll(ctx context.Context, rows []models.BehavioralFeatureRow) error
	ListAll(ctx context.Context) ([]models.BehavioralFeatureRow, error)
	ListForUsers(ctx context.Context, userIDs []string) ([]models.BehavioralFeatureRow, error)
}

// DemandStore reads the premium demand series
type DemandStore interface {
	ListOrdered(ctx context.Context) ([]models.DemandPoint, error)
}

// TrendStore holds persisted trend labels
type TrendStore interface {
	Replace(ctx context.Context, window int, labels []models.TrendLabel) error
	ListByWindow(ctx context.Context, window int) ([]models.TrendLabel, error)
}

// ScenarioStore persists scenario results
type ScenarioStore interface {
	Create(ctx context.Context, result *models.ScenarioResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScenarioResult, error)
	ListRecent(ctx context.Context, kind string, limit int) ([]models.ScenarioResult, error)
}

// ScenarioIndexer indexes scenario results for search
type ScenarioIndexer interface {
	IndexScenario(ctx context.Context, result *models.ScenarioResult) error
	SearchScenarios(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error)
}

// OverviewMetrics is the executive summary of the subscriber base
type OverviewMetrics struct {
	TotalUsers          int64   `json:"total_users"`
	FreeUsers           int64   `json:"free_users"`
	PremiumUsers        int64   `json:"premium_users"`
	HighIntentFreeUsers int     `json:"high_intent_free_users"`
	AtRiskPremiumUsers  int     `json:"at_risk_premium_users"`
	ProjectedDemand     float64 `json:"projected_demand"`
	LatestTrendLabel    string  `json:"latest_trend_label,omitempty"`
}

// InsightService handles the consolidation, trend and simulation business logic
type InsightService struct {
	db            *gorm.DB // Write database
	readOnlyDB    *gorm.DB // Read-only database
	eventStore    EventStore
	profileStore  ProfileStore
	scoreStore    ScoreStore
	coeffStore    CoefficientStore
	featureStore  FeatureStore
	demandStore   DemandStore
	trendStore    TrendStore
	scenarioStore ScenarioStore
	indexer       ScenarioIndexer
	publisher     messaging.ServiceBusClient
	cache         *cache.RedisCache
	tracer        tracing.Tracer
	simCfg        config.SimulationConfig
}

// NewInsightService creates a new insight service
func NewInsightService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	publisher messaging.ServiceBusClient,
	tracer tracing.Tracer,
	simCfg config.SimulationConfig,
) *InsightService {
	if redisCache == nil {
		redisCache = &cache.RedisCache{}
	}
	if tracer == nil {
		tracer = &tracing.NewRelicTracer{}
	}
	svc := &InsightService{
		db:            db,
		readOnlyDB:    readOnlyDB,
		eventStore:    repositories.NewEventRepository(db, readOnlyDB),
		profileStore:  repositories.NewProfileRepository(db, readOnlyDB),
		scoreStore:    repositories.NewScoreRepository(db, readOnlyDB),
		coeffStore:    repositories.NewCoefficientRepository(db, readOnlyDB),
		featureStore:  repositories.NewFeatureRepository(db, readOnlyDB),
		demandStore:   repositories.NewDemandRepository(db, readOnlyDB),
		trendStore:    repositories.NewTrendRepository(db, readOnlyDB),
		scenarioStore: repositories.NewScenarioRepository(db, readOnlyDB),
		publisher:     publisher,
		cache:         redisCache,
		tracer:        tracer,
		simCfg:        simCfg,
	}
	// a typed nil in the indexer interface would pass later nil checks
	if elasticClient != nil {
		svc.indexer = elasticClient
	}
	return svc
}

// RefreshBehavioralFeatures rebuilds the consolidated feature table from the
// raw event log. Returns the number of feature rows written.
func (s *InsightService) RefreshBehavioralFeatures(ctx context.Context) (int, error) {
	txn := s.tracer.StartTransaction("refresh-behavioral-features")
	defer s.tracer.EndTransaction(txn)

	span := s.tracer.StartSpan("list-raw-events", txn)
	events, err := s.eventStore.ListOrdered(ctx)
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, errors.Wrap(err, "failed to load raw events")
	}

	rows, err := signals.Consolidate(events, signals.DefaultEventMapping(), signals.Options{})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, errors.Wrap(err, "failed to consolidate raw events")
	}

	for i := range rows {
		rows[i].ID = uuid.New()
	}

	span = s.tracer.StartSpan("replace-feature-rows", txn)
	err = s.featureStore.ReplaceAll(ctx, rows)
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, errors.Wrap(err, "failed to store feature rows")
	}

	log.Info().
		Int("events", len(events)).
		Int("feature_rows", len(rows)).
		Msg("Behavioral features refreshed")

	return len(rows), nil
}

// RefreshTrendLabels reclassifies the premium demand series and replaces the
// persisted labels for the configured window.
func (s *InsightService) RefreshTrendLabels(ctx context.Context) ([]trend.PeriodLabel, error) {
	txn := s.tracer.StartTransaction("refresh-trend-labels")
	defer s.tracer.EndTransaction(txn)

	series, err := s.demandStore.ListOrdered(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to load demand series")
	}

	epsilon := trend.EpsilonFor(series, s.simCfg.TrendEpsilonRatio)
	labels, err := trend.Classify(series, s.simCfg.TrendWindow, epsilon)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	stored := make([]models.TrendLabel, 0, len(labels))
	for _, l := range labels {
		stored = append(stored, models.TrendLabel{
			ID:     uuid.New(),
			Period: l.Period,
			Window: s.simCfg.TrendWindow,
			Label:  l.Label,
		})
	}

	if err := s.trendStore.Replace(ctx, s.simCfg.TrendWindow, stored); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to store trend labels")
	}

	if err := s.cache.Set(ctx, cache.GetTrendCacheKey(s.simCfg.TrendWindow), stored, trendCacheTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache trend labels")
	}

	log.Info().
		Int("window", s.simCfg.TrendWindow).
		Int("labels", len(labels)).
		Float64("epsilon", epsilon).
		Msg("Trend labels refreshed")

	return labels, nil
}

// GetTrendLabels returns the persisted labels for a window, preferring the
// cache for the configured window.
func (s *InsightService) GetTrendLabels(ctx context.Context, window int) ([]models.TrendLabel, error) {
	if window == s.simCfg.TrendWindow {
		var cached []models.TrendLabel
		if err := s.cache.Get(ctx, cache.GetTrendCacheKey(window), &cached); err == nil {
			return cached, nil
		}
	}
	return s.trendStore.ListByWindow(ctx, window)
}

// loadCoefficients assembles and validates the coefficient table for a model
// kind, with a short Redis cache in front of the database.
func (s *InsightService) loadCoefficients(ctx context.Context, kind string) (models.CoefficientTable, error) {
	cacheKey := cache.GetCoefficientCacheKey(kind)

	var cached models.CoefficientTable
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	rows, err := s.coeffStore.ListByKind(ctx, kind)
	if err != nil {
		return models.CoefficientTable{}, errors.Wrapf(err, "failed to load %s coefficients", kind)
	}

	table, err := artifacts.BuildCoefficientTable(kind, rows)
	if err != nil {
		return models.CoefficientTable{}, err
	}

	if err := s.cache.Set(ctx, cacheKey, table, coefficientCacheTTL); err != nil {
		log.Warn().Err(err).Str("model_kind", kind).Msg("Failed to cache coefficient table")
	}

	return table, nil
}

// loadFeatureTable loads the latest behavioral feature vectors for a user set.
// An empty user set loads the whole table.
func (s *InsightService) loadFeatureTable(ctx context.Context, userIDs []string) (simulation.FeatureTable, error) {
	var rows []models.BehavioralFeatureRow
	var err error
	if len(userIDs) == 0 {
		rows, err = s.featureStore.ListAll(ctx)
	} else {
		rows, err = s.featureStore.ListForUsers(ctx, userIDs)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load feature rows")
	}
	return simulation.BuildFeatureTable(rows), nil
}

// RunTargetingScenario ranks the free-user population by conversion score and
// selects an upgrade campaign segment. Requests that do not set Clamp inherit
// the configured clamp_targeting default.
func (s *InsightService) RunTargetingScenario(ctx context.Context, req simulation.TargetingRequest) (*models.ScenarioResult, error) {
	txn := s.tracer.StartTransaction("run-targeting-scenario")
	defer s.tracer.EndTransaction(txn)

	if !req.Clamp {
		req.Clamp = s.simCfg.ClampTargeting
	}

	if req.Scores == nil {
		scores, err := s.scoreStore.ListByKindAndStatus(ctx, models.ModelKindConversion, models.StatusFree)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "failed to load conversion scores")
		}
		req.Scores = scores
	}

	result, err := simulation.SelectTargets(req)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.persistScenario(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunEventImpactScenario evaluates a hypothetical behavioral shift against the
// conversion model for the given users.
func (s *InsightService) RunEventImpactScenario(ctx context.Context, userIDs []string, featureDeltas map[string]float64) (*models.ScenarioResult, error) {
	txn := s.tracer.StartTransaction("run-event-impact-scenario")
	defer s.tracer.EndTransaction(txn)

	coeffs, err := s.loadCoefficients(ctx, models.ModelKindConversion)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	features, err := s.loadFeatureTable(ctx, userIDs)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	result, err := simulation.SimulateEventImpact(simulation.EventImpactRequest{
		UserIDs:       userIDs,
		FeatureDeltas: featureDeltas,
		Coefficients:  coeffs,
		Features:      features,
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.persistScenario(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunChurnImpactScenario evaluates a retention intervention against the churn
// model. An empty user set defaults to the premium population, and a zero
// revenue-per-user defaults to the configured plan price.
func (s *InsightService) RunChurnImpactScenario(ctx context.Context, userIDs []string, interventionEffect map[string]float64, revenuePerUser float64) (*models.ScenarioResult, error) {
	txn := s.tracer.StartTransaction("run-churn-impact-scenario")
	defer s.tracer.EndTransaction(txn)

	if len(userIDs) == 0 {
		profiles, err := s.profileStore.ListByStatus(ctx, models.StatusPremium)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "failed to load premium profiles")
		}
		for _, p := range profiles {
			userIDs = append(userIDs, p.UserID)
		}
	}
	if revenuePerUser == 0 {
		revenuePerUser = s.simCfg.RevenuePerUser
	}

	coeffs, err := s.loadCoefficients(ctx, models.ModelKindChurn)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	features, err := s.loadFeatureTable(ctx, userIDs)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	result, err := simulation.SimulateChurnImpact(simulation.ChurnImpactRequest{
		UserIDs:            userIDs,
		InterventionEffect: interventionEffect,
		Coefficients:       coeffs,
		Features:           features,
		RevenuePerUser:     revenuePerUser,
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.persistScenario(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunEventImpactSweep evaluates several candidate feature shifts concurrently
// against the same user set. Results come back in input order.
func (s *InsightService) RunEventImpactSweep(ctx context.Context, userIDs []string, deltaSets []map[string]float64) ([]models.ScenarioResult, error) {
	txn := s.tracer.StartTransaction("run-event-impact-sweep")
	defer s.tracer.EndTransaction(txn)

	coeffs, err := s.loadCoefficients(ctx, models.ModelKindConversion)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	features, err := s.loadFeatureTable(ctx, userIDs)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	results := make([]models.ScenarioResult, len(deltaSets))
	g, gCtx := errgroup.WithContext(ctx)
	for i, deltas := range deltaSets {
		i, deltas := i, deltas
		g.Go(func() error {
			result, err := simulation.SimulateEventImpact(simulation.EventImpactRequest{
				UserIDs:       userIDs,
				FeatureDeltas: deltas,
				Coefficients:  coeffs,
				Features:      features,
			})
			if err != nil {
				return err
			}
			if err := s.persistScenario(gCtx, &result); err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	return results, nil
}

// Overview assembles the executive summary of the subscriber base
func (s *InsightService) Overview(ctx context.Context) (*OverviewMetrics, error) {
	var cached OverviewMetrics
	if err := s.cache.Get(ctx, cache.GetOverviewCacheKey(), &cached); err == nil {
		return &cached, nil
	}

	txn := s.tracer.StartTransaction("build-overview")
	defer s.tracer.EndTransaction(txn)

	total, err := s.profileStore.CountAll(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	free, err := s.profileStore.CountByStatus(ctx, models.StatusFree)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	premium, err := s.profileStore.CountByStatus(ctx, models.StatusPremium)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	conversionScores, err := s.scoreStore.ListByKindAndStatus(ctx, models.ModelKindConversion, models.StatusFree)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	highIntent := 0
	for _, sc := range conversionScores {
		if sc.Probability >= s.simCfg.HighIntentThreshold {
			highIntent++
		}
	}

	churnScores, err := s.scoreStore.ListByKindAndStatus(ctx, models.ModelKindChurn, models.StatusPremium)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	atRisk := 0
	for _, sc := range churnScores {
		if sc.Probability >= s.simCfg.ChurnRiskThreshold {
			atRisk++
		}
	}

	series, err := s.demandStore.ListOrdered(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	horizon := s.simCfg.ForecastHorizon
	if horizon > len(series) {
		horizon = len(series)
	}
	var projected float64
	for _, p := range series[len(series)-horizon:] {
		projected += p.DemandValue
	}

	overview := &OverviewMetrics{
		TotalUsers:          total,
		FreeUsers:           free,
		PremiumUsers:        premium,
		HighIntentFreeUsers: highIntent,
		AtRiskPremiumUsers:  atRisk,
		ProjectedDemand:     projected,
	}

	labels, err := s.trendStore.ListByWindow(ctx, s.simCfg.TrendWindow)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load trend labels for overview")
	} else if len(labels) > 0 {
		overview.LatestTrendLabel = labels[len(labels)-1].Label
	}

	if err := s.cache.Set(ctx, cache.GetOverviewCacheKey(), overview, overviewCacheTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache overview")
	}

	return overview, nil
}

// HandleScenarioRequest dispatches a queued scenario request to the matching
// simulator.
func (s *InsightService) HandleScenarioRequest(ctx context.Context, payload *messaging.ScenarioRequestPayload) error {
	var err error
	switch payload.Kind {
	case models.ScenarioTargeting:
		_, err = s.RunTargetingScenario(ctx, simulation.TargetingRequest{
			MinProbability: payload.MinProbability,
			Capacity:       payload.Capacity,
			Budget:         payload.Budget,
			UnitCost:       payload.UnitCost,
			Clamp:          payload.Clamp,
		})
	case models.ScenarioEventImpact:
		_, err = s.RunEventImpactScenario(ctx, payload.UserIDs, payload.FeatureDeltas)
	case models.ScenarioChurnImpact:
		_, err = s.RunChurnImpactScenario(ctx, payload.UserIDs, payload.InterventionEffect, payload.RevenuePerUser)
	default:
		return errors.Errorf("unknown scenario kind: %s", payload.Kind)
	}
	return err
}

// ListRecentScenarios returns recent scenario results from the database
func (s *InsightService) ListRecentScenarios(ctx context.Context, kind string, limit int) ([]models.ScenarioResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.scenarioStore.ListRecent(ctx, kind, limit)
}

// GetScenario returns a single scenario result by its ID
func (s *InsightService) GetScenario(ctx context.Context, id uuid.UUID) (*models.ScenarioResult, error) {
	return s.scenarioStore.GetByID(ctx, id)
}

// SearchScenarios runs a raw Elasticsearch query over indexed scenarios
func (s *InsightService) SearchScenarios(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	if s.indexer == nil {
		return nil, errors.New("scenario search is unavailable: no index configured")
	}
	return s.indexer.SearchScenarios(ctx, query)
}

// persistScenario stores a scenario result, indexes it for search and
// publishes a completion message. Indexing and publishing failures are logged
// but do not fail the run; the database row is the source of truth.
func (s *InsightService) persistScenario(ctx context.Context, result *models.ScenarioResult) error {
	if err := s.scenarioStore.Create(ctx, result); err != nil {
		return errors.Wrap(err, "failed to store scenario result")
	}

	if s.indexer != nil {
		if err := s.indexer.IndexScenario(ctx, result); err != nil {
			log.Warn().
				Err(err).
				Str("scenario_id", result.ScenarioID.String()).
				Msg("Failed to index scenario result")
		}
	}

	if s.publisher != nil {
		msg := messaging.ScenarioCompletedPayload{
			ScenarioID:      result.ScenarioID.String(),
			ScenarioKind:    result.ScenarioKind,
			Delta:           result.Delta,
			PopulationSize:  result.AffectedPopulationSize,
			BaselineMetric:  result.BaselineMetric,
			SimulatedMetric: result.SimulatedMetric,
		}
		if err := s.publisher.SendMessage(ctx, msg); err != nil {
			log.Warn().
				Err(err).
				Str("scenario_id", result.ScenarioID.String()).
				Msg("Failed to publish scenario completion")
		}
	}

	log.Info().
		Str("scenario_id", result.ScenarioID.String()).
		Str("scenario_kind", result.ScenarioKind).
		Float64("delta", result.Delta).
		Int("population", result.AffectedPopulationSize).
		Msg("Scenario result persisted")

	return nil
}
