package simulation

import (
	"sort"

	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TargetingRequest selects the free users to include in an upgrade campaign.
// Exactly one of Capacity or Budget/UnitCost bounds the segment.
type TargetingRequest struct {
	// Scores are conversion-model scores for the free-user population.
	Scores []models.ScoreRecord

	// MinProbability drops candidates below the threshold before ranking.
	// Zero keeps everyone.
	MinProbability float64

	// Capacity caps the segment at a fixed size. Ignored when Budget and
	// UnitCost are both set.
	Capacity int

	// Budget and UnitCost bound the segment by spend instead of size: the
	// maximal ranked prefix whose cumulative cost stays within Budget.
	Budget   float64
	UnitCost float64

	// Clamp caps an oversized Capacity at the candidate population instead
	// of failing. Strict by default.
	Clamp bool
}

// SelectTargets ranks candidates by descending conversion probability, ties
// broken by ascending user ID, and selects the best prefix under the
// configured constraint.
//
// expected_conversions sums the selected probabilities, which assumes
// conversions are independent across users. That is a modeling
// simplification, not a guarantee. The baseline metric is what a segment of
// the same size drawn at the population's average probability would expect,
// so the delta reads as the lift from ranked targeting over a blanket
// campaign.
func SelectTargets(req TargetingRequest) (models.ScenarioResult, error) {
	if err := artifacts.ValidateScores(models.ModelKindConversion, req.Scores); err != nil {
		return models.ScenarioResult{}, err
	}

	candidates := make([]models.ScoreRecord, 0, len(req.Scores))
	var populationSum float64
	for _, s := range req.Scores {
		populationSum += s.Probability
		if s.Probability >= req.MinProbability {
			candidates = append(candidates, s)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Probability != candidates[j].Probability {
			return candidates[i].Probability > candidates[j].Probability
		}
		return candidates[i].UserID < candidates[j].UserID
	})

	budgeted := req.Budget > 0 && req.UnitCost > 0

	var selected []models.ScoreRecord
	switch {
	case budgeted:
		spend := 0.0
		for _, c := range candidates {
			if spend+req.UnitCost > req.Budget {
				break
			}
			spend += req.UnitCost
			selected = append(selected, c)
		}
	default:
		capacity := req.Capacity
		if capacity <= 0 {
			return models.ScenarioResult{}, &InvalidCapacityError{Capacity: capacity, Population: len(candidates)}
		}
		if capacity > len(candidates) {
			if !req.Clamp {
				return models.ScenarioResult{}, &InvalidCapacityError{Capacity: capacity, Population: len(candidates)}
			}
			capacity = len(candidates)
		}
		selected = candidates[:capacity]
	}

	if len(req.Scores) == 0 {
		return models.ScenarioResult{}, errors.New("no conversion scores to target")
	}

	var expected float64
	selectedIDs := make([]string, 0, len(selected))
	for _, s := range selected {
		expected += s.Probability
		selectedIDs = append(selectedIDs, s.UserID)
	}

	populationMean := populationSum / float64(len(req.Scores))
	baseline := populationMean * float64(len(selected))

	inputs := map[string]float64{
		"capacity":        float64(req.Capacity),
		"min_probability": req.MinProbability,
	}
	if budgeted {
		inputs["budget"] = req.Budget
		inputs["unit_cost"] = req.UnitCost
	}

	return models.ScenarioResult{
		ScenarioID:             uuid.New(),
		ScenarioKind:           models.ScenarioTargeting,
		ModelKind:              models.ModelKindConversion,
		Inputs:                 inputs,
		BaselineMetric:         baseline,
		SimulatedMetric:        expected,
		Delta:                  expected - baseline,
		AffectedPopulationSize: len(selected),
		SelectedUserIDs:        selectedIDs,
	}, nil
}
