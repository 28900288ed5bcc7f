package trend

import (
	"fmt"
	"math"
	"time"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/pkg/errors"
)

// Trend labels consumed by the dashboard and by the simulators' what-if
// baseline.
const (
	LabelRising         = "rising"
	LabelFalling        = "falling"
	LabelFlat           = "flat"
	LabelInflectionUp   = "inflection_up"
	LabelInflectionDown = "inflection_down"
)

// Defaults for the rolling-slope classifier. The window matches the weekly
// averaging the dashboard's trend signal was built on.
const (
	DefaultWindow       = 7
	DefaultEpsilonRatio = 0.10
)

// InsufficientDataError reports a demand series shorter than the requested
// rolling window.
type InsufficientDataError struct {
	Needed int
	Have   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("demand series has %d periods, need at least %d", e.Have, e.Needed)
}

// PeriodLabel is one classified period. The period is the end of its rolling
// window; no future value is ever synthesized.
type PeriodLabel struct {
	Period string `json:"period"`
	Label  string `json:"label"`
}

// EpsilonFor derives the flatness threshold from the series' standard
// deviation. A non-positive ratio falls back to DefaultEpsilonRatio.
func EpsilonFor(series []models.DemandPoint, ratio float64) float64 {
	if ratio <= 0 {
		ratio = DefaultEpsilonRatio
	}
	if len(series) == 0 {
		return 0
	}

	var sum float64
	for _, p := range series {
		sum += p.DemandValue
	}
	mean := sum / float64(len(series))

	var sq float64
	for _, p := range series {
		d := p.DemandValue - mean
		sq += d * d
	}
	return ratio * math.Sqrt(sq/float64(len(series)))
}

// Classify reduces a demand series to qualitative trend labels using a
// rolling least-squares slope over window consecutive periods.
//
// |slope| < epsilon classifies as flat; otherwise the slope sign picks
// rising or falling. A sign flip between the previous and current window
// classifies as inflection_up or inflection_down, which takes precedence at
// the flip point. Pass epsilon <= 0 to derive it from the series via
// EpsilonFor. Output length is len(series) - window + 1, starting at the
// period ending the first full window.
func Classify(series []models.DemandPoint, window int, epsilon float64) ([]PeriodLabel, error) {
	if window < 2 {
		return nil, errors.Errorf("trend window must be at least 2, got %d", window)
	}
	if len(series) < window {
		return nil, &InsufficientDataError{Needed: window, Have: len(series)}
	}
	if err := validateSeries(series); err != nil {
		return nil, err
	}

	if epsilon <= 0 {
		epsilon = EpsilonFor(series, DefaultEpsilonRatio)
	}

	labels := make([]PeriodLabel, 0, len(series)-window+1)
	prevSlope := math.NaN()

	for end := window - 1; end < len(series); end++ {
		slope := leastSquaresSlope(series[end-window+1 : end+1])

		label := LabelFlat
		if math.Abs(slope) >= epsilon {
			if slope > 0 {
				label = LabelRising
			} else {
				label = LabelFalling
			}
			// Sign flip against the previous window marks an inflection.
			if !math.IsNaN(prevSlope) && math.Abs(prevSlope) >= epsilon && (slope > 0) != (prevSlope > 0) {
				if slope > 0 {
					label = LabelInflectionUp
				} else {
					label = LabelInflectionDown
				}
			}
		}

		labels = append(labels, PeriodLabel{Period: series[end].Period, Label: label})
		prevSlope = slope
	}

	return labels, nil
}

// validateSeries enforces the DemandSeries invariant: strictly increasing
// day periods with no gaps inside the analysis window.
func validateSeries(series []models.DemandPoint) error {
	prev, err := time.Parse(models.PeriodLayout, series[0].Period)
	if err != nil {
		return errors.Wrapf(err, "invalid period %q", series[0].Period)
	}
	for _, p := range series[1:] {
		cur, err := time.Parse(models.PeriodLayout, p.Period)
		if err != nil {
			return errors.Wrapf(err, "invalid period %q", p.Period)
		}
		if !cur.Equal(prev.AddDate(0, 0, 1)) {
			return errors.Errorf("demand series must be strictly increasing with no gaps, got %s after %s",
				p.Period, prev.Format(models.PeriodLayout))
		}
		prev = cur
	}
	return nil
}

// leastSquaresSlope fits demand against period offsets 0..n-1 within one
// window.
func leastSquaresSlope(windowPoints []models.DemandPoint) float64 {
	n := float64(len(windowPoints))

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range windowPoints {
		x := float64(i)
		sumX += x
		sumY += p.DemandValue
		sumXY += x * p.DemandValue
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
