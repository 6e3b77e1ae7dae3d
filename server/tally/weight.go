package tally

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TrackWeight is the final weight index of one track
type TrackWeight struct {
	TrackID     int64   `json:"track_id"`
	Class       string  `json:"class"`
	MeanArea    float64 `json:"mean_area"`
	WeightIndex float64 `json:"weight_index"`
}

// Round2 rounds to 2 decimal places, with halves rounded away from zero
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Estimator computes weight indices, which are the ratio of a box area to the average area
// of all weight-bearing tracks. The average is taken over per-track means, so a track that is
// seen in many frames counts the same as one that is seen once.
type Estimator struct {
	history       *AreaHistory
	weightBearing map[string]bool
}

// NewEstimator creates an estimator over 'history'. Only tracks whose class is in
// 'weightBearing' contribute to the population average.
func NewEstimator(history *AreaHistory, weightBearing []string) *Estimator {
	e := &Estimator{
		history:       history,
		weightBearing: map[string]bool{},
	}
	for _, c := range weightBearing {
		e.weightBearing[c] = true
	}
	return e
}

func (e *Estimator) IsWeightBearing(class string) bool {
	return e.weightBearing[class]
}

// populationMeans returns the mean area of every weight-bearing track, in order of first sighting
func (e *Estimator) populationMeans() (ids []int64, means []float64) {
	for _, id := range e.history.order {
		t := e.history.tracks[id]
		if e.weightBearing[t.Class] {
			ids = append(ids, id)
			means = append(means, t.MeanArea())
		}
	}
	return
}

func globalAverage(means []float64) (float64, *Condition) {
	if len(means) == 0 {
		return 1, &Condition{
			Kind:    ConditionEmptyPopulation,
			TrackID: -1,
			Detail:  "no weight-bearing tracks",
		}
	}
	avg := stat.Mean(means, nil)
	if avg <= 0 {
		return 1, &Condition{
			Kind:    ConditionEmptyPopulation,
			TrackID: -1,
			Detail:  "every weight-bearing track has zero area",
		}
	}
	return avg, nil
}

// GlobalAverage is the mean of the per-track mean areas of all weight-bearing tracks.
// If there are no such tracks, or they all have zero area, the result is 1.0, and an
// EmptyPopulation condition is returned.
func (e *Estimator) GlobalAverage() (float64, *Condition) {
	_, means := e.populationMeans()
	return globalAverage(means)
}

// LiveIndex is the weight index of a box of size 'area', measured against the population as
// it stands right now. During a video the population grows, so the same area can produce
// a different index later on.
func (e *Estimator) LiveIndex(area float64) float64 {
	avg, _ := e.GlobalAverage()
	return Round2(area / avg)
}

// FinalIndices computes the weight index of every weight-bearing track from its mean area.
// The result is ordered by first sighting, and depends only on the contents of the history.
func (e *Estimator) FinalIndices() ([]TrackWeight, *Condition) {
	ids, means := e.populationMeans()
	avg, cond := globalAverage(means)
	weights := make([]TrackWeight, 0, len(ids))
	for i, id := range ids {
		weights = append(weights, TrackWeight{
			TrackID:     id,
			Class:       e.history.tracks[id].Class,
			MeanArea:    means[i],
			WeightIndex: Round2(means[i] / avg),
		})
	}
	return weights, cond
}
