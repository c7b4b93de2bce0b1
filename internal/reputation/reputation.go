// Package reputation derives a farmer's reputation score from their
// aggregate stats. The score is a pure function of the inputs: recomputing
// with the same totals always yields the same result.
package reputation

import "math"

// Weights configures the scoring formula. The three weights should sum to
// the maximum attainable score (100 with the defaults).
type Weights struct {
	// Ratio is the weight of verifiedReports/totalReports.
	Ratio float64
	// Volume is the weight of report volume, saturating at VolumeCap.
	Volume float64
	// Earnings is the weight of lifetime earnings, saturating at EarningsCap.
	Earnings float64
	// VolumeCap is the report count at which the volume component maxes out.
	VolumeCap int
	// EarningsCap is the earned amount at which the earnings component
	// maxes out.
	EarningsCap float64
}

// DefaultWeights returns the standard 60/25/15 weighting with a 50-report
// volume cap and a 1.0-token earnings cap.
func DefaultWeights() Weights {
	return Weights{
		Ratio:       60,
		Volume:      25,
		Earnings:    15,
		VolumeCap:   50,
		EarningsCap: 1.0,
	}
}

// Score computes the reputation score for the given totals. A user with no
// reports scores zero. The score is monotonic in the verification ratio,
// report volume, and earnings, and is rounded to the nearest integer.
func Score(w Weights, totalReports, verifiedReports int, totalEarned float64) int {
	if totalReports <= 0 {
		return 0
	}

	ratio := float64(verifiedReports) / float64(totalReports)
	if ratio > 1 {
		ratio = 1
	}

	volume := 1.0
	if w.VolumeCap > 0 && totalReports < w.VolumeCap {
		volume = float64(totalReports) / float64(w.VolumeCap)
	}

	earnings := 1.0
	if w.EarningsCap > 0 && totalEarned < w.EarningsCap {
		earnings = totalEarned / w.EarningsCap
	}
	if earnings < 0 {
		earnings = 0
	}

	return int(math.Round(w.Ratio*ratio + w.Volume*volume + w.Earnings*earnings))
}
