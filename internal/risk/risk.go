// Package risk scores fused detections and weather conditions.
package risk

import (
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Scorer turns fused detections into a RiskAssessment using static class weights
type Scorer struct {
	taxonomy *taxonomy.Taxonomy
}

// NewScorer creates a scorer over tax
func NewScorer(tax *taxonomy.Taxonomy) *Scorer {
	return &Scorer{taxonomy: tax}
}

// Assess sums the class risk weight of every detection. Confidence is ignored and the
// sum is not rounded.
// Every canonical class appears in ClassCounts, zero when absent.
func (s *Scorer) Assess(fused []types.FusedDetection) types.RiskAssessment {
	counts := s.taxonomy.ZeroCounts()
	total := lo.SumBy(fused, func(d types.FusedDetection) float64 {
		w, ok := s.taxonomy.RiskWeight(d.Class)
		if !ok {
			logger.Warn("Risk", "class %q has no risk weight", d.Class)
			return 0
		}
		counts[d.Class]++
		return w
	})

	return types.RiskAssessment{
		TotalRiskScore: total,
		ClassCounts:    counts,
		DetectionCount: len(fused),
	}
}

// WeatherSeverity grades road weather on 0..5. Freezing rain is always 5;
// otherwise the larger of the rain and snow bands wins.
func WeatherSeverity(temperature, rain, snow float64) int {
	var rainScore int
	switch {
	case temperature < 0 && rain > 0:
		rainScore = 5
	case temperature >= 0:
		rainScore = band(rain, 3, 15, 30, 50)
	default:
		rainScore = 1
	}
	return max(rainScore, band(snow, 1, 5, 10, 20))
}

// band maps 0 to 0, (0,e0) to 1, [e0,e1) to 2 and so on, with the last band 5
func band(v float64, e0, e1, e2, e3 float64) int {
	switch {
	case v == 0:
		return 0
	case v > 0 && v < e0:
		return 1
	case v < e1:
		return 2
	case v < e2:
		return 3
	case v < e3:
		return 4
	default:
		return 5
	}
}

// CompoundScore scales the detection risk by weather severity, rounded to one decimal
func CompoundScore(total float64, severity int) float64 {
	return round(total*(1+float64(severity)/10), 1)
}

// Compound score grades
const (
	LevelSafe    = "safe"
	LevelCaution = "caution"
	LevelWarning = "warning"
	LevelDanger  = "danger"
)

// Level grades a compound score for display
func Level(compound float64) string {
	switch {
	case compound < 1:
		return LevelSafe
	case compound < 3:
		return LevelCaution
	case compound < 5:
		return LevelWarning
	default:
		return LevelDanger
	}
}

func round(v float64, places int) float64 {
	r, err := stats.Round(v, places)
	if err != nil {
		return v
	}
	return r
}
