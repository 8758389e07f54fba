// Package fusion merges detections from several detectors into one list with
// per-class weighted non-maximum suppression.
package fusion

import (
	"sort"

	"github.com/samber/lo"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/taxonomy"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// DefaultIoUThreshold is the overlap above which a lower-scored box is suppressed
const DefaultIoUThreshold = 0.2

// Engine fuses per-source detections. It is read-only after construction.
type Engine struct {
	remapper     *taxonomy.Remapper
	weights      map[string]float64
	iouThreshold float64
}

// candidate is a remapped detection waiting for suppression
type candidate struct {
	det   types.FusedDetection
	score float64
	order int
}

// NewEngine creates a fusion engine. Sources missing from weights get weight 0.
// A non-positive iouThreshold selects DefaultIoUThreshold.
func NewEngine(remapper *taxonomy.Remapper, weights map[string]float64, iouThreshold float64) *Engine {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &Engine{
		remapper:     remapper,
		weights:      lo.Assign(weights),
		iouThreshold: iouThreshold,
	}
}

// IoUThreshold returns the configured suppression threshold
func (e *Engine) IoUThreshold() float64 {
	return e.iouThreshold
}

// Weight returns the trust weight of a source
func (e *Engine) Weight(sourceID string) float64 {
	return e.weights[sourceID]
}

// Fuse remaps, groups by canonical class and suppresses overlapping boxes.
// A class group with a single member bypasses weighting and is kept as-is.
// Output is ordered by canonical class, then by selection order.
func (e *Engine) Fuse(bySource map[string][]types.RawDetection) []types.FusedDetection {
	sources := lo.Keys(bySource)
	sort.Strings(sources)

	var candidates []candidate
	dropped := 0
	for _, src := range sources {
		weight := e.weights[src]
		for _, raw := range bySource[src] {
			class, ok := e.remapper.Remap(src, raw.LocalClassID)
			if !ok {
				dropped++
				continue
			}
			candidates = append(candidates, candidate{
				det: types.FusedDetection{
					BBox:       raw.BBox,
					Class:      class,
					Confidence: raw.Confidence,
					SourceID:   src,
				},
				score: raw.Confidence * weight,
				order: len(candidates),
			})
		}
	}
	if dropped > 0 {
		logger.Debug("Fusion", "dropped %d unrepresentable detections", dropped)
	}

	groups := lo.GroupBy(candidates, func(c candidate) types.CanonicalClass {
		return c.det.Class
	})

	fused := make([]types.FusedDetection, 0, len(candidates))
	for _, class := range e.remapper.Taxonomy().Classes() {
		group := groups[class]
		switch len(group) {
		case 0:
		case 1:
			fused = append(fused, group[0].det)
		default:
			fused = append(fused, e.suppress(group)...)
		}
	}
	return fused
}

// suppress runs greedy NMS on one class group. Ties in weighted score keep input order.
func (e *Engine) suppress(group []candidate) []types.FusedDetection {
	sorted := append([]candidate(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].score > sorted[j].score
	})

	removed := make([]bool, len(sorted))
	var kept []types.FusedDetection
	for i := range sorted {
		if removed[i] {
			continue
		}
		kept = append(kept, sorted[i].det)
		for j := i + 1; j < len(sorted); j++ {
			if !removed[j] && sorted[i].det.BBox.IoU(sorted[j].det.BBox) > e.iouThreshold {
				removed[j] = true
			}
		}
	}
	return kept
}
