package types

// BBox is an axis-aligned bounding box in pixel coordinates (X1 < X2, Y1 < Y2)
type BBox struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// Area returns the box area, 0 for degenerate boxes
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes
func (b BBox) IoU(o BBox) float64 {
	ix1 := max(b.X1, o.X1)
	iy1 := max(b.Y1, o.Y1)
	ix2 := min(b.X2, o.X2)
	iy2 := min(b.Y2, o.Y2)

	inter := BBox{X1: ix1, Y1: iy1, X2: ix2, Y2: iy2}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CanonicalClass is a label of the unified taxonomy all detector outputs are remapped into
type CanonicalClass string

// Default canonical classes (road damage)
const (
	ClassCrack    CanonicalClass = "crack"     // linear crack
	ClassBreak    CanonicalClass = "break"     // pothole
	ClassAliCrack CanonicalClass = "ali_crack" // alligator crack
)

// RawDetection is one box reported by one detector, still in the detector's local taxonomy
type RawDetection struct {
	SourceID     string  `json:"source_id"`
	BBox         BBox    `json:"bbox"`
	Confidence   float64 `json:"confidence"`
	LocalClassID int     `json:"local_class_id"`
}

// FusedDetection is a detection that survived remapping and per-class suppression.
// Confidence is the original detector confidence, never the weighted score.
type FusedDetection struct {
	BBox       BBox           `json:"bbox"`
	Class      CanonicalClass `json:"class"`
	Confidence float64        `json:"confidence"`
	SourceID   string         `json:"source_id"`
}

// RiskAssessment aggregates fused detections into per-class counts and a total risk
type RiskAssessment struct {
	TotalRiskScore float64                `json:"total_risk_score"`
	ClassCounts    map[CanonicalClass]int `json:"class_counts"`
	DetectionCount int                    `json:"detection_count"`
}

// WeatherReading is the subset of a weather observation the scorer consumes
type WeatherReading struct {
	TemperatureC float64 `json:"temperature"`
	RainMM       float64 `json:"rain"`
	SnowMM       float64 `json:"snow"`
	Condition    string  `json:"weather_type,omitempty"`
}
