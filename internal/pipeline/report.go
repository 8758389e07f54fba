package pipeline

import (
	"time"

	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Report is the outcome of one analysis
type Report struct {
	AnalysisID         string                 `json:"analysis_id"`
	Profile            string                 `json:"profile"`
	SourceID           string                 `json:"source_id"`
	SourceIndex        int                    `json:"source_index"`
	SourceName         string                 `json:"source_name,omitempty"`
	Location           *Location              `json:"location,omitempty"`
	StartedAt          time.Time              `json:"started_at"`
	FinishedAt         time.Time              `json:"finished_at"`
	Frame              types.FrameInfo        `json:"frame_info"`
	Detections         []types.FusedDetection `json:"detections"`
	Risk               types.RiskAssessment   `json:"risk"`
	Weather            *types.WeatherReading  `json:"weather,omitempty"`
	WeatherSeverity    int                    `json:"weather_severity"`
	CompoundScore      float64                `json:"compound_score"`
	Level              string                 `json:"level"`
	DetectorFailures   []FailureRecord        `json:"detector_failures,omitempty"`
	AllDetectorsFailed bool                   `json:"all_detectors_failed"`
	Degraded           bool                   `json:"degraded"`
}

// FailureRecord is a detector failure as stored in a report
type FailureRecord struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

// Duration returns the analysis wall time
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
