package webmonitor

import (
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// ReportSummary is the compact report shape used by the dashboard APIs.
type ReportSummary struct {
	AnalysisID      string                       `json:"analysis_id"`
	SourceID        string                       `json:"source_id"`
	SourceIndex     int                          `json:"cctv_idx"`
	Timestamp       float64                      `json:"timestamp"`
	RoadScore       float64                      `json:"road_score"`
	WeatherScore    int                          `json:"weather_score"`
	TotalScore      float64                      `json:"total_score"`
	Level           string                       `json:"level"`
	NumDetections   int                          `json:"num_detections"`
	ClassCounts     map[types.CanonicalClass]int `json:"class_counts"`
	DetectorsFailed int                          `json:"detectors_failed"`
	Degraded        bool                         `json:"degraded"`
}

// summarize converts a report to its dashboard shape.
func summarize(r *pipeline.Report) ReportSummary {
	return ReportSummary{
		AnalysisID:      r.AnalysisID,
		SourceID:        r.SourceID,
		SourceIndex:     r.SourceIndex,
		Timestamp:       float64(r.FinishedAt.UnixMilli()) / 1000,
		RoadScore:       r.Risk.TotalRiskScore,
		WeatherScore:    r.WeatherSeverity,
		TotalScore:      r.CompoundScore,
		Level:           r.Level,
		NumDetections:   len(r.Detections),
		ClassCounts:     r.Risk.ClassCounts,
		DetectorsFailed: len(r.DetectorFailures),
		Degraded:        r.Degraded,
	}
}

// MonitorStats summarizes what the monitor has seen since start.
type MonitorStats struct {
	ReportsReceived int     `json:"reports_received"`
	SourcesReported int     `json:"sources_reported"`
	MaxTotalScore   float64 `json:"max_total_score"`
	UptimeSeconds   int     `json:"uptime_seconds"`
}

// SourceStatus is one scheduled source with its latest result.
type SourceStatus struct {
	SourceID string         `json:"source_id"`
	Index    int            `json:"cctv_idx"`
	Name     string         `json:"name,omitempty"`
	InFlight bool           `json:"in_flight"`
	Latest   *ReportSummary `json:"latest,omitempty"`
}
