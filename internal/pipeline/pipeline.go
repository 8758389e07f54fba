// Package pipeline runs one analysis: acquire a frame, detect and fuse, score risk
// and weather, and produce a Report.
package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/archive"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/capture"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/fusion"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/risk"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/weather"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Profile is one detection strategy: a detector set fused over a taxonomy and scored
// with that taxonomy's risk table
type Profile struct {
	Name     string
	Ensemble *fusion.Ensemble
	Scorer   *risk.Scorer
}

// Location is a camera position used for the weather lookup
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Target is a frame source plus the metadata reported with its results
type Target struct {
	Source   capture.Source
	Index    int       // Numeric camera id forwarded to sinks
	Name     string    // Display name
	Location *Location // nil skips the weather lookup
}

// ID returns the source id of the target
func (t Target) ID() string {
	if t.Source == nil {
		return ""
	}
	return t.Source.ID()
}

// Observer receives analysis outcomes
type Observer interface {
	ObserveAcquisitionFailure(sourceID string)
	ObserveReport(r *Report)
}

// Pipeline runs analyses for one profile
type Pipeline struct {
	profile    Profile
	controller *capture.Controller
	weather    weather.Provider
	archive    *archive.Archive
	observer   Observer
	degraded   bool
	clock      clock.Clock
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithWeather enables the weather lookup for targets with a location
func WithWeather(p weather.Provider) Option {
	return func(pl *Pipeline) { pl.weather = p }
}

// WithArchive stores every accepted frame
func WithArchive(a *archive.Archive) Option {
	return func(pl *Pipeline) { pl.archive = a }
}

// WithObserver reports outcomes to o
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observer = o }
}

// WithDegradedMode analyses a placeholder frame when acquisition fails. The report is
// marked degraded.
func WithDegradedMode() Option {
	return func(pl *Pipeline) { pl.degraded = true }
}

// WithClock sets the clock used for report timestamps
func WithClock(c clock.Clock) Option {
	return func(pl *Pipeline) { pl.clock = c }
}

// New creates a pipeline
func New(profile Profile, controller *capture.Controller, opts ...Option) *Pipeline {
	p := &Pipeline{
		profile:    profile,
		controller: controller,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile returns the pipeline profile
func (p *Pipeline) Profile() Profile {
	return p.profile
}

// Analyze runs a full cycle on target. An *capture.AcquisitionFailure is returned
// unchanged when no usable frame was obtained (and degraded mode is off).
func (p *Pipeline) Analyze(ctx context.Context, target Target) (*Report, error) {
	if target.Source == nil {
		return nil, errors.New("target has no frame source")
	}
	started := p.clock.Now()
	id := target.ID()

	var (
		frame *types.Frame
		err   error
	)
	if p.degraded {
		frame, err = p.controller.CaptureOrPlaceholder(ctx, target.Source)
	} else {
		frame, err = p.controller.Capture(ctx, target.Source)
	}
	if err != nil {
		if p.observer != nil {
			p.observer.ObserveAcquisitionFailure(id)
		}
		if frame == nil {
			logger.Warn("Pipeline", "[%s] acquisition failed: %v", id, err)
			return nil, err
		}
		logger.Warn("Pipeline", "[%s] acquisition failed, continuing on placeholder frame: %v", id, err)
	}

	return p.analyze(ctx, started, frame, target), nil
}

// AnalyzeFrame runs detection and scoring on an already acquired frame
func (p *Pipeline) AnalyzeFrame(ctx context.Context, frame *types.Frame, target Target) *Report {
	return p.analyze(ctx, p.clock.Now(), frame, target)
}

func (p *Pipeline) analyze(ctx context.Context, started time.Time, frame *types.Frame, target Target) *Report {
	report := &Report{
		AnalysisID:  uuid.NewString(),
		Profile:     p.profile.Name,
		SourceID:    frame.SourceID,
		SourceIndex: target.Index,
		SourceName:  target.Name,
		Location:    target.Location,
		StartedAt:   started,
		Frame:       frame.Info(),
		Degraded:    frame.Degraded,
	}
	if report.SourceID == "" {
		report.SourceID = target.ID()
	}

	result := p.profile.Ensemble.Run(ctx, frame.Image)
	report.Detections = result.Detections
	report.AllDetectorsFailed = result.AllFailed
	for _, f := range result.Failures {
		report.DetectorFailures = append(report.DetectorFailures, FailureRecord{
			SourceID: f.SourceID,
			Error:    f.Err.Error(),
		})
	}
	report.Risk = p.profile.Scorer.Assess(result.Detections)
	if p.archive != nil && !frame.Degraded {
		p.archive.SubmitAnnotated(frame, report.AnalysisID, report.Detections)
	}

	if p.weather != nil && target.Location != nil {
		reading, err := p.weather.Current(ctx, target.Location.Lat, target.Location.Lon)
		if err != nil {
			logger.Warn("Pipeline", "[%s] weather lookup failed, scoring without weather: %v", report.SourceID, err)
		} else {
			report.Weather = &reading
			report.WeatherSeverity = risk.WeatherSeverity(reading.TemperatureC, reading.RainMM, reading.SnowMM)
		}
	}
	report.CompoundScore = risk.CompoundScore(report.Risk.TotalRiskScore, report.WeatherSeverity)
	report.Level = risk.Level(report.CompoundScore)
	report.FinishedAt = p.clock.Now()

	logger.Info("Pipeline", "[%s] %d detections, risk=%.2f weather=%d compound=%.1f (%s) in %v",
		report.SourceID, len(report.Detections), report.Risk.TotalRiskScore,
		report.WeatherSeverity, report.CompoundScore, report.Level, report.Duration())

	if p.observer != nil {
		p.observer.ObserveReport(report)
	}
	return report
}
