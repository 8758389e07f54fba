package fusion

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/multierr"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Detector runs one object-detection model on a frame
type Detector interface {
	SourceID() string
	Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error)
}

// DetectorFailure records a detector whose call errored; its output is excluded from fusion
type DetectorFailure struct {
	SourceID string
	Err      error
}

func (f DetectorFailure) Error() string {
	return fmt.Sprintf("detector %s: %v", f.SourceID, f.Err)
}

func (f DetectorFailure) Unwrap() error {
	return f.Err
}

// Result is the outcome of one ensemble run
type Result struct {
	Detections []types.FusedDetection
	Failures   []DetectorFailure
	// AllFailed is set when every configured detector failed. Detections is then
	// empty and the run still counts as successful.
	AllFailed bool
}

// Err combines the detector failures, nil when none
func (r Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Ensemble runs a fixed set of detectors and fuses their outputs
type Ensemble struct {
	detectors []Detector
	engine    *Engine
}

// NewEnsemble creates an ensemble over detectors
func NewEnsemble(engine *Engine, detectors ...Detector) *Ensemble {
	return &Ensemble{
		detectors: append([]Detector(nil), detectors...),
		engine:    engine,
	}
}

// Engine returns the fusion engine
func (e *Ensemble) Engine() *Engine {
	return e.engine
}

// SourceIDs returns the detector ids in call order
func (e *Ensemble) SourceIDs() []string {
	ids := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		ids[i] = d.SourceID()
	}
	return ids
}

// Detect calls every detector in turn. A failing detector is reported and skipped.
func (e *Ensemble) Detect(ctx context.Context, img image.Image) (map[string][]types.RawDetection, []DetectorFailure) {
	bySource := make(map[string][]types.RawDetection, len(e.detectors))
	var failures []DetectorFailure

	for _, d := range e.detectors {
		id := d.SourceID()
		dets, err := d.Detect(ctx, img)
		if err != nil {
			logger.Warn("Fusion", "detector %s failed: %v", id, err)
			failures = append(failures, DetectorFailure{SourceID: id, Err: err})
			continue
		}
		stamped := make([]types.RawDetection, len(dets))
		copy(stamped, dets)
		for i := range stamped {
			stamped[i].SourceID = id
		}
		bySource[id] = stamped
		logger.Debug("Fusion", "detector %s returned %d boxes", id, len(dets))
	}
	return bySource, failures
}

// Run detects and fuses
func (e *Ensemble) Run(ctx context.Context, img image.Image) Result {
	bySource, failures := e.Detect(ctx, img)
	res := Result{
		Detections: e.engine.Fuse(bySource),
		Failures:   failures,
		AllFailed:  len(e.detectors) > 0 && len(failures) == len(e.detectors),
	}
	if res.AllFailed {
		logger.Warn("Fusion", "all %d detectors failed, result is empty", len(e.detectors))
	}
	return res
}
