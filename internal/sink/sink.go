// Package sink delivers analysis reports to storage and downstream services.
package sink

import (
	"context"

	"go.uber.org/multierr"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

// Sink persists or forwards a report
type Sink interface {
	Name() string
	Save(ctx context.Context, r *pipeline.Report) error
}

// ErrorObserver is notified of failed writes
type ErrorObserver interface {
	ObserveSinkError(sink string)
}

// Multi fans a report out to several sinks. Every sink is tried; errors are combined.
type Multi struct {
	sinks    []Sink
	observer ErrorObserver
}

// NewMulti creates a fan-out sink. observer may be nil.
func NewMulti(observer ErrorObserver, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, observer: observer}
}

// Name returns "multi"
func (m *Multi) Name() string {
	return "multi"
}

// Len returns the number of wrapped sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Save writes r to every sink
func (m *Multi) Save(ctx context.Context, r *pipeline.Report) error {
	var errs error
	for _, s := range m.sinks {
		if err := s.Save(ctx, r); err != nil {
			logger.Error("Sink", "%s: failed to save %s: %v", s.Name(), r.AnalysisID, err)
			if m.observer != nil {
				m.observer.ObserveSinkError(s.Name())
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
