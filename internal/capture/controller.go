package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/brightness"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// Source produces one freshly loaded frame per call. A nil image means no frame.
// Sources never retry or validate; that policy lives in Controller.
type Source interface {
	ID() string
	Capture(ctx context.Context) (image.Image, error)
}

// AcquisitionFailure is returned when no usable frame was captured within MaxRetries attempts
type AcquisitionFailure struct {
	SourceID string
	Attempts int
	Blank    int   // attempts that returned a blank frame
	Empty    int   // attempts that returned no frame or an error
	LastErr  error // last source error, if any
}

func (e *AcquisitionFailure) Error() string {
	msg := fmt.Sprintf("no usable frame from %s after %d attempts (blank=%d, empty=%d)",
		e.SourceID, e.Attempts, e.Blank, e.Empty)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *AcquisitionFailure) Unwrap() error {
	return e.LastErr
}

// Observer receives one callback per capture attempt (metrics hook)
type Observer interface {
	ObserveAttempt(sourceID string, attempt int, blank, empty bool)
}

// Controller runs the bounded capture-and-validate retry loop
type Controller struct {
	MaxRetries int
	RetryDelay time.Duration
	Validator  brightness.Validator
	Clock      clock.Clock
	Observer   Observer
}

// NewController creates a controller with the default brightness threshold
func NewController(maxRetries int, retryDelay time.Duration) *Controller {
	return &Controller{
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Validator:  brightness.NewValidator(brightness.DefaultThreshold),
		Clock:      clock.New(),
	}
}

// attempt is the transient per-try record of the retry loop
type attempt struct {
	number  int
	img     image.Image
	isBlank bool
}

// Capture asks src for a new frame until one passes the brightness check.
// The delay between attempts always elapses in full; ctx is only handed to the source.
func (c *Controller) Capture(ctx context.Context, src Source) (*types.Frame, error) {
	maxRetries := c.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	validator := c.Validator
	if validator.Threshold <= 0 {
		validator = brightness.NewValidator(brightness.DefaultThreshold)
	}

	failure := &AcquisitionFailure{SourceID: src.ID()}

	for n := 1; n <= maxRetries; n++ {
		logger.Debug("Capture", "[%d/%d] capturing %s", n, maxRetries, src.ID())

		at := attempt{number: n}
		img, err := src.Capture(ctx)
		failure.Attempts = n

		switch {
		case err != nil:
			failure.Empty++
			failure.LastErr = err
			logger.Warn("Capture", "[%d/%d] capture failed: %v", n, maxRetries, err)
			c.observe(src.ID(), n, false, true)
		case img == nil:
			failure.Empty++
			logger.Warn("Capture", "[%d/%d] source returned no frame", n, maxRetries)
			c.observe(src.ID(), n, false, true)
		default:
			at.img = img
			at.isBlank = validator.IsBlank(img)
			c.observe(src.ID(), n, at.isBlank, false)
			if !at.isBlank {
				logger.Info("Capture", "[%d/%d] usable frame captured from %s", n, maxRetries, src.ID())
				return &types.Frame{
					Image:      at.img,
					SourceID:   src.ID(),
					CapturedAt: clk.Now(),
					Attempt:    at.number,
				}, nil
			}
			failure.Blank++
			logger.Warn("Capture", "[%d/%d] blank frame detected, reloading source", n, maxRetries)
		}

		if n < maxRetries {
			clk.Sleep(c.RetryDelay)
		}
	}

	logger.Error("Capture", "%v", failure)
	return nil, failure
}

func (c *Controller) observe(sourceID string, n int, blank, empty bool) {
	if c.Observer != nil {
		c.Observer.ObserveAttempt(sourceID, n, blank, empty)
	}
}
