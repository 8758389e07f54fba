package capture

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 480
)

// CaptureOrPlaceholder is the degraded-mode entry point. It behaves like Capture but,
// when acquisition fails, returns a synthetic frame marked Degraded together with the
// AcquisitionFailure. Any other error is returned unchanged with a nil frame.
func (c *Controller) CaptureOrPlaceholder(ctx context.Context, src Source) (*types.Frame, error) {
	frame, err := c.Capture(ctx, src)
	if err == nil {
		return frame, nil
	}

	var failure *AcquisitionFailure
	if !errors.As(err, &failure) {
		return nil, err
	}

	logger.Warn("Capture", "acquisition failed for %s, using placeholder frame", src.ID())
	now := time.Now()
	if c.Clock != nil {
		now = c.Clock.Now()
	}
	return &types.Frame{
		Image:      PlaceholderImage(),
		SourceID:   src.ID(),
		CapturedAt: now,
		Attempt:    failure.Attempts,
		Degraded:   true,
	}, failure
}

// PlaceholderImage renders the 640x480 gradient test card used in degraded mode
func PlaceholderImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		for x := 0; x < placeholderWidth; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(255 * x / placeholderWidth),
				G: uint8(255 * y / placeholderHeight),
				B: 128,
				A: 255,
			})
		}
	}

	lines := []string{"TEST FRAME", "CCTV Connection Failed", "Using Placeholder Image"}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.P(50, 50+i*50)
		d.DrawString(line)
	}
	return img
}
