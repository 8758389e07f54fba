package types

import (
	"image"
	"time"
)

// Frame is a single still captured from a frame source together with its capture metadata
type Frame struct {
	Image      image.Image // Decoded frame
	SourceID   string      // Frame source identifier (CCTV id or URL)
	CapturedAt time.Time   // Time the accepted attempt returned
	Attempt    int         // Attempt number that produced the frame (1-based)
	Degraded   bool        // True only for synthetic placeholder frames
}

// Width returns the frame width in pixels (0 when no image is attached)
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels (0 when no image is attached)
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// FrameInfo summarizes the frame attached to a report
type FrameInfo struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Attempt  int  `json:"attempt"`
	Degraded bool `json:"degraded"`
}

// Info returns the FrameInfo summary of f
func (f *Frame) Info() FrameInfo {
	if f == nil {
		return FrameInfo{}
	}
	return FrameInfo{
		Width:    f.Width(),
		Height:   f.Height(),
		Attempt:  f.Attempt,
		Degraded: f.Degraded,
	}
}
