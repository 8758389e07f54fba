// Package brightness classifies captured frames as usable or blank by mean luminance.
package brightness

import (
	"bytes"
	"image"
	_ "image/gif"  // GIF decoder registration
	_ "image/jpeg" // JPEG decoder registration
	_ "image/png"  // PNG decoder registration

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP decoder registration
	_ "golang.org/x/image/tiff" // TIFF decoder registration
	_ "golang.org/x/image/webp" // WebP decoder registration
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the mean luminance (0-255) below which a frame is blank
const DefaultThreshold = 10.0

// Validator rejects frames whose mean luminance falls below Threshold
type Validator struct {
	Threshold float64
}

// NewValidator returns a Validator; a non-positive threshold selects DefaultThreshold
func NewValidator(threshold float64) Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Validator{Threshold: threshold}
}

// IsBlank reports whether img is unusable. Nil and empty images are blank.
func (v Validator) IsBlank(img image.Image) bool {
	mean, ok := MeanLuminance(img)
	if !ok {
		return true
	}
	return mean < v.Threshold
}

// IsBlankEncoded decodes data and applies IsBlank; undecodable data is blank
func (v Validator) IsBlankEncoded(data []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return true
	}
	return v.IsBlank(img)
}

// IsBlank applies the default threshold
func IsBlank(img image.Image) bool {
	return Validator{Threshold: DefaultThreshold}.IsBlank(img)
}

// IsBlankEncoded applies the default threshold to encoded image bytes
func IsBlankEncoded(data []byte) bool {
	return Validator{Threshold: DefaultThreshold}.IsBlankEncoded(data)
}

// MeanLuminance converts img to grayscale and returns the mean pixel value.
// ok is false when img is nil or has no pixels.
func MeanLuminance(img image.Image) (mean float64, ok bool) {
	if img == nil || img.Bounds().Empty() {
		return 0, false
	}

	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()*4]
		// NRGBA after Grayscale: R == G == B
		for x := 0; x < len(row); x += 4 {
			values = append(values, float64(row[x]))
		}
	}
	return stat.Mean(values, nil), true
}
