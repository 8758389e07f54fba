package archive

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

const (
	boxThickness = 2
	labelPadding = 2
)

var (
	classColors = map[types.CanonicalClass]color.NRGBA{
		types.ClassCrack:    {R: 0, G: 255, B: 0, A: 255},
		types.ClassBreak:    {R: 255, G: 0, B: 0, A: 255},
		types.ClassAliCrack: {R: 0, G: 0, B: 255, A: 255},
	}
	defaultColor = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

	classLabels = map[types.CanonicalClass]string{
		types.ClassBreak: "port_hole",
	}
)

// ClassColor returns the box colour used for c
func ClassColor(c types.CanonicalClass) color.NRGBA {
	if col, ok := classColors[c]; ok {
		return col
	}
	return defaultColor
}

func label(d types.FusedDetection) string {
	name, ok := classLabels[d.Class]
	if !ok {
		name = string(d.Class)
	}
	return fmt.Sprintf("%s %.2f", name, d.Confidence)
}

// Annotate returns a copy of img with a box and a "<class> <confidence>" label drawn
// for every detection. img is not modified.
func Annotate(img image.Image, detections []types.FusedDetection) *image.NRGBA {
	out := imaging.Clone(img)
	face := basicfont.Face7x13

	for _, d := range detections {
		col := ClassColor(d.Class)
		box := image.Rect(
			int(math.Round(d.BBox.X1)), int(math.Round(d.BBox.Y1)),
			int(math.Round(d.BBox.X2)), int(math.Round(d.BBox.Y2)),
		)
		strokeRect(out, box, col)

		text := label(d)
		width := font.MeasureString(face, text).Ceil() + 2*labelPadding
		height := face.Height + labelPadding
		top := box.Min.Y - height
		if top < out.Bounds().Min.Y {
			top = box.Min.Y
		}
		bg := image.Rect(box.Min.X, top, box.Min.X+width, top+height).Intersect(out.Bounds())
		draw.Draw(out, bg, image.NewUniform(col), image.Point{}, draw.Src)

		drawer := &font.Drawer{
			Dst:  out,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.P(box.Min.X+labelPadding, top+face.Ascent),
		}
		drawer.DrawString(text)
	}
	return out
}

// strokeRect draws the outline of r, clipped to the image
func strokeRect(img *image.NRGBA, r image.Rectangle, col color.NRGBA) {
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxThickness),
		image.Rect(r.Min.X, r.Max.Y-boxThickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxThickness, r.Max.Y),
		image.Rect(r.Max.X-boxThickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	src := image.NewUniform(col)
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}
