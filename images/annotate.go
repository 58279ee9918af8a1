package images

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotation is a labelled rectangle to draw on an image.
type Annotation struct {
	Rect  Rect
	Label string
	Color color.Color
}

// Annotate copies src into a new RGBA image and draws every annotation as a
// one-pixel outline with its label on a filled tab above the top-left corner.
//
// Arguments:
//   - src: The source image.
//   - annotations: The rectangles to draw, in src pixel coordinates.
//
// Returns:
//   - *image.RGBA: The annotated copy.
func Annotate(src image.Image, annotations []Annotation) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)

	face := basicfont.Face7x13
	for _, a := range annotations {
		if a.Rect.Empty() {
			continue
		}
		col := a.Color
		if col == nil {
			col = color.RGBA{R: 255, A: 255}
		}
		fill := image.NewUniform(col)
		r := image.Rect(a.Rect.X1, a.Rect.Y1, a.Rect.X2, a.Rect.Y2)

		for _, edge := range []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
			image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
			image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
		} {
			draw.Draw(out, edge.Intersect(out.Bounds()), fill, image.Point{}, draw.Src)
		}

		if a.Label == "" {
			continue
		}
		height := face.Metrics().Height.Ceil()
		width := font.MeasureString(face, a.Label).Ceil()
		top := r.Min.Y - height
		if top < 0 {
			top = r.Min.Y
		}
		tab := image.Rect(r.Min.X, top, r.Min.X+width+2, top+height)
		draw.Draw(out, tab.Intersect(out.Bounds()), fill, image.Point{}, draw.Src)

		d := &font.Drawer{
			Dst:  out,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(tab.Min.X+1, tab.Min.Y+face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(a.Label)
	}
	return out
}
