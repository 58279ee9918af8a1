// Package geometry - Box geometry and overlap metrics for detection boxes.
package geometry

import "fmt"

// Box is an axis-aligned box in corner form.
//
// Coordinates are normalized image fractions for everything produced by the
// decode step, but nothing here assumes a particular unit.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// FromCenter builds a corner-form box from its center and size.
//
// Arguments:
//   - cx, cy: The box center.
//   - w, h: The box width and height.
//
// Returns:
//   - Box: The corner-form box.
func FromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns X2 - X1.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns Y2 - Y1.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns Width * Height. Inverted boxes yield a negative area.
func (b Box) Area() float32 { return b.Width() * b.Height() }

// Center returns the center point of the box.
func (b Box) Center() (x, y float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Clip clamps every coordinate into [lo, hi].
func (b Box) Clip(lo, hi float32) Box {
	return Box{
		X1: clamp(b.X1, lo, hi),
		Y1: clamp(b.Y1, lo, hi),
		X2: clamp(b.X2, lo, hi),
		Y2: clamp(b.Y2, lo, hi),
	}
}

// Scale multiplies x coordinates by sx and y coordinates by sy.
func (b Box) Scale(sx, sy float32) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.4f, %.4f), (%.4f, %.4f)", b.X1, b.Y1, b.X2, b.Y2)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
