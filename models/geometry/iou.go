package geometry

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// ErrLengthMismatch is returned by the elementwise path when the two box lists differ in length.
var ErrLengthMismatch = errors.New("box lists differ in length")

// Metric is a pairwise overlap metric between two boxes.
type Metric func(a, b Box) float32

// IoU (Intersection over Union) measures how much two boxes overlap.
//
// It is formally defined by the formula:
//
//	IoU = Area of Intersection / Area of Union
//
//	- A value of 1.0 means the boxes are identical.
//	- A value of 0.0 means the boxes don't overlap at all.
//
// **1. Intersection**
//
//	The intersection's top-left corner is the *maximum* of the two top-left
//	corners and its bottom-right corner the *minimum* of the two bottom-right
//	corners. A negative width or height means no overlap and is clamped to 0.
//
// **2. Union**
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// **3. Divide**
//
//	A zero union (two degenerate boxes) yields 0, never NaN or Inf.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 for well-formed boxes.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	score := IoU(a, b) // 25 / 175 = 0.142857
//
// ```
func IoU(a, b Box) float32 {
	inter, union := overlap(a, b)
	return safeDiv(inter, union)
}

// GIoU is IoU minus the share of the smallest enclosing box not covered by the union.
//
// The penalty keeps a useful signal for disjoint boxes: the farther apart they
// are, the larger the enclosing box and the more negative the score. The result
// lies in (-1, 1].
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float32: The generalized IoU.
func GIoU(a, b Box) float32 {
	inter, union := overlap(a, b)
	iou := safeDiv(inter, union)

	ew := math32.Max(math32.Max(a.X2, b.X2)-math32.Min(a.X1, b.X1), 0)
	eh := math32.Max(math32.Max(a.Y2, b.Y2)-math32.Min(a.Y1, b.Y1), 0)
	enclose := ew * eh

	return iou - safeDiv(enclose-union, enclose)
}

// DIoU is IoU minus the squared center distance normalized by the squared
// diagonal of the enclosing box.
func DIoU(a, b Box) float32 {
	iou := IoU(a, b)
	return iou - centerPenalty(a, b)
}

// CIoU extends DIoU with an aspect-ratio consistency term alpha*v.
//
//	v     = (4 / pi^2) * (atan(w1/h1) - atan(w2/h2))^2
//	alpha = v / (1 - IoU + v)
//
// alpha is a fixed per-pair weight: it is evaluated from the current boxes and
// is not meant to be differentiated through. Zero heights make the ratio 0.
//
// Arguments:
//   - a: The first box (prediction).
//   - b: The second box (ground truth).
//
// Returns:
//   - float32: The complete IoU, never greater than DIoU(a, b).
func CIoU(a, b Box) float32 {
	iou := IoU(a, b)
	diou := iou - centerPenalty(a, b)

	d := math32.Atan(safeDiv(a.Width(), a.Height())) - math32.Atan(safeDiv(b.Width(), b.Height()))
	v := d * 2 / math32.Pi
	v *= v
	alpha := safeDiv(v, 1-iou+v)

	return diou - alpha*v
}

// Elementwise applies metric to each aligned pair (a[i], b[i]).
//
// Arguments:
//   - metric: The overlap metric, e.g. IoU or CIoU.
//   - a, b: Box lists of equal length.
//
// Returns:
//   - []float32: One score per pair.
//   - error: ErrLengthMismatch when the lists differ in length.
func Elementwise(metric Metric, a, b []Box) ([]float32, error) {
	if len(a) != len(b) {
		return nil, errors.Wrapf(ErrLengthMismatch, "elementwise overlap of %d and %d boxes", len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = metric(a[i], b[i])
	}
	return out, nil
}

// BroadcastIoU computes the IoU of every box in a against every box in b.
//
// Arguments:
//   - a: N boxes (typically predictions).
//   - b: M boxes (typically ground truth).
//
// Returns:
//   - *tensor.Dense: An [N, M] Float32 matrix, row i holding IoU(a[i], b[*]).
//   - error: When either list is empty.
func BroadcastIoU(a, b []Box) (*tensor.Dense, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, errors.Errorf("broadcast IoU needs non-empty inputs, got %d x %d", len(a), len(b))
	}

	backing := make([]float32, len(a)*len(b))
	for i := range a {
		row := backing[i*len(b) : (i+1)*len(b)]
		for j := range b {
			row[j] = IoU(a[i], b[j])
		}
	}

	return tensor.New(tensor.WithShape(len(a), len(b)), tensor.WithBacking(backing)), nil
}

// MaxIoU returns, for each box in a, its best IoU against any box in b.
//
// An empty b yields all zeros.
func MaxIoU(a, b []Box) ([]float32, error) {
	best := make([]float32, len(a))
	if len(a) == 0 || len(b) == 0 {
		return best, nil
	}

	ious, err := BroadcastIoU(a, b)
	if err != nil {
		return nil, err
	}
	rows, err := native.MatrixF32(ious)
	if err != nil {
		return nil, errors.Wrap(err, "can't view IoU matrix")
	}

	for i, row := range rows {
		m := row[0]
		for _, v := range row[1:] {
			if v > m {
				m = v
			}
		}
		best[i] = m
	}
	return best, nil
}

func overlap(a, b Box) (inter, union float32) {
	iw := math32.Max(math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1), 0)
	ih := math32.Max(math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1), 0)
	inter = iw * ih
	union = a.Area() + b.Area() - inter
	return inter, union
}

func centerPenalty(a, b Box) float32 {
	ew := math32.Max(a.X2, b.X2) - math32.Min(a.X1, b.X1)
	eh := math32.Max(a.Y2, b.Y2) - math32.Min(a.Y1, b.Y1)
	c2 := ew*ew + eh*eh

	ax, ay := a.Center()
	bx, by := b.Center()
	p2 := (ax-bx)*(ax-bx) + (ay-by)*(ay-by)

	return safeDiv(p2, c2)
}

// safeDiv returns 0 when the denominator is 0.
func safeDiv(num, den float32) float32 {
	if den == 0 {
		return 0
	}
	return num / den
}
