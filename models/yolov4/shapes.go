package yolov4

import (
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	// ErrShapeMismatch is returned when a tensor does not have the expected rank, size or dtype.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrScaleOrder is returned when the three scales are not ordered from coarsest to finest grid.
	ErrScaleOrder = errors.New("scales out of order")
)

// Dims describes a [batch, grid, grid, anchors, 5 + C] tensor.
type Dims struct {
	Batch   int
	Grid    int
	Anchors int
	Attrs   int
}

// NumClass returns C.
func (d Dims) NumClass() int {
	return d.Attrs - 5
}

// Cells returns the number of (image, row, col, anchor) slots.
func (d Dims) Cells() int {
	return d.Batch * d.Grid * d.Grid * d.Anchors
}

// PerImage returns the number of slots of one image.
func (d Dims) PerImage() int {
	return d.Grid * d.Grid * d.Anchors
}

// Index returns the flat slot index of (image, row, col, anchor).
func (d Dims) Index(image, row, col, anchor int) int {
	return ((image*d.Grid+row)*d.Grid+col)*d.Anchors + anchor
}

// Coords is the inverse of Index.
func (d Dims) Coords(i int) (image, row, col, anchor int) {
	anchor = i % d.Anchors
	i /= d.Anchors
	col = i % d.Grid
	i /= d.Grid
	row = i % d.Grid
	image = i / d.Grid
	return image, row, col, anchor
}

// PredictionDims validates a prediction or target tensor.
//
// Arguments:
//   - t: The tensor to check.
//   - numClass: The expected number of classes.
//
// Returns:
//   - Dims: The tensor dimensions.
//   - error: ErrShapeMismatch (wrapped) on any violation.
func PredictionDims(t *tensor.Dense, numClass int) (Dims, error) {
	if t == nil {
		return Dims{}, errors.Wrap(ErrShapeMismatch, "nil tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "expected Float32, got %v", t.Dtype())
	}

	shape := t.Shape()
	if shape.Dims() != 5 {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "expected rank 5 [batch, grid, grid, anchors, 5+C], got %v", shape)
	}
	if shape[0] <= 0 || shape[1] <= 0 {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "batch and grid must be positive, got %v", shape)
	}
	if shape[1] != shape[2] {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "grid must be square, got %v", shape)
	}
	if shape[3] != anchors.PerScale {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "expected %d anchors on axis 3, got %v", anchors.PerScale, shape)
	}
	if shape[4] != 5+numClass {
		return Dims{}, errors.Wrapf(ErrShapeMismatch, "last axis must be 5+%d, got %v", numClass, shape)
	}
	return Dims{Batch: shape[0], Grid: shape[1], Anchors: shape[3], Attrs: shape[4]}, nil
}

// ScaleDims validates three per-scale tensors and their ordering.
//
// All tensors must share the batch size, and grid sizes must strictly increase
// from ScaleSmall to ScaleLarge.
func ScaleDims(ts []*tensor.Dense, numClass int) ([anchors.NumScales]Dims, error) {
	var dims [anchors.NumScales]Dims
	if len(ts) != anchors.NumScales {
		return dims, errors.Wrapf(ErrShapeMismatch, "expected %d scales, got %d", anchors.NumScales, len(ts))
	}

	for i, t := range ts {
		d, err := PredictionDims(t, numClass)
		if err != nil {
			return dims, errors.Wrapf(err, "scale %s", anchors.Scale(i))
		}
		dims[i] = d
	}

	for i := 1; i < anchors.NumScales; i++ {
		if dims[i].Batch != dims[0].Batch {
			return dims, errors.Wrapf(ErrShapeMismatch, "batch %d on scale %s, %d on scale %s",
				dims[i].Batch, anchors.Scale(i), dims[0].Batch, anchors.Scale(0))
		}
		if dims[i].Grid <= dims[i-1].Grid {
			return dims, errors.Wrapf(ErrScaleOrder, "grid %d on scale %s is not finer than %d on scale %s",
				dims[i].Grid, anchors.Scale(i), dims[i-1].Grid, anchors.Scale(i-1))
		}
	}
	return dims, nil
}

// Values returns the Float32 elements of t in row-major order, materializing views.
func Values(t *tensor.Dense) []float32 {
	if t.IsMaterializable() {
		t = t.Materialize().(*tensor.Dense)
	}
	return t.Float32s()
}
