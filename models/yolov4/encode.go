package yolov4

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// EncodeBox returns the raw activations (tx, ty, tw, th) that Decode maps back to
// the center-form box (cx, cy, w, h) at the given cell and anchor.
//
// The cell offset cx*grid - col must lie strictly inside (0, s) for tx to be
// finite; widths and heights must be positive.
//
// Arguments:
//   - cx, cy, w, h: The normalized center-form box.
//   - row, col: The grid cell.
//   - grid: The grid size.
//   - anchor: The anchor of the slot.
//   - sensitivity: The grid sensitivity ratio s.
//
// Returns:
//   - tx, ty, tw, th: The raw activations.
func EncodeBox(cx, cy, w, h float32, row, col, grid int, anchor anchors.Anchor, sensitivity float32) (tx, ty, tw, th float32) {
	g := float32(grid)
	tx = logit((cx*g - float32(col)) / sensitivity)
	ty = logit((cy*g - float32(row)) / sensitivity)
	tw = math32.Log(w / anchor.Width)
	th = math32.Log(h / anchor.Height)
	return tx, ty, tw, th
}

func logit(p float32) float32 {
	return math32.Log(p / (1 - p))
}

// Target is a ground-truth tensor for one scale.
//
// Every slot starts at zero (no object). Assign writes an already matched
// ground-truth box; matching boxes to anchors happens elsewhere.
type Target struct {
	dims Dims
	t    *tensor.Dense
}

// NewTarget allocates an empty [batch, grid, grid, 3, 5 + numClass] target.
func NewTarget(batch, grid, numClass int) *Target {
	dims := Dims{Batch: batch, Grid: grid, Anchors: anchors.PerScale, Attrs: 5 + numClass}
	return &Target{
		dims: dims,
		t: tensor.New(
			tensor.WithShape(batch, grid, grid, anchors.PerScale, 5+numClass),
			tensor.WithBacking(make([]float32, dims.Cells()*dims.Attrs)),
		),
	}
}

// Assign marks slot (image, row, col, anchor) as holding the box (cx, cy, w, h) of class.
//
// Returns:
//   - error: If any index is out of range.
func (t *Target) Assign(image, row, col, anchor int, cx, cy, w, h float32, class int) error {
	d := t.dims
	switch {
	case image < 0 || image >= d.Batch:
		return errors.Errorf("image %d out of range [0, %d)", image, d.Batch)
	case row < 0 || row >= d.Grid || col < 0 || col >= d.Grid:
		return errors.Errorf("cell (%d, %d) out of range for grid %d", row, col, d.Grid)
	case anchor < 0 || anchor >= d.Anchors:
		return errors.Errorf("anchor %d out of range [0, %d)", anchor, d.Anchors)
	case class < 0 || class >= d.NumClass():
		return errors.Errorf("class %d out of range [0, %d)", class, d.NumClass())
	}

	i := d.Index(image, row, col, anchor)
	slot := t.t.Data().([]float32)[i*d.Attrs : (i+1)*d.Attrs]
	for k := range slot {
		slot[k] = 0
	}
	slot[0], slot[1], slot[2], slot[3] = cx, cy, w, h
	slot[4] = 1
	slot[5+class] = 1
	return nil
}

// Dims returns the target dimensions.
func (t *Target) Dims() Dims {
	return t.dims
}

// Tensor returns the underlying tensor. It is shared, not copied.
func (t *Target) Tensor() *tensor.Dense {
	return t.t
}
