package yolov4

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Decoded holds the decoded form of one scale's predictions.
type Decoded struct {
	Dims Dims
	// Boxes is [batch, grid, grid, anchors, 4] in corner form, normalized.
	Boxes *tensor.Dense
	// Objectness is [batch, grid, grid, anchors, 1].
	Objectness *tensor.Dense
	// ClassProbs is [batch, grid, grid, anchors, C].
	ClassProbs *tensor.Dense
	// RawBox is [batch, grid, grid, anchors, 4]: (s*sigmoid(tx), s*sigmoid(ty), tw, th).
	RawBox *tensor.Dense
}

// Box returns the decoded corner-form box of flat slot i.
func (d *Decoded) Box(i int) geometry.Box {
	b := d.Boxes.Float32s()[i*4 : i*4+4]
	return geometry.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
}

// Decode turns raw network activations of one scale into boxes and probabilities.
//
// For the cell at row r and column c with anchor (aw, ah):
//
//	xy   = (s * sigmoid(txy) + (c, r)) / grid
//	wh   = exp(twh) * (aw, ah)
//	box  = (xy - wh/2, xy + wh/2)
//	obj  = sigmoid(to)
//	prob = sigmoid(tc)
//
// Boxes are not clamped and may extend outside [0, 1].
//
// Arguments:
//   - pred: The raw [batch, grid, grid, 3, 5 + C] predictions.
//   - scaleAnchors: The 3 anchors of this scale.
//   - sensitivity: The grid sensitivity ratio s.
//   - numClass: C.
//
// Returns:
//   - *Decoded: The four decoded tensors.
//   - error: ErrShapeMismatch (wrapped) if pred or scaleAnchors are malformed.
func Decode(pred *tensor.Dense, scaleAnchors []anchors.Anchor, sensitivity float32, numClass int) (*Decoded, error) {
	dims, err := PredictionDims(pred, numClass)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if len(scaleAnchors) != dims.Anchors {
		return nil, errors.Wrapf(ErrShapeMismatch, "decode: %d anchors for %d anchor slots", len(scaleAnchors), dims.Anchors)
	}

	data := Values(pred)
	n := dims.Cells()
	boxes := make([]float32, n*4)
	obj := make([]float32, n)
	probs := make([]float32, n*numClass)
	raw := make([]float32, n*4)
	g := float32(dims.Grid)

	for i := 0; i < n; i++ {
		_, row, col, a := dims.Coords(i)
		src := data[i*dims.Attrs : (i+1)*dims.Attrs]

		sx := sensitivity * sigmoid(src[0])
		sy := sensitivity * sigmoid(src[1])
		raw[i*4] = sx
		raw[i*4+1] = sy
		raw[i*4+2] = src[2]
		raw[i*4+3] = src[3]

		cx := (sx + float32(col)) / g
		cy := (sy + float32(row)) / g
		w := math32.Exp(src[2]) * scaleAnchors[a].Width
		h := math32.Exp(src[3]) * scaleAnchors[a].Height

		boxes[i*4] = cx - w/2
		boxes[i*4+1] = cy - h/2
		boxes[i*4+2] = cx + w/2
		boxes[i*4+3] = cy + h/2

		obj[i] = sigmoid(src[4])
		for k := 0; k < numClass; k++ {
			probs[i*numClass+k] = sigmoid(src[5+k])
		}
	}

	shape := func(last int) tensor.ConsOpt {
		return tensor.WithShape(dims.Batch, dims.Grid, dims.Grid, dims.Anchors, last)
	}

	return &Decoded{
		Dims:       dims,
		Boxes:      tensor.New(shape(4), tensor.WithBacking(boxes)),
		Objectness: tensor.New(shape(1), tensor.WithBacking(obj)),
		ClassProbs: tensor.New(shape(numClass), tensor.WithBacking(probs)),
		RawBox:     tensor.New(shape(4), tensor.WithBacking(raw)),
	}, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
