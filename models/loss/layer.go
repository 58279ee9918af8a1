package loss

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Layer computes the loss terms of one scale.
//
// Every term is summed over the grid and anchor axes, leaving one value per
// image. Positive slots are those whose target objectness is non-zero.
//
// Arguments:
//   - pred: The raw [batch, grid, grid, 3, 5 + C] predictions.
//   - target: The [batch, grid, grid, 3, 5 + C] ground truth (cx, cy, w, h, obj, one-hot).
//   - scaleAnchors: The 3 anchors of this scale.
//
// Returns:
//   - Terms: Per-image box, confidence and class terms.
//   - error: ErrShapeMismatch (wrapped) if the tensors disagree.
func (l *Loss) Layer(pred, target *tensor.Dense, scaleAnchors []anchors.Anchor) (Terms, error) {
	numClass := l.config.NumClass
	if _, err := yolov4.PredictionDims(pred, numClass); err != nil {
		return Terms{}, errors.Wrap(err, "prediction")
	}
	dims, err := yolov4.PredictionDims(target, numClass)
	if err != nil {
		return Terms{}, errors.Wrap(err, "target")
	}
	if !pred.Shape().Eq(target.Shape()) {
		return Terms{}, errors.Wrapf(yolov4.ErrShapeMismatch, "prediction %v and target %v differ", pred.Shape(), target.Shape())
	}

	dec, err := yolov4.Decode(pred, scaleAnchors, l.config.GridSensitivityRatio, numClass)
	if err != nil {
		return Terms{}, err
	}

	n := dims.Cells()
	truth := yolov4.Values(target)
	predBoxes := make([]geometry.Box, n)
	trueBoxes := make([]geometry.Box, n)
	objectness := make([]float32, n)
	for i := 0; i < n; i++ {
		t := truth[i*dims.Attrs:]
		predBoxes[i] = dec.Box(i)
		trueBoxes[i] = geometry.FromCenter(t[0], t[1], t[2], t[3])
		objectness[i] = t[4]
	}

	ignore, err := IgnoreMask(dims, predBoxes, trueBoxes, objectness, l.config.IoUThreshold)
	if err != nil {
		return Terms{}, err
	}

	predObj := dec.Objectness.Float32s()
	predClass := dec.ClassProbs.Float32s()
	raw := dec.RawBox.Float32s()

	eps := l.config.LabelSmoothingFactor
	smoothed := make([]float32, numClass)
	out := newTerms(dims.Batch)

	for i := 0; i < n; i++ {
		image, row, col, a := dims.Coords(i)
		t := truth[i*dims.Attrs : (i+1)*dims.Attrs]
		mask := objectness[i]

		// Confidence.
		switch l.confidence {
		case ConfidenceFocal:
			out.Confidence[image] += l.focal.Element(mask, predObj[i])
		default:
			bce := BCE(mask, predObj[i])
			out.Confidence[image] += mask*bce + (1-mask)*ignore[i]*bce
		}

		// Class.
		for k := 0; k < numClass; k++ {
			smoothed[k] = t[5+k]*(1-eps) + eps/float32(numClass)
		}
		probs := predClass[i*numClass : (i+1)*numClass]
		switch l.class {
		case ClassFocal:
			out.Class[image] += l.focal.Classes(smoothed, probs)
		default:
			if mask != 0 {
				out.Class[image] += mask * MeanBCE(smoothed, probs)
			}
		}

		// Box.
		if mask == 0 {
			continue
		}
		scale := 2 - t[2]*t[3]
		switch l.box {
		case BoxGIoU:
			out.Box[image] += mask * scale * (1 - geometry.GIoU(predBoxes[i], trueBoxes[i]))
		case BoxCIoU:
			out.Box[image] += mask * scale * (1 - geometry.CIoU(predBoxes[i], trueBoxes[i]))
		default:
			out.Box[image] += mask * scale * legacyBox(t, raw[i*4:i*4+4], row, col, dims.Grid, scaleAnchors[a])
		}
	}

	return out, nil
}

// legacyBox returns the squared error between the encoded target and the raw
// prediction (s*sigmoid(tx), s*sigmoid(ty), tw, th).
func legacyBox(truth, raw []float32, row, col, grid int, anchor anchors.Anchor) float32 {
	g := float32(grid)
	tx := truth[0]*g - float32(col)
	ty := truth[1]*g - float32(row)
	tw := finiteLog(truth[2] / anchor.Width)
	th := finiteLog(truth[3] / anchor.Height)

	dx, dy := tx-raw[0], ty-raw[1]
	dw, dh := tw-raw[2], th-raw[3]
	return dx*dx + dy*dy + dw*dw + dh*dh
}

// finiteLog is log(x) with an infinite result replaced by 0.
func finiteLog(x float32) float32 {
	v := math32.Log(x)
	if math32.IsInf(v, 0) {
		return 0
	}
	return v
}
