// Package yolov4 - postprocess YOLOv4 model outputs.
package yolov4

import (
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Detector turns the three raw prediction tensors into final detections.
type Detector struct {
	config Config
	table  *anchors.Table
	nms    postprocess.NMSConfig
	log    *logrus.Entry
}

// NewDetector validates config and builds a detector.
//
// Arguments:
//   - config: The numeric configuration.
//
// Returns:
//   - *Detector: The detector.
//   - error: ErrInvalidConfig (wrapped) if config fails validation.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	table, err := config.AnchorTable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build anchor table")
	}

	d := &Detector{
		config: config,
		table:  table,
		nms:    config.NMS(),
		log:    logrus.WithField("component", "detector"),
	}
	d.log.WithFields(logrus.Fields{
		"num_class":       config.NumClass,
		"iou_threshold":   d.nms.IoUThreshold,
		"score_threshold": d.nms.ScoreThreshold,
		"max_bbox_size":   config.MaxBBoxSize,
	}).Info("detector ready")
	return d, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Flatten decodes the three scales and concatenates them along the detection axis.
//
// Arguments:
//   - preds: The raw predictions ordered small, medium, large.
//
// Returns:
//   - boxes: [batch, N, 4] corner-form boxes.
//   - scores: [batch, N, C] objectness times class probability.
//   - error: ErrShapeMismatch or ErrScaleOrder (wrapped) on malformed input.
func (d *Detector) Flatten(preds []*tensor.Dense) (boxes, scores *tensor.Dense, err error) {
	dims, err := ScaleDims(preds, d.config.NumClass)
	if err != nil {
		return nil, nil, errors.Wrap(err, "detect")
	}

	numClass := d.config.NumClass
	batch := dims[0].Batch
	flatBoxes := make([]*tensor.Dense, len(preds))
	flatObj := make([]*tensor.Dense, len(preds))
	flatProbs := make([]*tensor.Dense, len(preds))

	for i, s := range anchors.Scales {
		dec, err := Decode(preds[i], d.table.ForScale(s), d.config.GridSensitivityRatio, numClass)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "scale %s", s)
		}

		n := dims[i].PerImage()
		if err := dec.Boxes.Reshape(batch, n, 4); err != nil {
			return nil, nil, errors.Wrap(err, "can't flatten boxes")
		}
		if err := dec.Objectness.Reshape(batch, n, 1); err != nil {
			return nil, nil, errors.Wrap(err, "can't flatten objectness")
		}
		if err := dec.ClassProbs.Reshape(batch, n, numClass); err != nil {
			return nil, nil, errors.Wrap(err, "can't flatten class probabilities")
		}
		flatBoxes[i], flatObj[i], flatProbs[i] = dec.Boxes, dec.Objectness, dec.ClassProbs
	}

	if boxes, err = flatBoxes[0].Concat(1, flatBoxes[1:]...); err != nil {
		return nil, nil, errors.Wrap(err, "can't concatenate boxes")
	}
	obj, err := flatObj[0].Concat(1, flatObj[1:]...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't concatenate objectness")
	}
	probs, err := flatProbs[0].Concat(1, flatProbs[1:]...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't concatenate class probabilities")
	}

	objData := obj.Data().([]float32)
	probData := probs.Data().([]float32)
	scoreData := make([]float32, len(probData))
	for j, o := range objData {
		for k := 0; k < numClass; k++ {
			scoreData[j*numClass+k] = o * probData[j*numClass+k]
		}
	}

	total := len(objData) / batch
	scores = tensor.New(tensor.WithShape(batch, total, numClass), tensor.WithBacking(scoreData))
	return boxes, scores, nil
}

// Detect decodes the three scales and runs combined class-wise NMS.
//
// Arguments:
//   - preds: The raw [batch, grid, grid, 3, 5 + C] predictions ordered small, medium, large.
//
// Returns:
//   - *postprocess.Batch: Padded detections with per-image valid counts.
//   - error: If the predictions are malformed.
func (d *Detector) Detect(preds []*tensor.Dense) (*postprocess.Batch, error) {
	boxes, scores, err := d.Flatten(preds)
	if err != nil {
		return nil, err
	}

	out, err := postprocess.CombinedNMS(boxes, scores, &d.nms)
	if err != nil {
		return nil, errors.Wrap(err, "detect")
	}

	d.log.WithFields(logrus.Fields{
		"candidates":  boxes.Shape()[1],
		"valid_count": out.ValidCount,
	}).Debug("detections selected")
	return out, nil
}
