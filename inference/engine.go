package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/go-yolov4/images"
	"github.com/nvr-ai/go-yolov4/models"
	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/nvr-ai/go-yolov4/models/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Runner executes a network on one input tensor.
//
// *Session implements Runner.
type Runner interface {
	Run(ctx context.Context, input *tensor.Dense) ([]*tensor.Dense, error)
}

// Detection is one detection mapped back to the source image.
type Detection struct {
	// Class is the zero-based class index.
	Class int
	// Label is the class name, empty when the model family has no label set.
	Label string
	// Score is objectness times class probability.
	Score float32
	// Box is normalized to the network input.
	Box geometry.Box
	// Rect is the box in source-image pixels.
	Rect images.Rect
}

// Engine runs the full detection pipeline: letterbox, network, decode and NMS.
type Engine struct {
	runner Runner
	model  model.Model
	order  images.ChannelOrder
	log    *logrus.Entry
}

// NewEngine creates a new engine.
//
// Arguments:
//   - runner: Executes the network.
//   - m: Turns raw outputs into detections; its InputSize sets the letterbox size.
//   - order: The channel order the network expects.
//
// Returns:
//   - *Engine: The engine.
//   - error: If runner or m is nil.
func NewEngine(runner Runner, m model.Model, order images.ChannelOrder) (*Engine, error) {
	if runner == nil || m == nil {
		return nil, errors.New("engine requires a runner and a model")
	}
	return &Engine{
		runner: runner,
		model:  m,
		order:  order,
		log:    logrus.WithField("component", "inference"),
	}, nil
}

// Predict detects objects in one image.
//
// Arguments:
//   - ctx: Checked between stages; a cancelled context stops the pipeline.
//   - img: The source image.
//
// Returns:
//   - []Detection: Detections, highest score first.
//   - error: If preprocessing, the network or postprocessing fails.
func (e *Engine) Predict(ctx context.Context, img image.Image) ([]Detection, error) {
	opts := e.model.Options()

	input, tr, err := images.Letterbox(img, opts.InputSize, e.order)
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs, err := e.runner.Run(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "run")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := e.model.PostProcess(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "postprocess")
	}
	if batch.Len() == 0 {
		return nil, nil
	}

	results := batch.Results(0)
	detections := make([]Detection, len(results))
	for i, r := range results {
		detections[i] = Detection{
			Class: r.Class,
			Label: models.LookupName(opts.Family, r.Class),
			Score: r.Score,
			Box:   r.Box,
			Rect:  tr.Rect(r.Box),
		}
	}

	e.log.WithFields(logrus.Fields{
		"detections": len(detections),
		"width":      tr.SrcWidth,
		"height":     tr.SrcHeight,
	}).Debug("predict")
	return detections, nil
}
