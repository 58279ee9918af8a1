// Package yolov4 - YOLOv4 model.
package yolov4

import (
	"sort"

	"github.com/nvr-ai/go-yolov4/models/model"
	"github.com/nvr-ai/go-yolov4/models/postprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DefaultInputSize is the network input side used when none is given.
const DefaultInputSize = 416

// YOLOv4 is the instance of the YOLOv4 model.
type YOLOv4 struct {
	options  model.BaseModel
	layout   Layout
	detector *Detector
}

// Options returns the options for the YOLOv4 model.
//
// Returns:
//   - The options for the YOLOv4 model.
func (m *YOLOv4) Options() model.BaseModel {
	return m.options
}

// Detector returns the detector used by PostProcess.
func (m *YOLOv4) Detector() *Detector {
	return m.detector
}

// PostProcess turns raw network outputs into padded detections.
//
// Outputs may be rank-5 predictions or rank-4 heads in the model layout, in
// any order; they are sorted from the coarsest to the finest grid first.
//
// Arguments:
//   - outputs: The three raw outputs of one forward pass.
//
// Returns:
//   - *postprocess.Batch: The detections of every image.
//   - error: If the outputs do not form a valid YOLOv4 prediction set.
func (m *YOLOv4) PostProcess(outputs []*tensor.Dense) (*postprocess.Batch, error) {
	numClass := m.detector.Config().NumClass

	preds := make([]*tensor.Dense, len(outputs))
	for i, out := range outputs {
		if out == nil {
			return nil, errors.Wrapf(ErrShapeMismatch, "output %d is nil", i)
		}
		if out.Dims() == 5 {
			preds[i] = out
			continue
		}
		pred, err := ReshapeHead(out, numClass, m.layout)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		preds[i] = pred
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Shape()[1] < preds[j].Shape()[1]
	})

	return m.detector.Detect(preds)
}

// NewModel creates a new model.
//
// Arguments:
//   - args: The arguments for creating a new model.
//
// Returns:
//   - The model.
func NewModel(args model.NewModelArgs) (*YOLOv4, error) {
	config := DefaultConfig()
	if args.ConfigPath != "" {
		loaded, err := LoadConfig(args.ConfigPath)
		if err != nil {
			return nil, err
		}
		config = *loaded
	}
	return NewModelWithConfig(args, config)
}

// NewModelWithConfig creates a new model from an already loaded configuration.
func NewModelWithConfig(args model.NewModelArgs, config Config) (*YOLOv4, error) {
	layout := Layout(args.Layout)
	switch layout {
	case "":
		layout = LayoutNHWC
	case LayoutNHWC, LayoutNCHW:
	default:
		return nil, errors.Errorf("unknown head layout %q", args.Layout)
	}

	size := args.InputSize
	if size == 0 {
		size = DefaultInputSize
	}
	if size%32 != 0 {
		return nil, errors.Errorf("input size %d is not a multiple of 32", size)
	}

	detector, err := NewDetector(config)
	if err != nil {
		return nil, err
	}

	family := args.Family
	if family == "" {
		family = model.ModelFamilyYOLO
	}

	return &YOLOv4{
		options: model.BaseModel{
			Name:      model.ModelNameYOLOv4,
			Family:    family,
			Path:      args.Path,
			InputSize: size,
			Outputs:   args.Outputs,
		},
		layout:   layout,
		detector: detector,
	}, nil
}
