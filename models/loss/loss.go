// Package loss - YOLOv4 training loss.
//
// The loss is evaluated forward only: it reports the value a training step would
// minimize, split into box, confidence and class terms.
package loss

import (
	"fmt"

	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// ErrConflictingBoxLoss is returned when both GIoU and CIoU box losses are requested.
var ErrConflictingBoxLoss = errors.New("use_giou_loss and use_ciou_loss are mutually exclusive")

// BoxLossKind selects the box regression term.
type BoxLossKind int

const (
	// BoxLegacy is the squared error on the raw (tx, ty, tw, th) encoding.
	BoxLegacy BoxLossKind = iota
	// BoxGIoU is box_loss_scale * (1 - GIoU).
	BoxGIoU
	// BoxCIoU is box_loss_scale * (1 - CIoU).
	BoxCIoU
)

func (k BoxLossKind) String() string {
	switch k {
	case BoxLegacy:
		return "legacy"
	case BoxGIoU:
		return "giou"
	case BoxCIoU:
		return "ciou"
	default:
		return fmt.Sprintf("box_loss(%d)", int(k))
	}
}

// ConfidenceKind selects the objectness term.
type ConfidenceKind int

const (
	// ConfidenceBCE is BCE on positive cells plus BCE on negative cells outside the ignore mask.
	ConfidenceBCE ConfidenceKind = iota
	// ConfidenceFocal is focal loss on every cell.
	ConfidenceFocal
)

func (k ConfidenceKind) String() string {
	if k == ConfidenceFocal {
		return "focal"
	}
	return "bce"
}

// ClassKind selects the classification term.
type ClassKind int

const (
	// ClassBCE is the mean class BCE on positive cells.
	ClassBCE ClassKind = iota
	// ClassFocal is focal loss summed over classes on every cell.
	ClassFocal
)

func (k ClassKind) String() string {
	if k == ClassFocal {
		return "focal"
	}
	return "bce"
}

// Terms holds per-image loss terms.
type Terms struct {
	Box        []float32
	Confidence []float32
	Class      []float32
}

func newTerms(batch int) Terms {
	return Terms{
		Box:        make([]float32, batch),
		Confidence: make([]float32, batch),
		Class:      make([]float32, batch),
	}
}

// Total returns box + confidence + class per image.
func (t Terms) Total() []float32 {
	out := make([]float32, len(t.Box))
	for i := range out {
		out[i] = t.Box[i] + t.Confidence[i] + t.Class[i]
	}
	return out
}

// Sum returns the total over the batch.
func (t Terms) Sum() float32 {
	var sum float32
	for _, v := range t.Total() {
		sum += v
	}
	return sum
}

// add accumulates o into t. Both must have the same batch size.
func (t Terms) add(o Terms) {
	for i := range t.Box {
		t.Box[i] += o.Box[i]
		t.Confidence[i] += o.Confidence[i]
		t.Class[i] += o.Class[i]
	}
}

// Loss computes the YOLOv4 loss for a fixed configuration.
type Loss struct {
	config     yolov4.Config
	table      *anchors.Table
	box        BoxLossKind
	confidence ConfidenceKind
	class      ClassKind
	focal      Focal
	log        *logrus.Entry
}

// New resolves the loss-mode flags and builds a Loss.
//
// Arguments:
//   - config: The numeric configuration.
//
// Returns:
//   - *Loss: The loss.
//   - error: ErrConflictingBoxLoss when GIoU and CIoU are both set, or a
//     validation error from the configuration.
func New(config yolov4.Config) (*Loss, error) {
	if config.UseGIoULoss && config.UseCIoULoss {
		return nil, ErrConflictingBoxLoss
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	table, err := config.AnchorTable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build anchor table")
	}

	l := &Loss{
		config: config,
		table:  table,
		focal:  DefaultFocal(),
		log:    logrus.WithField("component", "loss"),
	}

	switch {
	case config.UseGIoULoss:
		l.box = BoxGIoU
	case config.UseCIoULoss:
		l.box = BoxCIoU
	default:
		l.box = BoxLegacy
	}
	if config.UseFocalObjLoss {
		l.confidence = ConfidenceFocal
	}
	if config.UseFocalLoss {
		l.class = ClassFocal
	}

	l.log.WithFields(logrus.Fields{
		"box":             l.box,
		"confidence":      l.confidence,
		"class":           l.class,
		"label_smoothing": config.LabelSmoothingFactor,
	}).Info("loss ready")
	return l, nil
}

// BoxKind returns the resolved box loss.
func (l *Loss) BoxKind() BoxLossKind { return l.box }

// ConfidenceKind returns the resolved confidence loss.
func (l *Loss) ConfidenceKind() ConfidenceKind { return l.confidence }

// ClassKind returns the resolved class loss.
func (l *Loss) ClassKind() ClassKind { return l.class }

// ComputeTerms evaluates every scale and sums the terms per image.
//
// Arguments:
//   - preds: The 3 raw predictions ordered small, medium, large.
//   - targets: The 3 matching targets.
//
// Returns:
//   - Terms: Per-image terms summed over scales.
//   - error: ErrShapeMismatch or ErrScaleOrder (wrapped) on malformed input.
func (l *Loss) ComputeTerms(preds, targets []*tensor.Dense) (Terms, error) {
	dims, err := yolov4.ScaleDims(preds, l.config.NumClass)
	if err != nil {
		return Terms{}, errors.Wrap(err, "predictions")
	}
	if _, err := yolov4.ScaleDims(targets, l.config.NumClass); err != nil {
		return Terms{}, errors.Wrap(err, "targets")
	}

	total := newTerms(dims[0].Batch)
	for i, s := range anchors.Scales {
		terms, err := l.Layer(preds[i], targets[i], l.table.ForScale(s))
		if err != nil {
			return Terms{}, errors.Wrapf(err, "scale %s", s)
		}
		total.add(terms)
	}

	l.log.WithFields(logrus.Fields{
		"box":        sum(total.Box),
		"confidence": sum(total.Confidence),
		"class":      sum(total.Class),
	}).Debug("loss computed")
	return total, nil
}

// Compute returns the scalar loss summed over scales and images.
func (l *Loss) Compute(preds, targets []*tensor.Dense) (float32, error) {
	terms, err := l.ComputeTerms(preds, targets)
	if err != nil {
		return 0, err
	}
	return terms.Sum(), nil
}

func sum(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x
	}
	return s
}
