package yolov4

import (
	"fmt"

	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layout is the memory layout of a raw head output.
type Layout string

const (
	// LayoutNHWC is [batch, grid, grid, 3*(5+C)], the TensorFlow export layout.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is [batch, 3*(5+C), grid, grid], the Darknet / PyTorch export layout.
	LayoutNCHW Layout = "nchw"
)

// ReshapeHead converts one raw head output into a [batch, grid, grid, 3, 5 + C] prediction.
//
// Arguments:
//   - head: The raw 4-D head output.
//   - numClass: C.
//   - layout: The layout of head.
//
// Returns:
//   - *tensor.Dense: The prediction tensor.
//   - error: ErrShapeMismatch (wrapped) if head does not match layout and numClass.
func ReshapeHead(head *tensor.Dense, numClass int, layout Layout) (*tensor.Dense, error) {
	out, err := ReshapeHeads([]*tensor.Dense{head}, numClass, layout)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ReshapeHeads converts raw head outputs into prediction tensors.
//
// NCHW heads are transposed to NHWC first. The reshape of every head runs in a
// single expression graph on a tape machine.
//
// Arguments:
//   - heads: The raw 4-D head outputs, in scale order.
//   - numClass: C.
//   - layout: The layout shared by all heads.
//
// Returns:
//   - []*tensor.Dense: One [batch, grid, grid, 3, 5 + C] tensor per head.
//   - error: If a head is malformed or the graph fails to run.
func ReshapeHeads(heads []*tensor.Dense, numClass int, layout Layout) ([]*tensor.Dense, error) {
	if len(heads) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no head outputs")
	}

	nhwc := make([]*tensor.Dense, len(heads))
	for i, head := range heads {
		t, err := toNHWC(head, numClass, layout)
		if err != nil {
			return nil, errors.Wrapf(err, "head %d", i)
		}
		nhwc[i] = t
	}

	g := G.NewGraph()
	inputs := make([]*G.Node, len(nhwc))
	outputs := make([]*G.Node, len(nhwc))
	for i, t := range nhwc {
		s := t.Shape()
		inputs[i] = G.NewTensor(g, tensor.Float32, 4, G.WithShape(s...), G.WithName(fmt.Sprintf("head_%d", i)))

		out, err := G.Reshape(inputs[i], tensor.Shape{s[0], s[1], s[2], anchors.PerScale, 5 + numClass})
		if err != nil {
			return nil, errors.Wrapf(err, "can't reshape head %d", i)
		}
		outputs[i] = out
	}

	for i, t := range nhwc {
		if err := G.Let(inputs[i], t); err != nil {
			return nil, errors.Wrapf(err, "can't let head %d", i)
		}
	}

	tm := G.NewTapeMachine(g)
	defer tm.Close()
	if err := tm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "can't run head graph")
	}

	preds := make([]*tensor.Dense, len(outputs))
	for i, out := range outputs {
		v, ok := out.Value().(tensor.Tensor)
		if !ok {
			return nil, errors.Errorf("head %d produced %T", i, out.Value())
		}
		preds[i] = v.Clone().(*tensor.Dense)
	}
	return preds, nil
}

// toNHWC validates head and returns it in NHWC layout.
func toNHWC(head *tensor.Dense, numClass int, layout Layout) (*tensor.Dense, error) {
	if head == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil head")
	}
	if head.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected Float32, got %v", head.Dtype())
	}

	s := head.Shape()
	if s.Dims() != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected a 4-D head, got %v", s)
	}

	channels := anchors.PerScale * (5 + numClass)
	switch layout {
	case LayoutNHWC:
		if s[1] != s[2] || s[3] != channels {
			return nil, errors.Wrapf(ErrShapeMismatch, "expected NHWC [b, g, g, %d], got %v", channels, s)
		}
		return head, nil
	case LayoutNCHW:
		if s[2] != s[3] || s[1] != channels {
			return nil, errors.Wrapf(ErrShapeMismatch, "expected NCHW [b, %d, g, g], got %v", channels, s)
		}
		t, err := tensor.Transpose(head, 0, 2, 3, 1)
		if err != nil {
			return nil, errors.Wrap(err, "can't transpose NCHW head")
		}
		return t.(*tensor.Dense), nil
	default:
		return nil, errors.Errorf("unknown layout %q", layout)
	}
}
