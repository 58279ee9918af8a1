package loss

import (
	"sync"

	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
	"github.com/pkg/errors"
)

// IgnoreMask marks which predictions may contribute to the no-object confidence term.
//
// For every image, each predicted box is compared against the ground-truth boxes
// present in that same image (objectness != 0). A prediction whose best IoU is
// below threshold gets 1, otherwise 0. An image without ground truth is all ones.
//
// Images are independent; each one is handled by its own goroutine and writes
// only its own range of the result.
//
// Arguments:
//   - dims: The dimensions shared by predictions and truths.
//   - preds: The decoded predicted boxes, one per slot.
//   - truths: The ground-truth boxes, one per slot.
//   - objectness: The target objectness, one per slot.
//   - threshold: The IoU threshold.
//
// Returns:
//   - []float32: The mask, one value per slot.
//   - error: If the inputs do not match dims.
func IgnoreMask(dims yolov4.Dims, preds, truths []geometry.Box, objectness []float32, threshold float32) ([]float32, error) {
	n := dims.Cells()
	if len(preds) != n || len(truths) != n || len(objectness) != n {
		return nil, errors.Wrapf(yolov4.ErrShapeMismatch, "ignore mask: %d slots, got %d predictions, %d truths, %d objectness",
			n, len(preds), len(truths), len(objectness))
	}

	mask := make([]float32, n)
	errs := make([]error, dims.Batch)
	per := dims.PerImage()

	var wg sync.WaitGroup
	for b := 0; b < dims.Batch; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			lo, hi := b*per, (b+1)*per

			present := make([]geometry.Box, 0)
			for i := lo; i < hi; i++ {
				if objectness[i] != 0 {
					present = append(present, truths[i])
				}
			}
			if len(present) == 0 {
				for i := lo; i < hi; i++ {
					mask[i] = 1
				}
				return
			}

			best, err := geometry.MaxIoU(preds[lo:hi], present)
			if err != nil {
				errs[b] = errors.Wrapf(err, "image %d", b)
				return
			}
			for k, v := range best {
				if v < threshold {
					mask[lo+k] = 1
				}
			}
		}(b)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return mask, nil
}
