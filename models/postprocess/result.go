// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-yolov4/models/geometry"
	"gorgonia.org/tensor"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box geometry.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}

func (r Result) String() string {
	return fmt.Sprintf("class %d (score %.4f): %s", r.Class, r.Score, r.Box)
}

// Batch holds padded detections for every image of a batch.
//
// Only the first ValidCount[i] rows of image i are meaningful; the remaining
// rows are zero padding.
type Batch struct {
	// Boxes is [batch, max_total, 4] Float32 in corner form.
	Boxes *tensor.Dense
	// Scores is [batch, max_total] Float32.
	Scores *tensor.Dense
	// Classes is [batch, max_total] Int.
	Classes *tensor.Dense
	// ValidCount holds the number of real detections per image.
	ValidCount []int
}

// Len returns the batch size.
func (b *Batch) Len() int {
	return len(b.ValidCount)
}

// Results returns the valid detections of one image, highest score first.
//
// Arguments:
//   - i: The image index within the batch.
//
// Returns:
//   - []Result: ValidCount[i] detections.
func (b *Batch) Results(i int) []Result {
	maxTotal := b.Scores.Shape()[1]
	boxes := b.Boxes.Data().([]float32)
	scores := b.Scores.Data().([]float32)
	classes := b.Classes.Data().([]int)

	out := make([]Result, b.ValidCount[i])
	for k := range out {
		row := i*maxTotal + k
		out[k] = Result{
			Box: geometry.Box{
				X1: boxes[row*4],
				Y1: boxes[row*4+1],
				X2: boxes[row*4+2],
				Y2: boxes[row*4+3],
			},
			Score: scores[row],
			Class: classes[row],
		}
	}
	return out
}

func newBatch(batch, maxTotal int) *Batch {
	return &Batch{
		Boxes:      tensor.New(tensor.WithShape(batch, maxTotal, 4), tensor.WithBacking(make([]float32, batch*maxTotal*4))),
		Scores:     tensor.New(tensor.WithShape(batch, maxTotal), tensor.WithBacking(make([]float32, batch*maxTotal))),
		Classes:    tensor.New(tensor.WithShape(batch, maxTotal), tensor.WithBacking(make([]int, batch*maxTotal))),
		ValidCount: make([]int, batch),
	}
}

// put writes the detections of image i, truncating to the padded width.
func (b *Batch) put(i int, results []Result) {
	maxTotal := b.Scores.Shape()[1]
	boxes := b.Boxes.Data().([]float32)
	scores := b.Scores.Data().([]float32)
	classes := b.Classes.Data().([]int)

	if len(results) > maxTotal {
		results = results[:maxTotal]
	}
	for k, r := range results {
		row := i*maxTotal + k
		boxes[row*4] = r.Box.X1
		boxes[row*4+1] = r.Box.Y1
		boxes[row*4+2] = r.Box.X2
		boxes[row*4+3] = r.Box.Y2
		scores[row] = r.Score
		classes[row] = r.Class
	}
	b.ValidCount[i] = len(results)
}
