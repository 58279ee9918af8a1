// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"runtime"
	"sort"
	"sync"

	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold   float32 `json:"iou_threshold" yaml:"iou_threshold"`     // Overlap above which a box is suppressed.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"` // Scores at or below are dropped before suppression.
	MaxPerClass    int     `json:"max_per_class" yaml:"max_per_class"`     // Cap on kept boxes per class and image.
	MaxTotal       int     `json:"max_total" yaml:"max_total"`             // Cap on kept boxes per image; also the padded width.
	ClipBoxes      bool    `json:"clip_boxes" yaml:"clip_boxes"`           // Clip output boxes to [0, 1].
	NumWorkers     int     `json:"num_workers" yaml:"num_workers"`         // Number of goroutines processing images.
}

// Validate checks thresholds and caps.
func (c *NMSConfig) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold %v outside [0, 1]", c.IoUThreshold)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return errors.Errorf("score threshold %v outside [0, 1]", c.ScoreThreshold)
	}
	if c.MaxPerClass <= 0 {
		return errors.Errorf("max per class must be positive, got %d", c.MaxPerClass)
	}
	if c.MaxTotal <= 0 {
		return errors.Errorf("max total must be positive, got %d", c.MaxTotal)
	}
	return nil
}

// ApplyGreedyNMS performs class-wise greedy Non-Maximum Suppression.
//
// Detections are visited in descending score order. A detection is kept unless
// a kept detection of the same class overlaps it with IoU above the threshold.
// At most MaxPerClass detections survive per class (no cap when it is 0).
//
// Arguments:
//   - detections: Detections in any order; the slice is not modified.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections sorted by descending score. If no detections are
//     provided, returns nil.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := make([]Result, n)
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	filtered := make([]Result, 0, n)
	kept := make(map[int][]geometry.Box)

	for _, candidate := range sorted {
		same := kept[candidate.Class]
		if config.MaxPerClass > 0 && len(same) >= config.MaxPerClass {
			continue
		}

		suppressed := false
		for _, box := range same {
			// Suppress if IoU exceeds threshold
			if geometry.IoU(box, candidate.Box) > config.IoUThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}

		kept[candidate.Class] = append(same, candidate.Box)
		filtered = append(filtered, candidate)
	}

	return filtered
}

// CombinedNMS runs score filtering and class-wise greedy NMS for every image.
//
// A box may score for several classes; each (box, class) pair with a score
// above ScoreThreshold is a separate candidate. After per-class suppression the
// survivors of all classes are merged, the MaxTotal best are kept and written
// into a padded Batch.
//
// Images are independent and are spread over a worker pool of NumWorkers
// goroutines (runtime.NumCPU() when unset).
//
// Arguments:
//   - boxes: [batch, N, 4] Float32 corner-form boxes.
//   - scores: [batch, N, C] Float32 per-class scores.
//   - config: NMS configuration.
//
// Returns:
//   - *Batch: Padded detections and per-image valid counts.
//   - error: If shapes or configuration are invalid.
func CombinedNMS(boxes, scores *tensor.Dense, config *NMSConfig) (*Batch, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid NMS config")
	}
	if boxes == nil || scores == nil {
		return nil, errors.New("combined NMS needs boxes and scores")
	}

	bs, ss := boxes.Shape(), scores.Shape()
	if bs.Dims() != 3 || bs[2] != 4 {
		return nil, errors.Errorf("boxes must be [batch, N, 4], got %v", bs)
	}
	if ss.Dims() != 3 || ss[0] != bs[0] || ss[1] != bs[1] {
		return nil, errors.Errorf("scores %v do not match boxes %v", ss, bs)
	}

	boxData, ok := boxes.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("boxes must be Float32, got %v", boxes.Dtype())
	}
	scoreData, ok := scores.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("scores must be Float32, got %v", scores.Dtype())
	}

	batch, n, classes := bs[0], bs[1], ss[2]
	out := newBatch(batch, config.MaxTotal)

	workers := config.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > batch {
		workers = batch
	}

	jobs := make(chan int, batch)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				imgBoxes := boxData[i*n*4 : (i+1)*n*4]
				imgScores := scoreData[i*n*classes : (i+1)*n*classes]
				out.put(i, selectImage(imgBoxes, imgScores, n, classes, config))
			}
		}()
	}

	for i := 0; i < batch; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out, nil
}

// selectImage returns the final detections of one image, best first.
func selectImage(boxes, scores []float32, n, classes int, config *NMSConfig) []Result {
	candidates := make([]Result, 0)
	for j := 0; j < n; j++ {
		for c := 0; c < classes; c++ {
			score := scores[j*classes+c]
			if !(score > config.ScoreThreshold) {
				continue
			}
			candidates = append(candidates, Result{
				Box: geometry.Box{
					X1: boxes[j*4],
					Y1: boxes[j*4+1],
					X2: boxes[j*4+2],
					Y2: boxes[j*4+3],
				},
				Score: score,
				Class: c,
			})
		}
	}

	kept := ApplyGreedyNMS(candidates, config)
	if len(kept) > config.MaxTotal {
		kept = kept[:config.MaxTotal]
	}
	if config.ClipBoxes {
		for k := range kept {
			kept[k].Box = kept[k].Box.Clip(0, 1)
		}
	}
	return kept
}
