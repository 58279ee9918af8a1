package yolov4

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const detectClasses = 2

// quiet returns a batch of predictions with confidently empty objectness.
func quiet(batch, grid int) *tensor.Dense {
	t := zeros(batch, grid, detectClasses)
	data := t.Float32s()
	for i := 0; i < len(data); i += 5 + detectClasses {
		data[i+4] = -20
	}
	return t
}

// set overwrites the activations of one slot.
func set(t *testing.T, pred *tensor.Dense, image, row, col, anchor int, values ...float32) {
	t.Helper()
	d, err := PredictionDims(pred, detectClasses)
	require.NoError(t, err)
	i := d.Index(image, row, col, anchor)
	copy(pred.Float32s()[i*d.Attrs:(i+1)*d.Attrs], values)
}

func detectorConfig() Config {
	cfg := DefaultConfig()
	cfg.NumClass = detectClasses
	cfg.NMSWorkers = 2
	return cfg
}

// detectionFixture builds a two-image batch over grids 2, 4 and 8. Image 0 holds:
//   - box A, class 0, score ~1 (small scale),
//   - a duplicate of A, class 0, score ~0.95 (medium scale, must be suppressed),
//   - a copy of A, class 1, score ~0.88 (large scale, different class, kept),
//   - a wide box on the right edge, class 0, score 0.6 (large scale, clipped),
//   - a box scoring 0.3 (medium scale, below threshold).
//
// Image 1 is empty.
func detectionFixture(t *testing.T) ([]*tensor.Dense, geometry.Box) {
	t.Helper()
	table := anchors.Default()
	small := table.ForScale(anchors.ScaleSmall)
	medium := table.ForScale(anchors.ScaleMedium)
	large := table.ForScale(anchors.ScaleLarge)
	const s = float32(1.05)

	preds := []*tensor.Dense{quiet(2, 2), quiet(2, 4), quiet(2, 8)}

	cx, cy := float32(0.525/2), float32(0.525/2)
	w, h := small[0].Width, small[0].Height
	boxA := geometry.FromCenter(cx, cy, w, h)
	set(t, preds[0], 0, 0, 0, 0, 0, 0, 0, 0, 20, 20, -20)

	tx, ty, tw, th := EncodeBox(cx, cy, w, h, 1, 1, 4, medium[0], s)
	set(t, preds[1], 0, 1, 1, 0, tx, ty, tw, th, 3, 20, -20)

	tx, ty, tw, th = EncodeBox(cx, cy, w, h, 2, 2, 8, large[0], s)
	set(t, preds[2], 0, 2, 2, 0, tx, ty, tw, th, 2, -20, 20)

	set(t, preds[2], 0, 7, 7, 1, 0, 0, math32.Log(10), 0, logit(0.6), 20, -20)

	set(t, preds[1], 0, 3, 0, 2, 0, 0, 0, 0, logit(0.3), 20, 20)

	return preds, boxA
}

func TestDetect(t *testing.T) {
	det, err := NewDetector(detectorConfig())
	require.NoError(t, err)

	preds, boxA := detectionFixture(t)
	out, err := det.Detect(preds)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Len())
	assert.Equal(t, []int{3, 0}, out.ValidCount)
	assert.Equal(t, []int{2, 100, 4}, []int(out.Boxes.Shape()))
	assert.Equal(t, []int{2, 100}, []int(out.Scores.Shape()))
	assert.Equal(t, []int{2, 100}, []int(out.Classes.Shape()))

	results := out.Results(0)
	require.Len(t, results, 3)

	assert.Equal(t, 0, results[0].Class)
	assert.InDelta(t, 1, results[0].Score, 1e-6)
	assert.InDelta(t, 1, geometry.IoU(boxA, results[0].Box), 1e-4)

	assert.Equal(t, 1, results[1].Class)
	assert.InDelta(t, 1/(1+math32.Exp(-2)), results[1].Score, 1e-5)
	assert.InDelta(t, 1, geometry.IoU(boxA, results[1].Box), 1e-4)

	assert.Equal(t, 0, results[2].Class)
	assert.InDelta(t, 0.6, results[2].Score, 1e-5)
	assert.Equal(t, float32(1), results[2].Box.X2, "box on the edge is clipped")

	// Padding after the valid rows is zero.
	scores := out.Scores.Float32s()
	for _, v := range scores[3:100] {
		require.Equal(t, float32(0), v)
	}
	assert.Empty(t, out.Results(1))
}

func TestDetectCaps(t *testing.T) {
	cfg := detectorConfig()
	cfg.MaxBBoxSize = 1
	cfg.ClipBoxes = false
	det, err := NewDetector(cfg)
	require.NoError(t, err)

	preds, _ := detectionFixture(t)
	out, err := det.Detect(preds)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, out.ValidCount)
	assert.Equal(t, []int{2, 1, 4}, []int(out.Boxes.Shape()))
	assert.Equal(t, 0, out.Results(0)[0].Class)
}

func TestFlatten(t *testing.T) {
	det, err := NewDetector(detectorConfig())
	require.NoError(t, err)

	preds, _ := detectionFixture(t)
	boxes, scores, err := det.Flatten(preds)
	require.NoError(t, err)

	total := (2*2 + 4*4 + 8*8) * 3
	assert.Equal(t, []int{2, total, 4}, []int(boxes.Shape()))
	assert.Equal(t, []int{2, total, detectClasses}, []int(scores.Shape()))

	// The first slot of image 0 comes from the small scale.
	v, err := scores.At(0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1, v.(float32), 1e-6)
}

func TestDetectRejects(t *testing.T) {
	det, err := NewDetector(detectorConfig())
	require.NoError(t, err)

	tests := []struct {
		name  string
		preds []*tensor.Dense
		want  error
	}{
		{name: "two scales", preds: []*tensor.Dense{quiet(1, 2), quiet(1, 4)}, want: ErrShapeMismatch},
		{name: "reversed scales", preds: []*tensor.Dense{quiet(1, 8), quiet(1, 4), quiet(1, 2)}, want: ErrScaleOrder},
		{name: "wrong classes", preds: []*tensor.Dense{zeros(1, 2, 3), quiet(1, 4), quiet(1, 8)}, want: ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := det.Detect(tt.preds)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err = NewDetector(Config{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestDetectRejectsEmptyBatch(t *testing.T) {
	det, err := NewDetector(detectorConfig())
	require.NoError(t, err)

	preds := []*tensor.Dense{
		zeros(0, 2, detectClasses),
		zeros(0, 4, detectClasses),
		zeros(0, 8, detectClasses),
	}
	_, err = det.Detect(preds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}
