package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestApplyGreedyNMS(t *testing.T) {
	config := &NMSConfig{IoUThreshold: 0.5, ScoreThreshold: 0, MaxPerClass: 10, MaxTotal: 10}

	tests := []struct {
		name       string
		detections []Result
		expected   []float32
	}{
		{
			name:       "empty",
			detections: nil,
			expected:   nil,
		},
		{
			name: "overlapping same class keeps best",
			detections: []Result{
				{Box: geometry.Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}, Score: 0.7, Class: 0},
				{Box: geometry.Box{X1: 0.01, Y1: 0.01, X2: 0.5, Y2: 0.5}, Score: 0.9, Class: 0},
			},
			expected: []float32{0.9},
		},
		{
			name: "overlapping different classes are both kept",
			detections: []Result{
				{Box: geometry.Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}, Score: 0.7, Class: 0},
				{Box: geometry.Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}, Score: 0.9, Class: 1},
			},
			expected: []float32{0.9, 0.7},
		},
		{
			name: "iou at threshold is not suppressed",
			detections: []Result{
				{Box: geometry.Box{X1: 0, Y1: 0, X2: 1, Y2: 1}, Score: 0.9, Class: 0},
				// IoU = 0.5 exactly.
				{Box: geometry.Box{X1: 0, Y1: 0, X2: 1, Y2: 0.5}, Score: 0.8, Class: 0},
			},
			expected: []float32{0.9, 0.8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGreedyNMS(tt.detections, config)
			var scores []float32
			for _, r := range got {
				scores = append(scores, r.Score)
			}
			assert.Equal(t, tt.expected, scores)
		})
	}

	t.Run("per class cap", func(t *testing.T) {
		capped := &NMSConfig{IoUThreshold: 0.5, MaxPerClass: 2, MaxTotal: 10}
		detections := []Result{
			{Box: geometry.Box{X1: 0, Y1: 0, X2: 0.1, Y2: 0.1}, Score: 0.9, Class: 0},
			{Box: geometry.Box{X1: 0.2, Y1: 0.2, X2: 0.3, Y2: 0.3}, Score: 0.8, Class: 0},
			{Box: geometry.Box{X1: 0.4, Y1: 0.4, X2: 0.5, Y2: 0.5}, Score: 0.7, Class: 0},
			{Box: geometry.Box{X1: 0.6, Y1: 0.6, X2: 0.7, Y2: 0.7}, Score: 0.6, Class: 1},
		}
		got := ApplyGreedyNMS(detections, capped)
		require.Len(t, got, 3)
		assert.Equal(t, float32(0.6), got[2].Score)
	})
}

// randomInputs builds [batch, n, 4] boxes and [batch, n, classes] scores.
func randomInputs(rng *rand.Rand, batch, n, classes int) (*tensor.Dense, *tensor.Dense) {
	boxes := make([]float32, batch*n*4)
	for i := 0; i < batch*n; i++ {
		x, y := rng.Float32()*0.6, rng.Float32()*0.6
		w, h := 0.05+rng.Float32()*0.3, 0.05+rng.Float32()*0.3
		boxes[i*4], boxes[i*4+1], boxes[i*4+2], boxes[i*4+3] = x, y, x+w, y+h
	}
	scores := make([]float32, batch*n*classes)
	for i := range scores {
		scores[i] = rng.Float32()
	}
	return tensor.New(tensor.WithShape(batch, n, 4), tensor.WithBacking(boxes)),
		tensor.New(tensor.WithShape(batch, n, classes), tensor.WithBacking(scores))
}

// TestCombinedNMSInvariants checks the output contract on random inputs: valid
// counts within the cap, no same-class overlap above the threshold, scores above
// the threshold, descending order and zero padding.
func TestCombinedNMSInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	configs := []NMSConfig{
		{IoUThreshold: 0.5, ScoreThreshold: 0.5, MaxPerClass: 100, MaxTotal: 100, ClipBoxes: true, NumWorkers: 4},
		{IoUThreshold: 0.3, ScoreThreshold: 0.2, MaxPerClass: 5, MaxTotal: 12, NumWorkers: 1},
		{IoUThreshold: 0.7, ScoreThreshold: 0.9, MaxPerClass: 3, MaxTotal: 3},
	}

	for _, config := range configs {
		config := config
		boxes, scores := randomInputs(rng, 3, 200, 4)

		out, err := CombinedNMS(boxes, scores, &config)
		require.NoError(t, err)
		require.Equal(t, 3, out.Len())

		for i := 0; i < out.Len(); i++ {
			results := out.Results(i)
			assert.LessOrEqual(t, len(results), config.MaxTotal)

			perClass := map[int]int{}
			for k, r := range results {
				assert.Greater(t, r.Score, config.ScoreThreshold)
				if k > 0 {
					assert.LessOrEqual(t, r.Score, results[k-1].Score)
				}
				perClass[r.Class]++
				for _, o := range results[:k] {
					if o.Class == r.Class {
						assert.LessOrEqual(t, geometry.IoU(o.Box, r.Box), config.IoUThreshold)
					}
				}
			}
			for _, c := range perClass {
				assert.LessOrEqual(t, c, config.MaxPerClass)
			}

			maxTotal := config.MaxTotal
			padded := out.Scores.Float32s()[i*maxTotal+len(results) : (i+1)*maxTotal]
			for _, v := range padded {
				require.Equal(t, float32(0), v)
			}
		}
	}
}

func TestCombinedNMSEmptyImage(t *testing.T) {
	boxes := tensor.New(tensor.WithShape(2, 2, 4), tensor.WithBacking([]float32{
		0, 0, 0.5, 0.5, 0.5, 0.5, 1.2, 1.1,
		0, 0, 0.5, 0.5, 0.5, 0.5, 1, 1,
	}))
	scores := tensor.New(tensor.WithShape(2, 2, 1), tensor.WithBacking([]float32{
		0.9, 0.8,
		0.1, 0.5,
	}))

	config := &NMSConfig{IoUThreshold: 0.5, ScoreThreshold: 0.5, MaxPerClass: 4, MaxTotal: 4, ClipBoxes: true}
	out, err := CombinedNMS(boxes, scores, config)
	require.NoError(t, err)

	// A score equal to the threshold is not a candidate.
	assert.Equal(t, []int{2, 0}, out.ValidCount)

	results := out.Results(0)
	assert.Equal(t, geometry.Box{X1: 0.5, Y1: 0.5, X2: 1, Y2: 1}, results[1].Box)
}

func TestCombinedNMSRejects(t *testing.T) {
	boxes := tensor.New(tensor.WithShape(1, 2, 4), tensor.WithBacking(make([]float32, 8)))
	scores := tensor.New(tensor.WithShape(1, 3, 1), tensor.WithBacking(make([]float32, 3)))
	good := &NMSConfig{IoUThreshold: 0.5, MaxPerClass: 1, MaxTotal: 1}

	_, err := CombinedNMS(boxes, scores, good)
	assert.Error(t, err)

	_, err = CombinedNMS(boxes, nil, good)
	assert.Error(t, err)

	scores = tensor.New(tensor.WithShape(1, 2, 1), tensor.WithBacking(make([]float32, 2)))
	_, err = CombinedNMS(boxes, scores, &NMSConfig{IoUThreshold: 0.5, MaxPerClass: 1})
	assert.Error(t, err)

	_, err = CombinedNMS(boxes, scores, &NMSConfig{IoUThreshold: 2, MaxPerClass: 1, MaxTotal: 1})
	assert.Error(t, err)
}
