package geometry

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIoU_Correctness validates the IoU implementation against known test cases.
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		a        Box
		b        Box
		expected float32
	}{
		{
			name:     "Identical boxes",
			a:        Box{0, 0, 1, 1},
			b:        Box{0, 0, 1, 1},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			a:        Box{0, 0, 0.1, 0.1},
			b:        Box{0.2, 0.2, 0.3, 0.3},
			expected: 0.0,
		},
		{
			name:     "Touching edges",
			a:        Box{0, 0, 0.5, 0.5},
			b:        Box{0.5, 0, 1, 0.5},
			expected: 0.0,
		},
		{
			name:     "Quarter overlap",
			a:        Box{0, 0, 10, 10},
			b:        Box{5, 5, 15, 15},
			expected: 25.0 / 175.0,
		},
		{
			name:     "One inside other",
			a:        Box{0, 0, 100, 100},
			b:        Box{25, 25, 75, 75},
			expected: 0.25,
		},
		{
			name:     "Both degenerate",
			a:        Box{0.3, 0.3, 0.3, 0.3},
			b:        Box{0.3, 0.3, 0.3, 0.3},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IoU(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, 1e-5)
			assert.False(t, math.IsNaN(float64(result)), "IoU must never be NaN")

			// IoU(A, B) should equal IoU(B, A).
			assert.InDelta(t, result, IoU(tt.b, tt.a), 1e-6)
		})
	}
}

func TestGIoU(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		b := Box{0.1, 0.1, 0.4, 0.6}
		assert.InDelta(t, 1.0, GIoU(b, b), 1e-6)
	})

	t.Run("disjoint boxes are penalized by distance", func(t *testing.T) {
		a := Box{0, 0, 1, 1}
		near := Box{2, 0, 3, 1}
		far := Box{9, 0, 10, 1}

		// union = 2, enclosing = 3 -> -(1/3)
		assert.InDelta(t, -1.0/3.0, GIoU(a, near), 1e-6)
		assert.Less(t, GIoU(a, far), GIoU(a, near))
		assert.Greater(t, GIoU(a, far), float32(-1))
	})

	t.Run("degenerate boxes", func(t *testing.T) {
		b := Box{0.5, 0.5, 0.5, 0.5}
		assert.Equal(t, float32(0), GIoU(b, b))
	})
}

func TestCIoU(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		b := Box{0.2, 0.2, 0.5, 0.8}
		assert.InDelta(t, 1.0, CIoU(b, b), 1e-6)
		assert.InDelta(t, 1.0, DIoU(b, b), 1e-6)
	})

	t.Run("same center different aspect", func(t *testing.T) {
		a := FromCenter(0.5, 0.5, 0.2, 0.2)
		b := FromCenter(0.5, 0.5, 0.4, 0.1)

		iou := IoU(a, b)
		// Concentric boxes have no center penalty.
		assert.InDelta(t, iou, DIoU(a, b), 1e-6)

		d := math.Atan(1) - math.Atan(4)
		v := 4 / (math.Pi * math.Pi) * d * d
		alpha := v / (1 - float64(iou) + v)
		assert.InDelta(t, float64(iou)-alpha*v, CIoU(a, b), 1e-5)
	})

	t.Run("zero height does not blow up", func(t *testing.T) {
		a := Box{0.1, 0.5, 0.4, 0.5}
		b := Box{0.1, 0.1, 0.4, 0.6}
		c := CIoU(a, b)
		assert.False(t, math.IsNaN(float64(c)))
		assert.False(t, math.IsInf(float64(c), 0))
	})
}

// TestMetricOrdering checks CIoU <= DIoU <= IoU and GIoU <= IoU on assorted pairs.
func TestMetricOrdering(t *testing.T) {
	pairs := [][2]Box{
		{{0, 0, 0.5, 0.5}, {0.25, 0.25, 0.75, 0.6}},
		{{0.1, 0.1, 0.2, 0.5}, {0.1, 0.1, 0.5, 0.2}},
		{{0, 0, 0.1, 0.1}, {0.8, 0.8, 1, 0.9}},
		{{0.3, 0.3, 0.6, 0.4}, {0.35, 0.2, 0.5, 0.7}},
	}

	for _, p := range pairs {
		a, b := p[0], p[1]
		iou := IoU(a, b)
		assert.LessOrEqual(t, GIoU(a, b), iou+1e-6, "GIoU > IoU for %v %v", a, b)
		assert.LessOrEqual(t, DIoU(a, b), iou+1e-6, "DIoU > IoU for %v %v", a, b)
		assert.LessOrEqual(t, CIoU(a, b), DIoU(a, b)+1e-6, "CIoU > DIoU for %v %v", a, b)
	}
}

func TestElementwise(t *testing.T) {
	a := []Box{{0, 0, 1, 1}, {0, 0, 1, 1}}
	b := []Box{{0, 0, 1, 1}, {2, 2, 3, 3}}

	out, err := Elementwise(IoU, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, out)

	_, err = Elementwise(IoU, a, b[:1])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestBroadcastIoU(t *testing.T) {
	preds := []Box{
		{0, 0, 1, 1},
		{0, 0, 0.5, 0.5},
		{5, 5, 6, 6},
	}
	truths := []Box{
		{0, 0, 1, 1},
		{0, 0, 0.5, 1},
	}

	m, err := BroadcastIoU(preds, truths)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, []int(m.Shape()))

	v, err := m.At(1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v.(float32), 1e-6)

	best, err := MaxIoU(preds, truths)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 0.5, 0}, best, 1e-6)

	empty, err := MaxIoU(preds, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, empty)

	_, err = BroadcastIoU(nil, truths)
	assert.Error(t, err)
}

func TestBoxHelpers(t *testing.T) {
	b := FromCenter(0.5, 0.5, 0.4, 0.2)
	assert.InDelta(t, 0.3, b.X1, 1e-6)
	assert.InDelta(t, 0.4, b.Y1, 1e-6)
	assert.InDelta(t, 0.08, b.Area(), 1e-6)

	cx, cy := b.Center()
	assert.InDelta(t, 0.5, cx, 1e-6)
	assert.InDelta(t, 0.5, cy, 1e-6)

	clipped := Box{-0.2, 0.1, 1.3, 0.9}.Clip(0, 1)
	assert.Equal(t, Box{0, 0.1, 1, 0.9}, clipped)

	assert.Equal(t, Box{10, 20, 30, 40}, Box{1, 2, 3, 4}.Scale(10, 10))
}
