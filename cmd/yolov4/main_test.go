package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-yolov4/images"
	"github.com/nvr-ai/go-yolov4/inference"
	"github.com/nvr-ai/go-yolov4/models/model"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestRunRejects(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		opts Options
	}{
		{name: "no image", opts: Options{Layout: "nchw", InputSize: 416}},
		{name: "bad layout", opts: Options{ImagePath: "a.jpg", Layout: "chwn", InputSize: 416}},
		{name: "bad input size", opts: Options{ImagePath: "a.jpg", Layout: "nhwc", InputSize: 100}},
		{name: "missing config", opts: Options{ImagePath: "a.jpg", Layout: "nchw", InputSize: 416, ConfigPath: filepath.Join(dir, "absent.yaml")}},
		{name: "missing image", opts: Options{ImagePath: filepath.Join(dir, "absent.jpg"), Layout: "nchw", InputSize: 416}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(context.Background(), tt.opts))
		})
	}
}

// emptyRunner returns 64-pixel NCHW heads with no confident prediction.
type emptyRunner struct{}

func (emptyRunner) Run(context.Context, *tensor.Dense) ([]*tensor.Dense, error) {
	var heads []*tensor.Dense
	for _, grid := range []int{2, 4, 8} {
		data := make([]float32, 255*grid*grid)
		for a := 0; a < 3; a++ {
			obj := (a*85 + 4) * grid * grid
			for i := 0; i < grid*grid; i++ {
				data[obj+i] = -20
			}
		}
		heads = append(heads, tensor.New(tensor.WithShape(1, 255, grid, grid), tensor.WithBacking(data)))
	}
	return heads, nil
}

func TestDetectWritesAnnotation(t *testing.T) {
	m, err := yolov4.NewModel(model.NewModelArgs{InputSize: 64, Layout: "nchw"})
	require.NoError(t, err)
	engine, err := inference.NewEngine(emptyRunner{}, m, images.ChannelOrderCHW)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30))))
	file := images.File{Path: "frame-1.png", Image: images.Image{Data: buf.Bytes()}, Frame: 1}

	out := t.TempDir()
	require.NoError(t, detect(context.Background(), engine, file, out))

	f, err := os.Open(filepath.Join(out, "frame-1.png"))
	require.NoError(t, err)
	defer f.Close()
	written, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), written.Bounds())

	bad := images.File{Path: "bad.png", Image: images.Image{Data: []byte("nope")}}
	assert.Error(t, detect(context.Background(), engine, bad, ""))
}
