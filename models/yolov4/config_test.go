package yolov4

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yolov4.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 80, cfg.NumClass)
	assert.Equal(t, float32(1.05), cfg.GridSensitivityRatio)
	assert.Equal(t, 100, cfg.MaxBBoxSize)
	assert.True(t, cfg.ClipBoxes)

	nms := cfg.NMS()
	assert.Equal(t, cfg.MaxBBoxSize, nms.MaxPerClass)
	assert.Equal(t, cfg.MaxBBoxSize, nms.MaxTotal)
	assert.Equal(t, cfg.IoUThreshold, nms.IoUThreshold)
	assert.Equal(t, cfg.ScoreThreshold, nms.ScoreThreshold)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
num_class: 20
yolo_score_threshold: 0.3
use_ciou_loss: true
use_focal_obj_loss: true
anchors:
  image_size: 416
  values: [[10, 13], [16, 30], [33, 23], [30, 61], [62, 45], [59, 119], [116, 90], [156, 198], [373, 326]]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.NumClass)
	assert.Equal(t, float32(0.3), cfg.ScoreThreshold)
	assert.True(t, cfg.UseCIoULoss)
	assert.True(t, cfg.UseFocalObjLoss)
	assert.False(t, cfg.UseGIoULoss)

	// Untouched keys keep their defaults.
	assert.Equal(t, float32(0.5), cfg.IoUThreshold)
	assert.Equal(t, 100, cfg.MaxBBoxSize)
	assert.True(t, cfg.ClipBoxes)

	table, err := cfg.AnchorTable()
	require.NoError(t, err)
	small := table.ForScale(anchors.ScaleSmall)
	assert.InDelta(t, 373.0/416, small[2].Width, 1e-6)
	assert.InDelta(t, 326.0/416, small[2].Height, 1e-6)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{name: "malformed yaml", body: "num_class: [1"},
		{name: "zero classes", body: "num_class: 0", invalid: true},
		{name: "iou threshold above one", body: "yolo_iou_threshold: 1.5", invalid: true},
		{name: "score threshold below zero", body: "yolo_score_threshold: -0.1", invalid: true},
		{name: "max bbox size", body: "max_bbox_size: 0", invalid: true},
		{name: "label smoothing of one", body: "label_smoothing_factor: 1", invalid: true},
		{name: "giou and ciou", body: "use_giou_loss: true\nuse_ciou_loss: true", invalid: true},
		{name: "short anchor list", body: "anchors:\n  values: [[1, 2]]", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
