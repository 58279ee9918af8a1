package yolov4

import (
	"os"
	"runtime"

	"github.com/nvr-ai/go-yolov4/models/anchors"
	"github.com/nvr-ai/go-yolov4/models/postprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid yolov4 config")

// Config holds the numeric configuration shared by the loss and the detector.
type Config struct {
	// NumClass is the number of object classes C; the last tensor axis is 5 + C.
	NumClass int `json:"num_class" yaml:"num_class"`
	// GridSensitivityRatio scales the sigmoid of the center offsets.
	GridSensitivityRatio float32 `json:"grid_sensitivity_ratio" yaml:"grid_sensitivity_ratio"`
	// IoUThreshold is used both for NMS suppression and for the loss ignore mask.
	IoUThreshold float32 `json:"yolo_iou_threshold" yaml:"yolo_iou_threshold"`
	// ScoreThreshold filters candidates before NMS.
	ScoreThreshold float32 `json:"yolo_score_threshold" yaml:"yolo_score_threshold"`
	// MaxBBoxSize caps detections both per class and per image.
	MaxBBoxSize int `json:"max_bbox_size" yaml:"max_bbox_size"`
	// LabelSmoothingFactor is the epsilon applied to target class vectors.
	LabelSmoothingFactor float32 `json:"label_smoothing_factor" yaml:"label_smoothing_factor"`

	UseFocalLoss    bool `json:"use_focal_loss" yaml:"use_focal_loss"`
	UseFocalObjLoss bool `json:"use_focal_obj_loss" yaml:"use_focal_obj_loss"`
	UseGIoULoss     bool `json:"use_giou_loss" yaml:"use_giou_loss"`
	UseCIoULoss     bool `json:"use_ciou_loss" yaml:"use_ciou_loss"`

	// Anchors is the anchor table in serialized form.
	Anchors anchors.Config `json:"anchors" yaml:"anchors"`
	// ClipBoxes clips final detections to the unit square.
	ClipBoxes bool `json:"clip_boxes" yaml:"clip_boxes"`
	// NMSWorkers is the number of goroutines used by NMS.
	NMSWorkers int `json:"nms_workers" yaml:"nms_workers"`
}

// DefaultConfig returns the YOLOv4 COCO defaults.
//
// Returns:
//   - Config: 80 classes, 1.05 grid sensitivity, 0.5 thresholds, 100 boxes.
func DefaultConfig() Config {
	return Config{
		NumClass:             80,
		GridSensitivityRatio: 1.05,
		IoUThreshold:         0.5,
		ScoreThreshold:       0.5,
		MaxBBoxSize:          100,
		Anchors:              anchors.DefaultConfig(),
		ClipBoxes:            true,
		NMSWorkers:           runtime.NumCPU(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
//
// Keys missing from the file keep their default value.
//
// Arguments:
//   - path: The path of the YAML file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: If the file can't be read, parsed or fails validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value against its documented range.
func (c Config) Validate() error {
	switch {
	case c.NumClass <= 0:
		return errors.Wrapf(ErrInvalidConfig, "num_class must be positive, got %d", c.NumClass)
	case c.GridSensitivityRatio <= 0:
		return errors.Wrapf(ErrInvalidConfig, "grid_sensitivity_ratio must be positive, got %v", c.GridSensitivityRatio)
	case c.IoUThreshold < 0 || c.IoUThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "yolo_iou_threshold %v outside [0, 1]", c.IoUThreshold)
	case c.ScoreThreshold < 0 || c.ScoreThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "yolo_score_threshold %v outside [0, 1]", c.ScoreThreshold)
	case c.MaxBBoxSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max_bbox_size must be positive, got %d", c.MaxBBoxSize)
	case c.LabelSmoothingFactor < 0 || c.LabelSmoothingFactor >= 1:
		return errors.Wrapf(ErrInvalidConfig, "label_smoothing_factor %v outside [0, 1)", c.LabelSmoothingFactor)
	case c.UseGIoULoss && c.UseCIoULoss:
		return errors.Wrap(ErrInvalidConfig, "use_giou_loss and use_ciou_loss are mutually exclusive")
	case c.NMSWorkers < 0:
		return errors.Wrapf(ErrInvalidConfig, "nms_workers must not be negative, got %d", c.NMSWorkers)
	}

	if _, err := c.Anchors.Table(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// AnchorTable builds the validated anchor table.
func (c Config) AnchorTable() (*anchors.Table, error) {
	return c.Anchors.Table()
}

// NMS returns the NMS configuration derived from c.
//
// max_bbox_size feeds both the per-class and the total cap.
func (c Config) NMS() postprocess.NMSConfig {
	return postprocess.NMSConfig{
		IoUThreshold:   c.IoUThreshold,
		ScoreThreshold: c.ScoreThreshold,
		MaxPerClass:    c.MaxBBoxSize,
		MaxTotal:       c.MaxBBoxSize,
		ClipBoxes:      c.ClipBoxes,
		NumWorkers:     c.NMSWorkers,
	}
}
