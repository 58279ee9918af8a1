// Package model - Definitions shared by every detection model.
package model

import (
	"github.com/nvr-ai/go-yolov4/models/postprocess"
	"gorgonia.org/tensor"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyCOCO is the COCO model family.
	ModelFamilyCOCO Family = "coco"
	// ModelFamilyYOLO is the YOLO model family.
	ModelFamilyYOLO Family = "yolo"
	// ModelFamilyVOC is the Pascal VOC model family.
	ModelFamilyVOC Family = "voc"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv4 is the name of the YOLOv4 model.
	ModelNameYOLOv4 Name = "yolov4"
)

// BaseModel is the base model for all models.
type BaseModel struct {
	Name   Name
	Family Family
	Path   string
	// InputSize is the square side the network expects, in pixels.
	InputSize int
	// Outputs are the graph output names, one per detection head.
	Outputs []string
}

// Model is a detection model whose raw outputs can be turned into detections.
type Model interface {
	Options() BaseModel
	PostProcess(outputs []*tensor.Dense) (*postprocess.Batch, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name      Name     `json:"name" yaml:"name"`
	Path      string   `json:"path" yaml:"path"`
	Family    Family   `json:"family" yaml:"family"`
	InputSize int      `json:"input_size" yaml:"input_size"`
	Outputs   []string `json:"outputs" yaml:"outputs"`
	// Layout is the memory layout of the raw head outputs ("nhwc" or "nchw").
	Layout string `json:"layout" yaml:"layout"`
	// ConfigPath points to a YAML model configuration. Defaults apply when empty.
	ConfigPath string `json:"config_path" yaml:"config_path"`
}
