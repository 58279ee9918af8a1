// Package models - registry for models.
package models

import (
	"fmt"

	"github.com/nvr-ai/go-yolov4/models/model"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
)

// NewModel creates a new detection model instance based on the specified model name.
//
// This factory function is the entry point for model creation, routing requests
// to the model-specific constructors.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and location.
//
// Returns:
//   - model.Model: A fully configured model instance implementing the Model interface.
//   - error: An error if model creation fails or the model name is unsupported.
//
// Example:
//
// ```go
//
//	m, err := NewModel(model.NewModelArgs{
//	    Name:   model.ModelNameYOLOv4,
//	    Path:   "/models/yolov4.onnx",
//	    Layout: "nchw",
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameYOLOv4, "":
		m, err := yolov4.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}
