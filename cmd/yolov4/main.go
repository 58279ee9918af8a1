// Package main - YOLOv4 detection on a single image with ONNX Runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/go-yolov4/images"
	"github.com/nvr-ai/go-yolov4/inference"
	"github.com/nvr-ai/go-yolov4/models"
	"github.com/nvr-ai/go-yolov4/models/model"
	"github.com/nvr-ai/go-yolov4/models/yolov4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options holds the command line flags.
type Options struct {
	ConfigPath  string
	ModelPath   string
	ImagePath   string
	OutputPath  string
	LibraryPath string
	Backend     string
	Layout      string
	LogLevel    string
	InputSize   int
}

func main() {
	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML model configuration (defaults apply when empty)")
	flag.StringVar(&opts.ModelPath, "model", "yolov4.onnx", "Path to the YOLOv4 ONNX model")
	flag.StringVar(&opts.ImagePath, "image", "", "Path to an image file (.jpg, .jpeg, .png, .webp) or a directory of them")
	flag.StringVar(&opts.OutputPath, "output", "", "Directory for annotated PNGs")
	flag.StringVar(&opts.LibraryPath, "lib", "", "Path to the ONNX Runtime shared library")
	flag.StringVar(&opts.Backend, "backend", string(inference.BackendCPU), "Execution provider: cpu, cuda or coreml")
	flag.StringVar(&opts.Layout, "layout", string(yolov4.LayoutNCHW), "Tensor layout of the model: nchw or nhwc")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flag.IntVar(&opts.InputSize, "input-size", yolov4.DefaultInputSize, "Network input side in pixels (multiple of 32)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logrus.WithError(err).Fatal("detection failed")
	}
}

func run(ctx context.Context, opts Options) error {
	if opts.ImagePath == "" {
		return errors.New("-image is required")
	}

	layout := yolov4.Layout(strings.ToLower(opts.Layout))
	order := images.ChannelOrderCHW
	inputShape := []int64{1, 3, int64(opts.InputSize), int64(opts.InputSize)}
	if layout == yolov4.LayoutNHWC {
		order = images.ChannelOrderHWC
		inputShape = []int64{1, int64(opts.InputSize), int64(opts.InputSize), 3}
	}

	m, err := models.NewModel(model.NewModelArgs{
		Name:       model.ModelNameYOLOv4,
		Path:       opts.ModelPath,
		InputSize:  opts.InputSize,
		Layout:     string(layout),
		ConfigPath: opts.ConfigPath,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create model")
	}

	files, err := images.LoadFiles(opts.ImagePath)
	if err != nil {
		return err
	}

	session, err := inference.NewSession(inference.SessionArgs{
		ModelPath:   opts.ModelPath,
		LibraryPath: opts.LibraryPath,
		InputShape:  inputShape,
		Backend:     inference.Backend(opts.Backend),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close session")
		}
	}()

	engine, err := inference.NewEngine(session, m, order)
	if err != nil {
		return err
	}

	if opts.OutputPath != "" {
		if err := os.MkdirAll(opts.OutputPath, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}

	for _, file := range files {
		if err := detect(ctx, engine, file, opts.OutputPath); err != nil {
			return errors.Wrap(err, file.Path)
		}
	}
	return nil
}

// detect runs the engine on one file, logs every detection and optionally
// writes an annotated PNG into outputDir.
func detect(ctx context.Context, engine *inference.Engine, file images.File, outputDir string) error {
	src, err := file.Image.Decode()
	if err != nil {
		return err
	}

	detections, err := engine.Predict(ctx, src)
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"image": file.Path, "width": file.Image.Width, "height": file.Image.Height})
	log.WithField("count", len(detections)).Info("detections")

	annotations := make([]images.Annotation, 0, len(detections))
	for _, d := range detections {
		label := d.Label
		if label == "" {
			label = fmt.Sprintf("class %d", d.Class)
		}
		log.WithFields(logrus.Fields{
			"label": label,
			"score": d.Score,
			"box":   d.Rect.String(),
		}).Info("detection")
		annotations = append(annotations, images.Annotation{Rect: d.Rect, Label: label})
	}

	if outputDir == "" {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(file.Path), filepath.Ext(file.Path))
	out := filepath.Join(outputDir, base+".png")
	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "failed to create output")
	}
	defer f.Close()
	if err := png.Encode(f, images.Annotate(src, annotations)); err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	log.WithField("output", out).Info("annotated image written")
	return nil
}
