// Package inference - ONNX Runtime sessions and the detection pipeline.
package inference

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Backend is the ONNX Runtime execution provider a session runs on.
type Backend string

const (
	// BackendCPU uses the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA uses the CUDA provider.
	BackendCUDA Backend = "cuda"
	// BackendCoreML uses the CoreML provider (Apple GPU / ANE).
	BackendCoreML Backend = "coreml"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// SessionArgs represents the arguments for creating a new ONNX session.
type SessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// The ONNX Runtime shared library; GetSharedLibPath() when empty.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// The input node name; the first model input when empty.
	InputName string `json:"input_name" yaml:"input_name"`
	// The output node names; every model output when empty.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// The input shape, e.g. [1, 3, 416, 416].
	InputShape []int64 `json:"input_shape" yaml:"input_shape"`
	// The execution provider; BackendCPU when empty.
	Backend Backend `json:"backend" yaml:"backend"`
	// Threads used inside a graph node; 0 lets ONNX Runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
}

// Metrics are cumulative run statistics of a session.
type Metrics struct {
	Runs    int64
	Total   time.Duration
	Average time.Duration
}

// Session is an ONNX Runtime session with preallocated input and output tensors.
//
// Run is safe for concurrent use; calls are serialized because the bound
// tensors are shared.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	names   []string
	log     *logrus.Entry

	mu    sync.Mutex
	runs  int64
	total time.Duration
}

// NewSession creates a new ONNX session.
//
// Order of operations:
//  1. Model and library path checks.
//  2. Environment setup (once per process).
//  3. Graph introspection for node names and output shapes.
//  4. Tensor allocation for the input and every output.
//  5. Session options and execution provider.
//  6. Session creation binding the tensors.
//
// Arguments:
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session; Close must be called to release native resources.
//   - error: An error if the session creation fails.
func NewSession(args SessionArgs) (*Session, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model not found")
	}
	libPath := args.LibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %q (set %s)", libPath, LibraryPathEnv)
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, errors.Wrap(err, "error initializing ORT environment")
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(args.ModelPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading model inputs and outputs")
	}
	inputName := args.InputName
	if inputName == "" {
		if len(inputInfo) == 0 {
			return nil, errors.New("model has no inputs")
		}
		inputName = inputInfo[0].Name
	}
	outputNames, outputDims, err := selectOutputs(outputInfo, args.OutputNames, args.InputShape[0])
	if err != nil {
		return nil, err
	}

	s := &Session{
		names: outputNames,
		log:   logrus.WithField("component", "inference"),
	}

	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(args.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	bound := []ort.ArbitraryTensor{}
	for i, dims := range outputDims {
		out, err := ort.NewEmptyTensor[float32](ort.NewShape(dims...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "error creating output tensor %q", outputNames[i])
		}
		s.outputs = append(s.outputs, out)
		bound = append(bound, out)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := configure(options, args); err != nil {
		s.Close()
		return nil, err
	}

	s.session, err = ort.NewAdvancedSession(
		args.ModelPath,
		[]string{inputName},
		outputNames,
		[]ort.ArbitraryTensor{s.input},
		bound,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	s.log.WithFields(logrus.Fields{
		"model":   args.ModelPath,
		"input":   inputName,
		"outputs": outputNames,
		"backend": args.backend(),
	}).Info("session ready")
	return s, nil
}

func (args SessionArgs) backend() Backend {
	if args.Backend == "" {
		return BackendCPU
	}
	return args.Backend
}

func (args SessionArgs) validate() error {
	if args.ModelPath == "" {
		return errors.New("model path is required")
	}
	if len(args.InputShape) == 0 {
		return errors.New("input shape is required")
	}
	for _, d := range args.InputShape {
		if d <= 0 {
			return errors.Errorf("input shape %v must be fully specified", args.InputShape)
		}
	}
	switch args.backend() {
	case BackendCPU, BackendCUDA, BackendCoreML:
	default:
		return errors.Errorf("unsupported backend %q", args.Backend)
	}
	return nil
}

// configure applies threading, graph optimization and the execution provider.
func configure(options *ort.SessionOptions, args SessionArgs) error {
	if err := options.SetIntraOpNumThreads(args.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch args.backend() {
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	}
	return nil
}

// selectOutputs picks the requested outputs from the graph and resolves their shapes.
func selectOutputs(info []ort.InputOutputInfo, names []string, batch int64) ([]string, [][]int64, error) {
	byName := make(map[string]ort.InputOutputInfo, len(info))
	for _, o := range info {
		byName[o.Name] = o
	}
	if len(names) == 0 {
		for _, o := range info {
			names = append(names, o.Name)
		}
	}
	if len(names) == 0 {
		return nil, nil, errors.New("model has no outputs")
	}

	dims := make([][]int64, len(names))
	for i, name := range names {
		o, ok := byName[name]
		if !ok {
			return nil, nil, errors.Errorf("model has no output %q", name)
		}
		resolved, err := resolveShape(o.Dimensions, batch)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "output %q", name)
		}
		dims[i] = resolved
	}
	return names, dims, nil
}

// resolveShape replaces a dynamic leading dimension with the batch size.
func resolveShape(dims []int64, batch int64) ([]int64, error) {
	out := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			out[i] = d
		case i == 0:
			out[i] = batch
		default:
			return nil, errors.Errorf("dynamic dimension %d in %v is not supported", i, dims)
		}
	}
	return out, nil
}

// Run copies input into the bound input tensor, executes the graph and returns
// a copy of every output in the order of the output names.
//
// Arguments:
//   - ctx: Checked before the run starts; a native run cannot be interrupted.
//   - input: Float32 tensor with as many elements as the bound input.
//
// Returns:
//   - []*tensor.Dense: One tensor per output.
//   - error: If the context is done, the input size is wrong, or the run fails.
func (s *Session) Run(ctx context.Context, input *tensor.Dense) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("input must be Float32, got %v", input.Dtype())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	dst := s.input.GetData()
	if len(data) != len(dst) {
		return nil, errors.Errorf("input has %d values, session expects %v", len(data), s.input.GetShape())
	}
	copy(dst, data)

	start := time.Now()
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}
	elapsed := time.Since(start)
	s.runs++
	s.total += elapsed

	results := make([]*tensor.Dense, len(s.outputs))
	for i, out := range s.outputs {
		shape := out.GetShape()
		ints := make([]int, len(shape))
		for k, d := range shape {
			ints[k] = int(d)
		}
		backing := make([]float32, len(out.GetData()))
		copy(backing, out.GetData())
		results[i] = tensor.New(tensor.WithShape(ints...), tensor.WithBacking(backing))
	}

	s.log.WithFields(logrus.Fields{
		"elapsed": elapsed,
		"run":     s.runs,
	}).Debug("session run")
	return results, nil
}

// OutputNames returns the bound output names, in the order Run returns them.
func (s *Session) OutputNames() []string {
	return s.names
}

// Metrics returns cumulative run statistics.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{Runs: s.runs, Total: s.total}
	if s.runs > 0 {
		m.Average = s.total / time.Duration(s.runs)
	}
	return m
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		if e := s.session.Destroy(); e != nil {
			err = errors.Wrap(e, "error destroying ORT session")
		}
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	for _, out := range s.outputs {
		out.Destroy()
	}
	s.outputs = nil
	return err
}
