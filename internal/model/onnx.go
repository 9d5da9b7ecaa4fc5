package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// BackendONNXRuntime selects the ONNX Runtime shared library backend.
const BackendONNXRuntime = "onnxruntime"

// ONNXOptions configures the ONNX Runtime backend.
type ONNXOptions struct {
	// LibraryPath points at libonnxruntime; empty uses the loader default.
	LibraryPath string
	// IntraOpThreads bounds per-run parallelism; zero keeps the runtime default.
	IntraOpThreads int
}

// environment reference-counts the process-wide onnxruntime environment.
// It only tears the environment down when it was the one to initialize it;
// an environment set up by other code in the process is left alone.
type environment struct {
	mu    sync.Mutex
	refs  int
	owned bool

	initialized func() bool
	initialize  func(libraryPath string) error
	destroy     func() error
}

var ortEnv = &environment{
	initialized: ort.IsInitialized,
	initialize:  initializeORT,
	destroy:     ort.DestroyEnvironment,
}

func initializeORT(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

func (e *environment) acquire(libraryPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 && !e.initialized() {
		if err := e.initialize(libraryPath); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
		e.owned = true
	}
	e.refs++
	return nil
}

func (e *environment) release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 {
		return nil
	}
	e.refs--
	if e.refs > 0 || !e.owned {
		return nil
	}
	e.owned = false
	return e.destroy()
}

type onnxGraph struct {
	session *ort.DynamicAdvancedSession
	info    Info
}

// NewONNX builds a session from in-memory model bytes. The session is shared
// read-only by every execution context it creates.
func NewONNX(modelData []byte, opts ONNXOptions) (Graph, error) {
	if err := ortEnv.acquire(opts.LibraryPath); err != nil {
		return nil, runtimeError(StageBuild, err)
	}

	g, err := buildONNXGraph(modelData, opts)
	if err != nil {
		_ = ortEnv.release()
		return nil, runtimeError(StageBuild, err)
	}
	return g, nil
}

func buildONNXGraph(modelData []byte, opts ONNXOptions) (*onnxGraph, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelData)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model declares no inputs or outputs")
	}

	info := Info{
		Backend:     BackendONNXRuntime,
		InputShape:  append([]int64(nil), InputShape...),
		OutputShape: []int64(outputs[0].Dimensions),
		ModelBytes:  len(modelData),
	}
	for _, in := range inputs {
		info.InputNames = append(info.InputNames, in.Name)
	}
	for _, out := range outputs {
		info.OutputNames = append(info.OutputNames, out.Name)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(modelData,
		info.InputNames[:1], info.OutputNames[:1], options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &onnxGraph{session: session, info: info}, nil
}

func (g *onnxGraph) Info() Info {
	return g.info
}

func (g *onnxGraph) NewContext() (ExecutionContext, error) {
	if g.session == nil {
		return nil, runtimeError(StageInit, errors.New("session is closed"))
	}
	return &onnxContext{session: g.session}, nil
}

func (g *onnxGraph) Close() error {
	if g.session == nil {
		return nil
	}
	err := g.session.Destroy()
	g.session = nil
	return errors.Join(err, ortEnv.release())
}

type onnxContext struct {
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	output  ort.Value
}

func (c *onnxContext) BindInput(slot int, dtype DType, shape []int64, data []byte) error {
	if err := checkInput(slot, dtype, shape, data); err != nil {
		return runtimeError(StageBind, err)
	}
	tensor, err := ort.NewTensor(ort.NewShape(shape...), decodeFloats(data))
	if err != nil {
		return runtimeError(StageBind, fmt.Errorf("failed to create input tensor: %w", err))
	}
	if c.input != nil {
		c.input.Destroy()
	}
	c.input = tensor
	return nil
}

func (c *onnxContext) Compute() error {
	if c.input == nil {
		return runtimeError(StageCompute, errors.New("no input bound"))
	}
	if c.output != nil {
		c.output.Destroy()
		c.output = nil
	}
	outputs := []ort.Value{nil}
	if err := c.session.Run([]ort.Value{c.input}, outputs); err != nil {
		return runtimeError(StageCompute, fmt.Errorf("inference failed: %w", err))
	}
	c.output = outputs[0]
	return nil
}

func (c *onnxContext) ReadOutput(slot int, buf []float32) error {
	if slot != 0 {
		return runtimeError(StageRead, fmt.Errorf("output slot %d out of range", slot))
	}
	if c.output == nil {
		return runtimeError(StageRead, errors.New("compute has not run"))
	}
	tensor, ok := c.output.(*ort.Tensor[float32])
	if !ok {
		return runtimeError(StageRead, fmt.Errorf("output is %T, want float32 tensor", c.output))
	}
	data := tensor.GetData()
	if len(data) != len(buf) {
		return &OutputSizeError{Slot: slot, Got: len(data), Want: len(buf)}
	}
	copy(buf, data)
	return nil
}

func (c *onnxContext) Close() error {
	var errs []error
	if c.input != nil {
		errs = append(errs, c.input.Destroy())
		c.input = nil
	}
	if c.output != nil {
		errs = append(errs, c.output.Destroy())
		c.output = nil
	}
	return errors.Join(errs...)
}
