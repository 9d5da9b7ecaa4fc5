package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/born-ml/born/backend/cpu"
	bornonnx "github.com/born-ml/born/onnx"
	"github.com/born-ml/born/tensor"
)

// BackendBorn selects the pure-Go born executor. It needs no shared library.
const BackendBorn = "born"

type bornGraph struct {
	// born models keep intermediate buffers between runs, so Forward is serialized.
	mu    sync.Mutex
	model bornonnx.Model
	info  Info
}

// NewBorn parses the ONNX bytes with the born CPU backend.
func NewBorn(modelData []byte) (Graph, error) {
	m, err := bornonnx.LoadFromBytes(modelData, cpu.New())
	if err != nil {
		return nil, runtimeError(StageBuild, fmt.Errorf("failed to load model: %w", err))
	}
	if len(m.InputNames()) == 0 || len(m.OutputNames()) == 0 {
		return nil, runtimeError(StageBuild, errors.New("model declares no inputs or outputs"))
	}
	return &bornGraph{
		model: m,
		info: Info{
			Backend:     BackendBorn,
			InputNames:  m.InputNames(),
			OutputNames: m.OutputNames(),
			InputShape:  append([]int64(nil), InputShape...),
			OutputShape: []int64{1, NumClasses},
			ModelBytes:  len(modelData),
		},
	}, nil
}

func (g *bornGraph) Info() Info {
	return g.info
}

func (g *bornGraph) NewContext() (ExecutionContext, error) {
	if g.model == nil {
		return nil, runtimeError(StageInit, errors.New("model is closed"))
	}
	return &bornContext{graph: g}, nil
}

func (g *bornGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.model = nil
	return nil
}

type bornContext struct {
	graph  *bornGraph
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func (c *bornContext) BindInput(slot int, dtype DType, shape []int64, data []byte) error {
	if err := checkInput(slot, dtype, shape, data); err != nil {
		return runtimeError(StageBind, err)
	}
	dims := make(tensor.Shape, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	raw, err := tensor.NewRaw(dims, tensor.Float32, tensor.CPU)
	if err != nil {
		return runtimeError(StageBind, fmt.Errorf("failed to create input tensor: %w", err))
	}
	copy(raw.AsFloat32(), decodeFloats(data))
	c.input = raw
	return nil
}

func (c *bornContext) Compute() error {
	if c.input == nil {
		return runtimeError(StageCompute, errors.New("no input bound"))
	}
	c.graph.mu.Lock()
	defer c.graph.mu.Unlock()
	if c.graph.model == nil {
		return runtimeError(StageCompute, errors.New("model is closed"))
	}
	out, err := c.graph.model.Forward(c.input)
	if err != nil {
		return runtimeError(StageCompute, fmt.Errorf("inference failed: %w", err))
	}
	c.output = out
	return nil
}

func (c *bornContext) ReadOutput(slot int, buf []float32) error {
	if slot != 0 {
		return runtimeError(StageRead, fmt.Errorf("output slot %d out of range", slot))
	}
	if c.output == nil {
		return runtimeError(StageRead, errors.New("compute has not run"))
	}
	if c.output.DType() != tensor.Float32 {
		return runtimeError(StageRead, fmt.Errorf("output is %v, want float32", c.output.DType()))
	}
	data := c.output.AsFloat32()
	if len(data) != len(buf) {
		return &OutputSizeError{Slot: slot, Got: len(data), Want: len(buf)}
	}
	copy(buf, data)
	return nil
}

func (c *bornContext) Close() error {
	if c.input != nil {
		c.input.Release()
		c.input = nil
	}
	if c.output != nil {
		c.output.Release()
		c.output = nil
	}
	return nil
}
