// Package modeltest provides a scripted stand-in for an inference backend.
package modeltest

import (
	"fmt"
	"sync"

	"github.com/Brownie44l1/imagenet-api/internal/model"
)

// Graph returns Output from every execution and records what was bound.
type Graph struct {
	Output []float32
	// Fail maps a runtime stage to the error it reports.
	Fail map[string]error

	mu       sync.Mutex
	bound    [][]byte
	shapes   [][]int64
	contexts int
	closed   bool
}

// NewGraph builds a fake whose output is probs.
func NewGraph(probs []float32) *Graph {
	return &Graph{Output: probs}
}

func (g *Graph) fail(stage string) error {
	if err, ok := g.Fail[stage]; ok {
		return &model.RuntimeError{Stage: stage, Err: err}
	}
	return nil
}

func (g *Graph) NewContext() (model.ExecutionContext, error) {
	if err := g.fail(model.StageInit); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.contexts++
	g.mu.Unlock()
	return &context{graph: g}, nil
}

func (g *Graph) Info() model.Info {
	return model.Info{
		Backend:     "fake",
		InputNames:  []string{"input"},
		OutputNames: []string{"output"},
		InputShape:  model.InputShape,
		OutputShape: []int64{1, int64(len(g.Output))},
	}
}

func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Bound returns copies of every buffer bound so far.
func (g *Graph) Bound() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.bound...)
}

// Shapes returns every shape bound so far.
func (g *Graph) Shapes() [][]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]int64(nil), g.shapes...)
}

// Contexts reports how many execution contexts were created.
func (g *Graph) Contexts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contexts
}

// Closed reports whether Close was called.
func (g *Graph) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

type context struct {
	graph    *Graph
	bound    bool
	computed bool
	closed   bool
}

func (c *context) BindInput(slot int, dtype model.DType, shape []int64, data []byte) error {
	if err := c.graph.fail(model.StageBind); err != nil {
		return err
	}
	if slot != 0 || dtype != model.DTypeFloat32 {
		return &model.RuntimeError{Stage: model.StageBind, Err: fmt.Errorf("unexpected slot %d type %s", slot, dtype)}
	}
	c.graph.mu.Lock()
	c.graph.bound = append(c.graph.bound, append([]byte(nil), data...))
	c.graph.shapes = append(c.graph.shapes, append([]int64(nil), shape...))
	c.graph.mu.Unlock()
	c.bound = true
	return nil
}

func (c *context) Compute() error {
	if err := c.graph.fail(model.StageCompute); err != nil {
		return err
	}
	if !c.bound {
		return &model.RuntimeError{Stage: model.StageCompute, Err: fmt.Errorf("no input bound")}
	}
	c.computed = true
	return nil
}

func (c *context) ReadOutput(slot int, buf []float32) error {
	if err := c.graph.fail(model.StageRead); err != nil {
		return err
	}
	if !c.computed {
		return &model.RuntimeError{Stage: model.StageRead, Err: fmt.Errorf("compute has not run")}
	}
	if len(c.graph.Output) != len(buf) {
		return &model.OutputSizeError{Slot: slot, Got: len(c.graph.Output), Want: len(buf)}
	}
	copy(buf, c.graph.Output)
	return nil
}

func (c *context) Close() error {
	c.closed = true
	return nil
}

// Labels builds a table named class-0 .. class-(n-1).
func Labels(n int) model.Labels {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("class-%d", i)
	}
	return model.NewLabels(names)
}

// Probabilities returns a NumClasses vector of tiny values with the given
// overrides applied.
func Probabilities(overrides map[int]float32) []float32 {
	probs := make([]float32, model.NumClasses)
	for i := range probs {
		probs[i] = 1e-6
	}
	for i, p := range overrides {
		probs[i] = p
	}
	return probs
}
