// Package inference submits serialized tensors to a model backend and reads
// back the class probabilities.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
)

// ErrInvariant marks a broken contract between the pipeline and the model,
// such as a tensor or output of the wrong size. It is an internal fault.
var ErrInvariant = errors.New("inference invariant violated")

// Client runs one graph. It holds no per-request state and is safe for
// concurrent use as long as the graph is.
type Client struct {
	graph      model.Graph
	outputSize int
	logger     *zap.Logger
}

// NewClient wraps a loaded graph.
func NewClient(graph model.Graph, logger *zap.Logger) *Client {
	return &Client{
		graph:      graph,
		outputSize: model.NumClasses,
		logger:     logger.Named("inference"),
	}
}

// Infer binds tensor at slot 0, runs the graph and returns the slot 0 output.
// Runtime failures come back as *model.RuntimeError and are never retried;
// the computation is deterministic. The call itself has no timeout, ctx is
// only checked before the runtime is entered.
func (c *Client) Infer(ctx context.Context, tensor preprocess.TensorBuffer) (model.ProbabilityVector, error) {
	if len(tensor) != model.TensorBytes {
		return nil, fmt.Errorf("%w: tensor holds %d bytes, want %d", ErrInvariant, len(tensor), model.TensorBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	execCtx, err := c.graph.NewContext()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := execCtx.Close(); cerr != nil {
			c.logger.Warn("failed to release execution context", zap.Error(cerr))
		}
	}()

	if err := execCtx.BindInput(0, model.DTypeFloat32, model.InputShape, tensor); err != nil {
		return nil, err
	}
	if err := execCtx.Compute(); err != nil {
		return nil, err
	}

	probs := make(model.ProbabilityVector, c.outputSize)
	if err := execCtx.ReadOutput(0, probs); err != nil {
		var sizeErr *model.OutputSizeError
		if errors.As(err, &sizeErr) {
			return nil, fmt.Errorf("%w: %v", ErrInvariant, sizeErr)
		}
		return nil, err
	}
	for i, p := range probs {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return nil, fmt.Errorf("%w: class %d probability is %v", ErrInvariant, i, p)
		}
	}
	return probs, nil
}

// Info exposes the underlying graph description.
func (c *Client) Info() model.Info {
	return c.graph.Info()
}
