// Package model wraps the neural-network runtimes that execute the ImageNet
// graph behind a small capability interface.
package model

import (
	"errors"
	"fmt"
)

// ErrRuntime marks every failure raised by an inference backend.
var ErrRuntime = errors.New("inference runtime failure")

// Runtime stages reported in RuntimeError.
const (
	StageBuild   = "build"
	StageInit    = "init"
	StageBind    = "bind"
	StageCompute = "compute"
	StageRead    = "read"
)

// RuntimeError reports which step of the runtime failed. The cause is passed
// through uninterpreted.
type RuntimeError struct {
	Stage string
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime %s: %v", e.Stage, e.Err)
}

func (e *RuntimeError) Unwrap() []error {
	return []error{ErrRuntime, e.Err}
}

func runtimeError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Stage: stage, Err: err}
}

// Graph is a model loaded once at startup. It is read-only and shared by all
// requests; per-request state lives in the ExecutionContext it hands out.
type Graph interface {
	NewContext() (ExecutionContext, error)
	Info() Info
	Close() error
}

// ExecutionContext binds inputs, runs the graph and exposes its outputs.
type ExecutionContext interface {
	BindInput(slot int, dtype DType, shape []int64, data []byte) error
	Compute() error
	ReadOutput(slot int, buf []float32) error
	Close() error
}

// OutputSizeError reports an output whose element count differs from the
// buffer the caller expects. It is a contract breach with the model, not a
// runtime failure.
type OutputSizeError struct {
	Slot int
	Got  int
	Want int
}

func (e *OutputSizeError) Error() string {
	return fmt.Sprintf("output slot %d holds %d elements, want %d", e.Slot, e.Got, e.Want)
}
