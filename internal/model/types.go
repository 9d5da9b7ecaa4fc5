package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor contract of the ImageNet classifier.
const (
	InputWidth  = 224
	InputHeight = 224
	Channels    = 3
	NumClasses  = 1000

	// TensorBytes is the exact byte length of a serialized input tensor.
	TensorBytes = Channels * InputHeight * InputWidth * 4
)

// InputShape is the NCHW shape bound at input slot 0.
var InputShape = []int64{1, Channels, InputHeight, InputWidth}

// DType names the element type of a bound tensor.
type DType uint8

const (
	DTypeUnknown DType = iota
	DTypeFloat32
)

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Info describes the graph a backend loaded.
type Info struct {
	Backend     string   `json:"backend"`
	InputNames  []string `json:"input_names"`
	OutputNames []string `json:"output_names"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	ModelBytes  int      `json:"model_bytes"`
}

// ProbabilityVector holds one score per class, indexed by class id.
type ProbabilityVector []float32

func elementCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkInput(slot int, dtype DType, shape []int64, data []byte) error {
	if slot != 0 {
		return fmt.Errorf("input slot %d out of range", slot)
	}
	if dtype != DTypeFloat32 {
		return fmt.Errorf("unsupported input type %s", dtype)
	}
	if want := elementCount(shape) * 4; int64(len(data)) != want {
		return fmt.Errorf("input holds %d bytes, shape %v needs %d", len(data), shape, want)
	}
	return nil
}

func decodeFloats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(data[i*4:]))
	}
	return out
}
