package model

import (
	"fmt"
	"os"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend   string
	ModelPath string
	ONNX      ONNXOptions
}

// Open reads the model file once and builds the requested backend.
func Open(cfg OpenConfig) (Graph, error) {
	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return OpenBytes(cfg.Backend, data, cfg.ONNX)
}

// OpenBytes builds a backend from model bytes already in memory.
func OpenBytes(backend string, data []byte, opts ONNXOptions) (Graph, error) {
	switch backend {
	case "", BackendONNXRuntime:
		return NewONNX(data, opts)
	case BackendBorn:
		return NewBorn(data)
	default:
		return nil, fmt.Errorf("unknown model backend %q", backend)
	}
}
