// Package tensorio stores serialized input tensors as safetensors files so a
// preprocessing run can be inspected or replayed by other tools.
package tensorio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nlpodyssey/safetensors"

	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
)

// TensorName is the key the input tensor is stored under.
const TensorName = "input"

var fileShape = []uint64{1, model.Channels, model.InputHeight, model.InputWidth}

// Export writes tensor as a single F32 entry. safetensors data is always
// little-endian, so the native-order buffer is re-encoded.
func Export(w io.Writer, tensor preprocess.TensorBuffer, meta map[string]string) error {
	if len(tensor) != model.TensorBytes {
		return fmt.Errorf("tensor holds %d bytes, want %d", len(tensor), model.TensorBytes)
	}
	values := preprocess.Floats(tensor)
	data := make([]byte, 0, len(tensor))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}

	view, err := safetensors.NewTensorView(safetensors.F32, fileShape, data)
	if err != nil {
		return fmt.Errorf("failed to build tensor view: %w", err)
	}
	return safetensors.SerializeToWriter(map[string]safetensors.TensorView{TensorName: view}, meta, w)
}

// Import reads a file written by Export back into native byte order.
func Import(data []byte) (preprocess.TensorBuffer, error) {
	st, err := safetensors.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse safetensors: %w", err)
	}
	view, ok := st.Tensor(TensorName)
	if !ok {
		return nil, fmt.Errorf("tensor %q not found", TensorName)
	}
	if view.DType() != safetensors.F32 {
		return nil, fmt.Errorf("tensor %q is %s, want F32", TensorName, view.DType())
	}
	if !equalShape(view.Shape(), fileShape) {
		return nil, fmt.Errorf("tensor %q has shape %v, want %v", TensorName, view.Shape(), fileShape)
	}

	raw := view.Data()
	out := make(preprocess.TensorBuffer, len(raw))
	for i := 0; i < len(raw); i += 4 {
		binary.NativeEndian.PutUint32(out[i:], binary.LittleEndian.Uint32(raw[i:]))
	}
	return out, nil
}

func equalShape(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
