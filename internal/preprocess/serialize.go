package preprocess

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TensorBuffer is a channel-planar float32 tensor encoded in native byte order.
type TensorBuffer []byte

// Planarize reorders interleaved [H*W, 3] values into [3, H*W].
// Output index c*n+i receives input index i*3+c.
func Planarize(interleaved []float32) []float32 {
	if len(interleaved)%3 != 0 {
		panic(fmt.Sprintf("preprocess: interleaved length %d is not a multiple of 3", len(interleaved)))
	}
	n := len(interleaved) / 3
	planar := make([]float32, len(interleaved))
	for c := 0; c < 3; c++ {
		for i := 0; i < n; i++ {
			planar[c*n+i] = interleaved[i*3+c]
		}
	}
	return planar
}

// Serialize transposes interleaved values to planar order and encodes each
// float as 4 native-endian bytes.
func Serialize(interleaved []float32) TensorBuffer {
	planar := Planarize(interleaved)
	buf := make(TensorBuffer, len(planar)*4)
	for i, v := range planar {
		binary.NativeEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Floats decodes a buffer back into its float32 values.
func Floats(buf TensorBuffer) []float32 {
	if len(buf)%4 != 0 {
		panic(fmt.Sprintf("preprocess: tensor buffer length %d is not a multiple of 4", len(buf)))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(buf[i*4:]))
	}
	return out
}

// ByteLen is the deterministic buffer size for a width x height RGB tensor.
func ByteLen(width, height int) int {
	return 3 * width * height * 4
}
