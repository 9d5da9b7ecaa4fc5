// Package preprocess converts encoded images into the planar float32 tensor
// an ImageNet classifier consumes.
//
// The chain is Decode → Resize → Normalize → Serialize. Every stage is pure;
// given the same bytes the resulting buffer is byte-identical across runs.
package preprocess

import "fmt"

// ImageToTensor runs the full chain for a width x height model input.
func ImageToTensor(data []byte, width, height int) (TensorBuffer, error) {
	return ImageToTensorLimited(data, width, height, DefaultMaxPixels)
}

// ImageToTensorLimited is ImageToTensor with an explicit decode pixel budget.
func ImageToTensorLimited(data []byte, width, height, maxPixels int) (TensorBuffer, error) {
	raw, err := DecodeLimited(data, maxPixels)
	if err != nil {
		return nil, err
	}
	return RawToTensor(raw, width, height), nil
}

// RawToTensor runs the chain on an already decoded image.
func RawToTensor(raw *RawImage, width, height int) TensorBuffer {
	resized := Resize(raw, width, height)
	if resized.Width != width || resized.Height != height {
		panic(fmt.Sprintf("preprocess: resized image is %dx%d, model expects %dx%d",
			resized.Width, resized.Height, width, height))
	}
	return Serialize(Normalize(resized))
}
