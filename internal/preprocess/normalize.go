package preprocess

import "fmt"

// Per-channel (R, G, B) constants from the model's training preprocessing.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// NormalizeSample maps one 8-bit sample of channel c to its centered value.
// All arithmetic stays in float32.
func NormalizeSample(v uint8, c int) float32 {
	return (float32(v)/255.0 - Mean[c]) / Std[c]
}

// Normalize produces Width*Height float triples in channel-interleaved order.
func Normalize(img *RawImage) []float32 {
	if len(img.Pix) != img.Width*img.Height*3 {
		panic(fmt.Sprintf("preprocess: pixel buffer holds %d bytes, want %d",
			len(img.Pix), img.Width*img.Height*3))
	}
	out := make([]float32, len(img.Pix))
	for i, v := range img.Pix {
		out[i] = NormalizeSample(v, i%3)
	}
	return out
}
