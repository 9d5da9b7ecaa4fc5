package preprocess

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Filter is the resampling kernel. Bilinear in nfnt/resize is the triangle
// filter the reference model was validated against; swapping it shifts the
// output probabilities.
const Filter = resize.Bilinear

// Resize rescales img to exactly width x height.
func Resize(img *RawImage, width, height int) *RawImage {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("preprocess: invalid resize target %dx%d", width, height))
	}
	if img.Width == width && img.Height == height {
		out := NewRawImage(width, height)
		copy(out.Pix, img.Pix)
		return out
	}

	resized := resize.Resize(uint(width), uint(height), img.NRGBA(), Filter)
	return fromResized(resized, width, height)
}

func fromResized(img image.Image, width, height int) *RawImage {
	out := FromImage(img)
	if out.Width != width || out.Height != height {
		panic(fmt.Sprintf("preprocess: resampler returned %dx%d, want %dx%d",
			out.Width, out.Height, width, height))
	}
	return out
}
