package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the input bytes are not a supported image.
var ErrDecode = errors.New("invalid image")

// DecodeError carries the decoder failure for a rejected upload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// RawImage is a row-major grid of 8-bit RGB samples, 3 bytes per pixel.
type RawImage struct {
	Width  int
	Height int
	Pix    []byte
}

// NewRawImage allocates a black image of the given size.
func NewRawImage(width, height int) *RawImage {
	return &RawImage{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// DefaultMaxPixels bounds width*height of an accepted image. The upload cap
// limits compressed bytes, not the decoded size.
const DefaultMaxPixels = 40_000_000

// ErrTooLarge is wrapped by a DecodeError for images over the pixel budget.
var ErrTooLarge = errors.New("image dimensions exceed limit")

// Decode turns encoded image bytes into an RGB grid using DefaultMaxPixels.
// Alpha is discarded.
func Decode(data []byte) (*RawImage, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads the header first and rejects images with more than
// maxPixels pixels before any pixel buffer is allocated. maxPixels <= 0
// disables the check.
func DecodeLimited(data []byte, maxPixels int) (*RawImage, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return FromImage(img), nil
}

// FromImage converts any image.Image into a RawImage. Alpha is dropped
// without premultiplying, so a translucent pixel keeps its stored color.
func FromImage(img image.Image) *RawImage {
	b := img.Bounds()
	out := NewRawImage(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < out.Width; x++ {
				out.Set(x, y, row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	case *image.NRGBA64:
		for y := 0; y < out.Height; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < out.Width; x++ {
				out.Set(x, y, row[x*8], row[x*8+2], row[x*8+4])
			}
		}
	case *image.NYCbCrA:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := src.YCbCrAt(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				out.Set(x, y, r, g, bl)
			}
		}
	case *image.Paletted:
		palette := make([][3]uint8, len(src.Palette))
		for i, c := range src.Palette {
			r, g, bl := unpremultiplied(c)
			palette[i] = [3]uint8{r, g, bl}
		}
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				idx := int(src.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
				if idx < len(palette) {
					p := palette[idx]
					out.Set(x, y, p[0], p[1], p[2])
				}
			}
		}
	default:
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			copyOpaque(out, img)
			return out
		}
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				r, g, bl := unpremultiplied(img.At(b.Min.X+x, b.Min.Y+y))
				out.Set(x, y, r, g, bl)
			}
		}
	}
	return out
}

// copyOpaque handles sources without alpha (YCbCr, Gray, CMYK, opaque RGBA)
// where premultiplication is the identity.
func copyOpaque(out *RawImage, img image.Image) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	for y := 0; y < out.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+out.Width*4]
		dst := out.Pix[y*out.Width*3 : (y+1)*out.Width*3]
		for x := 0; x < out.Width; x++ {
			copy(dst[x*3:x*3+3], src[x*4:x*4+3])
		}
	}
}

func unpremultiplied(c color.Color) (uint8, uint8, uint8) {
	switch c := c.(type) {
	case color.NRGBA:
		return c.R, c.G, c.B
	case color.NRGBA64:
		return uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

// NRGBA exposes the grid as an opaque image.NRGBA for the resampler.
func (r *RawImage) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// At returns the RGB triple at (x, y).
func (r *RawImage) At(x, y int) (uint8, uint8, uint8) {
	i := (y*r.Width + x) * 3
	return r.Pix[i], r.Pix[i+1], r.Pix[i+2]
}

// Set writes the RGB triple at (x, y).
func (r *RawImage) Set(x, y int, red, green, blue uint8) {
	i := (y*r.Width + x) * 3
	r.Pix[i], r.Pix[i+1], r.Pix[i+2] = red, green, blue
}
