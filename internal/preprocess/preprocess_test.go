package preprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x + y) * 3), A: 0xff})
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff})
	src.Set(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 0x80})

	raw, err := Decode(encodePNG(t, src))
	require.NoError(t, err)

	assert.Equal(t, 2, raw.Width)
	assert.Equal(t, 1, raw.Height)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60}, raw.Pix)
}

func TestDecodeJPEG(t *testing.T) {
	raw, err := Decode(encodeJPEG(t, gradient(500, 375)))
	require.NoError(t, err)

	assert.Equal(t, 500, raw.Width)
	assert.Equal(t, 375, raw.Height)
	assert.Len(t, raw.Pix, 500*375*3)
}

func TestDecodeKeepsColorUnderAlpha(t *testing.T) {
	t.Run("palette with transparency", func(t *testing.T) {
		src := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.NRGBA{R: 200, G: 100, B: 50, A: 128}})
		raw, err := Decode(encodePNG(t, src))
		require.NoError(t, err)
		r, g, b := raw.At(1, 1)
		assert.Equal(t, [3]uint8{200, 100, 50}, [3]uint8{r, g, b})
	})

	t.Run("16 bit transparent", func(t *testing.T) {
		src := image.NewNRGBA64(image.Rect(0, 0, 1, 1))
		src.SetNRGBA64(0, 0, color.NRGBA64{R: 200 * 257, G: 100 * 257, B: 50 * 257, A: 0})
		raw, err := Decode(encodePNG(t, src))
		require.NoError(t, err)
		assert.Equal(t, []byte{200, 100, 50}, raw.Pix)
	})

	t.Run("ycbcr with alpha", func(t *testing.T) {
		src := image.NewNYCbCrA(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio444)
		y, cb, cr := color.RGBToYCbCr(200, 100, 50)
		for i := range src.Y {
			src.Y[i], src.Cb[i], src.Cr[i], src.A[i] = y, cb, cr, 0
		}
		want := NewRawImage(2, 2)
		wr, wg, wb := color.YCbCrToRGB(y, cb, cr)
		for i := 0; i < 4; i++ {
			want.Set(i%2, i/2, wr, wg, wb)
		}
		assert.Equal(t, want.Pix, FromImage(src).Pix)
	})

	t.Run("generic translucent", func(t *testing.T) {
		src := image.NewRGBA64(image.Rect(0, 0, 1, 1))
		src.Set(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
		r, g, b := FromImage(src).At(0, 0)
		assert.InDelta(t, 200, int(r), 1)
		assert.InDelta(t, 100, int(g), 1)
		assert.InDelta(t, 50, int(b), 1)
	})
}

// withDimensions rewrites the IHDR width and height of an encoded PNG and
// fixes up the chunk CRC, leaving the pixel data untouched.
func withDimensions(t *testing.T, data []byte, width, height uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	data := withDimensions(t, encodePNG(t, gradient(4, 4)), 30000, 30000)

	_, err := Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, ErrTooLarge)
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))

	_, err = ImageToTensor(data, 224, 224)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeLimited(t *testing.T) {
	data := encodePNG(t, gradient(10, 10))

	_, err := DecodeLimited(data, 99)
	assert.ErrorIs(t, err, ErrTooLarge)

	raw, err := DecodeLimited(data, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, raw.Width)

	_, err = DecodeLimited(data, 0)
	assert.NoError(t, err)

	_, err = ImageToTensorLimited(data, 224, 224, 50)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for name, input := range map[string][]byte{
		"empty":   nil,
		"text":    []byte("definitely not an image"),
		"partial": encodePNG(t, gradient(4, 4))[:16],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestResizeProducesTargetDimensions(t *testing.T) {
	for _, size := range [][2]int{{500, 375}, {1, 1}, {224, 224}, {100, 900}, {3000, 20}} {
		raw := FromImage(gradient(size[0], size[1]))
		out := Resize(raw, 224, 224)
		assert.Equal(t, 224, out.Width)
		assert.Equal(t, 224, out.Height)
		assert.Len(t, out.Pix, 224*224*3)
	}
}

func TestResizeKeepsUniformColor(t *testing.T) {
	raw := NewRawImage(31, 17)
	for y := 0; y < raw.Height; y++ {
		for x := 0; x < raw.Width; x++ {
			raw.Set(x, y, 200, 100, 50)
		}
	}

	out := Resize(raw, 224, 224)
	for y := 0; y < out.Height; y += 37 {
		for x := 0; x < out.Width; x += 41 {
			r, g, b := out.At(x, y)
			assert.InDelta(t, 200, int(r), 1)
			assert.InDelta(t, 100, int(g), 1)
			assert.InDelta(t, 50, int(b), 1)
		}
	}
}

func TestResizeUsesTriangleFilter(t *testing.T) {
	require.Equal(t, resize.Bilinear, Filter)

	raw := FromImage(gradient(101, 67))
	got := Resize(raw, 37, 23)

	triangle := FromImage(resize.Resize(37, 23, raw.NRGBA(), resize.Bilinear))
	assert.Equal(t, triangle.Pix, got.Pix)

	nearest := FromImage(resize.Resize(37, 23, raw.NRGBA(), resize.NearestNeighbor))
	assert.NotEqual(t, nearest.Pix, got.Pix)
	lanczos := FromImage(resize.Resize(37, 23, raw.NRGBA(), resize.Lanczos3))
	assert.NotEqual(t, lanczos.Pix, got.Pix)
}

func TestResizePanicsOnInvalidTarget(t *testing.T) {
	raw := NewRawImage(4, 4)
	assert.Panics(t, func() { Resize(raw, 0, 224) })
	assert.Panics(t, func() { Resize(raw, 224, -1) })
}

func TestNormalizeSampleBounds(t *testing.T) {
	assert.InDelta(t, -2.1179, NormalizeSample(0, 0), 1e-4)
	assert.InDelta(t, 2.2489, NormalizeSample(255, 0), 1e-4)

	assert.InDelta(t, -2.0357, NormalizeSample(0, 1), 1e-4)
	assert.InDelta(t, 2.4286, NormalizeSample(255, 1), 1e-4)

	assert.InDelta(t, -1.8044, NormalizeSample(0, 2), 1e-4)
	assert.InDelta(t, 2.6400, NormalizeSample(255, 2), 1e-4)
}

func TestNormalizeSampleUsesFloat32(t *testing.T) {
	for v := 0; v <= 255; v++ {
		want := (float32(v)/float32(255) - float32(0.485)) / float32(0.229)
		assert.Equal(t, math.Float32bits(want), math.Float32bits(NormalizeSample(uint8(v), 0)), "v=%d", v)
	}
}

func TestNormalizeInterleaved(t *testing.T) {
	raw := &RawImage{Width: 2, Height: 1, Pix: []byte{0, 0, 0, 255, 255, 255}}
	out := Normalize(raw)

	require.Len(t, out, 6)
	assert.Equal(t, NormalizeSample(0, 0), out[0])
	assert.Equal(t, NormalizeSample(0, 1), out[1])
	assert.Equal(t, NormalizeSample(0, 2), out[2])
	assert.Equal(t, NormalizeSample(255, 0), out[3])
	assert.Equal(t, NormalizeSample(255, 1), out[4])
	assert.Equal(t, NormalizeSample(255, 2), out[5])
}

func TestNormalizePanicsOnShortBuffer(t *testing.T) {
	assert.Panics(t, func() { Normalize(&RawImage{Width: 2, Height: 2, Pix: make([]byte, 5)}) })
}

func TestPlanarizeTwoPixels(t *testing.T) {
	const (
		r0, g0, b0 = 1, 2, 3
		r1, g1, b1 = 4, 5, 6
	)
	got := Planarize([]float32{r0, g0, b0, r1, g1, b1})
	assert.Equal(t, []float32{r0, r1, g0, g1, b0, b1}, got)
}

func TestSerializeByteOffsets(t *testing.T) {
	in := []float32{1.5, -2.25, 3.125, 0.5, 7, -0.75}
	buf := Serialize(in)
	require.Len(t, buf, 6*4)

	want := []float32{1.5, 0.5, -2.25, 7, 3.125, -0.75}
	for i, v := range want {
		bits := binary.NativeEndian.Uint32(buf[i*4 : i*4+4])
		assert.Equal(t, math.Float32bits(v), bits, "offset %d", i*4)
	}
	assert.Equal(t, want, Floats(buf))
}

func TestSerializeChannelPlanes(t *testing.T) {
	const w, h = 3, 2
	raw := NewRawImage(w, h)
	for i := 0; i < w*h; i++ {
		raw.Pix[i*3] = 255
		raw.Pix[i*3+1] = 0
		raw.Pix[i*3+2] = 128
	}

	values := Floats(Serialize(Normalize(raw)))
	n := w * h
	for i := 0; i < n; i++ {
		assert.Equal(t, NormalizeSample(255, 0), values[i])
		assert.Equal(t, NormalizeSample(0, 1), values[n+i])
		assert.Equal(t, NormalizeSample(128, 2), values[2*n+i])
	}
}

func TestImageToTensorShape(t *testing.T) {
	for _, size := range [][2]int{{500, 375}, {64, 64}, {13, 401}} {
		buf, err := ImageToTensor(encodeJPEG(t, gradient(size[0], size[1])), 224, 224)
		require.NoError(t, err)
		assert.Len(t, buf, 3*224*224*4)
		assert.Equal(t, ByteLen(224, 224), len(buf))
	}
}

func TestImageToTensorDeterministic(t *testing.T) {
	data := encodeJPEG(t, gradient(500, 375))

	first, err := ImageToTensor(data, 224, 224)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := ImageToTensor(data, 224, 224)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again), "run %d differs", i)
	}
}

func TestImageToTensorDecodeError(t *testing.T) {
	_, err := ImageToTensor([]byte("nope"), 224, 224)
	assert.ErrorIs(t, err, ErrDecode)
}
