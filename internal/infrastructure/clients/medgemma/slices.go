package medgemma

import (
	"bytes"
	"image"
	"image/png"

	apperrors "github.com/klenai/stonecare/pkg/errors"

	"github.com/klenai/stonecare/internal/imaging"
)

// DefaultKeySliceCount is how many axial slices are sent per scan. Eight
// evenly spaced slices keep the request small while covering both kidneys
// and the full length of the ureters on a typical abdominal CT.
const DefaultKeySliceCount = 8

// EncodeKeySlices extracts evenly spaced axial slices from the volume and
// encodes each as a grayscale PNG, min-max normalized per slice.
func EncodeKeySlices(vol *imaging.Volume, count int) ([][]byte, error) {
	if err := vol.Validate(); err != nil {
		return nil, apperrors.NewInputUnavailableError("volume is not renderable", err)
	}
	if count <= 0 {
		count = DefaultKeySliceCount
	}
	if count > vol.Dims[0] {
		count = vol.Dims[0]
	}

	out := make([][]byte, 0, count)
	for _, z := range sliceIndices(vol.Dims[0], count) {
		encoded, err := encodeSlice(vol, z)
		if err != nil {
			return nil, apperrors.NewInputUnavailableError("slice encoding failed", err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

// sliceIndices spreads count indices evenly across [0, total-1] inclusive.
func sliceIndices(total, count int) []int {
	indices := make([]int, count)
	if count == 1 {
		return indices
	}
	step := float64(total-1) / float64(count-1)
	for i := range indices {
		indices[i] = int(float64(i)*step + 0.5)
	}
	return indices
}

func encodeSlice(vol *imaging.Volume, z int) ([]byte, error) {
	height, width := vol.Dims[1], vol.Dims[2]

	lo, hi := vol.At(z, 0, 0), vol.At(z, 0, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := vol.At(z, y, x)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	if hi > lo {
		scale := 255 / float64(hi-lo)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Pix[y*img.Stride+x] = uint8(float64(vol.At(z, y, x)-lo) * scale)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
