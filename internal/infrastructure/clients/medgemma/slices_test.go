package medgemma

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klenai/stonecare/internal/imaging"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

func gradientVolume(dims [3]int) *imaging.Volume {
	vol := imaging.NewVolume(dims, [3]float64{1, 1, 1})
	for z := 0; z < dims[0]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[2]; x++ {
				vol.Set(z, y, x, float32(x*10))
			}
		}
	}
	return vol
}

func TestEncodeKeySlices(t *testing.T) {
	vol := gradientVolume([3]int{20, 8, 8})

	slices, err := EncodeKeySlices(vol, 0)
	require.NoError(t, err)
	require.Len(t, slices, DefaultKeySliceCount)

	for _, data := range slices {
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())

		// Min-max normalization stretches each slice to the full 8-bit range.
		gray, ok := img.(*image.Gray)
		require.True(t, ok)
		assert.Equal(t, uint8(0), gray.Pix[0])
		assert.GreaterOrEqual(t, gray.Pix[7], uint8(254))
	}
}

func TestEncodeKeySlices_CountClampedToDepth(t *testing.T) {
	vol := gradientVolume([3]int{3, 4, 4})

	slices, err := EncodeKeySlices(vol, 8)
	require.NoError(t, err)
	assert.Len(t, slices, 3)
}

func TestEncodeKeySlices_UniformSliceIsBlack(t *testing.T) {
	vol := imaging.NewVolume([3]int{2, 4, 4}, [3]float64{1, 1, 1})

	slices, err := EncodeKeySlices(vol, 2)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(slices[0]))
	require.NoError(t, err)
	gray := img.(*image.Gray)
	for _, p := range gray.Pix {
		assert.Equal(t, uint8(0), p)
	}
}

func TestEncodeKeySlices_InvalidVolume(t *testing.T) {
	vol := &imaging.Volume{}

	_, err := EncodeKeySlices(vol, 4)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInputUnavailable))
}

func TestSliceIndices(t *testing.T) {
	assert.Equal(t, []int{0}, sliceIndices(10, 1))
	assert.Equal(t, []int{0, 9}, sliceIndices(10, 2))
	assert.Equal(t, []int{0, 5, 9}, sliceIndices(10, 3))
	assert.Equal(t, []int{0, 1, 2, 3}, sliceIndices(4, 4))
}
