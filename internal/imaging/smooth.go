package imaging

import "math"

// gaussianKernel builds a normalized 1D gaussian kernel truncated at three
// standard deviations.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smoothField applies a separable 3D gaussian blur over a scalar field laid
// out as [z][y][x]. Samples outside the grid read as zero, which pulls the
// smoothed field toward the background near the boundary; callers pad the
// field first so the iso-surface is not clipped.
func smoothField(field []float64, dims [3]int, sigma float64) []float64 {
	if sigma <= 0 {
		out := make([]float64, len(field))
		copy(out, field)
		return out
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	nz, ny, nx := dims[0], dims[1], dims[2]
	src := field
	dst := make([]float64, len(field))

	idx := func(z, y, x int) int { return (z*ny+y)*nx + x }

	// Pass along x.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					if xx := x + k; xx >= 0 && xx < nx {
						acc += src[idx(z, y, xx)] * kernel[k+radius]
					}
				}
				dst[idx(z, y, x)] = acc
			}
		}
	}
	src, dst = dst, make([]float64, len(field))

	// Pass along y.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					if yy := y + k; yy >= 0 && yy < ny {
						acc += src[idx(z, yy, x)] * kernel[k+radius]
					}
				}
				dst[idx(z, y, x)] = acc
			}
		}
	}
	src, dst = dst, make([]float64, len(field))

	// Pass along z.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					if zz := z + k; zz >= 0 && zz < nz {
						acc += src[idx(zz, y, x)] * kernel[k+radius]
					}
				}
				dst[idx(z, y, x)] = acc
			}
		}
	}
	return dst
}
