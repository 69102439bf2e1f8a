// Package imaging implements the stone imaging pipeline: HU-threshold
// segmentation with ROI and connected-component selection, mask- and
// formula-based burden estimation, and iso-surface mesh extraction with a
// packed artifact codec. All coordinates follow the (z, y, x) axis order of
// the scan volume; physical sizes are millimeters.
package imaging

import (
	"fmt"
)

// Volume is a 3D intensity grid in Hounsfield-like units plus the physical
// voxel spacing. It is immutable once loaded; the pipeline only reads it.
type Volume struct {
	Data    []float32
	Dims    [3]int     // z, y, x
	Spacing [3]float64 // mm per voxel along z, y, x
}

// NewVolume allocates a zeroed volume.
func NewVolume(dims [3]int, spacing [3]float64) *Volume {
	return &Volume{
		Data:    make([]float32, dims[0]*dims[1]*dims[2]),
		Dims:    dims,
		Spacing: spacing,
	}
}

// At returns the intensity at (z, y, x).
func (v *Volume) At(z, y, x int) float32 {
	return v.Data[(z*v.Dims[1]+y)*v.Dims[2]+x]
}

// Set writes the intensity at (z, y, x).
func (v *Volume) Set(z, y, x int, value float32) {
	v.Data[(z*v.Dims[1]+y)*v.Dims[2]+x] = value
}

// Contains reports whether the voxel index is inside the volume.
func (v *Volume) Contains(z, y, x int) bool {
	return z >= 0 && z < v.Dims[0] && y >= 0 && y < v.Dims[1] && x >= 0 && x < v.Dims[2]
}

// VoxelVolumeMM3 is the physical volume of one voxel.
func (v *Volume) VoxelVolumeMM3() float64 {
	return v.Spacing[0] * v.Spacing[1] * v.Spacing[2]
}

// Validate checks the volume for structural consistency.
func (v *Volume) Validate() error {
	if v.Dims[0] <= 0 || v.Dims[1] <= 0 || v.Dims[2] <= 0 {
		return fmt.Errorf("volume dims must be positive, got %v", v.Dims)
	}
	if len(v.Data) != v.Dims[0]*v.Dims[1]*v.Dims[2] {
		return fmt.Errorf("volume data length %d does not match dims %v", len(v.Data), v.Dims)
	}
	for axis, s := range v.Spacing {
		if s <= 0 {
			return fmt.Errorf("voxel spacing must be positive, axis %d is %g", axis, s)
		}
	}
	return nil
}

// Mask is a 3D boolean grid marking one stone's voxels. Origin locates the
// mask within its source volume so cropped masks keep patient-space
// positioning. After cleanup a mask holds at most one connected component.
type Mask struct {
	Data   []bool
	Dims   [3]int // z, y, x
	Origin [3]int // voxel offset within the source volume
}

// NewMask allocates an empty mask.
func NewMask(dims [3]int, origin [3]int) *Mask {
	return &Mask{
		Data:   make([]bool, dims[0]*dims[1]*dims[2]),
		Dims:   dims,
		Origin: origin,
	}
}

// At returns the mask value at (z, y, x) in mask-local coordinates.
func (m *Mask) At(z, y, x int) bool {
	return m.Data[(z*m.Dims[1]+y)*m.Dims[2]+x]
}

// Set writes the mask value at (z, y, x).
func (m *Mask) Set(z, y, x int, value bool) {
	m.Data[(z*m.Dims[1]+y)*m.Dims[2]+x] = value
}

// Count returns the number of foreground voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// crop returns a copy of the mask trimmed to its foreground bounding box,
// with Origin adjusted so the crop stays anchored in the source volume.
// Returns nil for an empty mask.
func (m *Mask) crop() *Mask {
	min := [3]int{m.Dims[0], m.Dims[1], m.Dims[2]}
	max := [3]int{-1, -1, -1}
	for z := 0; z < m.Dims[0]; z++ {
		for y := 0; y < m.Dims[1]; y++ {
			for x := 0; x < m.Dims[2]; x++ {
				if !m.At(z, y, x) {
					continue
				}
				idx := [3]int{z, y, x}
				for a := 0; a < 3; a++ {
					if idx[a] < min[a] {
						min[a] = idx[a]
					}
					if idx[a] > max[a] {
						max[a] = idx[a]
					}
				}
			}
		}
	}
	if max[0] < 0 {
		return nil
	}

	dims := [3]int{max[0] - min[0] + 1, max[1] - min[1] + 1, max[2] - min[2] + 1}
	origin := [3]int{m.Origin[0] + min[0], m.Origin[1] + min[1], m.Origin[2] + min[2]}
	out := NewMask(dims, origin)
	for z := 0; z < dims[0]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[2]; x++ {
				out.Set(z, y, x, m.At(z+min[0], y+min[1], x+min[2]))
			}
		}
	}
	return out
}
