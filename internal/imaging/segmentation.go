package imaging

import (
	"errors"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// ErrSegmentationUnavailable signals that no usable stone mask could be
// produced for the run. Callers fall back to formula-based burden estimation
// and skip mesh generation; the run itself continues.
var ErrSegmentationUnavailable = errors.New("segmentation unavailable: no usable stone masks")

// SegmentationConfig holds the segmentation tuning knobs.
type SegmentationConfig struct {
	HounsfieldLower    float64
	HounsfieldUpper    float64
	MinComponentVoxels int
	ROIRadiusMM        float64
}

// DefaultSegmentationConfig returns the documented defaults.
func DefaultSegmentationConfig() SegmentationConfig {
	return SegmentationConfig{
		HounsfieldLower:    250,
		HounsfieldUpper:    2000,
		MinComponentVoxels: 20,
		ROIRadiusMM:        6.0,
	}
}

// Segmenter isolates per-stone binary masks from a CT-like volume.
type Segmenter struct {
	cfg SegmentationConfig
}

// NewSegmenter creates a segmenter with the given configuration.
func NewSegmenter(cfg SegmentationConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// SegmentStones resolves one mask per finding where possible. The returned
// slice is aligned with the findings (length 1 when findings is empty); a nil
// entry means that finding yielded no mask and needs formula fallback. When
// every entry is nil the error is ErrSegmentationUnavailable.
//
// Findings that carry a coordinate are segmented inside a physical-radius
// ROI around the seed, preferring the connected component containing the
// seed and falling back to the largest component in the ROI. When no finding
// is seedable the volume is thresholded globally and the N largest
// components are taken, ranked by voxel count.
func (s *Segmenter) SegmentStones(vol *Volume, findings []entities.StoneFinding) ([]*Mask, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}

	n := len(findings)
	if n == 0 {
		n = 1
	}
	masks := make([]*Mask, n)

	seeded := false
	for i := range findings {
		seed, ok := voxelIndexFromCoords(findings[i].LocationCoords, vol)
		if !ok {
			continue
		}
		if m := s.segmentROI(vol, seed, &findings[i]); m != nil {
			masks[i] = m
			seeded = true
		}
	}

	if !seeded {
		global := s.thresholdMask(vol, s.cfg.HounsfieldLower, s.cfg.HounsfieldUpper, [3]int{0, 0, 0}, [3]int{0, 0, 0}, vol.Dims)
		removeSmallComponents(global, s.cfg.MinComponentVoxels)
		for i, c := range largestComponents(global, n) {
			masks[i] = c
		}
	}

	any := false
	for _, m := range masks {
		if m != nil {
			any = true
			break
		}
	}
	if !any {
		return masks, ErrSegmentationUnavailable
	}
	return masks, nil
}

// segmentROI isolates the stone around a seed voxel. Returns nil when the
// ROI holds no foreground after cleanup.
func (s *Segmenter) segmentROI(vol *Volume, seed [3]int, finding *entities.StoneFinding) *Mask {
	low, high := s.cfg.HounsfieldLower, s.cfg.HounsfieldUpper
	if finding.HounsfieldUnits != nil {
		// Tighten the band around the reported density so neighboring
		// calcifications with a different density stay out of the ROI.
		hu := *finding.HounsfieldUnits
		low = maxFloat(200, hu-200)
		high = minFloat(2000, hu+200)
	}

	radius := s.cfg.ROIRadiusMM
	if size := finding.BestSizeMM(); size > 0 {
		radius = maxFloat(size*0.75, 4.0)
	}

	var lo, hi [3]int
	for a := 0; a < 3; a++ {
		half := int(radius / vol.Spacing[a])
		if half < 3 {
			half = 3
		}
		lo[a] = maxInt(seed[a]-half, 0)
		hi[a] = minInt(seed[a]+half+1, vol.Dims[a])
	}

	dims := [3]int{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]}
	roi := s.thresholdMask(vol, low, high, lo, lo, dims)
	removeSmallComponents(roi, s.cfg.MinComponentVoxels)

	local := [3]int{seed[0] - lo[0], seed[1] - lo[1], seed[2] - lo[2]}
	if m := componentAt(roi, local); m != nil {
		return m
	}
	// Seed voxel not foreground; take the dominant component in the ROI.
	if comps := largestComponents(roi, 1); len(comps) == 1 {
		return comps[0]
	}
	return nil
}

// thresholdMask builds a boolean mask over the box [start, start+dims) of the
// volume, marking voxels inside [low, high]. Origin anchors the mask.
func (s *Segmenter) thresholdMask(vol *Volume, low, high float64, start, origin, dims [3]int) *Mask {
	m := NewMask(dims, origin)
	for z := 0; z < dims[0]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[2]; x++ {
				v := float64(vol.At(start[0]+z, start[1]+y, start[2]+x))
				if v >= low && v <= high {
					m.Set(z, y, x, true)
				}
			}
		}
	}
	return m
}

// voxelIndexFromCoords converts a model-reported (x, y, z) coordinate into a
// (z, y, x) voxel index. Coordinates may be normalized [0,1] fractions, voxel
// indices, or physical millimeters; each interpretation is tried in turn.
func voxelIndexFromCoords(coords []float64, vol *Volume) ([3]int, bool) {
	if len(coords) < 3 {
		return [3]int{}, false
	}
	x, y, z := coords[0], coords[1], coords[2]

	normalized := true
	for _, v := range coords[:3] {
		if v < 0 || v > 1 {
			normalized = false
			break
		}
	}
	if normalized {
		return [3]int{
			int(z * float64(vol.Dims[0]-1)),
			int(y * float64(vol.Dims[1]-1)),
			int(x * float64(vol.Dims[2]-1)),
		}, true
	}

	idx := [3]int{int(z), int(y), int(x)}
	if vol.Contains(idx[0], idx[1], idx[2]) {
		return idx, true
	}

	idx = [3]int{
		int(z / vol.Spacing[0]),
		int(y / vol.Spacing[1]),
		int(x / vol.Spacing[2]),
	}
	if vol.Contains(idx[0], idx[1], idx[2]) {
		return idx, true
	}
	return [3]int{}, false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
