package imaging

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// volumeHeader is the JSON sidecar describing a raw scan file: voxel grid
// dimensions in (z, y, x) order and physical voxel spacing in millimeters.
type volumeHeader struct {
	Dims    [3]int     `json:"dims"`
	Spacing [3]float64 `json:"spacing_mm"`
}

// LoadVolume reads a preprocessed scan from disk. The scan is a raw
// little-endian float32 voxel file in Hounsfield units, row-major (z, y, x),
// with a .json sidecar carrying dimensions and spacing. DICOM conversion
// happens upstream; this loader only handles the preprocessed form. A
// missing or malformed scan maps to an input-unavailable error so callers
// can fail the run without retrying.
func LoadVolume(path string) (*Volume, error) {
	header, err := loadHeader(sidecarPath(path))
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewInputUnavailableError(fmt.Sprintf("reading scan %s", path), err)
	}
	want := header.Dims[0] * header.Dims[1] * header.Dims[2]
	if len(raw) != 4*want {
		return nil, apperrors.NewInputUnavailableError(
			fmt.Sprintf("scan %s has %d bytes, header expects %d voxels", path, len(raw), want), nil)
	}

	vol := NewVolume(header.Dims, header.Spacing)
	for i := range vol.Data {
		vol.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	if err := vol.Validate(); err != nil {
		return nil, apperrors.NewInputUnavailableError(fmt.Sprintf("scan %s", path), err)
	}
	return vol, nil
}

func loadHeader(path string) (*volumeHeader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewInputUnavailableError(fmt.Sprintf("reading scan header %s", path), err)
	}
	var header volumeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, apperrors.NewInputUnavailableError(fmt.Sprintf("parsing scan header %s", path), err)
	}
	for i := 0; i < 3; i++ {
		if header.Dims[i] <= 0 || header.Spacing[i] <= 0 {
			return nil, apperrors.NewInputUnavailableError(
				fmt.Sprintf("scan header %s has non-positive dims or spacing", path), nil)
		}
	}
	return &header, nil
}

func sidecarPath(scanPath string) string {
	ext := filepath.Ext(scanPath)
	return scanPath[:len(scanPath)-len(ext)] + ".json"
}
