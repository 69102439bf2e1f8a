package imaging

import (
	"math"

	"github.com/klenai/stonecare/internal/domain/entities"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// BurdenRecord is the per-stone volume estimate with its derivation method,
// recorded for auditability.
type BurdenRecord struct {
	VolumeMM3            float64
	EquivalentDiameterMM float64
	Method               entities.DerivationMethod
}

// MaskBurden computes the burden directly from a segmented mask:
// voxel count times the physical volume of one voxel.
func MaskBurden(mask *Mask, spacing [3]float64) BurdenRecord {
	volume := float64(mask.Count()) * spacing[0] * spacing[1] * spacing[2]
	return BurdenRecord{
		VolumeMM3:            volume,
		EquivalentDiameterMM: EquivalentDiameterMM(volume),
		Method:               entities.DerivationMask,
	}
}

// FormulaBurden estimates the burden from model-reported dimensions, used
// when no mask exists for the stone. Preference order: scalar diameter
// (sphere), three dimensions (ellipsoid), two dimensions (ellipsoid with the
// smaller dimension as a conservative third axis), bounding box (converted
// to dimensions via voxel spacing, then ellipsoid). A stone with no usable
// size data yields a RuleInputMissing error.
func FormulaBurden(finding *entities.StoneFinding, spacing [3]float64) (BurdenRecord, error) {
	if finding.SizeMM != nil && *finding.SizeMM > 0 {
		r := *finding.SizeMM / 2
		return formulaRecord((4.0 / 3.0) * math.Pi * r * r * r), nil
	}

	dims := dimensionsMM(finding, spacing)
	if len(dims) == 3 {
		return formulaRecord((4.0 / 3.0) * math.Pi * (dims[0] / 2) * (dims[1] / 2) * (dims[2] / 2)), nil
	}
	if len(dims) == 2 {
		// Conservative third axis: the smaller of the two known dimensions.
		third := math.Min(dims[0], dims[1])
		return formulaRecord((4.0 / 3.0) * math.Pi * (dims[0] / 2) * (dims[1] / 2) * (third / 2)), nil
	}

	return BurdenRecord{}, apperrors.NewRuleInputMissingError("stone has no size data")
}

func formulaRecord(volume float64) BurdenRecord {
	return BurdenRecord{
		VolumeMM3:            volume,
		EquivalentDiameterMM: EquivalentDiameterMM(volume),
		Method:               entities.DerivationFormula,
	}
}

// dimensionsMM resolves the stone's physical dimensions, converting a voxel
// bounding box via spacing when explicit dimensions are absent.
func dimensionsMM(finding *entities.StoneFinding, spacing [3]float64) []float64 {
	if dims := positiveDims(finding.DimensionsMM); dims != nil {
		return dims
	}
	if len(finding.BBoxVoxels) >= 6 {
		b := finding.BBoxVoxels
		dims := []float64{
			(b[3] - b[0]) * spacing[0],
			(b[4] - b[1]) * spacing[1],
			(b[5] - b[2]) * spacing[2],
		}
		return positiveDims(dims)
	}
	return nil
}

func positiveDims(dims []float64) []float64 {
	if len(dims) < 2 {
		return nil
	}
	out := make([]float64, 0, 3)
	for _, d := range dims {
		if d <= 0 {
			return nil
		}
		out = append(out, d)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// EquivalentDiameterMM converts a volume into the diameter of the sphere
// with the same volume, so mask- and formula-based estimates compare on the
// same scale for urgency thresholding.
func EquivalentDiameterMM(volumeMM3 float64) float64 {
	if volumeMM3 <= 0 {
		return 0
	}
	return math.Cbrt(6 * volumeMM3 / math.Pi)
}
