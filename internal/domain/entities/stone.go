package entities

import "strings"

// StoneLocation is a normalized anatomical location tag.
type StoneLocation string

const (
	LocationKidneyUpper    StoneLocation = "kidney_upper"
	LocationKidneyLower    StoneLocation = "kidney_lower"
	LocationProximalUreter StoneLocation = "proximal_ureter"
	LocationDistalUreter   StoneLocation = "distal_ureter"
)

// IsUreteral reports whether the location is in the ureter.
func (l StoneLocation) IsUreteral() bool {
	return l == LocationProximalUreter || l == LocationDistalUreter
}

// Composition is a predicted or lab-confirmed stone composition.
type Composition string

const (
	CompositionUnknown          Composition = "unknown"
	CompositionCalciumOxalate   Composition = "calcium_oxalate"
	CompositionCalciumPhosphate Composition = "calcium_phosphate"
	CompositionUricAcid         Composition = "uric_acid"
	CompositionCystine          Composition = "cystine"
	CompositionStruvite         Composition = "struvite"
	CompositionMixed            Composition = "mixed"
)

// DerivationMethod records how a stone's volume was obtained.
type DerivationMethod string

const (
	// DerivationMask means the volume came from a segmented voxel mask.
	DerivationMask DerivationMethod = "mask"
	// DerivationFormula means the volume came from reported dimensions.
	DerivationFormula DerivationMethod = "formula"
)

// HydronephrosisSeverity values, ordered none < mild < moderate < severe.
const (
	HydroNone     = "none"
	HydroMild     = "mild"
	HydroModerate = "moderate"
	HydroSevere   = "severe"
)

// StoneFinding is one model-reported stone detection, enriched by the
// pipeline as it moves through segmentation and burden estimation. The raw
// descriptors (coords, sizes, bbox) come from inference output and are never
// mutated once normalized; the burden fields are appended by the estimator.
type StoneFinding struct {
	Location       StoneLocation `json:"location"`
	LocationCoords []float64     `json:"location_coords,omitempty"` // x, y, z

	SizeMM          *float64  `json:"size_mm,omitempty"`
	DimensionsMM    []float64 `json:"dimensions_mm,omitempty"`
	BBoxVoxels      []float64 `json:"bbox_voxels,omitempty"` // z0,y0,x0,z1,y1,x1
	HounsfieldUnits *float64  `json:"hounsfield_units,omitempty"`
	Shape           string    `json:"shape,omitempty"`
	Hydronephrosis  string    `json:"hydronephrosis,omitempty"`

	Obstruction         bool `json:"obstruction,omitempty"`
	CompleteObstruction bool `json:"complete_obstruction,omitempty"`

	PredictedComposition Composition `json:"predicted_composition,omitempty"`

	VolumeMM3            *float64         `json:"volume_mm3,omitempty"`
	EquivalentDiameterMM *float64         `json:"equivalent_diameter_mm,omitempty"`
	Derivation           DerivationMethod `json:"derivation,omitempty"`
	MeshGenerated        bool             `json:"mesh_generated,omitempty"`
}

// BestSizeMM returns the best available maximum dimension in millimeters,
// or 0 when the finding carries no size data at all.
func (s *StoneFinding) BestSizeMM() float64 {
	if s.SizeMM != nil && *s.SizeMM > 0 {
		return *s.SizeMM
	}
	var max float64
	for _, d := range s.DimensionsMM {
		if d > max {
			max = d
		}
	}
	return max
}

// IsStaghorn reports whether the model described a staghorn morphology.
func (s *StoneFinding) IsStaghorn() bool {
	return strings.Contains(strings.ToLower(s.Shape), "staghorn")
}

// ScanFindings is the schema-validated output of one scan inference call.
type ScanFindings struct {
	Stones               []StoneFinding `json:"stones"`
	Confidence           float64        `json:"confidence"`
	PredictedComposition Composition    `json:"predicted_composition,omitempty"`
}
