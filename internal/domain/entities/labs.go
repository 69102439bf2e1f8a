package entities

// RiskFactor is a treatable metabolic abnormality identified from labs.
type RiskFactor string

const (
	RiskHypercalciuria  RiskFactor = "hypercalciuria"
	RiskHypocitraturia  RiskFactor = "hypocitraturia"
	RiskHyperuricosuria RiskFactor = "hyperuricosuria"
	RiskHyperoxaluria   RiskFactor = "hyperoxaluria"
	RiskHypernatriuria  RiskFactor = "hypernatriuria"
	RiskAcidicUrine     RiskFactor = "acidic_urine"
	RiskAlkalineUrine   RiskFactor = "alkaline_urine"
	RiskLowUrineVolume  RiskFactor = "low_urine_volume"
)

// UrinePanel is a 24-hour urine collection result. Absent values are nil.
type UrinePanel struct {
	VolumeMLDay   *float64 `json:"volume_ml_day,omitempty"`
	CalciumMgDay  *float64 `json:"calcium_mg_day,omitempty"`
	CitrateMgDay  *float64 `json:"citrate_mg_day,omitempty"`
	UricAcidMgDay *float64 `json:"uric_acid_mg_day,omitempty"`
	OxalateMgDay  *float64 `json:"oxalate_mg_day,omitempty"`
	SodiumMgDay   *float64 `json:"sodium_mg_day,omitempty"`
	PH            *float64 `json:"ph,omitempty"`
}

// Crystallography is a stone-composition lab result. When present it
// overrides the CT-predicted composition.
type Crystallography struct {
	Composition string `json:"composition"`
}

// LabResults bundles the optional lab inputs to a workflow run.
type LabResults struct {
	Urine           *UrinePanel      `json:"urine,omitempty"`
	Crystallography *Crystallography `json:"crystallography,omitempty"`
}

// HasAny reports whether any lab data is present.
func (l *LabResults) HasAny() bool {
	return l != nil && (l.Urine != nil || l.Crystallography != nil)
}
