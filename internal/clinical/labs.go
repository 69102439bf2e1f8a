package clinical

import (
	"sort"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// LabIntegration is the result of folding lab data into a run: the possibly
// upgraded composition and the accumulated metabolic risk factors.
type LabIntegration struct {
	Composition entities.Composition
	Confidence  float64
	RiskFactors []entities.RiskFactor
}

// IntegrateLabs confirms composition from crystallography and derives
// metabolic risk factors from the 24-hour urine panel. Crystallography is
// definitive: it overrides the CT prediction and raises confidence to at
// least 0.9. Risk factors are additive over any previously recorded ones and
// returned sorted so repeated integration is deterministic.
func IntegrateLabs(labs entities.LabResults, composition entities.Composition, confidence float64, existing []entities.RiskFactor) LabIntegration {
	out := LabIntegration{Composition: composition, Confidence: confidence}

	if labs.Crystallography != nil {
		if confirmed := NormalizeComposition(labs.Crystallography.Composition); confirmed != entities.CompositionUnknown {
			out.Composition = confirmed
			if out.Confidence < 0.9 {
				out.Confidence = 0.9
			}
		}
	}

	set := make(map[entities.RiskFactor]bool, len(existing))
	for _, r := range existing {
		set[r] = true
	}
	for _, r := range urineRiskFactors(labs.Urine) {
		set[r] = true
	}

	out.RiskFactors = make([]entities.RiskFactor, 0, len(set))
	for r := range set {
		out.RiskFactors = append(out.RiskFactors, r)
	}
	sort.Slice(out.RiskFactors, func(i, j int) bool { return out.RiskFactors[i] < out.RiskFactors[j] })
	return out
}

// urineRiskFactors applies the 24-hour urine thresholds. Absent values
// contribute nothing.
func urineRiskFactors(urine *entities.UrinePanel) []entities.RiskFactor {
	if urine == nil {
		return nil
	}
	var risks []entities.RiskFactor
	add := func(r entities.RiskFactor) { risks = append(risks, r) }

	if urine.CalciumMgDay != nil && *urine.CalciumMgDay > 250 {
		add(entities.RiskHypercalciuria)
	}
	if urine.CitrateMgDay != nil && *urine.CitrateMgDay < 320 {
		add(entities.RiskHypocitraturia)
	}
	if urine.UricAcidMgDay != nil && *urine.UricAcidMgDay > 750 {
		add(entities.RiskHyperuricosuria)
	}
	if urine.PH != nil {
		if *urine.PH < 5.5 {
			add(entities.RiskAcidicUrine)
		}
		if *urine.PH > 6.8 {
			add(entities.RiskAlkalineUrine)
		}
	}
	if urine.VolumeMLDay != nil && *urine.VolumeMLDay < 2000 {
		add(entities.RiskLowUrineVolume)
	}
	if urine.OxalateMgDay != nil && *urine.OxalateMgDay > 40 {
		add(entities.RiskHyperoxaluria)
	}
	if urine.SodiumMgDay != nil && *urine.SodiumMgDay > 2300 {
		add(entities.RiskHypernatriuria)
	}
	return risks
}
