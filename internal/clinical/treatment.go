package clinical

import (
	"fmt"
	"math"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// equivalentDiameterMM is the diameter of the sphere with the given volume.
func equivalentDiameterMM(volumeMM3 float64) float64 {
	if volumeMM3 <= 0 {
		return 0
	}
	return math.Cbrt(6 * volumeMM3 / math.Pi)
}

var hydronephrosisRank = map[string]int{
	entities.HydroNone:     0,
	entities.HydroMild:     1,
	entities.HydroModerate: 2,
	entities.HydroSevere:   3,
}

// Decision is the rule engine's treatment output for one run.
type Decision struct {
	Treatment entities.Treatment
	Urgency   entities.Urgency
	Rationale string
}

// Decide runs the treatment matrix over the detected stones. Size and
// location drive the base recommendation per AUA/EAU guidance; obstruction,
// staghorn pattern, and burden escalate it. The urgency evaluation uses the
// sphere-equivalent diameter, so mask- and formula-derived burdens are
// judged identically.
func Decide(stones []entities.StoneFinding, composition entities.Composition, totalBurdenMM3 *float64, hydroLevel string) Decision {
	if len(stones) == 0 {
		return Decision{
			Treatment: entities.TreatmentObservation,
			Urgency:   entities.UrgencyRoutine,
			Rationale: "No stones detected on the current scan.",
		}
	}
	treatment := ChooseTreatment(stones, composition, totalBurdenMM3, hydroLevel)
	urgency := AssessUrgency(stones, totalBurdenMM3, hydroLevel)
	return Decision{
		Treatment: treatment,
		Urgency:   urgency,
		Rationale: treatmentRationale(stones, composition, totalBurdenMM3, hydroLevel, treatment),
	}
}

// ChooseTreatment selects the least invasive pathway the findings allow.
// Rules are priority-ordered; the first match wins.
func ChooseTreatment(stones []entities.StoneFinding, composition entities.Composition, totalBurdenMM3 *float64, hydroLevel string) entities.Treatment {
	primary := PrimaryStone(stones)
	maxSize := primary.BestSizeMM()
	eqDiameter := 0.0
	if totalBurdenMM3 != nil {
		eqDiameter = equivalentDiameterMM(*totalBurdenMM3)
	}

	var ureteral []entities.StoneFinding
	lowerPole := false
	staghorn := false
	for _, s := range stones {
		if s.Location.IsUreteral() {
			ureteral = append(ureteral, s)
		} else if s.Location == entities.LocationKidneyLower {
			lowerPole = true
		}
		if s.IsStaghorn() {
			staghorn = true
		}
	}

	if hydronephrosisRank[hydroLevel] >= hydronephrosisRank[entities.HydroModerate] && len(ureteral) > 0 {
		return entities.TreatmentUreteroscopy
	}
	if staghorn || (composition == entities.CompositionStruvite && (maxSize >= 10 || eqDiameter >= 20)) {
		return entities.TreatmentPCNL
	}
	if eqDiameter >= 20 {
		return entities.TreatmentPCNL
	}
	if len(stones) >= 3 && eqDiameter >= 15 {
		return entities.TreatmentPCNL
	}

	if len(ureteral) > 0 {
		maxUreter := 0.0
		distal := false
		for _, s := range ureteral {
			if size := s.BestSizeMM(); size > maxUreter {
				maxUreter = size
			}
			if s.Location == entities.LocationDistalUreter {
				distal = true
			}
		}
		switch {
		case maxUreter < 5:
			if distal {
				return entities.TreatmentMedicalExpulsive
			}
			return entities.TreatmentObservation
		case maxUreter <= 10:
			if distal {
				return entities.TreatmentMedicalExpulsive
			}
			return entities.TreatmentUreteroscopy
		default:
			return entities.TreatmentUreteroscopy
		}
	}

	if maxSize >= 20 {
		return entities.TreatmentPCNL
	}
	if maxSize >= 10 {
		if lowerPole {
			return entities.TreatmentUreteroscopy
		}
		return entities.TreatmentESWL
	}
	return adjustForComposition(entities.TreatmentObservation, composition, maxSize)
}

// adjustForComposition handles compositions with dedicated pathways: uric
// acid stones can dissolve under medical therapy, struvite stones above 10mm
// need clearance.
func adjustForComposition(treatment entities.Treatment, composition entities.Composition, sizeMM float64) entities.Treatment {
	if composition == entities.CompositionUricAcid && sizeMM < 15 {
		return entities.TreatmentMedicalExpulsive
	}
	if composition == entities.CompositionStruvite && sizeMM > 10 {
		return entities.TreatmentPCNL
	}
	return treatment
}

// AssessUrgency flags the run emergent on severe hydronephrosis or complete
// obstruction, urgent on any obstruction, moderate hydronephrosis, or an
// aggregate sphere-equivalent diameter of 30mm or more.
func AssessUrgency(stones []entities.StoneFinding, totalBurdenMM3 *float64, hydroLevel string) entities.Urgency {
	for _, s := range stones {
		if s.Hydronephrosis == entities.HydroSevere || s.CompleteObstruction {
			return entities.UrgencyEmergent
		}
		if s.Obstruction || s.IsStaghorn() {
			return entities.UrgencyUrgent
		}
	}
	if hydroLevel == entities.HydroSevere {
		return entities.UrgencyEmergent
	}
	if hydroLevel == entities.HydroModerate {
		return entities.UrgencyUrgent
	}

	if totalBurdenMM3 != nil {
		if equivalentDiameterMM(*totalBurdenMM3) >= 30 {
			return entities.UrgencyUrgent
		}
		return entities.UrgencyRoutine
	}
	// No burden estimate at all; fall back to summed reported sizes.
	total := 0.0
	for _, s := range stones {
		total += s.BestSizeMM()
	}
	if total > 30 {
		return entities.UrgencyUrgent
	}
	return entities.UrgencyRoutine
}

// PrimaryStone returns the largest stone by reported size, or a zero
// finding when the scan reported no stones.
func PrimaryStone(stones []entities.StoneFinding) entities.StoneFinding {
	if len(stones) == 0 {
		return entities.StoneFinding{}
	}
	primary := stones[0]
	for _, s := range stones[1:] {
		if s.BestSizeMM() > primary.BestSizeMM() {
			primary = s
		}
	}
	return primary
}

// SummarizeHydronephrosis returns the most severe level observed across
// stones, or empty when none reported one.
func SummarizeHydronephrosis(stones []entities.StoneFinding) string {
	best := ""
	bestRank := -1
	for _, s := range stones {
		if s.Hydronephrosis == "" {
			continue
		}
		rank, known := hydronephrosisRank[s.Hydronephrosis]
		if !known {
			if best == "" {
				best = s.Hydronephrosis
			}
			continue
		}
		if rank > bestRank {
			bestRank = rank
			best = s.Hydronephrosis
		}
	}
	return best
}

func treatmentRationale(stones []entities.StoneFinding, composition entities.Composition, totalBurdenMM3 *float64, hydroLevel string, treatment entities.Treatment) string {
	primary := PrimaryStone(stones)
	location := string(primary.Location)
	if location == "" {
		location = "unknown"
	}

	burdenText := ""
	if totalBurdenMM3 != nil && *totalBurdenMM3 > 0 {
		burdenText = fmt.Sprintf(" Total burden ≈ %.1fmm (sphere-equivalent).", equivalentDiameterMM(*totalBurdenMM3))
	}
	hydroText := ""
	if hydroLevel != "" {
		hydroText = fmt.Sprintf(" Hydronephrosis: %s.", hydroLevel)
	}
	return fmt.Sprintf(
		"%d stone(s) detected. Primary stone %.1fmm in %s with composition %s. Recommended %s.%s%s",
		len(stones), primary.BestSizeMM(), location, composition, treatment, burdenText, hydroText,
	)
}
