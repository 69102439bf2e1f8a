// Package clinical holds the deterministic, side-effect-free decision rules:
// composition prediction, treatment and urgency selection, lab integration,
// and prevention planning. Everything here is a pure function of its inputs
// so the rules can be re-run and audited.
package clinical

import (
	"strings"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// PredictCompositionFromHU maps a stone's CT density onto the most likely
// composition. Bands follow Motley et al. (2001): uric acid stones scan
// soft, calcium phosphate hardest.
func PredictCompositionFromHU(hu float64) entities.Composition {
	switch {
	case hu < 500:
		return entities.CompositionUricAcid
	case hu < 700:
		return entities.CompositionCystine
	case hu < 1000:
		return entities.CompositionCalciumOxalate
	default:
		return entities.CompositionCalciumPhosphate
	}
}

// NormalizeComposition maps free-text composition values (model output, lab
// reports) onto the canonical constants. Unrecognized text is unknown.
func NormalizeComposition(value string) entities.Composition {
	text := strings.ToLower(strings.TrimSpace(value))
	switch {
	case text == "":
		return entities.CompositionUnknown
	case strings.Contains(text, "oxalate"):
		return entities.CompositionCalciumOxalate
	case strings.Contains(text, "phosphate"):
		return entities.CompositionCalciumPhosphate
	case strings.Contains(text, "uric"):
		return entities.CompositionUricAcid
	case strings.Contains(text, "struvite"):
		return entities.CompositionStruvite
	case strings.Contains(text, "cystine"):
		return entities.CompositionCystine
	case strings.Contains(text, "mixed"):
		return entities.CompositionMixed
	default:
		return entities.CompositionUnknown
	}
}

// AggregateComposition picks the run-level composition from per-stone
// predictions: the first stone with a prediction wins.
func AggregateComposition(stones []entities.StoneFinding) entities.Composition {
	for _, s := range stones {
		if s.PredictedComposition != "" && s.PredictedComposition != entities.CompositionUnknown {
			return s.PredictedComposition
		}
	}
	return entities.CompositionUnknown
}
