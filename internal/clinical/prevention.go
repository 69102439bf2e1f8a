package clinical

import (
	"fmt"

	"github.com/klenai/stonecare/internal/domain/entities"
)

type dietRule struct {
	reduce              []entities.DietaryItem
	increase            []entities.DietaryItem
	fluidTargetML       int
	specialInstructions string
}

var dietaryRules = map[entities.Composition]dietRule{
	entities.CompositionCalciumOxalate: {
		reduce: []entities.DietaryItem{
			{Item: "spinach", Reason: "Very high oxalate"},
			{Item: "rhubarb", Reason: "Very high oxalate"},
			{Item: "nuts (especially almonds)", Reason: "High oxalate"},
			{Item: "chocolate", Reason: "High oxalate"},
			{Item: "black tea", Reason: "Moderate oxalate"},
		},
		increase: []entities.DietaryItem{
			{Item: "citrus fruits (lemon, orange)", Reason: "Increases urinary citrate"},
			{Item: "calcium-rich foods WITH meals", Reason: "Binds oxalate in gut"},
		},
		fluidTargetML:       3000,
		specialInstructions: "Pair calcium-rich foods with oxalate-containing meals to bind oxalate in the gut.",
	},
	entities.CompositionUricAcid: {
		reduce: []entities.DietaryItem{
			{Item: "red meat and organ meats", Reason: "High purine load"},
			{Item: "shellfish", Reason: "High purine load"},
			{Item: "alcohol (especially beer)", Reason: "Raises uric acid"},
		},
		increase: []entities.DietaryItem{
			{Item: "citrus fruits", Reason: "Alkalinizes urine"},
		},
		fluidTargetML:       3000,
		specialInstructions: "Goal urine pH 6.5-7.0. Uric acid stones can dissolve.",
	},
	entities.CompositionCalciumPhosphate: {
		reduce: []entities.DietaryItem{
			{Item: "sodium/salt", Reason: "Increases calcium excretion"},
			{Item: "animal protein", Reason: "Acidifies urine"},
		},
		increase: []entities.DietaryItem{
			{Item: "citrus fruits", Reason: "Citrate inhibits stone formation"},
		},
		fluidTargetML:       2500,
		specialInstructions: "Consider evaluation for hyperparathyroidism or RTA.",
	},
	entities.CompositionCystine: {
		reduce: []entities.DietaryItem{
			{Item: "sodium", Reason: "Increases cystine excretion"},
			{Item: "animal protein", Reason: "Contains methionine"},
		},
		increase: []entities.DietaryItem{
			{Item: "fluids (dramatic increase)", Reason: "Dilute cystine concentration"},
		},
		fluidTargetML:       4000,
		specialInstructions: "Genetic condition. May need alkalinization + tiopronin.",
	},
	entities.CompositionStruvite: {
		fluidTargetML:       2500,
		specialInstructions: "Caused by UTI with urease-producing bacteria; treat infection aggressively.",
	},
}

// medicationRecommendations maps treatable risk factors to a first-line
// prescription. Iteration happens over medicationOrder so plans come out
// deterministic.
var medicationRecommendations = map[entities.RiskFactor]entities.Medication{
	entities.RiskHypercalciuria: {
		Name:      "hydrochlorothiazide",
		Dose:      "25mg daily",
		Rationale: "Thiazides reduce urinary calcium excretion",
	},
	entities.RiskHypocitraturia: {
		Name:      "potassium citrate",
		Dose:      "20 mEq twice daily",
		Rationale: "Citrate inhibits stones and alkalinizes urine",
	},
	entities.RiskHyperuricosuria: {
		Name:      "allopurinol",
		Dose:      "300mg daily",
		Rationale: "Reduces uric acid production",
	},
	entities.RiskAcidicUrine: {
		Name:      "potassium citrate",
		Dose:      "10-20 mEq twice daily",
		Rationale: "Alkalinizes urine for uric acid/cystine stones",
	},
}

var medicationOrder = []entities.RiskFactor{
	entities.RiskHypercalciuria,
	entities.RiskHypocitraturia,
	entities.RiskHyperuricosuria,
	entities.RiskAcidicUrine,
}

// BuildPrevention assembles the prevention parameters from the stone
// composition and the metabolic risk factors. All lab-driven rules are
// additive: each risk factor may append recommendations or raise the fluid
// target, and no rule removes another's output, so the result does not
// depend on the order the risks were found.
func BuildPrevention(composition entities.Composition, riskFactors []entities.RiskFactor) entities.Prevention {
	rules, ok := dietaryRules[composition]
	if !ok {
		rules = dietaryRules[entities.CompositionCalciumOxalate]
	}

	risks := make(map[entities.RiskFactor]bool, len(riskFactors))
	for _, r := range riskFactors {
		risks[r] = true
	}

	fluidTarget := rules.fluidTargetML
	if risks[entities.RiskLowUrineVolume] && fluidTarget < 3500 {
		fluidTarget = 3500
	}

	var medications []entities.Medication
	for _, risk := range medicationOrder {
		if risks[risk] {
			medications = append(medications, medicationRecommendations[risk])
		}
	}

	lifestyle := []string{
		fmt.Sprintf("Drink at least %dml daily (goal urine output >2L/day).", fluidTarget),
		"Spread fluid intake throughout the day, including before bed.",
		"Limit sodium intake to <2300mg daily (ideally <1500mg).",
		"Moderate animal protein to 0.8-1.0 g/kg body weight.",
		"Maintain a healthy body weight.",
	}
	if rules.specialInstructions != "" {
		lifestyle = append(lifestyle, rules.specialInstructions)
	}
	if risks[entities.RiskHyperoxaluria] {
		lifestyle = append(lifestyle, "Pair calcium-rich foods with meals to bind oxalate.")
	}
	if risks[entities.RiskHypernatriuria] {
		lifestyle = append(lifestyle, "Track sodium intake and avoid processed foods.")
	}
	if risks[entities.RiskAlkalineUrine] && composition == entities.CompositionCalciumPhosphate {
		lifestyle = append(lifestyle, "Avoid excessive urine alkalinization; focus on citrate balance.")
	}

	dietary := []entities.DietaryRecommendation{
		{Category: "reduce", Items: rules.reduce, Priority: "high"},
		{Category: "increase", Items: rules.increase, Priority: "high"},
	}
	if risks[entities.RiskHyperoxaluria] {
		dietary = append(dietary, entities.DietaryRecommendation{
			Category: "reduce",
			Items:    []entities.DietaryItem{{Item: "high-oxalate foods", Reason: "Elevated urine oxalate"}},
			Priority: "medium",
		})
	}
	if risks[entities.RiskHypernatriuria] {
		dietary = append(dietary, entities.DietaryRecommendation{
			Category: "reduce",
			Items:    []entities.DietaryItem{{Item: "processed foods", Reason: "High sodium load"}},
			Priority: "medium",
		})
	}
	if risks[entities.RiskLowUrineVolume] {
		dietary = append(dietary, entities.DietaryRecommendation{
			Category: "increase",
			Items:    []entities.DietaryItem{{Item: "water intake", Reason: "Increase urine volume"}},
			Priority: "high",
		})
	}

	return entities.Prevention{
		FluidTargetML:          fluidTarget,
		DietaryRecommendations: dietary,
		Medications:            medications,
		LifestyleModifications: lifestyle,
	}
}
