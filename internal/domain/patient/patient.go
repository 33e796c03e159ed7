package patient

import (
	"fmt"
	"strconv"
)

// AgeGroup buckets a patient age into the band used for dosage
// adjustment and alert selection.
type AgeGroup string

const (
	Pediatric AgeGroup = "pediatric" // 0-17
	Adult     AgeGroup = "adult"     // 18-64
	Geriatric AgeGroup = "geriatric" // 65-120
)

const (
	MinAge = 0
	MaxAge = 120

	MaxWeightKg = 300.0
)

// Context carries the patient attributes every analysis receives.
type Context struct {
	Age    int     `json:"age"`
	Weight float64 `json:"weight"`
}

// Validate checks that the age and weight fall inside the ranges the
// analysis tables are defined for.
func (c Context) Validate() error {
	if c.Age < MinAge || c.Age > MaxAge {
		return fmt.Errorf("age must be between %d and %d, got %d", MinAge, MaxAge, c.Age)
	}
	if c.Weight <= 0 || c.Weight > MaxWeightKg {
		return fmt.Errorf("weight must be between 0 and %g kg, got %g", MaxWeightKg, c.Weight)
	}
	return nil
}

// Group returns the age band for the context's age.
func (c Context) Group() AgeGroup {
	return GroupFor(c.Age)
}

// GroupFor maps an age in years to its band. Ages above the adult
// cutoff are geriatric regardless of how large they are, so the
// function is total even for out-of-range input.
func GroupFor(age int) AgeGroup {
	switch {
	case age <= 17:
		return Pediatric
	case age <= 64:
		return Adult
	default:
		return Geriatric
	}
}

type groupProfile struct {
	factor         float64
	considerations []string
}

var profiles = map[AgeGroup]groupProfile{
	Pediatric: {
		factor: 0.5,
		considerations: []string{
			"Use weight-based dosing where applicable",
			"Prefer pediatric formulations (e.g., suspensions)",
			"Monitor for developmental toxicities",
		},
	},
	Adult: {
		factor: 1.0,
		considerations: []string{
			"Verify adherence to standard therapeutic ranges",
			"Monitor for patient-specific factors (e.g., renal function)",
		},
	},
	Geriatric: {
		factor: 0.75,
		considerations: []string{
			"Adjust for reduced renal/hepatic function",
			"Monitor for drug accumulation",
			"Review polypharmacy interactions",
		},
	},
}

// AdjustmentFactor returns the multiplier applied to an adult
// therapeutic range for the given band.
func AdjustmentFactor(g AgeGroup) float64 {
	if p, ok := profiles[g]; ok {
		return p.factor
	}
	return 1.0
}

// SpecialConsiderations returns the clinical notes attached to a band.
// The returned slice is a copy; callers may append to it.
func SpecialConsiderations(g AgeGroup) []string {
	p, ok := profiles[g]
	if !ok {
		return nil
	}
	out := make([]string, len(p.considerations))
	copy(out, p.considerations)
	return out
}

// FormatWeight renders a weight in kg without a trailing ".0" so that
// patient-facing text reads "65kg" rather than "65.0kg".
func FormatWeight(kg float64) string {
	return strconv.FormatFloat(kg, 'f', -1, 64)
}
