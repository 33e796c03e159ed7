package dosage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
)

// Guideline is the therapeutic range for one medicine in one age band.
// Unit "mg/kg" marks weight-proportional dosing; everything else is a
// fixed per-dose amount.
type Guideline struct {
	Min       float64
	Max       float64
	Unit      string
	MaxDaily  float64
	Frequency string
}

type guidelineEntry struct {
	byGroup map[patient.AgeGroup]Guideline
	notes   []string
}

var guidelines = map[string]guidelineEntry{
	"aspirin": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 81, Max: 325, Unit: "mg", MaxDaily: 4000, Frequency: "once or twice daily"},
			patient.Pediatric: {Min: 10, Max: 15, Unit: "mg/kg", MaxDaily: 80, Frequency: "every 4-6 hours"},
			patient.Geriatric: {Min: 81, Max: 162, Unit: "mg", MaxDaily: 2000, Frequency: "once daily"},
		},
		notes: []string{"Low-dose for cardioprotection", "Higher doses for analgesia"},
	},
	"ibuprofen": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 200, Max: 800, Unit: "mg", MaxDaily: 3200, Frequency: "every 6-8 hours"},
			patient.Pediatric: {Min: 5, Max: 10, Unit: "mg/kg", MaxDaily: 40, Frequency: "every 6-8 hours"},
			patient.Geriatric: {Min: 200, Max: 400, Unit: "mg", MaxDaily: 2400, Frequency: "every 8 hours"},
		},
		notes: []string{"Take with food to reduce GI irritation", "Monitor renal function"},
	},
	"acetaminophen": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 500, Max: 1000, Unit: "mg", MaxDaily: 4000, Frequency: "every 4-6 hours"},
			patient.Pediatric: {Min: 10, Max: 15, Unit: "mg/kg", MaxDaily: 75, Frequency: "every 4-6 hours"},
			patient.Geriatric: {Min: 500, Max: 650, Unit: "mg", MaxDaily: 3000, Frequency: "every 6 hours"},
		},
		notes: []string{"Monitor for hepatotoxicity", "Avoid alcohol"},
	},
	"metformin": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 500, Max: 1000, Unit: "mg", MaxDaily: 2550, Frequency: "twice daily"},
			patient.Pediatric: {Min: 500, Max: 1000, Unit: "mg", MaxDaily: 2000, Frequency: "twice daily"},
			patient.Geriatric: {Min: 500, Max: 850, Unit: "mg", MaxDaily: 1500, Frequency: "once or twice daily"},
		},
		notes: []string{"Monitor renal function", "Risk of lactic acidosis"},
	},
	"lisinopril": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 10, Max: 40, Unit: "mg", MaxDaily: 80, Frequency: "once daily"},
			patient.Pediatric: {Min: 0.07, Max: 0.3, Unit: "mg/kg", MaxDaily: 40, Frequency: "once daily"},
			patient.Geriatric: {Min: 2.5, Max: 20, Unit: "mg", MaxDaily: 40, Frequency: "once daily"},
		},
		notes: []string{"Monitor blood pressure and potassium", "Risk of angioedema"},
	},
	"warfarin": {
		byGroup: map[patient.AgeGroup]Guideline{
			patient.Adult:     {Min: 2, Max: 10, Unit: "mg", MaxDaily: 15, Frequency: "once daily"},
			patient.Pediatric: {Min: 0.1, Max: 0.2, Unit: "mg/kg", MaxDaily: 10, Frequency: "once daily"},
			patient.Geriatric: {Min: 1, Max: 5, Unit: "mg", MaxDaily: 10, Frequency: "once daily"},
		},
		notes: []string{"Monitor INR regularly", "Avoid with certain foods/drugs"},
	},
}

// weightBasedMedicines get a per-kg analysis whenever the patient
// weight is known, on top of the range check.
var weightBasedMedicines = map[string]bool{
	"ibuprofen":     true,
	"acetaminophen": true,
	"lisinopril":    true,
	"warfarin":      true,
}

func lookupGuideline(medicine string, group patient.AgeGroup) (Guideline, bool) {
	entry, ok := guidelines[medicine]
	if !ok {
		return Guideline{}, false
	}
	g, ok := entry.byGroup[group]
	if !ok {
		g = entry.byGroup[patient.Adult]
	}
	return g, true
}

func guidelineNotes(medicine string) []string {
	return guidelines[medicine].notes
}

// dosesPerDay maps recognized frequency phrases to administrations per
// day. Interval phrases use the most frequent plausible reading; PRN
// counts once.
var dosesPerDay = map[string]float64{
	"once daily":        1,
	"twice daily":       2,
	"three times daily": 3,
	"four times daily":  4,
	"every 4-6 hours":   4,
	"every 6-8 hours":   3,
	"every 8 hours":     3,
	"as needed":         1,
}

var everyHoursRe = regexp.MustCompile(`(?i)every (\d+) hours`)

func dosesFor(frequency string) float64 {
	if n, ok := dosesPerDay[strings.ToLower(frequency)]; ok {
		return n
	}
	return 1
}

// estimateDailyDose projects a single dose to a daily total. An exact
// "every N hours" phrase wins over the phrase table; a zero return
// means no estimate could be made.
func estimateDailyDose(singleDose float64, frequency string) float64 {
	if m := everyHoursRe.FindStringSubmatch(frequency); m != nil {
		hours, err := strconv.Atoi(m[1])
		if err != nil || hours <= 0 {
			return 0
		}
		return singleDose * (24 / float64(hours))
	}
	return singleDose * dosesFor(frequency)
}
