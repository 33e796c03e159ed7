package alternatives

type catalogEntry struct {
	name   string
	reason string
	dosage string
}

// catalog is the curated alternatives table, keyed by lowercased
// medicine name. It is consulted before any external lookup.
var catalog = map[string][]catalogEntry{
	"aspirin": {
		{name: "Acetaminophen", reason: "Less GI irritation", dosage: "500-1000mg"},
		{name: "Celecoxib", reason: "Lower bleeding risk", dosage: "100-200mg"},
		{name: "Topical NSAIDs", reason: "Reduced systemic effects", dosage: "Apply locally"},
	},
	"ibuprofen": {
		{name: "Naproxen", reason: "Longer duration of action", dosage: "220-440mg"},
		{name: "Diclofenac", reason: "Similar efficacy", dosage: "50-100mg"},
		{name: "Acetaminophen", reason: "Different mechanism", dosage: "500-1000mg"},
	},
	"acetaminophen": {
		{name: "Ibuprofen", reason: "Anti-inflammatory properties", dosage: "200-400mg"},
		{name: "Aspirin", reason: "Additional cardioprotective effects", dosage: "325-650mg"},
		{name: "Naproxen", reason: "Longer-lasting relief", dosage: "220mg"},
	},
	"metformin": {
		{name: "Gliclazide", reason: "Different mechanism", dosage: "40-80mg"},
		{name: "Sitagliptin", reason: "Lower hypoglycemia risk", dosage: "25-100mg"},
		{name: "Empagliflozin", reason: "Cardiovascular benefits", dosage: "10-25mg"},
	},
	"lisinopril": {
		{name: "Losartan", reason: "ARB alternative, less cough", dosage: "25-100mg"},
		{name: "Amlodipine", reason: "Different class, CCB", dosage: "2.5-10mg"},
		{name: "Hydrochlorothiazide", reason: "Diuretic alternative", dosage: "12.5-25mg"},
	},
	"warfarin": {
		{name: "Rivaroxaban", reason: "No INR monitoring needed", dosage: "10-20mg"},
		{name: "Apixaban", reason: "Lower bleeding risk", dosage: "2.5-5mg"},
		{name: "Dabigatran", reason: "Reversible anticoagulant", dosage: "75-150mg"},
	},
}

// dosageNote is the age-specific suffix appended to a suggested dosage.
func dosageNote(age int) string {
	switch {
	case age < 18:
		return " (Pediatric dosing required)"
	case age >= 65:
		return " (Consider reduced dose for elderly)"
	default:
		return ""
	}
}
