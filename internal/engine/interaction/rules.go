package interaction

import "strings"

// Interaction severities. Rule matches use major/moderate/minor;
// warning marks unusable input and info marks a no-findings summary.
const (
	SeverityMajor    = "major"
	SeverityModerate = "moderate"
	SeverityMinor    = "minor"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Interaction is one finding in an evaluation result.
type Interaction struct {
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

type combinationRule struct {
	drugA           string
	drugB           string
	severity        string
	description     string
	recommendations []string
}

// matches tests a mention pair against the rule by substring
// containment in both directions. Containment tolerates suffixed
// mentions; an unrelated longer name can still false-positive.
func (r combinationRule) matches(mentionA, mentionB string) bool {
	return (strings.Contains(mentionA, r.drugA) && strings.Contains(mentionB, r.drugB)) ||
		(strings.Contains(mentionA, r.drugB) && strings.Contains(mentionB, r.drugA))
}

var dangerousCombinations = []combinationRule{
	{
		drugA: "aspirin", drugB: "warfarin", severity: SeverityMajor,
		description:     "Increased bleeding risk due to combined anticoagulant effects",
		recommendations: []string{"Monitor INR closely", "Consider alternative analgesic", "Consult hematologist"},
	},
	{
		drugA: "aspirin", drugB: "ibuprofen", severity: SeverityModerate,
		description:     "Increased bleeding risk and potential for GI irritation",
		recommendations: []string{"Space doses by at least 2 hours", "Consider PPI for GI protection"},
	},
	{
		drugA: "ibuprofen", drugB: "warfarin", severity: SeverityMajor,
		description:     "Significantly increased bleeding risk",
		recommendations: []string{"Monitor INR frequently", "Consider acetaminophen as alternative"},
	},
	{
		drugA: "metformin", drugB: "insulin", severity: SeverityModerate,
		description:     "Risk of hypoglycemia with combined glucose-lowering effects",
		recommendations: []string{"Monitor blood glucose levels", "Adjust doses under medical supervision"},
	},
	{
		drugA: "lisinopril", drugB: "potassium", severity: SeverityModerate,
		description:     "Risk of hyperkalemia due to potassium retention",
		recommendations: []string{"Monitor potassium levels", "Limit potassium-rich foods"},
	},
	{
		drugA: "digoxin", drugB: "furosemide", severity: SeverityModerate,
		description:     "Furosemide may increase digoxin toxicity via electrolyte imbalances",
		recommendations: []string{"Monitor electrolytes", "Check digoxin levels regularly"},
	},
	{
		drugA: "prednisone", drugB: "warfarin", severity: SeverityModerate,
		description:     "Prednisone may enhance warfarin’s anticoagulant effect",
		recommendations: []string{"Monitor INR closely", "Adjust warfarin dose as needed"},
	},
	{
		drugA: "amoxicillin", drugB: "warfarin", severity: SeverityModerate,
		description:     "Amoxicillin may enhance warfarin’s anticoagulant effect",
		recommendations: []string{"Monitor INR during antibiotic course", "Consult prescriber"},
	},
	{
		drugA: "fluoxetine", drugB: "warfarin", severity: SeverityModerate,
		description:     "Fluoxetine may increase warfarin levels via CYP2C9 inhibition",
		recommendations: []string{"Monitor INR frequently", "Consider dose adjustment"},
	},
	{
		drugA: "atorvastatin", drugB: "clarithromycin", severity: SeverityMajor,
		description:     "Clarithromycin inhibits atorvastatin metabolism, increasing myopathy risk",
		recommendations: []string{"Consider alternative antibiotic", "Monitor for muscle pain"},
	},
}

// lowWeightMedicines trigger the low-body-weight context interaction.
// Exact match, unlike combination rules.
var lowWeightMedicines = map[string]bool{
	"ibuprofen":     true,
	"acetaminophen": true,
}

// dedupeByDescription keeps the first interaction per description.
func dedupeByDescription(in []Interaction) []Interaction {
	seen := make(map[string]bool, len(in))
	out := make([]Interaction, 0, len(in))
	for _, it := range in {
		if seen[it.Description] {
			continue
		}
		seen[it.Description] = true
		out = append(out, it)
	}
	return out
}
