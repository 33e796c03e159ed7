// Package assist holds the conversational front-end logic: classifying
// what a chat message asks for and pulling prescription details out of
// it. Rendering replies is left to the caller.
package assist

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent classifies what a chat message asks the service to do. The
// analysis intents carry the endpoint names they map to.
type Intent string

const (
	IntentInteractions Intent = "check_interactions"
	IntentDosage       Intent = "check_dosage"
	IntentAlternatives Intent = "get_alternatives"
	IntentHelp         Intent = "help"
	IntentPrescription Intent = "prescription_input"
	IntentGeneral      Intent = "general"
)

// intentGroups is ordered; the first group with a keyword present in
// the message decides the intent.
var intentGroups = []struct {
	intent   Intent
	keywords []string
}{
	{IntentInteractions, []string{"interact", "interaction", "combine", "together"}},
	{IntentDosage, []string{"dosage", "dose", "amount", "how much"}},
	{IntentAlternatives, []string{"alternative", "substitute", "replace", "different"}},
	{IntentHelp, []string{"help", "what can you do", "guide"}},
	{IntentPrescription, []string{"prescription", "medicine", "medication", "drug", "pill"}},
}

// DetectIntent classifies a chat message. Matching is a plain substring
// check on the lowercased text, so "interactions" satisfies "interact".
func DetectIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, g := range intentGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.intent
			}
		}
	}
	return IntentGeneral
}

// PatientInfo is what a chat message reveals about the prescription and
// the patient. Age and Weight are nil when the message mentions neither.
type PatientInfo struct {
	HasPrescription bool
	Medicines       []string
	Dosages         []string
	Age             *int
	Weight          *float64
}

var (
	doseMentionRe = regexp.MustCompile(`(?i)\b([a-zA-Z]+)\s*(\d+(?:\.\d+)?)\s*(mg|g|ml|mcg|units?)\b`)
	ageRe         = regexp.MustCompile(`(?i)\b(?:age|years?|yo)\s*:?\s*(\d+)|(\d+)\s*(?:years?\s*old|yo)\b`)
	weightRe      = regexp.MustCompile(`(?i)\b(?:weight|weighs?)\s*:?\s*(\d+(?:\.\d+)?)\s*(?:kg|kilograms?)\b|(\d+(?:\.\d+)?)\s*kg\b`)
)

// knownMedicines catches bare names the dose pattern misses.
var knownMedicines = []string{
	"aspirin", "ibuprofen", "acetaminophen", "warfarin", "metformin",
	"insulin", "lisinopril",
}

// ExtractPatientInfo pulls medicines, dosages, age and weight out of a
// chat message. Dosage strings keep the casing the user typed.
func ExtractPatientInfo(text string) PatientInfo {
	var info PatientInfo
	lower := strings.ToLower(text)

	for _, m := range doseMentionRe.FindAllStringSubmatch(text, -1) {
		info.HasPrescription = true
		info.Medicines = append(info.Medicines, strings.ToLower(m[1]))
		info.Dosages = append(info.Dosages, m[2]+m[3])
	}
	for _, med := range knownMedicines {
		if strings.Contains(lower, med) && !containsString(info.Medicines, med) {
			info.Medicines = append(info.Medicines, med)
			info.HasPrescription = true
		}
	}

	if m := ageRe.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, err := strconv.Atoi(raw); err == nil {
			info.Age = &v
		}
	}
	if m := weightRe.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			info.Weight = &v
		}
	}
	return info
}

func containsString(in []string, s string) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}
