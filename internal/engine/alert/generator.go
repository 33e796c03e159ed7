// Package alert turns drug, age and condition facts into human-readable
// safety alerts. Every generator method tries the model first when one
// is wired and falls back to fixed rule tables, and none of them ever
// returns an error: internal failures degrade to a generic advisory.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Querier is the model operation the generator needs. Alerts are
// patient-specific, so responses are not cached.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Generator produces contextual, age-based, condition-based and
// comprehensive alerts.
type Generator struct {
	model  Querier
	logger *zap.Logger
}

// NewGenerator builds a generator. A nil model disables the model path.
func NewGenerator(model Querier, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, logger: logger}
}

// Summary is the three-tier output of Comprehensive.
type Summary struct {
	HighPriority    []string `json:"high_priority_alerts"`
	MediumPriority  []string `json:"medium_priority_alerts"`
	LowPriority     []string `json:"low_priority_alerts"`
	Recommendations []string `json:"recommendations"`
}

// interactionTemplates are keyed by interaction severity. An unknown
// severity falls back to the moderate template.
var interactionTemplates = map[string]string{
	"major":    "🚨 MAJOR INTERACTION: %s and %s combination poses significant risk. %s Immediate medical consultation recommended.",
	"moderate": "⚠️ MODERATE INTERACTION: %s and %s may interact. %s Monitor patient closely.",
	"minor":    "ℹ️ MINOR INTERACTION: %s and %s have potential interaction. %s Consider alternative if possible.",
}

type contextualRule struct {
	name            string
	drugs           map[string]bool
	recommendations []string
}

// contextualRules is ordered: matching groups contribute their first
// two recommendations in this order, capped at three total.
var contextualRules = []contextualRule{
	{
		name:  "bleeding_risk",
		drugs: map[string]bool{"aspirin": true, "warfarin": true, "ibuprofen": true, "heparin": true, "clopidogrel": true},
		recommendations: []string{
			"Monitor INR if on warfarin",
			"Check for unusual bruising or bleeding",
			"Consider PPI for GI protection",
		},
	},
	{
		name:  "kidney_function",
		drugs: map[string]bool{"ibuprofen": true, "naproxen": true, "lisinopril": true, "furosemide": true},
		recommendations: []string{
			"Check creatinine levels",
			"Ensure adequate hydration",
			"Monitor urine output",
		},
	},
	{
		name:  "blood_sugar",
		drugs: map[string]bool{"metformin": true, "insulin": true, "gliclazide": true, "prednisone": true},
		recommendations: []string{
			"Monitor blood glucose regularly",
			"Adjust insulin dose if needed",
			"Watch for hypo/hyperglycemia symptoms",
		},
	},
}

// conditionAlerts maps a medical condition to the drugs that warrant a
// caution under it.
var conditionAlerts = map[string]map[string]string{
	"diabetes": {
		"prednisone": "Corticosteroids may increase blood glucose levels",
		"thiazide":   "Thiazide diuretics may worsen glucose control",
	},
	"kidney_disease": {
		"ibuprofen": "NSAIDs may worsen kidney function",
		"metformin": "Contraindicated in severe kidney disease",
	},
	"heart_disease": {
		"ibuprofen":     "NSAIDs may increase cardiovascular risk",
		"rosiglitazone": "May increase risk of heart failure",
	},
}

var pediatricContraindications = map[string]string{
	"aspirin":   "Aspirin contraindicated in children under 12 due to Reye's syndrome risk",
	"ibuprofen": "Use caution with ibuprofen in children - weight-based dosing required",
	"codeine":   "Codeine contraindicated in children under 12",
}

var geriatricConsiderations = map[string]string{
	"ibuprofen":  "Reduce dose in elderly - increased risk of kidney and GI complications",
	"aspirin":    "Monitor for bleeding risk - elderly more susceptible",
	"prednisone": "Increased risk of osteoporosis and diabetes in elderly",
}

// highDoseThresholds are single-dose amounts above which a dose is
// flagged as high. Comparison is strictly greater.
var highDoseThresholds = map[string]float64{
	"aspirin":       1000,
	"ibuprofen":     800,
	"acetaminophen": 1000,
	"prednisone":    60,
	"metformin":     2000,
	"furosemide":    80,
}

var firstNumberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

const contextualPrompt = `Generate a contextual alert for the interaction between %s and %s.
Description: %s
Severity: %s
Include priority (high/medium/low) and recommendations. Return as a single string.`

// Contextual renders one alert line for a drug pair. It never fails:
// internal problems degrade to a generic consult-provider advisory.
func (g *Generator) Contextual(ctx context.Context, drugA, drugB, description, severity string) (alert string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("contextual alert generation failed",
				zap.String("drug_a", drugA), zap.String("drug_b", drugB), zap.Any("panic", r))
			alert = fmt.Sprintf("⚠️ Interaction detected between %s and %s. Please consult healthcare provider.", drugA, drugB)
		}
	}()

	if g.model != nil {
		prompt := fmt.Sprintf(contextualPrompt, drugA, drugB, description, severity)
		resp, err := g.model.Query(ctx, prompt)
		if err != nil {
			g.logger.Warn("model contextual alert failed, falling back to templates", zap.Error(err))
		} else if s := strings.TrimSpace(resp); s != "" {
			return s
		}
	}

	tmpl, ok := interactionTemplates[severity]
	if !ok {
		tmpl = interactionTemplates["moderate"]
	}
	alert = fmt.Sprintf(tmpl, title(drugA), title(drugB), description)
	if recs := contextualRecommendations(drugA, drugB); recs != "" {
		alert += " " + recs
	}
	return alert
}

const ageBasedPrompt = `Generate age-based alerts for %s in a %d-year-old patient.
Dosage: %s
Return a JSON array of alert strings (e.g., ["ALERT: ...", "WARNING: ..."]).`

// AgeBased returns the age-specific alerts for one drug. An empty
// dosage skips the high-dose check. An empty return means no concerns.
func (g *Generator) AgeBased(ctx context.Context, drug string, age int, dosage string) (alerts []string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("age-based alert generation failed",
				zap.String("drug", drug), zap.Int("age", age), zap.Any("panic", r))
			alerts = []string{fmt.Sprintf("⚠️ Consider age-appropriate dosing for %s in %d-year-old patient", drug, age)}
		}
	}()

	if g.model != nil {
		promptDosage := dosage
		if promptDosage == "" {
			promptDosage = "Not specified"
		}
		prompt := fmt.Sprintf(ageBasedPrompt, drug, age, promptDosage)
		if resp, err := g.model.Query(ctx, prompt); err != nil {
			g.logger.Warn("model age-based alert failed, falling back to rules", zap.Error(err))
		} else {
			var parsed []string
			if jsonErr := json.Unmarshal([]byte(resp), &parsed); jsonErr != nil || parsed == nil {
				g.logger.Warn("model age-based alert returned invalid payload, falling back to rules",
					zap.Error(jsonErr))
			} else {
				return parsed
			}
		}
	}

	alerts = []string{}
	lower := strings.ToLower(drug)
	switch {
	case age < 18:
		if msg, ok := pediatricContraindications[lower]; ok {
			alerts = append(alerts, "🚨 PEDIATRIC ALERT: "+msg)
		}
	case age >= 65:
		if msg, ok := geriatricConsiderations[lower]; ok {
			alerts = append(alerts, "👴 GERIATRIC ALERT: "+msg)
		}
	}
	if dosage != "" && isHighDose(lower, dosage) {
		alerts = append(alerts, fmt.Sprintf("⚠️ HIGH DOSE ALERT: %s %s exceeds typical therapeutic range", drug, dosage))
	}
	return alerts
}

const conditionBasedPrompt = `Generate condition-based alerts for drugs: %s.
Conditions: %s
Return a JSON array of alert strings.`

// ConditionBased returns condition-related alerts. With no conditions
// supplied it falls back to drug-class cautions; internal failures
// yield an empty list, never an error.
func (g *Generator) ConditionBased(ctx context.Context, drugs, conditions []string) (alerts []string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("condition-based alert generation failed", zap.Any("panic", r))
			alerts = []string{}
		}
	}()

	if g.model != nil {
		conds := "unknown"
		if len(conditions) > 0 {
			conds = strings.Join(conditions, ", ")
		}
		prompt := fmt.Sprintf(conditionBasedPrompt, strings.Join(drugs, ", "), conds)
		if resp, err := g.model.Query(ctx, prompt); err != nil {
			g.logger.Warn("model condition-based alert failed, falling back to rules", zap.Error(err))
		} else {
			var parsed []string
			if jsonErr := json.Unmarshal([]byte(resp), &parsed); jsonErr != nil || parsed == nil {
				g.logger.Warn("model condition-based alert returned invalid payload, falling back to rules",
					zap.Error(jsonErr))
			} else {
				return parsed
			}
		}
	}

	alerts = []string{}
	if len(conditions) == 0 {
		for _, drug := range drugs {
			switch strings.ToLower(drug) {
			case "prednisone", "prednisolone":
				alerts = append(alerts, "💊 Monitor blood glucose if diabetic - steroids may raise sugar levels")
			case "ibuprofen", "naproxen", "diclofenac":
				alerts = append(alerts, "💊 Caution with kidney or heart disease - NSAIDs may worsen these conditions")
			}
		}
		return alerts
	}

	for _, condition := range conditions {
		table, ok := conditionAlerts[normalizeCondition(condition)]
		if !ok {
			continue
		}
		for _, drug := range drugs {
			if msg, ok := table[strings.ToLower(drug)]; ok {
				alerts = append(alerts, "💊 "+msg)
			}
		}
	}
	return alerts
}

func normalizeCondition(condition string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(condition)), " ", "_")
}

const comprehensivePrompt = `Generate comprehensive alerts for drugs: %s in a %d-year-old with conditions: %s.
Return JSON: {"high_priority_alerts": [], "medium_priority_alerts": [], "low_priority_alerts": [], "recommendations": []}`

// Comprehensive aggregates per-drug age alerts and condition alerts
// into priority tiers. It always returns the full three-tier structure.
func (g *Generator) Comprehensive(ctx context.Context, drugs []string, age int, conditions []string) (summary Summary) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("comprehensive alert generation failed", zap.Any("panic", r))
			summary = Summary{
				HighPriority:    []string{},
				MediumPriority:  []string{"Error generating alerts - please consult healthcare provider"},
				LowPriority:     []string{},
				Recommendations: []string{},
			}
		}
	}()

	if g.model != nil {
		conds := "none"
		if len(conditions) > 0 {
			conds = strings.Join(conditions, ", ")
		}
		prompt := fmt.Sprintf(comprehensivePrompt, strings.Join(drugs, ", "), age, conds)
		if resp, err := g.model.Query(ctx, prompt); err != nil {
			g.logger.Warn("model comprehensive alert failed, falling back to rules", zap.Error(err))
		} else if parsed, ok := parseSummary(resp); ok {
			return parsed
		} else {
			g.logger.Warn("model comprehensive alert returned invalid payload, falling back to rules")
		}
	}

	summary = Summary{
		HighPriority:   []string{},
		MediumPriority: []string{},
		LowPriority:    []string{},
	}
	for _, drug := range drugs {
		for _, a := range g.AgeBased(ctx, drug, age, "") {
			switch {
			case strings.Contains(a, "🚨"):
				summary.HighPriority = append(summary.HighPriority, a)
			case strings.Contains(a, "⚠️"):
				summary.MediumPriority = append(summary.MediumPriority, a)
			default:
				summary.LowPriority = append(summary.LowPriority, a)
			}
		}
	}
	summary.MediumPriority = append(summary.MediumPriority, g.ConditionBased(ctx, drugs, conditions)...)
	summary.Recommendations = []string{
		"Regular monitoring recommended",
		"Consult healthcare provider for any concerns",
		"Follow prescribed dosing schedule",
	}
	return summary
}

// parseSummary accepts a model response only when all four tiers are
// present.
func parseSummary(resp string) (Summary, bool) {
	var s Summary
	if err := json.Unmarshal([]byte(resp), &s); err != nil {
		return Summary{}, false
	}
	if s.HighPriority == nil || s.MediumPriority == nil || s.LowPriority == nil || s.Recommendations == nil {
		return Summary{}, false
	}
	return s, true
}

func contextualRecommendations(drugA, drugB string) string {
	a, b := strings.ToLower(drugA), strings.ToLower(drugB)
	var recs []string
	for _, rule := range contextualRules {
		if rule.drugs[a] || rule.drugs[b] {
			recs = append(recs, rule.recommendations[:2]...)
		}
	}
	if len(recs) == 0 {
		return ""
	}
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return "Recommendations: " + strings.Join(recs, "; ")
}

func isHighDose(drug, dosage string) bool {
	threshold, ok := highDoseThresholds[drug]
	if !ok {
		return false
	}
	m := firstNumberRe.FindStringSubmatch(dosage)
	if m == nil {
		return false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	return value > threshold
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
