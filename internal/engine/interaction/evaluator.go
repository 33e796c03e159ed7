// Package interaction evaluates a prescription for drug-drug
// interaction risk. The fixed combination rules are always applied;
// model enrichment, when wired, appends additional findings rather
// than replacing the rule output.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
	"github.com/medsafe/go-rxcheck/internal/engine/alert"
	"github.com/medsafe/go-rxcheck/internal/engine/extract"
)

// Querier is the model operation the evaluator needs. Results are
// cached per sorted medicine set and age.
type Querier interface {
	QueryCached(ctx context.Context, prompt, cacheKey string) (string, error)
}

// Evaluator runs the interaction check over a prescription text.
type Evaluator struct {
	extractor *extract.Extractor
	alerts    *alert.Generator
	model     Querier
	logger    *zap.Logger
}

// NewEvaluator builds an evaluator. A nil model disables enrichment;
// extractor and alerts are required.
func NewEvaluator(extractor *extract.Extractor, alerts *alert.Generator, model Querier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{extractor: extractor, alerts: alerts, model: model, logger: logger}
}

const enrichmentPrompt = `Analyze potential drug interactions for a %d-year-old patient weighing %skg taking: %s.
Return a JSON array of objects, each with keys: severity (major/moderate/minor), description (string), recommendations (array of strings).
Example: [{"severity": "major", "description": "Drug1-Drug2 interaction increases bleeding risk", "recommendations": ["Monitor INR", "Consult doctor"]}]
Only include interactions with clinical significance. If none, return an empty array.`

// Check evaluates the prescription text for a patient. It never fails:
// unusable input yields a warning-severity advisory and internal
// failures degrade to a consult-provider advisory.
func (e *Evaluator) Check(ctx context.Context, prescriptionText string, age int, weight float64) (interactions []Interaction) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("interaction check failed", zap.Any("panic", r))
			interactions = []Interaction{{
				Severity:        SeverityWarning,
				Description:     "Unable to analyze interactions. Please consult healthcare provider.",
				Recommendations: []string{"Consult healthcare provider"},
			}}
		}
	}()

	medicines := e.extractor.Medicines(ctx, prescriptionText)
	if len(medicines) == 0 {
		return []Interaction{{
			Severity:        SeverityWarning,
			Description:     "No medicines detected in the prescription text. Please check the input.",
			Recommendations: []string{"Verify prescription text for accuracy"},
		}}
	}

	var out []Interaction

	// Enrichment findings go first so that on a description collision
	// the model's wording survives deduplication.
	if len(medicines) > 1 && e.model != nil {
		out = append(out, e.enrich(ctx, medicines, age, weight)...)
	}

	if len(medicines) == 1 {
		out = append(out, e.singleMedicine(ctx, medicines[0], age)...)
	} else {
		out = append(out, e.combinations(ctx, medicines, age)...)
	}

	out = append(out, contextInteractions(medicines, age, weight)...)
	return dedupeByDescription(out)
}

func (e *Evaluator) enrich(ctx context.Context, medicines []string, age int, weight float64) []Interaction {
	sorted := make([]string, len(medicines))
	copy(sorted, medicines)
	sort.Strings(sorted)
	cacheKey := "interactions_" + strings.Join(sorted, ",") + "_" + strconv.Itoa(age)

	prompt := fmt.Sprintf(enrichmentPrompt, age, patient.FormatWeight(weight), strings.Join(medicines, ", "))
	resp, err := e.model.QueryCached(ctx, prompt, cacheKey)
	if err != nil {
		e.logger.Warn("model interaction enrichment failed", zap.Error(err))
		return nil
	}
	found, err := parseModelInteractions(resp)
	if err != nil {
		e.logger.Warn("model interaction enrichment returned invalid payload", zap.Error(err))
		return nil
	}
	return found
}

type modelInteraction struct {
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

// parseModelInteractions accepts an enrichment response only when every
// element carries a known severity, a description and a recommendation
// list.
func parseModelInteractions(resp string) ([]Interaction, error) {
	var payload []modelInteraction
	if err := json.Unmarshal([]byte(resp), &payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]Interaction, 0, len(payload))
	for i, item := range payload {
		switch {
		case item.Severity != SeverityMajor && item.Severity != SeverityModerate && item.Severity != SeverityMinor:
			return nil, fmt.Errorf("item %d: invalid severity %q", i, item.Severity)
		case item.Description == "":
			return nil, fmt.Errorf("item %d: missing description", i)
		case item.Recommendations == nil:
			return nil, fmt.Errorf("item %d: missing recommendations", i)
		}
		out = append(out, Interaction(item))
	}
	return out, nil
}

func (e *Evaluator) singleMedicine(ctx context.Context, medicine string, age int) []Interaction {
	ageAlerts := e.alerts.AgeBased(ctx, medicine, age, "")
	if len(ageAlerts) == 0 {
		return []Interaction{{
			Severity:        SeverityInfo,
			Description:     fmt.Sprintf("%s appears safe for a %d-year-old patient.", title(medicine), age),
			Recommendations: []string{"Monitor for adverse effects"},
		}}
	}
	return alertInteractions(ageAlerts)
}

func (e *Evaluator) combinations(ctx context.Context, medicines []string, age int) []Interaction {
	var out []Interaction
	found := false
	for i, m1 := range medicines {
		a := strings.ToLower(m1)
		for _, m2 := range medicines[i+1:] {
			b := strings.ToLower(m2)
			for _, rule := range dangerousCombinations {
				if rule.matches(a, b) {
					out = append(out, Interaction{
						Severity:        rule.severity,
						Description:     rule.description,
						Recommendations: rule.recommendations,
					})
					found = true
				}
			}
		}
		out = append(out, alertInteractions(e.alerts.AgeBased(ctx, m1, age, ""))...)
	}
	if !found {
		out = append(out, Interaction{
			Severity:        SeverityInfo,
			Description:     fmt.Sprintf("No major interactions found between %s.", strings.Join(medicines, ", ")),
			Recommendations: []string{"Continue monitoring for new symptoms"},
		})
	}
	return out
}

// alertInteractions maps age-based alert lines to interactions. The
// critical marker escalates to moderate, everything else is minor.
func alertInteractions(alerts []string) []Interaction {
	out := make([]Interaction, 0, len(alerts))
	for _, a := range alerts {
		severity := SeverityMinor
		if strings.Contains(a, "🚨") {
			severity = SeverityModerate
		}
		out = append(out, Interaction{
			Severity:        severity,
			Description:     a,
			Recommendations: []string{"Consult prescriber for age-appropriate guidance"},
		})
	}
	return out
}

func contextInteractions(medicines []string, age int, weight float64) []Interaction {
	var out []Interaction
	switch {
	case age < 18:
		out = append(out, Interaction{
			Severity:    SeverityModerate,
			Description: "Pediatric patient: Weight-based dosing and interaction risks require careful monitoring.",
			Recommendations: []string{
				fmt.Sprintf("Verify dosing for %skg child", patient.FormatWeight(weight)),
				"Consult pediatric specialist",
				"Use pediatric formulations if available",
			},
		})
	case age >= 65:
		out = append(out, Interaction{
			Severity:    SeverityModerate,
			Description: "Geriatric patient: Increased risk of adverse effects due to age-related changes.",
			Recommendations: []string{
				"Consider 25-50% dose reduction",
				"Monitor renal and hepatic function",
				"Review polypharmacy risks",
			},
		})
	}

	if weight < 40 && anyLowWeightMedicine(medicines) {
		out = append(out, Interaction{
			Severity:    SeverityModerate,
			Description: fmt.Sprintf("Low weight (%skg) may require adjusted dosing for NSAIDs or acetaminophen.", patient.FormatWeight(weight)),
			Recommendations: []string{
				"Use weight-based dosing (e.g., 10mg/kg for ibuprofen, 15mg/kg for acetaminophen)",
				"Consult prescriber",
			},
		})
	}
	return out
}

func anyLowWeightMedicine(medicines []string) bool {
	for _, m := range medicines {
		if lowWeightMedicines[strings.ToLower(m)] {
			return true
		}
	}
	return false
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
