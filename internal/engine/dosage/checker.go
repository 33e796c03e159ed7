// Package dosage verifies prescribed dosages against age-adjusted
// therapeutic ranges. A model-backed verification runs first when a
// model client is wired; the guideline tables are the fallback and the
// authoritative rule path.
package dosage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
)

const notSpecified = "Not specified"

// Querier is the model operation the checker needs. Verification
// responses are cached because the same medicine, dosage and patient
// tuple recurs across requests.
type Querier interface {
	QueryCached(ctx context.Context, prompt, cacheKey string) (string, error)
}

// Checker verifies dosages. The zero value is not usable; call
// NewChecker.
type Checker struct {
	model  Querier
	logger *zap.Logger
}

// NewChecker builds a checker. A nil model disables the model path.
func NewChecker(model Querier, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{model: model, logger: logger}
}

// WeightAnalysis is the per-kg sub-analysis attached to medicines with
// weight-proportional dosing.
type WeightAnalysis struct {
	PrescribedMgPerKg  string   `json:"prescribed_mg_per_kg,omitempty"`
	RecommendedMgPerKg string   `json:"recommended_mg_per_kg,omitempty"`
	Issues             []string `json:"issues,omitempty"`
	Severity           Severity `json:"severity,omitempty"`
}

// Result is one medicine's verification outcome.
type Result struct {
	HasIssues         bool             `json:"has_issues"`
	Severity          Severity         `json:"severity"`
	Issues            []string         `json:"issues"`
	RecommendedDosage string           `json:"recommended_dosage"`
	TherapeuticRange  string           `json:"therapeutic_range"`
	ClinicalNotes     []string         `json:"clinical_notes"`
	AgeGroup          patient.AgeGroup `json:"age_group"`
	WeightBased       WeightAnalysis   `json:"weight_based_analysis"`
}

var amountUnitRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|g|ml|mcg)`)

// ParseAmount extracts the first dose amount from text like "325mg" or
// "0.5 g", normalized to milligrams: grams scale up by 1000, micrograms
// scale down by 1000 and milliliters pass through unchanged.
func ParseAmount(dosage string) (float64, bool) {
	m := amountUnitRe.FindStringSubmatch(dosage)
	if m == nil {
		return 0, false
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "g":
		amount *= 1000
	case "mcg":
		amount /= 1000
	}
	return amount, true
}

const verificationPrompt = `Verify the appropriateness of %s %s for %s in a %d-year-old patient weighing %skg.
Return JSON: {
    "has_issues": bool,
    "severity": "low|medium|high",
    "issues": ["string"],
    "recommended_dosage": "string",
    "therapeutic_range": "string",
    "clinical_notes": ["string"],
    "age_group": "pediatric|adult|geriatric",
    "weight_based_analysis": {"prescribed_mg_per_kg": "string", "recommended_mg_per_kg": "string"}
}
Example: {
    "has_issues": true,
    "severity": "medium",
    "issues": ["Dose exceeds therapeutic range"],
    "recommended_dosage": "200-400mg every 6 hours",
    "therapeutic_range": "200-800mg/dose, max 3200mg/day",
    "clinical_notes": ["Monitor renal function"],
    "age_group": "adult",
    "weight_based_analysis": {"prescribed_mg_per_kg": "12mg/kg", "recommended_mg_per_kg": "5-10mg/kg"}
}`

// Verify checks one prescribed dosage for a patient. It never fails:
// any internal problem degrades to a medium-severity advisory asking
// the caller to consult a healthcare provider.
func (c *Checker) Verify(ctx context.Context, medicine, dosageText string, age int, weight float64, frequency string) (result Result) {
	group := patient.GroupFor(age)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("dosage verification failed",
				zap.String("medicine", medicine),
				zap.Any("panic", r))
			result = Result{
				HasIssues:         true,
				Severity:          SeverityMedium,
				Issues:            []string{fmt.Sprintf("Unable to verify dosage for %s. Consult healthcare provider.", medicine)},
				RecommendedDosage: "Not available",
				TherapeuticRange:  "Not available",
				ClinicalNotes:     []string{},
				AgeGroup:          group,
			}
		}
	}()

	med := strings.ToLower(strings.TrimSpace(medicine))

	if c.model != nil {
		if r, ok := c.verifyByModel(ctx, medicine, med, dosageText, age, weight, frequency); ok {
			return r
		}
	}
	return c.verifyByRules(med, dosageText, group, weight, frequency)
}

func (c *Checker) verifyByModel(ctx context.Context, medicine, med, dosageText string, age int, weight float64, frequency string) (Result, bool) {
	cacheKey := fmt.Sprintf("dosage_%s_%s_%d_%s_%s",
		med, dosageText, age, patient.FormatWeight(weight), frequency)
	prompt := fmt.Sprintf(verificationPrompt,
		dosageText, frequency, medicine, age, patient.FormatWeight(weight))

	resp, err := c.model.QueryCached(ctx, prompt, cacheKey)
	if err != nil {
		c.logger.Warn("model dosage verification failed, falling back to rules",
			zap.String("medicine", med), zap.Error(err))
		return Result{}, false
	}

	result, err := parseModelResult(resp)
	if err != nil {
		c.logger.Warn("model dosage verification returned invalid payload, falling back to rules",
			zap.String("medicine", med), zap.Error(err))
		return Result{}, false
	}
	return result, true
}

type modelResult struct {
	HasIssues         *bool            `json:"has_issues"`
	Severity          Severity         `json:"severity"`
	Issues            []string         `json:"issues"`
	RecommendedDosage string           `json:"recommended_dosage"`
	TherapeuticRange  string           `json:"therapeutic_range"`
	ClinicalNotes     []string         `json:"clinical_notes"`
	AgeGroup          patient.AgeGroup `json:"age_group"`
	WeightBased       struct {
		PrescribedMgPerKg  string `json:"prescribed_mg_per_kg"`
		RecommendedMgPerKg string `json:"recommended_mg_per_kg"`
	} `json:"weight_based_analysis"`
}

// parseModelResult accepts a model response only when every required
// field is present and the enums are valid; anything else routes the
// caller to the rule path.
func parseModelResult(resp string) (Result, error) {
	var payload modelResult
	if err := json.Unmarshal([]byte(resp), &payload); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	switch {
	case payload.HasIssues == nil:
		return Result{}, fmt.Errorf("missing has_issues")
	case !payload.Severity.Valid():
		return Result{}, fmt.Errorf("invalid severity %q", payload.Severity)
	case payload.Issues == nil:
		return Result{}, fmt.Errorf("missing issues")
	case payload.RecommendedDosage == "":
		return Result{}, fmt.Errorf("missing recommended_dosage")
	case payload.TherapeuticRange == "":
		return Result{}, fmt.Errorf("missing therapeutic_range")
	case payload.ClinicalNotes == nil:
		return Result{}, fmt.Errorf("missing clinical_notes")
	case payload.AgeGroup != patient.Pediatric && payload.AgeGroup != patient.Adult && payload.AgeGroup != patient.Geriatric:
		return Result{}, fmt.Errorf("invalid age_group %q", payload.AgeGroup)
	}

	return Result{
		HasIssues:         *payload.HasIssues,
		Severity:          payload.Severity,
		Issues:            payload.Issues,
		RecommendedDosage: payload.RecommendedDosage,
		TherapeuticRange:  payload.TherapeuticRange,
		ClinicalNotes:     payload.ClinicalNotes,
		AgeGroup:          payload.AgeGroup,
		WeightBased: WeightAnalysis{
			PrescribedMgPerKg:  payload.WeightBased.PrescribedMgPerKg,
			RecommendedMgPerKg: payload.WeightBased.RecommendedMgPerKg,
		},
	}, nil
}

func (c *Checker) verifyByRules(med, dosageText string, group patient.AgeGroup, weight float64, frequency string) Result {
	result := Result{
		Severity:          SeverityLow,
		Issues:            []string{},
		RecommendedDosage: "Not available",
		TherapeuticRange:  "Not available",
		ClinicalNotes:     []string{},
		AgeGroup:          group,
	}

	amount, parsed := ParseAmount(dosageText)
	g, known := lookupGuideline(med, group)

	if known && parsed && amount > 0 {
		analyzeDose(&result, g, group, amount, weight, frequency)
	} else {
		applyGeneralRecommendations(&result, med, group)
	}

	if weight > 0 && weightBasedMedicines[med] {
		wa := analyzeWeightBased(amount, weight, g)
		result.WeightBased = wa
		if len(wa.Issues) > 0 {
			result.HasIssues = true
			result.Issues = append(result.Issues, wa.Issues...)
			result.Severity = MaxSeverity(result.Severity, wa.Severity)
		}
	}

	if known && frequency != "" && frequency != notSpecified {
		issues, sev := analyzeFrequency(frequency, g.Frequency)
		if len(issues) > 0 {
			result.HasIssues = true
			result.Issues = append(result.Issues, issues...)
			result.Severity = MaxSeverity(result.Severity, sev)
		}
	}

	if known {
		result.ClinicalNotes = append(result.ClinicalNotes, guidelineNotes(med)...)
	}
	return result
}

// analyzeDose compares the prescribed amount against the age-adjusted
// range. For mg/kg guidelines the prescribed amount is scaled by the
// patient weight before comparison.
func analyzeDose(result *Result, g Guideline, group patient.AgeGroup, amount, weight float64, frequency string) {
	result.ClinicalNotes = patient.SpecialConsiderations(group)
	result.TherapeuticRange = fmt.Sprintf("%s-%s %s/dose, max %s %s/day",
		ftoa(g.Min), ftoa(g.Max), g.Unit, ftoa(g.MaxDaily), g.Unit)

	factor := patient.AdjustmentFactor(group)
	adjMin := g.Min * factor
	adjMax := g.Max * factor

	compare := amount
	if g.Unit == "mg/kg" {
		compare = amount * weight
	}

	rangeText := fmt.Sprintf("%s-%s %s", ftoa(adjMin), ftoa(adjMax), g.Unit)
	result.RecommendedDosage = fmt.Sprintf("%s %s", rangeText, g.Frequency)

	switch {
	case compare < adjMin:
		result.HasIssues = true
		result.Severity = SeverityMedium
		result.Issues = append(result.Issues, fmt.Sprintf(
			"Prescribed dose (%s %s) is below therapeutic range (%s-%s %s).",
			ftoa(compare), g.Unit, ftoa(adjMin), ftoa(adjMax), g.Unit))
	case compare > adjMax:
		result.HasIssues = true
		result.Severity = SeverityHigh
		result.Issues = append(result.Issues, fmt.Sprintf(
			"Prescribed dose (%s %s) exceeds therapeutic range (%s-%s %s).",
			ftoa(compare), g.Unit, ftoa(adjMin), ftoa(adjMax), g.Unit))
	}

	if g.MaxDaily > 0 {
		daily := estimateDailyDose(compare, frequency)
		if daily > 0 && daily > g.MaxDaily {
			result.HasIssues = true
			result.Severity = MaxSeverity(result.Severity, SeverityHigh)
			result.Issues = append(result.Issues, fmt.Sprintf(
				"Estimated daily dose (%s %s/day) exceeds maximum daily limit (%s %s/day).",
				ftoa(daily), g.Unit, ftoa(g.MaxDaily), g.Unit))
			result.RecommendedDosage = fmt.Sprintf("%s %s, max %s %s/day",
				rangeText, g.Frequency, ftoa(g.MaxDaily), g.Unit)
		}
	}
}

// applyGeneralRecommendations is the insufficient-data outcome: an
// unknown medicine, or a dosage with no parseable amount.
func applyGeneralRecommendations(result *Result, med string, group patient.AgeGroup) {
	result.HasIssues = true
	result.Severity = SeverityMedium
	result.Issues = append(result.Issues, fmt.Sprintf(
		"Insufficient dosage data for %s. Verify with clinical guidelines.", med))
	result.RecommendedDosage = "Consult clinical guidelines"
	result.TherapeuticRange = "Not available"
	result.ClinicalNotes = patient.SpecialConsiderations(group)
}

func analyzeWeightBased(amount, weight float64, g Guideline) WeightAnalysis {
	wa := WeightAnalysis{
		PrescribedMgPerKg:  "Not applicable",
		RecommendedMgPerKg: "Not applicable",
		Severity:           SeverityLow,
	}
	if amount <= 0 || weight <= 0 || g.Unit != "mg/kg" {
		return wa
	}

	perKg := amount / weight
	wa.PrescribedMgPerKg = fmt.Sprintf("%.1f mg/kg", perKg)
	wa.RecommendedMgPerKg = fmt.Sprintf("%s-%s mg/kg", ftoa(g.Min), ftoa(g.Max))

	switch {
	case perKg < g.Min:
		wa.Severity = SeverityMedium
		wa.Issues = append(wa.Issues, fmt.Sprintf(
			"Prescribed dose (%.1f mg/kg) is below recommended range (%s-%s mg/kg).",
			perKg, ftoa(g.Min), ftoa(g.Max)))
	case perKg > g.Max:
		wa.Severity = SeverityHigh
		wa.Issues = append(wa.Issues, fmt.Sprintf(
			"Prescribed dose (%.1f mg/kg) exceeds recommended range (%s-%s mg/kg).",
			perKg, ftoa(g.Min), ftoa(g.Max)))
	}
	return wa
}

func analyzeFrequency(frequency, standard string) ([]string, Severity) {
	if strings.ToLower(frequency) == "not specified" || strings.ToLower(standard) == "not specified" {
		return []string{"Frequency not specified. Verify dosing schedule."}, SeverityMedium
	}
	if dosesFor(frequency) > dosesFor(standard) {
		return []string{fmt.Sprintf(
			"Prescribed frequency (%s) is more frequent than recommended (%s).",
			frequency, standard)}, SeverityMedium
	}
	return nil, SeverityLow
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
