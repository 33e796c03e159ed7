package dosage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
)

type stubQuerier struct {
	resp string
	err  error
	keys []string
}

func (s *stubQuerier) QueryCached(ctx context.Context, prompt, cacheKey string) (string, error) {
	s.keys = append(s.keys, cacheKey)
	if s.err != nil {
		return "", s.err
	}
	return s.resp, nil
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"325mg", 325, true},
		{"325 MG", 325, true},
		{"1g", 1000, true},
		{"0.5 g", 500, true},
		{"500mcg", 0.5, true},
		{"10ml", 10, true},
		{"12.5mg twice daily", 12.5, true},
		{"Not specified", 0, false},
		{"take two tablets", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseAmount(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMaxSeverityIsMonotone(t *testing.T) {
	levels := []Severity{SeverityLow, SeverityMedium, SeverityHigh}
	for i, a := range levels {
		for j, b := range levels {
			got := MaxSeverity(a, b)
			want := levels[i]
			if j > i {
				want = levels[j]
			}
			if got != want {
				t.Errorf("MaxSeverity(%s, %s) = %s, want %s", a, b, got, want)
			}
		}
	}
	if got := MaxSeverity(Severity("bogus"), SeverityHigh); got != SeverityHigh {
		t.Errorf("unknown severity must not outrank high, got %s", got)
	}
	if got := MaxSeverity(SeverityMedium, Severity("bogus")); got != SeverityMedium {
		t.Errorf("unknown severity must rank lowest, got %s", got)
	}
}

func TestEstimateDailyDose(t *testing.T) {
	tests := []struct {
		single    float64
		frequency string
		want      float64
	}{
		{100, "once daily", 100},
		{100, "twice daily", 200},
		{100, "three times daily", 300},
		{100, "every 6 hours", 400},
		{100, "every 5 hours", 480},
		{100, "EVERY 8 HOURS", 300},
		{100, "every 6-8 hours", 300},
		{100, "as needed", 100},
		{100, "some unknown phrase", 100},
	}
	for _, tt := range tests {
		if got := estimateDailyDose(tt.single, tt.frequency); got != tt.want {
			t.Errorf("estimateDailyDose(%v, %q) = %v, want %v", tt.single, tt.frequency, got, tt.want)
		}
	}
}

func TestVerifyAdultInRange(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "aspirin", "100mg", 30, 70, "once daily")

	if r.HasIssues {
		t.Errorf("HasIssues = true, issues = %v", r.Issues)
	}
	if r.Severity != SeverityLow {
		t.Errorf("Severity = %s, want low", r.Severity)
	}
	if r.AgeGroup != patient.Adult {
		t.Errorf("AgeGroup = %s, want adult", r.AgeGroup)
	}
	if r.TherapeuticRange != "81-325 mg/dose, max 4000 mg/day" {
		t.Errorf("TherapeuticRange = %q", r.TherapeuticRange)
	}
	if r.RecommendedDosage != "81-325 mg once or twice daily" {
		t.Errorf("RecommendedDosage = %q", r.RecommendedDosage)
	}
	wantNotes := []string{
		"Verify adherence to standard therapeutic ranges",
		"Monitor for patient-specific factors (e.g., renal function)",
		"Low-dose for cardioprotection",
		"Higher doses for analgesia",
	}
	if !reflect.DeepEqual(r.ClinicalNotes, wantNotes) {
		t.Errorf("ClinicalNotes = %v, want %v", r.ClinicalNotes, wantNotes)
	}
}

func TestVerifyGeriatricAdjustedRange(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "aspirin", "325mg", 70, 60, "Not specified")

	if !r.HasIssues || r.Severity != SeverityHigh {
		t.Fatalf("expected high-severity finding, got severity %s, issues %v", r.Severity, r.Issues)
	}
	want := "Prescribed dose (325 mg) exceeds therapeutic range (60.75-121.5 mg)."
	if len(r.Issues) == 0 || r.Issues[0] != want {
		t.Errorf("Issues[0] = %q, want %q", first(r.Issues), want)
	}
	if r.AgeGroup != patient.Geriatric {
		t.Errorf("AgeGroup = %s, want geriatric", r.AgeGroup)
	}
}

func TestVerifyPediatricWeightBasedOverdose(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "ibuprofen", "1200mg", 8, 25, "Not specified")

	if !r.HasIssues || r.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s with issues %v", r.Severity, r.Issues)
	}
	if r.WeightBased.PrescribedMgPerKg != "48.0 mg/kg" {
		t.Errorf("PrescribedMgPerKg = %q, want 48.0 mg/kg", r.WeightBased.PrescribedMgPerKg)
	}
	if r.WeightBased.RecommendedMgPerKg != "5-10 mg/kg" {
		t.Errorf("RecommendedMgPerKg = %q, want 5-10 mg/kg", r.WeightBased.RecommendedMgPerKg)
	}
	if !containsSubstring(r.Issues, "exceeds recommended range") {
		t.Errorf("missing per-kg issue in %v", r.Issues)
	}
	if !containsSubstring(r.Issues, "exceeds therapeutic range") {
		t.Errorf("missing range issue in %v", r.Issues)
	}
}

func TestVerifyBelowRange(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "warfarin", "1mg", 30, 70, "Not specified")

	if !r.HasIssues || r.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s with issues %v", r.Severity, r.Issues)
	}
	want := "Prescribed dose (1 mg) is below therapeutic range (2-10 mg)."
	if r.Issues[0] != want {
		t.Errorf("Issues[0] = %q, want %q", r.Issues[0], want)
	}
	// Fixed-dose guideline, so the per-kg analysis stays inert.
	if r.WeightBased.PrescribedMgPerKg != "Not applicable" {
		t.Errorf("PrescribedMgPerKg = %q, want Not applicable", r.WeightBased.PrescribedMgPerKg)
	}
}

func TestVerifyDailyLimitExceeded(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "acetaminophen", "1000mg", 30, 70, "every 4 hours")

	if !r.HasIssues || r.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s with issues %v", r.Severity, r.Issues)
	}
	want := "Estimated daily dose (6000 mg/day) exceeds maximum daily limit (4000 mg/day)."
	if !contains(r.Issues, want) {
		t.Errorf("Issues = %v, want to contain %q", r.Issues, want)
	}
	if r.RecommendedDosage != "500-1000 mg every 4-6 hours, max 4000 mg/day" {
		t.Errorf("RecommendedDosage = %q", r.RecommendedDosage)
	}
}

func TestVerifyFrequencyMoreOftenThanRecommended(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "metformin", "500mg", 30, 70, "three times daily")

	if !r.HasIssues || r.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s with issues %v", r.Severity, r.Issues)
	}
	want := "Prescribed frequency (three times daily) is more frequent than recommended (twice daily)."
	if !contains(r.Issues, want) {
		t.Errorf("Issues = %v, want to contain %q", r.Issues, want)
	}
}

func TestVerifyUnknownMedicine(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "unknownium", "10mg", 30, 70, "Not specified")

	if !r.HasIssues || r.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s with issues %v", r.Severity, r.Issues)
	}
	want := "Insufficient dosage data for unknownium. Verify with clinical guidelines."
	if !contains(r.Issues, want) {
		t.Errorf("Issues = %v, want to contain %q", r.Issues, want)
	}
	if r.RecommendedDosage != "Consult clinical guidelines" {
		t.Errorf("RecommendedDosage = %q", r.RecommendedDosage)
	}
	if r.TherapeuticRange != "Not available" {
		t.Errorf("TherapeuticRange = %q", r.TherapeuticRange)
	}
}

func TestVerifyUnparseableDosage(t *testing.T) {
	c := NewChecker(nil, nil)
	r := c.Verify(context.Background(), "aspirin", "Not specified", 30, 70, "Not specified")

	if !r.HasIssues || r.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s with issues %v", r.Severity, r.Issues)
	}
	if !containsSubstring(r.Issues, "Insufficient dosage data for aspirin") {
		t.Errorf("Issues = %v", r.Issues)
	}
	// Guideline notes still apply to a known medicine.
	if !contains(r.ClinicalNotes, "Low-dose for cardioprotection") {
		t.Errorf("ClinicalNotes = %v", r.ClinicalNotes)
	}
}

func TestVerifyIsDeterministic(t *testing.T) {
	c := NewChecker(nil, nil)
	a := c.Verify(context.Background(), "ibuprofen", "1200mg", 8, 25, "twice daily")
	b := c.Verify(context.Background(), "ibuprofen", "1200mg", 8, 25, "twice daily")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated verification differs:\n%+v\n%+v", a, b)
	}
}

func TestVerifyModelResponseSubstitutes(t *testing.T) {
	stub := &stubQuerier{resp: `{
		"has_issues": true,
		"severity": "medium",
		"issues": ["Dose exceeds therapeutic range"],
		"recommended_dosage": "200-400mg every 6 hours",
		"therapeutic_range": "200-800mg/dose, max 3200mg/day",
		"clinical_notes": ["Monitor renal function"],
		"age_group": "adult",
		"weight_based_analysis": {"prescribed_mg_per_kg": "12mg/kg", "recommended_mg_per_kg": "5-10mg/kg"}
	}`}
	c := NewChecker(stub, nil)

	// The rule path would grade 5000mg as high; the model answer wins.
	r := c.Verify(context.Background(), "aspirin", "5000mg", 30, 70, "once daily")
	if r.Severity != SeverityMedium {
		t.Errorf("Severity = %s, want the model's medium", r.Severity)
	}
	if r.RecommendedDosage != "200-400mg every 6 hours" {
		t.Errorf("RecommendedDosage = %q", r.RecommendedDosage)
	}
	if r.WeightBased.PrescribedMgPerKg != "12mg/kg" {
		t.Errorf("WeightBased = %+v", r.WeightBased)
	}

	wantKey := "dosage_aspirin_5000mg_30_70_once daily"
	if len(stub.keys) != 1 || stub.keys[0] != wantKey {
		t.Errorf("cache keys = %v, want [%s]", stub.keys, wantKey)
	}
}

func TestVerifyModelFailuresFallBack(t *testing.T) {
	tests := []struct {
		name string
		stub *stubQuerier
	}{
		{"gateway error", &stubQuerier{err: errors.New("down")}},
		{"not json", &stubQuerier{resp: "the dose looks fine"}},
		{"invalid severity", &stubQuerier{resp: `{"has_issues": false, "severity": "catastrophic", "issues": [], "recommended_dosage": "x", "therapeutic_range": "y", "clinical_notes": [], "age_group": "adult"}`}},
		{"missing required field", &stubQuerier{resp: `{"severity": "low", "issues": [], "recommended_dosage": "x", "therapeutic_range": "y", "clinical_notes": [], "age_group": "adult"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.stub, nil)
			r := c.Verify(context.Background(), "aspirin", "100mg", 30, 70, "once daily")
			if r.HasIssues {
				t.Errorf("rule fallback should find no issues for 100mg adult aspirin, got %v", r.Issues)
			}
			if r.RecommendedDosage != "81-325 mg once or twice daily" {
				t.Errorf("RecommendedDosage = %q, want rule-path value", r.RecommendedDosage)
			}
		})
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
