package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
	"github.com/medsafe/go-rxcheck/internal/engine/alert"
	"github.com/medsafe/go-rxcheck/internal/engine/alternatives"
	"github.com/medsafe/go-rxcheck/internal/engine/dosage"
	"github.com/medsafe/go-rxcheck/internal/engine/extract"
	"github.com/medsafe/go-rxcheck/internal/engine/interaction"
	"github.com/medsafe/go-rxcheck/pkg/workerpool"
)

func newTestService(pool *workerpool.Pool) *Service {
	extractor := extract.New(nil, nil)
	return NewService(Deps{
		Extractor: extractor,
		Checker:   dosage.NewChecker(nil, nil),
		Evaluator: interaction.NewEvaluator(extractor, alert.NewGenerator(nil, nil), nil, nil),
		Finder:    alternatives.NewFinder(nil, nil, nil),
		Pool:      pool,
	})
}

func TestCheckInteractionsEnvelope(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "aspirin 325mg and warfarin 5mg", Age: 70, Weight: 65}

	rep := svc.CheckInteractions(context.Background(), req)

	if rep.Status != "ok" {
		t.Fatalf("Status = %q, want ok", rep.Status)
	}
	if len(rep.Interactions) < 2 {
		t.Fatalf("got %d interactions, want the combination finding plus the geriatric context", len(rep.Interactions))
	}
	var major bool
	for _, it := range rep.Interactions {
		if it.Severity == interaction.SeverityMajor {
			major = true
		}
	}
	if !major {
		t.Errorf("aspirin+warfarin report has no major finding: %+v", rep.Interactions)
	}
}

func TestCheckDosageNoMedicines(t *testing.T) {
	svc := newTestService(nil)

	rep := svc.CheckDosage(context.Background(), Request{PrescriptionText: "hello there", Age: 30, Weight: 70})

	if rep.Status != "ok" {
		t.Fatalf("Status = %q, want ok", rep.Status)
	}
	if rep.DosageAnalysis == nil || len(rep.DosageAnalysis) != 0 {
		t.Errorf("DosageAnalysis = %#v, want empty non-nil slice", rep.DosageAnalysis)
	}
	want := []string{"No medications detected in the prescription text. Please verify input."}
	if !reflect.DeepEqual(rep.Recommendations, want) {
		t.Errorf("Recommendations = %v, want %v", rep.Recommendations, want)
	}
}

func TestCheckDosagePediatricReport(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "Take ibuprofen 1200mg twice daily", Age: 8, Weight: 25}

	rep := svc.CheckDosage(context.Background(), req)

	if rep.Status != "ok" {
		t.Fatalf("Status = %q, want ok", rep.Status)
	}
	if len(rep.DosageAnalysis) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rep.DosageAnalysis), rep.DosageAnalysis)
	}
	row := rep.DosageAnalysis[0]
	if row.Medicine != "Ibuprofen" {
		t.Errorf("Medicine = %q, want Ibuprofen", row.Medicine)
	}
	if row.PrescribedDosage != "1200mg" {
		t.Errorf("PrescribedDosage = %q, want 1200mg", row.PrescribedDosage)
	}
	if row.Frequency != "twice daily" {
		t.Errorf("Frequency = %q, want twice daily", row.Frequency)
	}
	if row.AgeGroup != patient.Pediatric {
		t.Errorf("AgeGroup = %q, want pediatric", row.AgeGroup)
	}
	if row.Status != "needs_attention" {
		t.Errorf("Status = %q, want needs_attention", row.Status)
	}
	if row.Severity != dosage.SeverityHigh {
		t.Errorf("Severity = %q, want high", row.Severity)
	}
	if !strings.Contains(row.TherapeuticRange, "mg") {
		t.Errorf("TherapeuticRange = %q, want a mg range", row.TherapeuticRange)
	}

	wantRecs := []string{
		"Pediatric patient (8 years, 25kg): Use weight-based dosing and pediatric formulations.",
		"Low body weight detected. Ensure doses are calculated at appropriate mg/kg ratios (e.g., ibuprofen: 5-10mg/kg, acetaminophen: 10-15mg/kg).",
		"Verify all dosages against current clinical guidelines (e.g., Lexicomp, Micromedex).",
		"Monitor patient for therapeutic response and adverse effects.",
		"Consult a clinical pharmacist or prescriber for complex regimens.",
	}
	if !reflect.DeepEqual(rep.Recommendations, wantRecs) {
		t.Errorf("Recommendations = %v, want %v", rep.Recommendations, wantRecs)
	}
}

func TestCheckDosageAdultAppropriate(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "aspirin 100mg once daily", Age: 30, Weight: 70}

	rep := svc.CheckDosage(context.Background(), req)

	if len(rep.DosageAnalysis) != 1 {
		t.Fatalf("got %d rows, want 1", len(rep.DosageAnalysis))
	}
	row := rep.DosageAnalysis[0]
	if row.Status != "appropriate" {
		t.Errorf("Status = %q, want appropriate (issues: %v)", row.Status, row.Issues)
	}
	if row.Severity != dosage.SeverityLow {
		t.Errorf("Severity = %q, want low", row.Severity)
	}
	if row.Frequency != "once daily" {
		t.Errorf("Frequency = %q, want once daily", row.Frequency)
	}

	wantRecs := []string{
		"Verify all dosages against current clinical guidelines (e.g., Lexicomp, Micromedex).",
		"Monitor patient for therapeutic response and adverse effects.",
		"Consult a clinical pharmacist or prescriber for complex regimens.",
	}
	if !reflect.DeepEqual(rep.Recommendations, wantRecs) {
		t.Errorf("Recommendations = %v, want the general guidance only", rep.Recommendations)
	}
}

func TestCheckDosageFrequencyRecommendations(t *testing.T) {
	svc := newTestService(nil)

	t.Run("as-needed outranks interval dosing", func(t *testing.T) {
		req := Request{PrescriptionText: "aspirin 100mg every 4 hours as needed", Age: 30, Weight: 70}
		rep := svc.CheckDosage(context.Background(), req)

		var prn, frequent bool
		for _, r := range rep.Recommendations {
			if strings.HasPrefix(r, "PRN (as needed) dosing detected.") {
				prn = true
			}
			if strings.HasPrefix(r, "Frequent dosing") {
				frequent = true
			}
		}
		if !prn {
			t.Errorf("missing PRN recommendation: %v", rep.Recommendations)
		}
		if frequent {
			t.Errorf("interval recommendation should yield to PRN: %v", rep.Recommendations)
		}
	})

	t.Run("interval dosing flagged", func(t *testing.T) {
		req := Request{PrescriptionText: "metformin 500mg every 6 hours", Age: 30, Weight: 70}
		rep := svc.CheckDosage(context.Background(), req)

		want := "Frequent dosing (every 6 hours) detected. Verify cumulative daily dose and monitor for toxicity."
		var found bool
		for _, r := range rep.Recommendations {
			if r == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Recommendations = %v, want to contain %q", rep.Recommendations, want)
		}
	})
}

func TestCheckDosagePoolPreservesOrder(t *testing.T) {
	pool := workerpool.New(workerpool.Config{Workers: 4, QueueSize: 8}, nil)
	pool.Start()
	defer pool.Stop()

	svc := newTestService(pool)
	req := Request{PrescriptionText: "aspirin 100mg warfarin 2mg metformin 500mg", Age: 30, Weight: 70}

	rep := svc.CheckDosage(context.Background(), req)

	var got []string
	for _, row := range rep.DosageAnalysis {
		got = append(got, row.Medicine)
	}
	want := []string{"Aspirin", "Warfarin", "Metformin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("medicines = %v, want %v (extraction order)", got, want)
	}
}

func TestSuggestAlternativesEnvelope(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "aspirin 325mg daily", Age: 70, Weight: 65}

	rep := svc.SuggestAlternatives(context.Background(), req)

	if rep.Status != "ok" {
		t.Fatalf("Status = %q, want ok", rep.Status)
	}
	if len(rep.Alternatives) != 3 {
		t.Fatalf("got %d alternatives, want 3: %+v", len(rep.Alternatives), rep.Alternatives)
	}
	first := rep.Alternatives[0]
	if first.AlternativeName != "Acetaminophen" {
		t.Errorf("Alternatives[0].AlternativeName = %q, want Acetaminophen", first.AlternativeName)
	}
	if !strings.HasSuffix(first.SuggestedDosage, "(Consider reduced dose for elderly)") {
		t.Errorf("SuggestedDosage = %q, want geriatric note suffix", first.SuggestedDosage)
	}
	if len(rep.Recommendations) != 5 {
		t.Fatalf("got %d recommendations, want 5: %v", len(rep.Recommendations), rep.Recommendations)
	}
	if last := rep.Recommendations[4]; last != "Consider drug interactions in elderly patients." {
		t.Errorf("last recommendation = %q, want the geriatric one", last)
	}
}

func TestSuggestAlternativesPediatricRecommendation(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "ibuprofen 200mg", Age: 8, Weight: 30}

	rep := svc.SuggestAlternatives(context.Background(), req)

	if len(rep.Recommendations) == 0 {
		t.Fatal("no recommendations returned")
	}
	if last := rep.Recommendations[len(rep.Recommendations)-1]; last != "Ensure pediatric formulations are available." {
		t.Errorf("last recommendation = %q, want the pediatric one", last)
	}
}

func TestSuggestAlternativesNoMedicines(t *testing.T) {
	svc := newTestService(nil)

	rep := svc.SuggestAlternatives(context.Background(), Request{PrescriptionText: "just some words", Age: 30, Weight: 70})

	if rep.Status != "error" {
		t.Fatalf("Status = %q, want error", rep.Status)
	}
	if len(rep.Alternatives) != 0 {
		t.Errorf("Alternatives = %+v, want none", rep.Alternatives)
	}
	want := []string{"No medications detected in prescription text."}
	if !reflect.DeepEqual(rep.Recommendations, want) {
		t.Errorf("Recommendations = %v, want %v", rep.Recommendations, want)
	}
}

func TestReportsDeterministic(t *testing.T) {
	svc := newTestService(nil)
	req := Request{PrescriptionText: "Take aspirin 325mg and warfarin 5mg twice daily", Age: 70, Weight: 60}
	ctx := context.Background()

	if a, b := svc.CheckInteractions(ctx, req), svc.CheckInteractions(ctx, req); !reflect.DeepEqual(a, b) {
		t.Errorf("interaction reports differ between identical calls:\n%+v\n%+v", a, b)
	}
	if a, b := svc.CheckDosage(ctx, req), svc.CheckDosage(ctx, req); !reflect.DeepEqual(a, b) {
		t.Errorf("dosage reports differ between identical calls:\n%+v\n%+v", a, b)
	}
	if a, b := svc.SuggestAlternatives(ctx, req), svc.SuggestAlternatives(ctx, req); !reflect.DeepEqual(a, b) {
		t.Errorf("alternatives reports differ between identical calls:\n%+v\n%+v", a, b)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	got := dedupe([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupe = %v, want %v", got, want)
	}
}
