// Package engine composes the analysis components behind the three
// operations the API serves: interaction checking, dosage verification
// and alternatives lookup. Operations never fail; failures inside the
// components degrade to advisory results instead.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/domain/patient"
	"github.com/medsafe/go-rxcheck/internal/engine/alternatives"
	"github.com/medsafe/go-rxcheck/internal/engine/dosage"
	"github.com/medsafe/go-rxcheck/internal/engine/extract"
	"github.com/medsafe/go-rxcheck/internal/engine/interaction"
	"github.com/medsafe/go-rxcheck/internal/observability/metrics"
	"github.com/medsafe/go-rxcheck/pkg/workerpool"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Request is the common input of all three operations.
type Request struct {
	PrescriptionText string  `json:"prescription_text"`
	Age              int     `json:"age"`
	Weight           float64 `json:"weight"`
}

// Patient returns the request's patient context for validation.
func (r Request) Patient() patient.Context {
	return patient.Context{Age: r.Age, Weight: r.Weight}
}

// InteractionReport is the interaction-check response body.
type InteractionReport struct {
	Status       string                    `json:"status"`
	Interactions []interaction.Interaction `json:"interactions"`
}

// DosageAnalysis is one per-medicine row of a dosage report.
type DosageAnalysis struct {
	Medicine          string                `json:"medicine"`
	PrescribedDosage  string                `json:"prescribed_dosage"`
	Frequency         string                `json:"frequency"`
	AgeGroup          patient.AgeGroup      `json:"age_group"`
	Status            string                `json:"status"`
	Severity          dosage.Severity       `json:"severity"`
	TherapeuticRange  string                `json:"therapeutic_range"`
	ClinicalNotes     []string              `json:"clinical_notes"`
	Issues            []string              `json:"issues"`
	RecommendedDosage string                `json:"recommended_dosage"`
	WeightBased       dosage.WeightAnalysis `json:"weight_based_analysis"`
}

// DosageReport is the dosage-check response body.
type DosageReport struct {
	Status          string           `json:"status"`
	DosageAnalysis  []DosageAnalysis `json:"dosage_analysis"`
	Recommendations []string         `json:"recommendations"`
}

// AlternativesReport is the alternatives response body.
type AlternativesReport struct {
	Status          string                    `json:"status"`
	Alternatives    []alternatives.Suggestion `json:"alternatives"`
	Recommendations []string                  `json:"recommendations"`
}

// Deps are the collaborators a Service composes. Extractor, Checker,
// Evaluator and Finder are required; Pool and Metrics are optional.
type Deps struct {
	Extractor *extract.Extractor
	Checker   *dosage.Checker
	Evaluator *interaction.Evaluator
	Finder    *alternatives.Finder
	Pool      *workerpool.Pool
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Service exposes the engine operations.
type Service struct {
	extractor *extract.Extractor
	checker   *dosage.Checker
	evaluator *interaction.Evaluator
	finder    *alternatives.Finder
	pool      *workerpool.Pool
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewService builds the facade from its dependencies.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		extractor: d.Extractor,
		checker:   d.Checker,
		evaluator: d.Evaluator,
		finder:    d.Finder,
		pool:      d.Pool,
		metrics:   d.Metrics,
		tracer:    otel.Tracer("engine"),
		logger:    logger,
	}
}

// CheckInteractions evaluates the prescription for drug-drug
// interaction risk.
func (s *Service) CheckInteractions(ctx context.Context, req Request) InteractionReport {
	ctx, span := s.tracer.Start(ctx, "engine.check_interactions")
	defer span.End()

	found := s.evaluator.Check(ctx, req.PrescriptionText, req.Age, req.Weight)
	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues("interactions").Inc()
		for _, it := range found {
			s.metrics.InteractionsFlagged.WithLabelValues(it.Severity).Inc()
		}
	}
	s.logger.Info("interaction check complete", zap.Int("interactions", len(found)))
	return InteractionReport{Status: statusOK, Interactions: found}
}

// CheckDosage verifies every dosed medicine mention in the text.
func (s *Service) CheckDosage(ctx context.Context, req Request) DosageReport {
	ctx, span := s.tracer.Start(ctx, "engine.check_dosage")
	defer span.End()

	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues("dosage").Inc()
	}

	mentions := s.extractor.MedicinesWithDosages(ctx, req.PrescriptionText)
	if len(mentions) == 0 {
		return DosageReport{
			Status:          statusOK,
			DosageAnalysis:  []DosageAnalysis{},
			Recommendations: []string{"No medications detected in the prescription text. Please verify input."},
		}
	}

	frequencies := s.extractor.Frequencies(req.PrescriptionText)
	frequency := frequencies.Primary()
	results := s.verifyAll(ctx, mentions, req, frequency)

	analysis := make([]DosageAnalysis, len(mentions))
	for i, m := range mentions {
		r := results[i]
		status := "appropriate"
		if r.HasIssues {
			status = "needs_attention"
			if s.metrics != nil {
				s.metrics.DosageIssues.WithLabelValues(string(r.Severity)).Inc()
			}
		}
		analysis[i] = DosageAnalysis{
			Medicine:          title(m.Name),
			PrescribedDosage:  m.Dosage,
			Frequency:         frequency,
			AgeGroup:          r.AgeGroup,
			Status:            status,
			Severity:          r.Severity,
			TherapeuticRange:  r.TherapeuticRange,
			ClinicalNotes:     r.ClinicalNotes,
			Issues:            r.Issues,
			RecommendedDosage: r.RecommendedDosage,
			WeightBased:       r.WeightBased,
		}
	}

	s.logger.Info("dosage check complete", zap.Int("medicines", len(analysis)))
	return DosageReport{
		Status:          statusOK,
		DosageAnalysis:  analysis,
		Recommendations: dosageRecommendations(req, frequencies),
	}
}

// verifyAll runs one verification per mention, fanning out through the
// worker pool when one is attached. Tasks are submitted under a
// background context so a request canceled mid-flight cannot strand
// the collector; the request context still governs the model calls
// inside Verify.
func (s *Service) verifyAll(ctx context.Context, mentions []extract.Mention, req Request, frequency string) []dosage.Result {
	results := make([]dosage.Result, len(mentions))
	var wg sync.WaitGroup
	for i, m := range mentions {
		run := func(context.Context) {
			defer wg.Done()
			results[i] = s.checker.Verify(ctx, m.Name, m.Dosage, req.Age, req.Weight, frequency)
		}
		wg.Add(1)
		if s.pool == nil || s.pool.Submit(context.Background(), run) != nil {
			run(ctx)
		}
	}
	wg.Wait()
	return results
}

func dosageRecommendations(req Request, frequencies extract.FrequencyInfo) []string {
	var recs []string
	switch {
	case req.Age < 18:
		recs = append(recs, fmt.Sprintf(
			"Pediatric patient (%d years, %skg): Use weight-based dosing and pediatric formulations.",
			req.Age, patient.FormatWeight(req.Weight)))
		if req.Weight < 40 {
			recs = append(recs,
				"Low body weight detected. Ensure doses are calculated at appropriate mg/kg ratios (e.g., ibuprofen: 5-10mg/kg, acetaminophen: 10-15mg/kg).")
		}
	case req.Age >= 65:
		recs = append(recs,
			"Geriatric patient: Consider 25-50% dose reduction due to potential renal/hepatic impairment and increased sensitivity.")
	}

	if frequencies.Has(extract.AsNeeded) {
		recs = append(recs,
			"PRN (as needed) dosing detected. Ensure maximum daily dose is not exceeded and monitor for overuse.")
	} else if frequencies.Has(extract.EveryXHours) {
		recs = append(recs, fmt.Sprintf(
			"Frequent dosing (%s) detected. Verify cumulative daily dose and monitor for toxicity.",
			frequencies[extract.EveryXHours]))
	}

	recs = append(recs,
		"Verify all dosages against current clinical guidelines (e.g., Lexicomp, Micromedex).",
		"Monitor patient for therapeutic response and adverse effects.",
		"Consult a clinical pharmacist or prescriber for complex regimens.",
	)
	return dedupe(recs)
}

// SuggestAlternatives proposes substitute medications for every
// medicine in the text.
func (s *Service) SuggestAlternatives(ctx context.Context, req Request) AlternativesReport {
	ctx, span := s.tracer.Start(ctx, "engine.get_alternatives")
	defer span.End()

	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues("alternatives").Inc()
	}

	medicines := s.extractor.Medicines(ctx, req.PrescriptionText)
	if len(medicines) == 0 {
		return AlternativesReport{
			Status:          statusError,
			Alternatives:    []alternatives.Suggestion{},
			Recommendations: []string{"No medications detected in prescription text."},
		}
	}

	suggestions := s.finder.Suggest(ctx, medicines, req.Age)
	recs := []string{
		"Always consult healthcare provider before switching medications.",
		"Consider patient allergies and contraindications.",
		"Monitor patient response when starting new medication.",
		"Gradual transition may be needed for some medications.",
	}
	switch {
	case req.Age < 18:
		recs = append(recs, "Ensure pediatric formulations are available.")
	case req.Age >= 65:
		recs = append(recs, "Consider drug interactions in elderly patients.")
	}

	s.logger.Info("alternatives lookup complete", zap.Int("suggestions", len(suggestions)))
	return AlternativesReport{Status: statusOK, Alternatives: suggestions, Recommendations: recs}
}

// dedupe keeps the first occurrence of each string, preserving order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
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
