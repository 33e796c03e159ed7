package alert

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubQuerier struct {
	resp string
	err  error
}

func (s *stubQuerier) Query(ctx context.Context, prompt string) (string, error) {
	return s.resp, s.err
}

func TestContextualTemplates(t *testing.T) {
	g := NewGenerator(nil, nil)
	tests := []struct {
		name         string
		drugA, drugB string
		severity     string
		want         string
	}{
		{
			name:  "major with bleeding recommendations",
			drugA: "aspirin", drugB: "warfarin", severity: "major",
			want: "🚨 MAJOR INTERACTION: Aspirin and Warfarin combination poses significant risk. " +
				"Increased bleeding risk. Immediate medical consultation recommended. " +
				"Recommendations: Monitor INR if on warfarin; Check for unusual bruising or bleeding",
		},
		{
			name:  "unknown severity uses moderate template",
			drugA: "aspirin", drugB: "warfarin", severity: "catastrophic",
			want: "⚠️ MODERATE INTERACTION: Aspirin and Warfarin may interact. " +
				"Increased bleeding risk. Monitor patient closely. " +
				"Recommendations: Monitor INR if on warfarin; Check for unusual bruising or bleeding",
		},
		{
			name:  "no matching rule group",
			drugA: "omeprazole", drugB: "sertraline", severity: "minor",
			want: "ℹ️ MINOR INTERACTION: Omeprazole and Sertraline have potential interaction. " +
				"Increased bleeding risk. Consider alternative if possible.",
		},
		{
			name:  "recommendations capped at three",
			drugA: "ibuprofen", drugB: "metformin", severity: "moderate",
			want: "⚠️ MODERATE INTERACTION: Ibuprofen and Metformin may interact. " +
				"Increased bleeding risk. Monitor patient closely. " +
				"Recommendations: Monitor INR if on warfarin; Check for unusual bruising or bleeding; Check creatinine levels",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Contextual(context.Background(), tt.drugA, tt.drugB, "Increased bleeding risk.", tt.severity)
			if got != tt.want {
				t.Errorf("Contextual() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestContextualModelFirst(t *testing.T) {
	g := NewGenerator(&stubQuerier{resp: "Custom model alert."}, nil)
	if got := g.Contextual(context.Background(), "aspirin", "warfarin", "d", "major"); got != "Custom model alert." {
		t.Errorf("model response not used verbatim, got %q", got)
	}

	g = NewGenerator(&stubQuerier{err: errors.New("down")}, nil)
	got := g.Contextual(context.Background(), "omeprazole", "sertraline", "Desc.", "minor")
	want := "ℹ️ MINOR INTERACTION: Omeprazole and Sertraline have potential interaction. Desc. Consider alternative if possible."
	if got != want {
		t.Errorf("fallback after model error = %q, want %q", got, want)
	}

	g = NewGenerator(&stubQuerier{resp: "   "}, nil)
	if got := g.Contextual(context.Background(), "omeprazole", "sertraline", "Desc.", "minor"); got != want {
		t.Errorf("blank model response must fall back, got %q", got)
	}
}

func TestAgeBasedRules(t *testing.T) {
	g := NewGenerator(nil, nil)
	tests := []struct {
		name   string
		drug   string
		age    int
		dosage string
		want   []string
	}{
		{
			name: "pediatric aspirin", drug: "aspirin", age: 8,
			want: []string{"🚨 PEDIATRIC ALERT: Aspirin contraindicated in children under 12 due to Reye's syndrome risk"},
		},
		{
			name: "pediatric codeine", drug: "Codeine", age: 10,
			want: []string{"🚨 PEDIATRIC ALERT: Codeine contraindicated in children under 12"},
		},
		{
			name: "pediatric drug without contraindication", drug: "metformin", age: 8,
			want: []string{},
		},
		{
			name: "geriatric ibuprofen", drug: "ibuprofen", age: 70,
			want: []string{"👴 GERIATRIC ALERT: Reduce dose in elderly - increased risk of kidney and GI complications"},
		},
		{
			name: "adult has no age alert", drug: "aspirin", age: 30,
			want: []string{},
		},
		{
			name: "high dose flagged", drug: "aspirin", age: 30, dosage: "1500mg",
			want: []string{"⚠️ HIGH DOSE ALERT: aspirin 1500mg exceeds typical therapeutic range"},
		},
		{
			name: "threshold itself is not high", drug: "aspirin", age: 30, dosage: "1000mg",
			want: []string{},
		},
		{
			name: "geriatric plus high dose", drug: "ibuprofen", age: 70, dosage: "900mg",
			want: []string{
				"👴 GERIATRIC ALERT: Reduce dose in elderly - increased risk of kidney and GI complications",
				"⚠️ HIGH DOSE ALERT: ibuprofen 900mg exceeds typical therapeutic range",
			},
		},
		{
			name: "unknown drug dose never high", drug: "unknownium", age: 30, dosage: "9999mg",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.AgeBased(context.Background(), tt.drug, tt.age, tt.dosage)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AgeBased() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgeBasedModel(t *testing.T) {
	g := NewGenerator(&stubQuerier{resp: `["ALERT: model says caution"]`}, nil)
	got := g.AgeBased(context.Background(), "aspirin", 8, "")
	if !reflect.DeepEqual(got, []string{"ALERT: model says caution"}) {
		t.Errorf("model alerts not used, got %v", got)
	}

	// An empty model array is a valid "no concerns" answer and wins
	// over the rule tables.
	g = NewGenerator(&stubQuerier{resp: `[]`}, nil)
	if got := g.AgeBased(context.Background(), "aspirin", 8, ""); len(got) != 0 {
		t.Errorf("empty model array should suppress rule alerts, got %v", got)
	}

	g = NewGenerator(&stubQuerier{resp: "not json"}, nil)
	got = g.AgeBased(context.Background(), "aspirin", 8, "")
	if len(got) != 1 || got[0] != "🚨 PEDIATRIC ALERT: Aspirin contraindicated in children under 12 due to Reye's syndrome risk" {
		t.Errorf("invalid model payload should fall back to rules, got %v", got)
	}

	g = NewGenerator(&stubQuerier{err: errors.New("down")}, nil)
	got = g.AgeBased(context.Background(), "ibuprofen", 70, "")
	if len(got) != 1 {
		t.Errorf("model error should fall back to rules, got %v", got)
	}
}

func TestConditionBased(t *testing.T) {
	g := NewGenerator(nil, nil)

	got := g.ConditionBased(context.Background(), []string{"prednisone", "ibuprofen", "metformin"}, nil)
	want := []string{
		"💊 Monitor blood glucose if diabetic - steroids may raise sugar levels",
		"💊 Caution with kidney or heart disease - NSAIDs may worsen these conditions",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConditionBased() = %v, want %v", got, want)
	}

	got = g.ConditionBased(context.Background(), []string{"prednisolone", "naproxen"}, nil)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("class synonyms not covered, got %v", got)
	}
}

func TestConditionBasedWithConditions(t *testing.T) {
	g := NewGenerator(nil, nil)
	tests := []struct {
		name       string
		drugs      []string
		conditions []string
		want       []string
	}{
		{
			name: "diabetes flags steroids only", drugs: []string{"prednisone", "ibuprofen"}, conditions: []string{"diabetes"},
			want: []string{"💊 Corticosteroids may increase blood glucose levels"},
		},
		{
			name: "condition names normalize", drugs: []string{"ibuprofen"}, conditions: []string{"Kidney Disease"},
			want: []string{"💊 NSAIDs may worsen kidney function"},
		},
		{
			name:  "multiple conditions in order",
			drugs: []string{"metformin", "ibuprofen"}, conditions: []string{"kidney_disease", "heart_disease"},
			want: []string{
				"💊 Contraindicated in severe kidney disease",
				"💊 NSAIDs may worsen kidney function",
				"💊 NSAIDs may increase cardiovascular risk",
			},
		},
		{
			name: "unknown condition", drugs: []string{"prednisone"}, conditions: []string{"asthma"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ConditionBased(context.Background(), tt.drugs, tt.conditions)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ConditionBased() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComprehensiveBuckets(t *testing.T) {
	g := NewGenerator(nil, nil)

	s := g.Comprehensive(context.Background(), []string{"aspirin", "ibuprofen"}, 70, nil)
	if len(s.HighPriority) != 0 {
		t.Errorf("HighPriority = %v", s.HighPriority)
	}
	wantLow := []string{
		"👴 GERIATRIC ALERT: Monitor for bleeding risk - elderly more susceptible",
		"👴 GERIATRIC ALERT: Reduce dose in elderly - increased risk of kidney and GI complications",
	}
	if !reflect.DeepEqual(s.LowPriority, wantLow) {
		t.Errorf("LowPriority = %v, want %v", s.LowPriority, wantLow)
	}
	wantMedium := []string{"💊 Caution with kidney or heart disease - NSAIDs may worsen these conditions"}
	if !reflect.DeepEqual(s.MediumPriority, wantMedium) {
		t.Errorf("MediumPriority = %v, want %v", s.MediumPriority, wantMedium)
	}
	wantRecs := []string{
		"Regular monitoring recommended",
		"Consult healthcare provider for any concerns",
		"Follow prescribed dosing schedule",
	}
	if !reflect.DeepEqual(s.Recommendations, wantRecs) {
		t.Errorf("Recommendations = %v, want %v", s.Recommendations, wantRecs)
	}

	s = g.Comprehensive(context.Background(), []string{"aspirin"}, 8, nil)
	if len(s.HighPriority) != 1 || len(s.MediumPriority) != 0 || len(s.LowPriority) != 0 {
		t.Errorf("pediatric aspirin should land in the high tier only: %+v", s)
	}
}

func TestComprehensiveModel(t *testing.T) {
	g := NewGenerator(&stubQuerier{resp: `{
		"high_priority_alerts": ["model high"],
		"medium_priority_alerts": [],
		"low_priority_alerts": [],
		"recommendations": ["model rec"]
	}`}, nil)
	s := g.Comprehensive(context.Background(), []string{"aspirin"}, 8, nil)
	if !reflect.DeepEqual(s.HighPriority, []string{"model high"}) || !reflect.DeepEqual(s.Recommendations, []string{"model rec"}) {
		t.Errorf("model summary not used verbatim: %+v", s)
	}

	// A tier missing from the payload invalidates it.
	g = NewGenerator(&stubQuerier{resp: `{"high_priority_alerts": ["x"]}`}, nil)
	s = g.Comprehensive(context.Background(), []string{"aspirin"}, 8, nil)
	if len(s.HighPriority) != 1 || s.HighPriority[0] == "x" {
		t.Errorf("invalid model summary should fall back to rules: %+v", s)
	}
}
