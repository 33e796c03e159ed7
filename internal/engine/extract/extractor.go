// Package extract pulls medicine names, dosages and frequencies out of
// free-form prescription text. The model path runs first when a model
// client is wired; the deterministic rule path is both the fallback and
// the reference behavior for tests.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// NotSpecified is the placeholder used when a mention carries no
// parseable dosage or frequency.
const NotSpecified = "Not specified"

// Querier is the single model operation extraction needs. A nil Querier
// disables the model path entirely.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Extractor turns prescription text into structured mentions.
type Extractor struct {
	model  Querier
	logger *zap.Logger
}

// New builds an extractor. Both arguments may be nil.
func New(model Querier, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{model: model, logger: logger}
}

// Mention is one medicine found in the text. Amount is nil when the
// dosage had no parseable number.
type Mention struct {
	Name   string   `json:"medicine"`
	Dosage string   `json:"dosage"`
	Amount *float64 `json:"amount"`
	Unit   string   `json:"unit"`
}

// commonMedicines backs the vocabulary pattern. Order is fixed so
// extraction output is reproducible run to run.
var commonMedicines = []string{
	"aspirin", "ibuprofen", "acetaminophen", "paracetamol", "warfarin",
	"metformin", "insulin", "amoxicillin", "lisinopril", "atorvastatin",
	"amlodipine", "metoprolol", "omeprazole", "losartan", "furosemide",
	"prednisone", "tramadol", "gabapentin", "sertraline", "fluoxetine",
}

var stopWords = map[string]bool{
	"take": true, "with": true, "food": true, "daily": true, "twice": true,
	"once": true, "three": true, "times": true, "tablet": true,
	"capsule": true, "pill": true, "dose": true, "after": true,
	"before": true, "morning": true, "evening": true, "night": true,
	"day": true, "week": true, "month": true, "per": true, "as": true,
	"needed": true,
}

const (
	medicineNamesPrompt = `Extract all unique medicine names from the following prescription text.
Return only a JSON array of strings (e.g., ["medicine1", "medicine2"]), no other text or explanations.

Prescription text: %s`

	medicineDosagesPrompt = `Extract medicines with their dosages from the prescription text.
Return only a JSON array of objects, each with keys: "medicine" (string), "dosage" (string, e.g., "325mg").
Example: [{"medicine": "aspirin", "dosage": "325mg"}]

Prescription text: %s`
)

// Medicines returns the lowercase medicine names mentioned in text, in
// first-seen order. Empty input yields nothing.
func (e *Extractor) Medicines(ctx context.Context, text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if e.model != nil {
		if names, ok := e.medicinesFromModel(ctx, text); ok && len(names) > 0 {
			return names
		}
	}
	return ruleBasedMedicines(text)
}

func (e *Extractor) medicinesFromModel(ctx context.Context, text string) ([]string, bool) {
	resp, err := e.model.Query(ctx, fmt.Sprintf(medicineNamesPrompt, text))
	if err != nil {
		e.logger.Warn("model extraction failed, falling back to rules", zap.Error(err))
		return nil, false
	}

	var raw []string
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		e.logger.Warn("model extraction returned unparseable JSON, falling back to rules",
			zap.String("response", resp))
		return nil, false
	}

	seen := make(map[string]bool)
	var names []string
	for _, name := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, true
}

func ruleBasedMedicines(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if len(name) <= 2 || !isAlpha(name) || stopWords[name] || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, m := range doseMentionRe.FindAllStringSubmatch(lower, -1) {
		add(m[1])
	}
	for _, m := range verbObjectRe.FindAllStringSubmatch(lower, -1) {
		add(m[1])
	}
	for _, name := range vocabularyRe.FindAllString(lower, -1) {
		add(name)
	}
	return out
}

// MedicinesWithDosages pairs each mention with its dosage text. When
// neither the model nor the dosage pattern finds anything, plain name
// extraction runs and the mentions carry no dosage.
func (e *Extractor) MedicinesWithDosages(ctx context.Context, text string) []Mention {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if e.model != nil {
		if mentions, ok := e.mentionsFromModel(ctx, text); ok && len(mentions) > 0 {
			return mentions
		}
	}

	lower := strings.ToLower(text)
	var out []Mention
	for _, m := range doseMentionRe.FindAllStringSubmatch(lower, -1) {
		name := strings.TrimSpace(m[1])
		if len(name) <= 2 || !isAlpha(name) {
			continue
		}
		amount, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		a := amount
		out = append(out, Mention{
			Name:   name,
			Dosage: m[2] + m[3],
			Amount: &a,
			Unit:   m[3],
		})
	}

	if len(out) == 0 {
		for _, name := range e.Medicines(ctx, text) {
			out = append(out, Mention{Name: name, Dosage: NotSpecified})
		}
	}
	return out
}

type modelMention struct {
	Medicine string `json:"medicine"`
	Dosage   string `json:"dosage"`
}

func (e *Extractor) mentionsFromModel(ctx context.Context, text string) ([]Mention, bool) {
	resp, err := e.model.Query(ctx, fmt.Sprintf(medicineDosagesPrompt, text))
	if err != nil {
		e.logger.Warn("model dosage extraction failed, falling back to rules", zap.Error(err))
		return nil, false
	}

	var items []modelMention
	if err := json.Unmarshal([]byte(resp), &items); err != nil {
		e.logger.Warn("model dosage extraction returned unparseable JSON, falling back to rules",
			zap.String("response", resp))
		return nil, false
	}

	var out []Mention
	for _, it := range items {
		name := strings.ToLower(strings.TrimSpace(it.Medicine))
		if name == "" {
			continue
		}
		dosage := strings.TrimSpace(it.Dosage)
		if dosage == "" {
			dosage = NotSpecified
		}
		amount, unit := parseDosageText(dosage)
		out = append(out, Mention{Name: name, Dosage: dosage, Amount: amount, Unit: unit})
	}
	return out, true
}

func parseDosageText(dosage string) (*float64, string) {
	var amount *float64
	if m := amountRe.FindStringSubmatch(dosage); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			amount = &v
		}
	}
	unit := ""
	if m := unitRe.FindStringSubmatch(dosage); m != nil {
		unit = m[1]
	}
	return amount, unit
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
