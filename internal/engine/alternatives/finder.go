// Package alternatives proposes substitute medications. A curated
// catalog answers for the common medicines; anything else goes through
// the model and then the drug reference service, degrading to an empty
// list when neither is available.
package alternatives

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/infrastructure/rxnorm"
)

const maxPerMedicine = 5

// Querier is the model operation the finder needs. Alternatives are
// not cached: the curated catalog already covers the hot names.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Reference resolves a medicine name to related drugs through an
// external terminology service.
type Reference interface {
	FindRxCUI(ctx context.Context, name string) (string, error)
	RelatedDrugs(ctx context.Context, rxcui string) ([]rxnorm.Drug, error)
}

// Suggestion is one alternative-medication proposal.
type Suggestion struct {
	OriginalMedicine string `json:"original_medicine"`
	AlternativeName  string `json:"alternative_name"`
	Reason           string `json:"reason"`
	SuggestedDosage  string `json:"suggested_dosage"`
	SafetyProfile    string `json:"safety_profile"`
}

// Finder suggests alternatives for extracted medicines.
type Finder struct {
	model     Querier
	reference Reference
	logger    *zap.Logger
}

// NewFinder builds a finder. Both collaborators are optional; with
// neither, only the curated catalog answers.
func NewFinder(model Querier, reference Reference, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{model: model, reference: reference, logger: logger}
}

// Suggest returns alternative proposals for the given medicines. The
// catalog pass runs first; the external lookup only runs when the
// catalog produced nothing at all. Never fails: internal problems
// degrade to an empty list.
func (f *Finder) Suggest(ctx context.Context, medicines []string, age int) (suggestions []Suggestion) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("alternatives lookup failed", zap.Any("panic", r))
			suggestions = []Suggestion{}
		}
	}()

	suggestions = []Suggestion{}
	note := dosageNote(age)
	for _, medicine := range medicines {
		for _, entry := range catalog[strings.ToLower(medicine)] {
			suggestions = append(suggestions, Suggestion{
				OriginalMedicine: medicine,
				AlternativeName:  entry.name,
				Reason:           entry.reason,
				SuggestedDosage:  entry.dosage + note,
				SafetyProfile:    "Generally well tolerated",
			})
		}
	}
	if len(suggestions) > 0 {
		return suggestions
	}

	for _, medicine := range medicines {
		for _, c := range f.lookup(ctx, medicine) {
			suggestions = append(suggestions, Suggestion{
				OriginalMedicine: medicine,
				AlternativeName:  c.name,
				Reason:           c.reason,
				SuggestedDosage:  "Consult prescribing information",
				SafetyProfile:    "Similar to original",
			})
		}
	}
	return suggestions
}

type candidate struct {
	name   string
	reason string
}

const alternativesPrompt = `Suggest 5 alternative medications to %s with the same active ingredient or similar effects.
Return JSON array: [{"name": "string", "rxcui": "string", "strength": "string", "dosage_form": "string", "reason": "string"}]`

// lookup resolves alternatives for one medicine outside the catalog:
// model first, then the reference service. Failures degrade to nil.
func (f *Finder) lookup(ctx context.Context, medicine string) []candidate {
	if f.model != nil {
		if found, ok := f.lookupModel(ctx, medicine); ok {
			return found
		}
	}
	if f.reference == nil {
		return nil
	}

	rxcui, err := f.reference.FindRxCUI(ctx, medicine)
	if err != nil {
		f.logger.Warn("reference identifier lookup failed",
			zap.String("medicine", medicine), zap.Error(err))
		return nil
	}
	if rxcui == "" {
		return nil
	}
	drugs, err := f.reference.RelatedDrugs(ctx, rxcui)
	if err != nil {
		f.logger.Warn("related drug lookup failed",
			zap.String("medicine", medicine), zap.String("rxcui", rxcui), zap.Error(err))
		return nil
	}

	var out []candidate
	for _, d := range drugs {
		if d.Name == "" || strings.EqualFold(d.Name, medicine) {
			continue
		}
		out = append(out, candidate{name: d.Name, reason: "Same active ingredient with potentially safer profile"})
	}
	if len(out) > maxPerMedicine {
		out = out[:maxPerMedicine]
	}
	return out
}

type modelAlternative struct {
	Name       string `json:"name"`
	RxCUI      string `json:"rxcui"`
	Strength   string `json:"strength"`
	DosageForm string `json:"dosage_form"`
	Reason     string `json:"reason"`
}

func (f *Finder) lookupModel(ctx context.Context, medicine string) ([]candidate, bool) {
	resp, err := f.model.Query(ctx, fmt.Sprintf(alternativesPrompt, medicine))
	if err != nil {
		f.logger.Warn("model alternatives lookup failed, falling back to reference",
			zap.String("medicine", medicine), zap.Error(err))
		return nil, false
	}
	var payload []modelAlternative
	if err := json.Unmarshal([]byte(resp), &payload); err != nil {
		f.logger.Warn("model alternatives returned invalid payload, falling back to reference",
			zap.String("medicine", medicine), zap.Error(err))
		return nil, false
	}
	if len(payload) == 0 {
		f.logger.Warn("model returned no alternatives, falling back to reference",
			zap.String("medicine", medicine))
		return nil, false
	}
	out := make([]candidate, 0, len(payload))
	for _, item := range payload {
		if item.Name == "" || item.Reason == "" {
			f.logger.Warn("model alternatives missing required fields, falling back to reference",
				zap.String("medicine", medicine))
			return nil, false
		}
		out = append(out, candidate{name: item.Name, reason: item.Reason})
	}
	if len(out) > maxPerMedicine {
		out = out[:maxPerMedicine]
	}
	return out, true
}
