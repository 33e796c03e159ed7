package extract

import (
	"regexp"
	"strings"
)

// Extraction runs on lowercased text, so the patterns themselves are
// lowercase-only.
var (
	// name immediately followed by an amount and unit: "aspirin 325mg"
	doseMentionRe = regexp.MustCompile(`\b([a-zA-Z]+)\s*(\d+(?:\.\d+)?)\s*(mg|g|ml|mcg|units?)\b`)

	// imperative phrasing: "take ibuprofen", "prescribed warfarin"
	verbObjectRe = regexp.MustCompile(`(?:take|prescribed)\s+([a-zA-Z]+)`)

	// known names with no surrounding cues
	vocabularyRe = regexp.MustCompile(`\b(` + strings.Join(commonMedicines, "|") + `)\b`)

	amountRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	unitRe   = regexp.MustCompile(`(?i)(mg|g|ml|mcg|units?)`)
)
