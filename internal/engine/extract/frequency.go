package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Category identifies one dosing-frequency pattern.
type Category string

const (
	OnceDaily       Category = "once_daily"
	TwiceDaily      Category = "twice_daily"
	ThreeTimesDaily Category = "three_times_daily"
	FourTimesDaily  Category = "four_times_daily"
	AsNeeded        Category = "as_needed"
	EveryXHours     Category = "every_x_hours"
)

var frequencyPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{OnceDaily, regexp.MustCompile(`\b(?:once|one time)\s*(?:daily|per day|a day)\b`)},
	{TwiceDaily, regexp.MustCompile(`\b(?:twice|two times)\s*(?:daily|per day|a day)\b`)},
	{ThreeTimesDaily, regexp.MustCompile(`\b(?:three times|thrice)\s*(?:daily|per day|a day)\b`)},
	{FourTimesDaily, regexp.MustCompile(`\b(?:four times)\s*(?:daily|per day|a day)\b`)},
	{AsNeeded, regexp.MustCompile(`\b(?:as needed|prn|when needed)\b`)},
	{EveryXHours, regexp.MustCompile(`\bevery\s*(\d+)\s*hours?\b`)},
}

// primaryOrder ranks categories for FrequencyInfo.Primary. Interval
// phrasing ranks last because the named schedules are more specific.
var primaryOrder = []Category{
	OnceDaily, TwiceDaily, ThreeTimesDaily, FourTimesDaily, AsNeeded, EveryXHours,
}

// FrequencyInfo maps each detected category to a display phrase, e.g.
// "twice daily" or "every 6 hours".
type FrequencyInfo map[Category]string

// Has reports whether the category was detected.
func (f FrequencyInfo) Has(c Category) bool {
	_, ok := f[c]
	return ok
}

// Primary returns the display phrase of the highest-ranked detected
// category, or NotSpecified when nothing was detected.
func (f FrequencyInfo) Primary() string {
	for _, c := range primaryOrder {
		if phrase, ok := f[c]; ok {
			return phrase
		}
	}
	return NotSpecified
}

// Frequencies scans the text for dosing-frequency phrases. The scan is
// rule-based only and never consults the model.
func (e *Extractor) Frequencies(text string) FrequencyInfo {
	lower := strings.ToLower(text)
	out := make(FrequencyInfo)
	for _, p := range frequencyPatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if p.category == EveryXHours {
			out[p.category] = fmt.Sprintf("every %s hours", m[1])
		} else {
			out[p.category] = strings.ReplaceAll(string(p.category), "_", " ")
		}
	}
	return out
}
