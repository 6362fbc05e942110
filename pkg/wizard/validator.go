package wizard

import (
	"fmt"
	"math"
	"strings"

	"chapterhub/pkg/domain"
)

// NoUpperBound marks a section rule without an upper word limit. The
// sentinel is the maximum representable int so no real count can reach it.
const NoUpperBound = math.MaxInt

// RangeStatus places a word count relative to a section rule.
type RangeStatus string

const (
	StatusBelow  RangeStatus = "below"
	StatusWithin RangeStatus = "within"
	StatusAbove  RangeStatus = "above"
)

// Result is the validation outcome for one section. Message is derived
// deterministically from the status and the distance to the nearest bound,
// so identical inputs always produce identical output.
type Result struct {
	WordCount int         `json:"wordCount"`
	Status    RangeStatus `json:"status"`
	Message   string      `json:"message"`
}

// OK reports whether the section satisfies its rule.
func (r Result) OK() bool {
	return r.Status == StatusWithin
}

// CountWords counts whitespace-separated words. Runs of whitespace collapse
// and empty tokens are discarded, so counting is stable under trimming and
// repeated whitespace. The authoring contract is expressed in words, not
// characters.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Validate checks a section text against its word-count rule.
func Validate(text string, rule domain.SectionRule) Result {
	count := CountWords(text)
	switch {
	case count < rule.MinWords:
		return Result{
			WordCount: count,
			Status:    StatusBelow,
			Message:   fmt.Sprintf("needs %d more words", rule.MinWords-count),
		}
	case rule.MaxWords != NoUpperBound && count > rule.MaxWords:
		return Result{
			WordCount: count,
			Status:    StatusAbove,
			Message:   fmt.Sprintf("%d words over the limit", count-rule.MaxWords),
		}
	default:
		return Result{
			WordCount: count,
			Status:    StatusWithin,
			Message:   "within range",
		}
	}
}
