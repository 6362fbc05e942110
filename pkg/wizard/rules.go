package wizard

import "chapterhub/pkg/domain"

// SectionSpec couples a section's rule with its presentation metadata.
// Adding a section is a data change here, not a control-flow change in the
// wizard or its handlers.
type SectionSpec struct {
	Rule   domain.SectionRule
	Label  string
	Prompt string
}

// Ruleset is the ordered section configuration a wizard runs over.
type Ruleset struct {
	order []domain.SectionKey
	specs map[domain.SectionKey]SectionSpec
}

// NewRuleset builds a ruleset from ordered specs. Order of the slice is the
// order the wizard presents sections in.
func NewRuleset(specs []SectionSpec) *Ruleset {
	rs := &Ruleset{
		order: make([]domain.SectionKey, 0, len(specs)),
		specs: make(map[domain.SectionKey]SectionSpec, len(specs)),
	}
	for _, spec := range specs {
		rs.order = append(rs.order, spec.Rule.Key)
		rs.specs[spec.Rule.Key] = spec
	}
	return rs
}

// DefaultRuleset returns the standard chapter section configuration.
func DefaultRuleset() *Ruleset {
	return NewRuleset([]SectionSpec{
		{
			Rule:   domain.SectionRule{Key: domain.SectionIntroduction, MinWords: 50, MaxWords: 150},
			Label:  "Introduction",
			Prompt: "Context and motivation for the study.",
		},
		{
			Rule:   domain.SectionRule{Key: domain.SectionObjectives, MinWords: 50, MaxWords: 150},
			Label:  "Objectives",
			Prompt: "What the chapter sets out to establish.",
		},
		{
			Rule:   domain.SectionRule{Key: domain.SectionMethodology, MinWords: 50, MaxWords: 150},
			Label:  "Methodology",
			Prompt: "How the work was carried out.",
		},
		{
			Rule:   domain.SectionRule{Key: domain.SectionResults, MinWords: 50, MaxWords: 150},
			Label:  "Results",
			Prompt: "Findings, with figures where relevant.",
		},
		{
			Rule:   domain.SectionRule{Key: domain.SectionDiscussion, MinWords: 50, MaxWords: 150},
			Label:  "Discussion",
			Prompt: "Interpretation and limitations.",
		},
		{
			Rule:   domain.SectionRule{Key: domain.SectionBibliography, MinWords: 0, MaxWords: NoUpperBound},
			Label:  "Bibliography",
			Prompt: "References in citation order.",
		},
	})
}

// Order returns the section keys in presentation order.
func (rs *Ruleset) Order() []domain.SectionKey {
	out := make([]domain.SectionKey, len(rs.order))
	copy(out, rs.order)
	return out
}

// Len returns the number of sections.
func (rs *Ruleset) Len() int {
	return len(rs.order)
}

// Spec returns the spec for a section key.
func (rs *Ruleset) Spec(key domain.SectionKey) (SectionSpec, bool) {
	spec, ok := rs.specs[key]
	return spec, ok
}

// Rule returns the rule for a section key.
func (rs *Ruleset) Rule(key domain.SectionKey) (domain.SectionRule, bool) {
	spec, ok := rs.specs[key]
	return spec.Rule, ok
}
