// Package wizard implements the multi-section chapter submission flow:
// per-section word-count validation and the cursor state machine that
// governs navigation and final commit.
package wizard

import (
	"errors"
	"fmt"

	"chapterhub/pkg/domain"
)

var (
	// ErrNotAtPreview is returned when commit is attempted away from the
	// preview position.
	ErrNotAtPreview = errors.New("commit only allowed from preview")
	// ErrUnknownSection is returned for a section key outside the ruleset.
	ErrUnknownSection = errors.New("unknown section")
	// ErrStepOutOfRange is returned for a jump outside [0, section count].
	ErrStepOutOfRange = errors.New("step out of range")
)

// Violation describes one failed commit check. Section is empty for
// draft-level checks such as the confidentiality flag.
type Violation struct {
	Section domain.SectionKey `json:"section,omitempty"`
	Field   string            `json:"field,omitempty"`
	Message string            `json:"message"`
}

// Wizard tracks an in-progress chapter draft over an ordered list of
// sections plus a final preview position. Navigation is free in both
// directions and never validates; every check runs again at commit.
type Wizard struct {
	rules  *Ruleset
	draft  domain.ChapterDraft
	cursor int
}

// New starts an empty wizard at the first section.
func New(rules *Ruleset) *Wizard {
	return &Wizard{
		rules: rules,
		draft: domain.ChapterDraft{
			Sections: make(map[domain.SectionKey]string),
		},
	}
}

// Load restores a wizard from persisted draft state. The cursor is clamped
// into [0, preview].
func Load(rules *Ruleset, draft domain.ChapterDraft, cursor int) *Wizard {
	w := New(rules)
	w.draft.Title = draft.Title
	w.draft.StudyType = draft.StudyType
	w.draft.AcceptedConfidentiality = draft.AcceptedConfidentiality
	for key, text := range draft.Sections {
		w.draft.Sections[key] = text
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > rules.Len() {
		cursor = rules.Len()
	}
	w.cursor = cursor
	return w
}

// Cursor returns the current step index. Index len(sections) is preview.
func (w *Wizard) Cursor() int {
	return w.cursor
}

// AtPreview reports whether the cursor is on the preview position.
func (w *Wizard) AtPreview() bool {
	return w.cursor == w.rules.Len()
}

// CurrentSection returns the section under the cursor, or false at preview.
func (w *Wizard) CurrentSection() (domain.SectionKey, bool) {
	if w.AtPreview() {
		return "", false
	}
	return w.rules.order[w.cursor], true
}

// Next advances one step, clamped at preview. Advancing does not validate;
// incomplete sections are caught at commit.
func (w *Wizard) Next() {
	if w.cursor < w.rules.Len() {
		w.cursor++
	}
}

// Previous steps back, clamped at the first section.
func (w *Wizard) Previous() {
	if w.cursor > 0 {
		w.cursor--
	}
}

// JumpTo moves the cursor to any position in [0, preview].
func (w *Wizard) JumpTo(step int) error {
	if step < 0 || step > w.rules.Len() {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, step)
	}
	w.cursor = step
	return nil
}

// SetTitle records the chapter title.
func (w *Wizard) SetTitle(title string) {
	w.draft.Title = title
}

// SetStudyType records the declared study type.
func (w *Wizard) SetStudyType(studyType string) {
	w.draft.StudyType = studyType
}

// SetSection stores the draft text for a section.
func (w *Wizard) SetSection(key domain.SectionKey, text string) error {
	if _, ok := w.rules.Rule(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSection, key)
	}
	w.draft.Sections[key] = text
	return nil
}

// SetConfidentiality records the confidentiality acceptance flag.
func (w *Wizard) SetConfidentiality(accepted bool) {
	w.draft.AcceptedConfidentiality = accepted
}

// Draft returns a copy of the current draft state.
func (w *Wizard) Draft() domain.ChapterDraft {
	draft := w.draft
	draft.Sections = make(map[domain.SectionKey]string, len(w.draft.Sections))
	for key, text := range w.draft.Sections {
		draft.Sections[key] = text
	}
	return draft
}

// Snapshot validates every section in order and returns the results keyed
// by section. It is the same pure validation commit runs, exposed so the
// portal can show live word counts during navigation.
func (w *Wizard) Snapshot() map[domain.SectionKey]Result {
	out := make(map[domain.SectionKey]Result, w.rules.Len())
	for _, key := range w.rules.order {
		rule, _ := w.rules.Rule(key)
		out[key] = Validate(w.draft.Sections[key], rule)
	}
	return out
}

// Violations runs every commit check and returns all failures together,
// sections in presentation order followed by draft-level checks. The author
// sees every outstanding problem at once, not one at a time.
func (w *Wizard) Violations() []Violation {
	var out []Violation
	for _, key := range w.rules.order {
		rule, _ := w.rules.Rule(key)
		result := Validate(w.draft.Sections[key], rule)
		if !result.OK() {
			out = append(out, Violation{
				Section: key,
				Message: result.Message,
			})
		}
	}
	if !w.draft.AcceptedConfidentiality {
		out = append(out, Violation{
			Field:   "acceptedConfidentiality",
			Message: "confidentiality agreement must be accepted",
		})
	}
	return out
}

// Commit re-validates the full draft from the preview position. It returns
// the draft ready for submission, or the complete violation list when any
// check fails. Navigation never validated anything, so this is the only
// gate before the chapter leaves the wizard.
func (w *Wizard) Commit() (domain.ChapterDraft, []Violation, error) {
	if !w.AtPreview() {
		return domain.ChapterDraft{}, nil, ErrNotAtPreview
	}
	if violations := w.Violations(); len(violations) > 0 {
		return domain.ChapterDraft{}, violations, nil
	}
	return w.Draft(), nil, nil
}
