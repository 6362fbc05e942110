package app

import (
	"sync"

	"chapterhub/pkg/domain"
)

// FlowPhase names a position in the co-author resolution flow.
type FlowPhase string

const (
	PhaseIdle      FlowPhase = "idle"
	PhaseSearching FlowPhase = "searching"
	PhaseFound     FlowPhase = "found"
	PhaseNotFound  FlowPhase = "not_found"
	PhaseEditable  FlowPhase = "editable"
	PhaseAttaching FlowPhase = "attaching"
	PhaseAttached  FlowPhase = "attached"
	PhaseFailed    FlowPhase = "failed"
)

// AuthorFlow tracks one in-progress co-author lookup. Each new search bumps
// a generation counter; a result arriving for an older generation is
// discarded so a slow first search can never overwrite a corrected one.
type AuthorFlow struct {
	mu     sync.Mutex
	phase  FlowPhase
	gen    uint64
	match  *domain.Identity
	fields domain.AuthorInvitation
}

// NewAuthorFlow starts a flow with nothing searched yet.
func NewAuthorFlow() *AuthorFlow {
	return &AuthorFlow{phase: PhaseIdle}
}

// BeginSearch supersedes any in-flight search and returns the generation
// the caller must present when completing it.
func (f *AuthorFlow) BeginSearch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.phase = PhaseSearching
	f.match = nil
	f.fields = domain.AuthorInvitation{}
	return f.gen
}

// CompleteSearch applies a search outcome. It reports whether the outcome
// was applied; a stale generation is dropped without touching the flow.
// A found identity pre-fills the invitation fields for editing.
func (f *AuthorFlow) CompleteSearch(gen uint64, match *domain.Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.phase != PhaseSearching {
		return false
	}
	if match == nil {
		f.phase = PhaseNotFound
		return true
	}
	copied := *match
	f.match = &copied
	f.fields = domain.AuthorInvitation{
		DNI:       match.DNI,
		Email:     match.Email,
		FirstName: match.FirstName,
		LastName:  match.LastName,
	}
	f.phase = PhaseFound
	return true
}

// FailSearch abandons a search that errored, returning the flow to idle.
// Stale failures are ignored the same way stale results are.
func (f *AuthorFlow) FailSearch(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.phase != PhaseSearching {
		return false
	}
	f.phase = PhaseIdle
	return true
}

// Edit overwrites the invitation fields with user-adjusted values. The
// attach call later sends these edited values, not the raw search result.
func (f *AuthorFlow) Edit(fields domain.AuthorInvitation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = fields
	switch f.phase {
	case PhaseFound, PhaseNotFound, PhaseEditable, PhaseFailed:
		f.phase = PhaseEditable
	}
}

// BeginAttach marks the flow as attaching.
func (f *AuthorFlow) BeginAttach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = PhaseAttaching
}

// CompleteAttach records the attach outcome. A failed inline attach leaves
// the flow editable again via Edit; the deferred retry runs regardless.
func (f *AuthorFlow) CompleteAttach(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.phase = PhaseAttached
		return
	}
	f.phase = PhaseFailed
}

// Snapshot returns the current phase, resolved identity if any, and the
// invitation fields as last edited.
func (f *AuthorFlow) Snapshot() (FlowPhase, *domain.Identity, domain.AuthorInvitation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var match *domain.Identity
	if f.match != nil {
		copied := *f.match
		match = &copied
	}
	return f.phase, match, f.fields
}
