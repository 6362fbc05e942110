package app

import (
	"testing"

	"chapterhub/pkg/domain"
)

func TestAuthorFlowStaleResultDiscarded(t *testing.T) {
	flow := NewAuthorFlow()

	first := flow.BeginSearch()
	second := flow.BeginSearch()

	// The slow first search comes back after the second began.
	if applied := flow.CompleteSearch(first, &domain.Identity{ID: "id-old", DNI: "11111111A"}); applied {
		t.Fatalf("stale result must be discarded")
	}
	phase, match, _ := flow.Snapshot()
	if phase != PhaseSearching || match != nil {
		t.Fatalf("stale result leaked into the flow: phase=%s match=%+v", phase, match)
	}

	if applied := flow.CompleteSearch(second, &domain.Identity{ID: "id-new", DNI: "22222222B"}); !applied {
		t.Fatalf("current result must apply")
	}
	phase, match, fields := flow.Snapshot()
	if phase != PhaseFound || match == nil || match.ID != "id-new" {
		t.Fatalf("unexpected flow state: phase=%s match=%+v", phase, match)
	}
	if fields.DNI != "22222222B" {
		t.Fatalf("fields not pre-filled from match: %+v", fields)
	}
}

func TestAuthorFlowNotFoundEnablesProvisioning(t *testing.T) {
	flow := NewAuthorFlow()
	gen := flow.BeginSearch()
	if applied := flow.CompleteSearch(gen, nil); !applied {
		t.Fatalf("empty result must apply")
	}
	phase, _, _ := flow.Snapshot()
	if phase != PhaseNotFound {
		t.Fatalf("phase = %s, want %s", phase, PhaseNotFound)
	}
}

func TestAuthorFlowEditOverridesResolvedFields(t *testing.T) {
	flow := NewAuthorFlow()
	gen := flow.BeginSearch()
	flow.CompleteSearch(gen, &domain.Identity{
		ID: "id-7", DNI: "12345678A", Email: "stored@example.com",
	})

	flow.Edit(domain.AuthorInvitation{
		DNI: "12345678A", Email: "edited@example.com", FirstName: "Ana",
	})
	_, _, fields := flow.Snapshot()
	if fields.Email != "edited@example.com" || fields.FirstName != "Ana" {
		t.Fatalf("edit not applied: %+v", fields)
	}
}

func TestAuthorFlowStaleFailureIgnored(t *testing.T) {
	flow := NewAuthorFlow()
	first := flow.BeginSearch()
	second := flow.BeginSearch()

	if applied := flow.FailSearch(first); applied {
		t.Fatalf("stale failure must be ignored")
	}
	if applied := flow.FailSearch(second); !applied {
		t.Fatalf("current failure must apply")
	}
	phase, _, _ := flow.Snapshot()
	if phase != PhaseIdle {
		t.Fatalf("phase = %s, want %s", phase, PhaseIdle)
	}
}
