package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chapterhub/pkg/domain"
	"chapterhub/pkg/store"
	"chapterhub/pkg/wizard"
	"chapterhub/services/portal/internal/chapterclient"
	"chapterhub/services/portal/internal/editionclient"
	"chapterhub/services/portal/internal/identityclient"
	"chapterhub/services/portal/internal/session"
)

var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func openEdition() domain.Edition {
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return domain.Edition{
		ID:               "ed-1",
		Name:             "Spring Edition",
		OpenDate:         &open,
		DeadlineChapters: &deadline,
	}
}

// fixture spins up fake remote services and an App wired to them.
type fixture struct {
	app      *App
	sessions *session.MemoryStore
	outbox   *store.MemoryStore

	edition domain.Edition
	credits int

	identities     []domain.Identity
	createStatus   int
	attachStatus   int
	attachRequests []map[string]any

	chapterStatus int
	chapterCode   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		edition:       openEdition(),
		credits:       2,
		createStatus:  http.StatusCreated,
		attachStatus:  http.StatusOK,
		chapterStatus: http.StatusCreated,
	}

	editionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/credits/") {
			json.NewEncoder(w).Encode(map[string]int{"available": f.credits})
			return
		}
		json.NewEncoder(w).Encode(f.edition)
	}))
	t.Cleanup(editionSrv.Close)

	identitySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/identities":
			term := r.URL.Query().Get("q")
			var items []domain.Identity
			for _, id := range f.identities {
				if strings.EqualFold(id.DNI, term) {
					items = append(items, id)
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"items": items, "count": len(items)})
		case r.Method == http.MethodPost && r.URL.Path == "/identities":
			if f.createStatus != http.StatusCreated {
				w.WriteHeader(f.createStatus)
				json.NewEncoder(w).Encode(map[string]string{"error": "dni already registered"})
				return
			}
			var inv domain.AuthorInvitation
			json.NewDecoder(r.Body).Decode(&inv)
			created := domain.Identity{
				ID: "id-new", DNI: inv.DNI, Email: inv.Email,
				FirstName: inv.FirstName, LastName: inv.LastName,
			}
			f.identities = append(f.identities, created)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/authors"):
			if f.attachStatus != http.StatusOK {
				w.WriteHeader(f.attachStatus)
				json.NewEncoder(w).Encode(map[string]string{"error": "attach failed"})
				return
			}
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			f.attachRequests = append(f.attachRequests, payload)
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(identitySrv.Close)

	chapterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.chapterStatus != http.StatusCreated {
			w.WriteHeader(f.chapterStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "rejected", "code": f.chapterCode})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"chapterId": "ch-1"})
	}))
	t.Cleanup(chapterSrv.Close)

	f.sessions = session.NewMemoryStore()
	f.outbox = store.NewMemoryStore()

	application, err := New(Config{
		Editions:   editionclient.NewClient(editionSrv.URL),
		Identities: identityclient.NewClient(identitySrv.URL),
		Chapters:   chapterclient.NewClient(chapterSrv.URL),
		Sessions:   f.sessions,
		Outbox:     f.outbox,
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = application
	return f
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

// completeDraft fills every section within range and accepts
// confidentiality, leaving the cursor at preview.
func (f *fixture) completeDraft(t *testing.T) string {
	t.Helper()
	state, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	for _, key := range f.app.Rules().Order() {
		if _, err := f.app.SaveSection(state.ID, "author-1", key, words(100)); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}
	if _, err := f.app.SetDetails(state.ID, "author-1", "A Title", "review"); err != nil {
		t.Fatalf("set details: %v", err)
	}
	if _, err := f.app.SetConfidentiality(state.ID, "author-1", true); err != nil {
		t.Fatalf("set confidentiality: %v", err)
	}
	if _, err := f.app.Navigate(state.ID, "author-1", NavJump, f.app.Rules().Len()); err != nil {
		t.Fatalf("jump to preview: %v", err)
	}
	return state.ID
}

func TestCheckEligibilityOpenWithCredits(t *testing.T) {
	f := newFixture(t)
	elig, err := f.app.CheckEligibility(context.Background(), "token", "author-1", "ed-1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !elig.Eligible || elig.State != domain.StateOpen || elig.Credits != 2 {
		t.Fatalf("unexpected eligibility: %+v", elig)
	}
}

func TestCheckEligibilityFailsClosed(t *testing.T) {
	f := newFixture(t)

	elig, err := f.app.CheckEligibility(context.Background(), "", "author-1", "ed-1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if elig.Eligible || elig.Reason != reasonCredentialMissing {
		t.Fatalf("missing credential should refuse: %+v", elig)
	}

	f.credits = 0
	elig, err = f.app.CheckEligibility(context.Background(), "token", "author-1", "ed-1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if elig.Eligible || elig.Reason != reasonQuotaExhausted {
		t.Fatalf("zero credits should refuse: %+v", elig)
	}

	f.credits = 2
	f.edition = domain.Edition{ID: "ed-1", Name: "No dates"}
	elig, err = f.app.CheckEligibility(context.Background(), "token", "author-1", "ed-1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if elig.Eligible || elig.Reason != reasonEditionNotOpen {
		t.Fatalf("unknown edition state should refuse: %+v", elig)
	}
}

func TestCheckEligibilityRemoteFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	broken, err := New(Config{
		Editions:   editionclient.NewClient("http://127.0.0.1:1"),
		Identities: f.app.identities,
		Chapters:   f.app.chapters,
		Sessions:   session.NewMemoryStore(),
		Outbox:     store.NewMemoryStore(),
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := broken.CheckEligibility(context.Background(), "token", "author-1", "ed-1"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestStartSessionRefusedWhenNotEligible(t *testing.T) {
	f := newFixture(t)
	f.credits = 0
	if _, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	f.credits = 2
	closed := openEdition()
	past := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	closed.OpenDate = &past
	closedDeadline := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	closed.DeadlineChapters = &closedDeadline
	f.edition = closed
	if _, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestSessionOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	state, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := f.app.GetSession(state.ID, "someone-else"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign session should read as missing, got %v", err)
	}
}

func TestNavigateAndSectionViews(t *testing.T) {
	f := newFixture(t)
	state, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	view, err := f.app.SaveSection(state.ID, "author-1", domain.SectionIntroduction, words(40))
	if err != nil {
		t.Fatalf("save section: %v", err)
	}
	if view.Sections[0].Result.Status != wizard.StatusBelow {
		t.Fatalf("expected below-range result, got %+v", view.Sections[0].Result)
	}

	view, err = f.app.Navigate(state.ID, "author-1", NavNext, 0)
	if err != nil {
		t.Fatalf("navigate next: %v", err)
	}
	if view.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", view.Cursor)
	}

	if _, err := f.app.Navigate(state.ID, "author-1", NavJump, 99); !errors.Is(err, wizard.ErrStepOutOfRange) {
		t.Fatalf("expected ErrStepOutOfRange, got %v", err)
	}

	view, err = f.app.Navigate(state.ID, "author-1", NavJump, f.app.Rules().Len())
	if err != nil {
		t.Fatalf("jump to preview: %v", err)
	}
	if !view.AtPreview || view.CurrentSection != "" {
		t.Fatalf("expected preview position, got %+v", view)
	}
}

func TestCommitHappyPathDeletesSession(t *testing.T) {
	f := newFixture(t)
	sessionID := f.completeDraft(t)

	chapterID, err := f.app.Commit(context.Background(), "token", sessionID, "author-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if chapterID != "ch-1" {
		t.Fatalf("chapterID = %q", chapterID)
	}
	if _, ok, _ := f.sessions.Get(sessionID); ok {
		t.Fatalf("session should be deleted after commit")
	}
}

func TestCommitRequiresPreview(t *testing.T) {
	f := newFixture(t)
	state, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := f.app.Commit(context.Background(), "token", state.ID, "author-1"); !errors.Is(err, wizard.ErrNotAtPreview) {
		t.Fatalf("expected ErrNotAtPreview, got %v", err)
	}
}

func TestCommitReportsAllViolationsTogether(t *testing.T) {
	f := newFixture(t)
	state, err := f.app.StartSession(context.Background(), "token", "author-1", "ed-1", "book-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := f.app.Navigate(state.ID, "author-1", NavJump, f.app.Rules().Len()); err != nil {
		t.Fatalf("jump to preview: %v", err)
	}

	_, err = f.app.Commit(context.Background(), "token", state.ID, "author-1")
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// Five bounded sections plus the confidentiality flag.
	if len(valErr.Violations) != 6 {
		t.Fatalf("violations = %d, want 6: %+v", len(valErr.Violations), valErr.Violations)
	}
	if _, ok, _ := f.sessions.Get(state.ID); !ok {
		t.Fatalf("session must survive a failed commit")
	}
}

func TestCommitQuotaReReadBlocks(t *testing.T) {
	f := newFixture(t)
	sessionID := f.completeDraft(t)

	// Another session consumed the last credit after the draft was built.
	f.credits = 0
	if _, err := f.app.Commit(context.Background(), "token", sessionID, "author-1"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	if _, ok, _ := f.sessions.Get(sessionID); !ok {
		t.Fatalf("session must survive a quota refusal")
	}
}

func TestCommitRemoteFailurePreservesDraft(t *testing.T) {
	f := newFixture(t)
	sessionID := f.completeDraft(t)

	f.chapterStatus = http.StatusInternalServerError
	if _, err := f.app.Commit(context.Background(), "token", sessionID, "author-1"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if _, ok, _ := f.sessions.Get(sessionID); !ok {
		t.Fatalf("session must survive a failed submit")
	}
}

func TestCommitQuotaRejectionFromChapterService(t *testing.T) {
	f := newFixture(t)
	sessionID := f.completeDraft(t)

	f.chapterStatus = http.StatusConflict
	f.chapterCode = "quota_exhausted"
	if _, err := f.app.Commit(context.Background(), "token", sessionID, "author-1"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
}

func TestAddAuthorsAttachesExistingIdentity(t *testing.T) {
	f := newFixture(t)
	f.identities = []domain.Identity{{
		ID: "id-7", DNI: "12345678A", Email: "old@example.com",
		FirstName: "Ana", LastName: "Lopez",
	}}

	// Edited fields must reach the attach call, not the stored ones.
	inv := domain.AuthorInvitation{
		DNI: "12345678A", Email: "new@example.com",
		FirstName: "Ana", LastName: "Lopez",
	}
	outcomes := f.app.AddAuthors(context.Background(), "token", "author-1", "ch-1", []domain.AuthorInvitation{inv})
	if len(outcomes) != 1 || outcomes[0].Status != OutcomeAttached {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if outcomes[0].CollaboratorID != "id-7" {
		t.Fatalf("collaboratorID = %q", outcomes[0].CollaboratorID)
	}
	if len(f.attachRequests) != 1 || f.attachRequests[0]["email"] != "new@example.com" {
		t.Fatalf("edited email did not reach attach: %+v", f.attachRequests)
	}
}

func TestAddAuthorsProvisionsWhenNotFound(t *testing.T) {
	f := newFixture(t)
	inv := domain.AuthorInvitation{
		DNI: "99999999Z", Email: "new@example.com",
		FirstName: "Luis", LastName: "Marin",
	}
	outcomes := f.app.AddAuthors(context.Background(), "token", "author-1", "ch-1", []domain.AuthorInvitation{inv})
	if len(outcomes) != 1 || outcomes[0].Status != OutcomeAttached {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if outcomes[0].CollaboratorID != "id-new" {
		t.Fatalf("expected provisioned identity, got %+v", outcomes[0])
	}
}

func TestAddAuthorsConflictIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.createStatus = http.StatusConflict

	inv := domain.AuthorInvitation{DNI: "99999999Z", Email: "x@example.com"}
	outcomes := f.app.AddAuthors(context.Background(), "token", "author-1", "ch-1", []domain.AuthorInvitation{inv})
	if len(outcomes) != 1 || outcomes[0].Status != OutcomeFailed {
		t.Fatalf("conflict should fail without retry: %+v", outcomes)
	}
	pending, err := f.outbox.ListPendingByChapter("ch-1")
	if err != nil || len(pending) != 0 {
		t.Fatalf("conflict must not enqueue a retry: %v %+v", err, pending)
	}
}

func TestAddAuthorsDefersOnAttachFailure(t *testing.T) {
	f := newFixture(t)
	f.identities = []domain.Identity{{ID: "id-7", DNI: "12345678A"}}
	f.attachStatus = http.StatusInternalServerError

	inv := domain.AuthorInvitation{DNI: "12345678A", Email: "a@example.com"}
	outcomes := f.app.AddAuthors(context.Background(), "token", "author-1", "ch-1", []domain.AuthorInvitation{inv})
	if len(outcomes) != 1 || outcomes[0].Status != OutcomePending {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	pending, err := f.outbox.ListPendingByChapter("ch-1")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending record: %v %+v", err, pending)
	}
	if pending[0].ID != outcomes[0].PendingID || pending[0].Status != domain.AttachmentPending {
		t.Fatalf("unexpected pending record: %+v", pending[0])
	}
	if pending[0].Invitation.DNI != "12345678A" {
		t.Fatalf("invitation payload lost: %+v", pending[0].Invitation)
	}
}

func TestSearchAuthorFindsByDNI(t *testing.T) {
	f := newFixture(t)
	f.identities = []domain.Identity{{ID: "id-7", DNI: "12345678A", FirstName: "Ana"}}

	result, err := f.app.SearchAuthor("token", "author-1", "12345678A")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Phase != PhaseFound || result.Match == nil || result.Match.ID != "id-7" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Fields.FirstName != "Ana" {
		t.Fatalf("fields not pre-filled: %+v", result.Fields)
	}

	result, err = f.app.SearchAuthor("token", "author-1", "00000000B")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Phase != PhaseNotFound || result.Match != nil {
		t.Fatalf("expected not found, got %+v", result)
	}
}
