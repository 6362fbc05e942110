// Package app coordinates the portal's submission flows: eligibility
// checks against the edition service, wizard session lifecycle, chapter
// commit, and co-author resolution with deferred attachment retries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chapterhub/pkg/domain"
	"chapterhub/pkg/edition"
	"chapterhub/pkg/queue"
	"chapterhub/pkg/store"
	"chapterhub/pkg/wizard"
	"chapterhub/services/portal/internal/chapterclient"
	"chapterhub/services/portal/internal/editionclient"
	"chapterhub/services/portal/internal/identityclient"
	"chapterhub/services/portal/internal/session"
)

// Config wires an App. Editions, Identities, Chapters, and Sessions are
// required; Queue is optional and disables background retries when nil.
type Config struct {
	Editions   *editionclient.Client
	Identities *identityclient.Client
	Chapters   *chapterclient.Client
	Sessions   session.Store
	Outbox     store.Store
	Queue      *queue.RedisJobQueue
	Rules      *wizard.Ruleset

	// InternalToken authenticates the retry worker's calls to the
	// identity service. Author-initiated calls use the author's token.
	InternalToken string
	MaxRetries    int

	Logger *slog.Logger
	Now    func() time.Time
}

// App holds the portal's application state and collaborator clients.
type App struct {
	editions   *editionclient.Client
	identities *identityclient.Client
	chapters   *chapterclient.Client
	sessions   session.Store
	outbox     store.Store
	queue      *queue.RedisJobQueue
	rules      *wizard.Ruleset
	gate       *QuotaGate

	internalToken string
	maxRetries    int

	logger *slog.Logger
	now    func() time.Time

	flowsMu sync.Mutex
	flows   map[string]*AuthorFlow
}

// New validates the config and builds an App.
func New(cfg Config) (*App, error) {
	if cfg.Editions == nil || cfg.Identities == nil || cfg.Chapters == nil {
		return nil, errors.New("edition, identity, and chapter clients are required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Outbox == nil {
		return nil, errors.New("attachment outbox store is required")
	}
	rules := cfg.Rules
	if rules == nil {
		rules = wizard.DefaultRuleset()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		editions:      cfg.Editions,
		identities:    cfg.Identities,
		chapters:      cfg.Chapters,
		sessions:      cfg.Sessions,
		outbox:        cfg.Outbox,
		queue:         cfg.Queue,
		rules:         rules,
		gate:          NewQuotaGate(cfg.Editions),
		internalToken: cfg.InternalToken,
		maxRetries:    maxRetries,
		logger:        logger,
		now:           now,
		flows:         make(map[string]*AuthorFlow),
	}, nil
}

// Rules exposes the section configuration for handlers that render it.
func (a *App) Rules() *wizard.Ruleset {
	return a.rules
}

// Eligibility is the portal's admission answer for one author and edition.
type Eligibility struct {
	Eligible bool                `json:"eligible"`
	State    domain.EditionState `json:"editionState"`
	Credits  int                 `json:"credits"`
	Reason   string              `json:"reason,omitempty"`
}

const (
	reasonCredentialMissing = "credential_missing"
	reasonEditionNotOpen    = "edition_not_open"
	reasonQuotaExhausted    = "quota_exhausted"
)

// CheckEligibility answers whether the author may start or commit a
// submission right now. It reads the edition and the credit balance fresh
// on every call and fails closed: a missing credential, a non-open edition,
// or a zero balance all refuse. A remote failure is returned as an error so
// the caller can retry instead of treating it as a refusal.
func (a *App) CheckEligibility(ctx context.Context, token, authorID, editionID string) (Eligibility, error) {
	if strings.TrimSpace(token) == "" {
		return Eligibility{State: domain.StateUnknown, Reason: reasonCredentialMissing}, nil
	}

	var ed domain.Edition
	var credits int
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ed, err = a.editions.GetEdition(token, editionID)
		if err != nil {
			return a.mapEditionErr("get edition", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		credits, err = a.gate.AvailableCredits(token, authorID, editionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Eligibility{}, err
	}

	state := edition.Classify(ed, a.now())
	out := Eligibility{State: state, Credits: credits}
	if state != domain.StateOpen {
		out.Reason = reasonEditionNotOpen
		return out, nil
	}
	if credits <= 0 {
		out.Reason = reasonQuotaExhausted
		return out, nil
	}
	out.Eligible = true
	return out, nil
}

// GetEdition returns an edition together with its derived state.
func (a *App) GetEdition(token, editionID string) (domain.Edition, domain.EditionState, error) {
	ed, err := a.editions.GetEdition(token, editionID)
	if err != nil {
		return domain.Edition{}, domain.StateUnknown, a.mapEditionErr("get edition", err)
	}
	return ed, edition.Classify(ed, a.now()), nil
}

// StartSession checks eligibility and creates an empty wizard session at
// the first section.
func (a *App) StartSession(ctx context.Context, token, authorID, editionID, bookID string) (session.State, error) {
	elig, err := a.CheckEligibility(ctx, token, authorID, editionID)
	if err != nil {
		return session.State{}, err
	}
	if !elig.Eligible {
		if elig.Reason == reasonQuotaExhausted {
			return session.State{}, ErrQuotaExhausted
		}
		return session.State{}, fmt.Errorf("%w: %s", ErrNotEligible, elig.Reason)
	}

	wiz := wizard.New(a.rules)
	state := session.State{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		EditionID: editionID,
		BookID:    bookID,
		Cursor:    wiz.Cursor(),
		Draft:     wiz.Draft(),
	}
	if err := a.sessions.Save(state); err != nil {
		return session.State{}, fmt.Errorf("save session: %w", err)
	}
	a.logger.Info("wizard session started",
		"sessionId", state.ID, "authorId", authorID, "editionId", editionID)
	return state, nil
}

// SectionView pairs a section's configuration with its live validation
// result so the portal can render word counts during navigation.
type SectionView struct {
	Key      domain.SectionKey `json:"key"`
	Label    string            `json:"label"`
	Prompt   string            `json:"prompt"`
	MinWords int               `json:"minWords"`
	MaxWords int               `json:"maxWords"`
	Result   wizard.Result     `json:"result"`
}

// SessionView is the full wizard state a handler returns to the client.
type SessionView struct {
	ID             string              `json:"id"`
	EditionID      string              `json:"editionId"`
	BookID         string              `json:"bookId"`
	Cursor         int                 `json:"cursor"`
	AtPreview      bool                `json:"atPreview"`
	CurrentSection domain.SectionKey   `json:"currentSection,omitempty"`
	Draft          domain.ChapterDraft `json:"draft"`
	Sections       []SectionView       `json:"sections"`
}

// GetSession returns the wizard view for an owned session.
func (a *App) GetSession(sessionID, authorID string) (SessionView, error) {
	state, err := a.loadOwned(sessionID, authorID)
	if err != nil {
		return SessionView{}, err
	}
	return a.view(state), nil
}

// SetDetails records the chapter title and study type.
func (a *App) SetDetails(sessionID, authorID, title, studyType string) (SessionView, error) {
	return a.update(sessionID, authorID, func(w *wizard.Wizard) error {
		w.SetTitle(title)
		w.SetStudyType(studyType)
		return nil
	})
}

// SaveSection stores draft text for one section. Saving never validates;
// word counts are reported in the returned view but do not block.
func (a *App) SaveSection(sessionID, authorID string, key domain.SectionKey, text string) (SessionView, error) {
	return a.update(sessionID, authorID, func(w *wizard.Wizard) error {
		return w.SetSection(key, text)
	})
}

// SetConfidentiality records the confidentiality acceptance flag.
func (a *App) SetConfidentiality(sessionID, authorID string, accepted bool) (SessionView, error) {
	return a.update(sessionID, authorID, func(w *wizard.Wizard) error {
		w.SetConfidentiality(accepted)
		return nil
	})
}

// Navigation actions accepted by Navigate.
const (
	NavNext     = "next"
	NavPrevious = "previous"
	NavJump     = "jump"
)

// Navigate moves the wizard cursor. Next and previous are clamped at the
// ends; jump errors when the step is outside the valid range.
func (a *App) Navigate(sessionID, authorID, action string, step int) (SessionView, error) {
	return a.update(sessionID, authorID, func(w *wizard.Wizard) error {
		switch action {
		case NavNext:
			w.Next()
		case NavPrevious:
			w.Previous()
		case NavJump:
			return w.JumpTo(step)
		default:
			return fmt.Errorf("unknown navigation action %q", action)
		}
		return nil
	})
}

// Abandon deletes a session without submitting anything.
func (a *App) Abandon(sessionID, authorID string) error {
	if _, err := a.loadOwned(sessionID, authorID); err != nil {
		return err
	}
	if err := a.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	a.logger.Info("wizard session abandoned", "sessionId", sessionID, "authorId", authorID)
	return nil
}

// Commit submits the draft as a chapter. It re-validates every section and
// the confidentiality flag, re-reads eligibility, and only then calls the
// chapter service. The session survives every failure so the author can fix
// and retry; it is deleted only after the chapter exists.
func (a *App) Commit(ctx context.Context, token, sessionID, authorID string) (string, error) {
	state, err := a.loadOwned(sessionID, authorID)
	if err != nil {
		return "", err
	}
	wiz := wizard.Load(a.rules, state.Draft, state.Cursor)

	draft, violations, err := wiz.Commit()
	if err != nil {
		return "", err
	}
	if len(violations) > 0 {
		return "", &ValidationError{Violations: violations}
	}

	elig, err := a.CheckEligibility(ctx, token, authorID, state.EditionID)
	if err != nil {
		return "", err
	}
	if !elig.Eligible {
		if elig.Reason == reasonQuotaExhausted {
			return "", ErrQuotaExhausted
		}
		return "", fmt.Errorf("%w: %s", ErrNotEligible, elig.Reason)
	}

	chapterID, err := a.chapters.CreateChapter(token, draft, authorID, state.BookID)
	if err != nil {
		return "", a.mapChapterErr(err)
	}

	if err := a.sessions.Delete(sessionID); err != nil {
		// The chapter exists; the leftover session will expire on its own.
		a.logger.Warn("delete session after commit", "sessionId", sessionID, "error", err)
	}
	a.logger.Info("chapter submitted",
		"chapterId", chapterID, "authorId", authorID, "editionId", state.EditionID)
	return chapterID, nil
}

// SearchResult is the outcome of a co-author lookup.
type SearchResult struct {
	Phase  FlowPhase               `json:"phase"`
	Match  *domain.Identity        `json:"match,omitempty"`
	Fields domain.AuthorInvitation `json:"fields"`
}

// SearchAuthor looks a collaborator up by DNI, keyed to the searching
// author's flow. A result arriving after a newer search began is discarded.
func (a *App) SearchAuthor(token, authorID, dni string) (SearchResult, error) {
	flow := a.flow(authorID)
	gen := flow.BeginSearch()

	matches, err := a.identities.Search(token, dni)
	if err != nil {
		flow.FailSearch(gen)
		return SearchResult{}, fmt.Errorf("%w: search identities: %v", ErrRemoteUnavailable, err)
	}
	match := pickByDNI(matches, dni)
	flow.CompleteSearch(gen, match)

	phase, got, fields := flow.Snapshot()
	return SearchResult{Phase: phase, Match: got, Fields: fields}, nil
}

// AttachmentOutcome reports what happened to one co-author invitation.
type AttachmentOutcome struct {
	Invitation     domain.AuthorInvitation `json:"invitation"`
	Status         string                  `json:"status"`
	CollaboratorID string                  `json:"collaboratorId,omitempty"`
	PendingID      string                  `json:"pendingId,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

const (
	OutcomeAttached = "attached"
	OutcomePending  = "pending"
	OutcomeFailed   = "failed"
)

// AddAuthors resolves and attaches co-authors to an existing chapter, in
// order so author positions are preserved. The chapter is never touched on
// failure; an invitation that cannot be attached now becomes a pending
// record and is retried in the background.
func (a *App) AddAuthors(ctx context.Context, token, authorID, chapterID string, invitations []domain.AuthorInvitation) []AttachmentOutcome {
	flow := a.flow(authorID)
	out := make([]AttachmentOutcome, 0, len(invitations))
	for _, inv := range invitations {
		flow.BeginAttach()
		outcome := a.attachOne(ctx, token, chapterID, inv)
		flow.CompleteAttach(outcome.Status == OutcomeAttached)
		out = append(out, outcome)
	}
	return out
}

// PendingAttachments lists the deferred co-author work for a chapter.
func (a *App) PendingAttachments(chapterID string) ([]domain.PendingAttachment, error) {
	return a.outbox.ListPendingByChapter(chapterID)
}

func (a *App) attachOne(ctx context.Context, token, chapterID string, inv domain.AuthorInvitation) AttachmentOutcome {
	identity, err := a.resolve(token, inv)
	if err == nil {
		if attachErr := a.identities.Attach(token, chapterID, identity.ID, inv); attachErr == nil {
			a.logger.Info("co-author attached",
				"chapterId", chapterID, "collaboratorId", identity.ID)
			return AttachmentOutcome{Invitation: inv, Status: OutcomeAttached, CollaboratorID: identity.ID}
		} else {
			err = attachErr
		}
	}
	if errors.Is(err, ErrIdentityConflict) {
		return AttachmentOutcome{Invitation: inv, Status: OutcomeFailed, Error: "could not add co-author"}
	}
	rec := a.deferAttachment(ctx, chapterID, inv, err)
	return AttachmentOutcome{Invitation: inv, Status: OutcomePending, PendingID: rec.ID}
}

// resolve finds an identity by DNI, provisioning one only when the search
// comes back empty. A conflict on provision means the search should have
// found the account; that is a defect worth logging, not retrying inline.
func (a *App) resolve(token string, inv domain.AuthorInvitation) (domain.Identity, error) {
	matches, err := a.identities.Search(token, inv.DNI)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: search identities: %v", ErrRemoteUnavailable, err)
	}
	if match := pickByDNI(matches, inv.DNI); match != nil {
		return *match, nil
	}

	created, err := a.identities.Create(token, inv)
	if err != nil {
		var apiErr *identityclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			a.logger.Error("identity conflict on provision, search missed an existing account",
				"dni", maskDNI(inv.DNI))
			return domain.Identity{}, ErrIdentityConflict
		}
		return domain.Identity{}, fmt.Errorf("%w: create identity: %v", ErrRemoteUnavailable, err)
	}
	return created, nil
}

// deferAttachment records failed attach work in the outbox and hands it to
// the retry queue. The chapter stays as created.
func (a *App) deferAttachment(ctx context.Context, chapterID string, inv domain.AuthorInvitation, cause error) domain.PendingAttachment {
	now := a.now().UTC()
	rec := domain.PendingAttachment{
		ID:         uuid.NewString(),
		ChapterID:  chapterID,
		Invitation: inv,
		Status:     domain.AttachmentPending,
		Attempts:   1,
		LastError:  cause.Error(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.outbox.SavePendingAttachment(rec); err != nil {
		a.logger.Error("save pending attachment", "chapterId", chapterID, "error", err)
		return rec
	}
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, rec.ID); err != nil {
			a.logger.Error("enqueue attachment retry", "attachmentId", rec.ID, "error", err)
		}
	}
	a.logger.Warn("co-author attach deferred",
		"chapterId", chapterID, "attachmentId", rec.ID, "cause", cause.Error())
	return rec
}

func (a *App) loadOwned(sessionID, authorID string) (session.State, error) {
	state, ok, err := a.sessions.Get(sessionID)
	if err != nil {
		return session.State{}, fmt.Errorf("get session: %w", err)
	}
	// A foreign session reads as missing so IDs cannot be probed.
	if !ok || state.AuthorID != authorID {
		return session.State{}, ErrSessionNotFound
	}
	return state, nil
}

func (a *App) update(sessionID, authorID string, mutate func(*wizard.Wizard) error) (SessionView, error) {
	state, err := a.loadOwned(sessionID, authorID)
	if err != nil {
		return SessionView{}, err
	}
	wiz := wizard.Load(a.rules, state.Draft, state.Cursor)
	if err := mutate(wiz); err != nil {
		return SessionView{}, err
	}
	state.Draft = wiz.Draft()
	state.Cursor = wiz.Cursor()
	if err := a.sessions.Save(state); err != nil {
		return SessionView{}, fmt.Errorf("save session: %w", err)
	}
	return a.view(state), nil
}

func (a *App) view(state session.State) SessionView {
	wiz := wizard.Load(a.rules, state.Draft, state.Cursor)
	snapshot := wiz.Snapshot()

	sections := make([]SectionView, 0, a.rules.Len())
	for _, key := range a.rules.Order() {
		sec, _ := a.rules.Spec(key)
		sections = append(sections, SectionView{
			Key:      key,
			Label:    sec.Label,
			Prompt:   sec.Prompt,
			MinWords: sec.Rule.MinWords,
			MaxWords: sec.Rule.MaxWords,
			Result:   snapshot[key],
		})
	}

	view := SessionView{
		ID:        state.ID,
		EditionID: state.EditionID,
		BookID:    state.BookID,
		Cursor:    wiz.Cursor(),
		AtPreview: wiz.AtPreview(),
		Draft:     wiz.Draft(),
		Sections:  sections,
	}
	if key, ok := wiz.CurrentSection(); ok {
		view.CurrentSection = key
	}
	return view
}

func (a *App) flow(key string) *AuthorFlow {
	a.flowsMu.Lock()
	defer a.flowsMu.Unlock()
	flow, ok := a.flows[key]
	if !ok {
		flow = NewAuthorFlow()
		a.flows[key] = flow
	}
	return flow
}

func (a *App) mapEditionErr(op string, err error) error {
	var apiErr *editionclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusNotFound {
			return fmt.Errorf("%w: %s: %v", ErrConfigurationMissing, op, err)
		}
		if apiErr.Status < http.StatusInternalServerError {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, err)
}

func (a *App) mapChapterErr(err error) error {
	var apiErr *chapterclient.APIError
	if errors.As(err, &apiErr) {
		// A concurrent session may have consumed the last credit between
		// the eligibility read and this write.
		if apiErr.Code == "quota_exhausted" || apiErr.Status == http.StatusPaymentRequired {
			return ErrQuotaExhausted
		}
		if apiErr.Status < http.StatusInternalServerError {
			return fmt.Errorf("create chapter: %w", err)
		}
	}
	return fmt.Errorf("%w: create chapter: %v", ErrRemoteUnavailable, err)
}

func pickByDNI(matches []domain.Identity, dni string) *domain.Identity {
	for i := range matches {
		if strings.EqualFold(strings.TrimSpace(matches[i].DNI), strings.TrimSpace(dni)) {
			return &matches[i]
		}
	}
	return nil
}

// maskDNI keeps only the last two characters for logs.
func maskDNI(dni string) string {
	if len(dni) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(dni)-2) + dni[len(dni)-2:]
}
