// Package server exposes the portal's HTTP surface: edition views,
// eligibility, wizard sessions, chapter commit, and co-author management.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chapterhub/internal/ratelimit"
	"chapterhub/internal/usertoken"
	"chapterhub/internal/util"
	"chapterhub/pkg/domain"
	"chapterhub/pkg/wizard"
	"chapterhub/services/portal/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier

	RedisAddr                string
	RedisPassword            string
	TrustedProxyCIDRs        []string
	SearchRateLimitPerMinute int
	CommitRateLimitPerMinute int
}

// Server exposes HTTP endpoints for the submission portal.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	mux            *http.ServeMux
	trustedProxies *util.TrustedProxies
	searchLimiter  *ratelimit.FixedWindowLimiter
	commitLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	searchLimit := cfg.SearchRateLimitPerMinute
	if searchLimit <= 0 {
		searchLimit = 30
	}
	commitLimit := cfg.CommitRateLimitPerMinute
	if commitLimit <= 0 {
		commitLimit = 10
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "chapterhub:portal:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	searchLimiter, err := newLimiter("search", searchLimit)
	if err != nil {
		return nil, err
	}
	commitLimiter, err := newLimiter("commit", commitLimit)
	if err != nil {
		return nil, err
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
		trustedProxies: trustedProxies,
		searchLimiter:  searchLimiter,
		commitLimiter:  commitLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("portal", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// editions (auth required)
	s.mux.Handle("/api/editions/", s.authenticated(s.handleEditionByID))

	// wizard sessions
	s.mux.Handle("/api/wizard/sessions", s.authenticated(s.handleSessions))
	s.mux.Handle("/api/wizard/sessions/", s.authenticated(s.handleSessionByID))

	// co-authors
	s.mux.Handle("/api/authors/search", s.authenticated(s.handleAuthorSearch))
	s.mux.Handle("/api/chapters/", s.authenticated(s.handleChapterAuthors))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorID, ok := s.authorize(r)
		if !ok {
			s.audit(r, "portal.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, authorID)
	})
}

func (s *Server) authorize(r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "portal.token.verify", "fail", "reason", "missing_token")
		return "", false
	}
	if s.tokenVerifier == nil {
		s.audit(r, "portal.token.verify", "fail", "reason", "verifier_not_configured")
		return "", false
	}
	subject, err := s.tokenVerifier.VerifySubject(token)
	if err != nil || subject == "" {
		s.audit(r, "portal.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return "", false
	}
	return subject, true
}

// /api/editions/{id} and /api/editions/{id}/eligibility
func (s *Server) handleEditionByID(w http.ResponseWriter, r *http.Request, authorID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	path := strings.TrimPrefix(r.URL.Path, "/api/editions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 && parts[1] == "eligibility" {
		elig, err := s.app.CheckEligibility(r.Context(), token, authorID, id)
		if err != nil {
			s.audit(r, "portal.eligibility", "fail", "edition_id", id, "reason", err.Error())
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, elig)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}

	ed, state, err := s.app.GetEdition(token, id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editionResponse{Edition: ed, State: state})
}

// /api/wizard/sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, authorID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	var req startSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EditionID == "" || req.BookID == "" {
		writeError(w, http.StatusBadRequest, "editionId and bookId are required")
		return
	}
	state, err := s.app.StartSession(r.Context(), token, authorID, req.EditionID, req.BookID)
	if err != nil {
		s.audit(r, "portal.session.start", "fail", "edition_id", req.EditionID, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "portal.session.start", "success", "session_id", state.ID, "edition_id", req.EditionID)
	view, err := s.app.GetSession(state.ID, authorID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// /api/wizard/sessions/{id}[/...]
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, authorID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/wizard/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch {
	case rest == "":
		s.handleSessionRoot(w, r, authorID, id)
	case rest == "details":
		s.handleSessionDetails(w, r, authorID, id)
	case strings.HasPrefix(rest, "sections/"):
		s.handleSessionSection(w, r, authorID, id, strings.TrimPrefix(rest, "sections/"))
	case rest == "navigate":
		s.handleSessionNavigate(w, r, authorID, id)
	case rest == "confidentiality":
		s.handleSessionConfidentiality(w, r, authorID, id)
	case rest == "commit":
		s.handleSessionCommit(w, r, authorID, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionRoot(w http.ResponseWriter, r *http.Request, authorID, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetSession(id, authorID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := s.app.Abandon(id, authorID); err != nil {
			s.writeAppError(w, err)
			return
		}
		s.audit(r, "portal.session.abandon", "success", "session_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request, authorID, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req detailsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.SetDetails(id, authorID, req.Title, req.StudyType)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionSection(w http.ResponseWriter, r *http.Request, authorID, id, key string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if key == "" || strings.Contains(key, "/") {
		http.NotFound(w, r)
		return
	}
	var req sectionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.SaveSection(id, authorID, domain.SectionKey(key), req.Text)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionNavigate(w http.ResponseWriter, r *http.Request, authorID, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.Navigate(id, authorID, req.Action, req.Step)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionConfidentiality(w http.ResponseWriter, r *http.Request, authorID, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req confidentialityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.SetConfidentiality(id, authorID, req.Accepted)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionCommit(w http.ResponseWriter, r *http.Request, authorID, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.commitLimiter, "too many commit attempts") {
		s.audit(r, "portal.session.commit", "rate_limited", "session_id", id)
		return
	}
	token, _ := bearerToken(r)
	chapterID, err := s.app.Commit(r.Context(), token, id, authorID)
	if err != nil {
		s.audit(r, "portal.session.commit", "fail", "session_id", id, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "portal.session.commit", "success", "session_id", id, "chapter_id", chapterID)
	writeJSON(w, http.StatusCreated, map[string]string{"chapterId": chapterID})
}

// /api/authors/search?dni=
func (s *Server) handleAuthorSearch(w http.ResponseWriter, r *http.Request, authorID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.searchLimiter, "too many search attempts") {
		s.audit(r, "portal.author.search", "rate_limited")
		return
	}
	dni := strings.TrimSpace(r.URL.Query().Get("dni"))
	if dni == "" {
		writeError(w, http.StatusBadRequest, "dni is required")
		return
	}
	token, _ := bearerToken(r)
	result, err := s.app.SearchAuthor(token, authorID, dni)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// /api/chapters/{id}/authors and /api/chapters/{id}/authors/pending
func (s *Server) handleChapterAuthors(w http.ResponseWriter, r *http.Request, authorID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chapters/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" || len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	switch parts[1] {
	case "authors":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req addAuthorsRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Authors) == 0 {
			writeError(w, http.StatusBadRequest, "authors is required")
			return
		}
		for _, inv := range req.Authors {
			if strings.TrimSpace(inv.DNI) == "" {
				writeError(w, http.StatusBadRequest, "every author needs a dni")
				return
			}
		}
		token, _ := bearerToken(r)
		outcomes := s.app.AddAuthors(r.Context(), token, authorID, id, req.Authors)
		s.audit(r, "portal.authors.add", "success", "chapter_id", id, "count", len(outcomes))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": outcomes,
			"count": len(outcomes),
		})
	case "authors/pending":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		pending, err := s.app.PendingAttachments(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": pending,
			"count": len(pending),
		})
	default:
		http.NotFound(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type editionResponse struct {
	Edition domain.Edition      `json:"edition"`
	State   domain.EditionState `json:"state"`
}

type startSessionRequest struct {
	EditionID string `json:"editionId"`
	BookID    string `json:"bookId"`
}

type detailsRequest struct {
	Title     string `json:"title"`
	StudyType string `json:"studyType"`
}

type sectionRequest struct {
	Text string `json:"text"`
}

type navigateRequest struct {
	Action string `json:"action"`
	Step   int    `json:"step"`
}

type confidentialityRequest struct {
	Accepted bool `json:"accepted"`
}

type addAuthorsRequest struct {
	Authors []domain.AuthorInvitation `json:"authors"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors onto HTTP statuses. Validation
// failures carry the full violation list; remote outages advertise a retry.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var valErr *app.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "validation failed",
			"violations": valErr.Violations,
		})
		return
	}
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, app.ErrQuotaExhausted):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "no submission credits available",
			"code":  "quota_exhausted",
		})
	case errors.Is(err, app.ErrNotEligible):
		writeError(w, http.StatusForbidden, "not eligible to submit")
	case errors.Is(err, app.ErrConfigurationMissing):
		writeError(w, http.StatusNotFound, "edition configuration missing")
	case errors.Is(err, wizard.ErrNotAtPreview):
		writeError(w, http.StatusConflict, "commit only allowed from preview")
	case errors.Is(err, wizard.ErrStepOutOfRange), errors.Is(err, wizard.ErrUnknownSection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRemoteUnavailable):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "a collaborating service is unavailable, try again")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
