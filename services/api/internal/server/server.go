// Package server exposes the Read Master HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"readmaster/internal/ratelimit"
	"readmaster/internal/usertoken"
	"readmaster/internal/util"
	"readmaster/pkg/domain"
	"readmaster/services/api/internal/app"
)

// TokenVerifier validates a bearer token and returns the identity it
// asserts. *usertoken.Verifier satisfies it.
type TokenVerifier interface {
	VerifyIdentity(token string) (usertoken.Identity, error)
}

// Config wires the server's dependencies.
type Config struct {
	App                        *app.App
	TokenVerifier              TokenVerifier
	RedisAddr                  string
	RedisPassword              string
	MaxUploadBytes             int64
	AllowedExtensions          []string
	AllowedOrigins             []string
	TrustedProxyCIDRs          []string
	GenerateRateLimitPerMinute int
	ImportRateLimitPerMinute   int
	UploadRateLimitPerMinute   int
}

// Server exposes the HTTP endpoints of the api service.
type Server struct {
	app               *app.App
	tokenVerifier     TokenVerifier
	mux               *http.ServeMux
	trusted           *util.TrustedProxies
	allowedOrigins    []string
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	generateLimiter   *ratelimit.Limiter
	importLimiter     *ratelimit.Limiter
	uploadLimiter     *ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: token verifier is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 5
	}
	importLimit := cfg.ImportRateLimitPerMinute
	if importLimit <= 0 {
		importLimit = 10
	}
	uploadLimit := cfg.UploadRateLimitPerMinute
	if uploadLimit <= 0 {
		uploadLimit = 10
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.Limiter, error) {
		prefix := "readmaster:api:ratelimit:" + name
		limiter, err := ratelimit.NewFixedWindow(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	generateLimiter, err := newLimiter("generate", generateLimit)
	if err != nil {
		return nil, err
	}
	importLimiter, err := newLimiter("import", importLimit)
	if err != nil {
		return nil, err
	}
	uploadLimiter, err := newLimiter("upload", uploadLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:               cfg.App,
		tokenVerifier:     cfg.TokenVerifier,
		mux:               http.NewServeMux(),
		trusted:           trusted,
		allowedOrigins:    cfg.AllowedOrigins,
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		generateLimiter:   generateLimiter,
		importLimiter:     importLimiter,
		uploadLimiter:     uploadLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the mux wrapped with the shared middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", s.trusted, util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// profile
	s.mux.Handle("/api/me", s.withUser(s.handleMe))
	s.mux.Handle("/api/me/stats", s.withUser(s.handleStats))
	s.mux.Handle("/api/me/similar-readers", s.withUser(s.handleSimilarReaders))

	// library
	s.mux.Handle("/api/books", s.withUser(s.handleBooks))
	s.mux.Handle("/api/books/import", s.withUser(s.handleImportBook))
	s.mux.Handle("/api/books/", s.withUser(s.handleBookByID))

	// study
	s.mux.Handle("/api/flashcards", s.withUser(s.handleFlashcards))
	s.mux.Handle("/api/flashcards/due", s.withUser(s.handleDueFlashcards))
	s.mux.Handle("/api/flashcards/generate", s.withUser(s.handleGenerateFlashcards))
	s.mux.Handle("/api/flashcards/", s.withUser(s.handleFlashcardByID))
	s.mux.Handle("/api/explanations", s.withUser(s.handleExplain))

	// social
	s.mux.Handle("/api/leaderboard", s.withUser(s.handleLeaderboard))
	s.mux.Handle("/api/challenges", s.withUser(s.handleChallenges))
	s.mux.Handle("/api/challenges/", s.withUser(s.handleChallengeByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.VerifyIdentity(token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.EnsureUser(identity.Subject, identity.Email, identity.Name)
		if err != nil {
			slog.Error("ensure user failed", "error", err, "subject", identity.Subject)
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, user)
	})
}

// profile

type profileRequest struct {
	DisplayName   *string `json:"displayName"`
	PublicProfile *bool   `json:"publicProfile"`
	DigestOptIn   *bool   `json:"digestOptIn"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req profileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateProfile(r.Context(), user, app.ProfilePatch{
			DisplayName:   req.DisplayName,
			PublicProfile: req.PublicProfile,
			DigestOptIn:   req.DigestOptIn,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if req.PublicProfile != nil {
			s.audit(r, "api.profile.visibility", "success", "user_id", user.ID, "public", *req.PublicProfile)
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	stats, err := s.app.Stats(user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSimilarReaders(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	readers, err := s.app.SimilarReaders(user, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": readers,
		"count": len(readers),
	})
}

// library

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": books,
			"count": len(books),
		})
	case http.MethodPost:
		s.handleUploadBook(w, r, user)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.uploadLimiter, user.ID, "too many uploads") {
		s.audit(r, "api.book.upload", "rate_limited", "user_id", user.ID)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, r, http.StatusBadRequest, "unsupported file type")
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	author := strings.TrimSpace(r.FormValue("author"))
	book, err := s.app.UploadBook(r.Context(), user, header.Filename, title, author, file, header.Size)
	if err != nil {
		s.audit(r, "api.book.upload", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.book.upload", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusCreated, book)
}

type importRequest struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (s *Server) handleImportBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.importLimiter, user.ID, "too many imports") {
		s.audit(r, "api.book.import", "rate_limited", "user_id", user.ID)
		return
	}
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.ImportBookFromURL(r.Context(), user, req.URL, req.Title, req.Author)
	if err != nil {
		s.audit(r, "api.book.import", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.book.import", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusAccepted, book)
}

// /api/books/{id}, /api/books/{id}/progress or /api/books/{id}/guide
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "progress":
			if r.Method != http.MethodPut {
				methodNotAllowed(w, r)
				return
			}
			s.handleProgress(w, r, user, id)
		case "guide":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r)
				return
			}
			s.handleGuide(w, r, user, id)
		default:
			writeError(w, r, http.StatusNotFound, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		var req bookPatchRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.UpdateBook(user, id, app.BookPatch{
			Title:  req.Title,
			Author: req.Author,
			Genres: req.Genres,
			Tags:   req.Tags,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "api.book.delete", "success", "user_id", user.ID, "book_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, r)
	}
}

type bookPatchRequest struct {
	Title  *string   `json:"title"`
	Author *string   `json:"author"`
	Genres *[]string `json:"genres"`
	Tags   *[]string `json:"tags"`
}

type progressRequest struct {
	Percent     float64 `json:"percent"`
	CurrentPage int     `json:"currentPage"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	var req progressRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.UpdateProgress(r.Context(), user, bookID, req.Percent, req.CurrentPage)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request, user domain.User, bookID string) {
	if !s.allowRate(w, r, s.generateLimiter, user.ID, "too many generation requests") {
		s.audit(r, "api.guide", "rate_limited", "user_id", user.ID)
		return
	}
	guide, err := s.app.PreReadingGuide(r.Context(), user, bookID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"guide": guide})
}

// study

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	cards, err := s.app.ListFlashcards(user, strings.TrimSpace(r.URL.Query().Get("bookId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": cards,
		"count": len(cards),
	})
}

func (s *Server) handleDueFlashcards(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cards, err := s.app.DueFlashcards(user, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": cards,
		"count": len(cards),
	})
}

type generateRequest struct {
	BookID  string `json:"bookId"`
	Chapter string `json:"chapter"`
	Count   int    `json:"count"`
}

func (s *Server) handleGenerateFlashcards(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, user.ID, "too many generation requests") {
		s.audit(r, "api.generate", "rate_limited", "user_id", user.ID)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.GenerateFlashcards(r.Context(), user, req.BookID, req.Chapter, req.Count)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// /api/flashcards/{id} or /api/flashcards/{id}/review
func (s *Server) handleFlashcardByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/flashcards/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 2 && parts[1] == "review" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		s.handleReview(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.app.DeleteFlashcard(user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, r)
	}
}

type reviewRequest struct {
	Quality *int `json:"quality"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, user domain.User, cardID string) {
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Quality == nil {
		writeError(w, r, http.StatusBadRequest, "quality is required")
		return
	}
	result, err := s.app.ReviewFlashcard(r.Context(), user, cardID, *req.Quality)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type explainRequest struct {
	Passage  string `json:"passage"`
	Question string `json:"question"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, user.ID, "too many generation requests") {
		s.audit(r, "api.explain", "rate_limited", "user_id", user.ID)
		return
	}
	var req explainRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	explanation, err := s.app.Explain(r.Context(), user, req.Passage, req.Question)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": explanation})
}

// social

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.app.Leaderboard(r.Context(), user, strings.TrimSpace(r.URL.Query().Get("period")), int64(limit))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	challenges, err := s.app.ListChallenges(user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": challenges,
		"count": len(challenges),
	})
}

// /api/challenges/{id}/join or /api/challenges/{id}/progress
func (s *Server) handleChallengeByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/challenges/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" || len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch parts[1] {
	case "join":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		entry, err := s.app.JoinChallenge(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "api.challenge.join", "success", "user_id", user.ID, "challenge_id", id)
		writeJSON(w, http.StatusOK, entry)
	case "progress":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		progress, err := s.app.GetChallengeProgress(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

// helpers

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter, userID, msg string) bool {
	if limiter.Allow("user:" + userID) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, r, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeFieldError(w, r, status, msg, nil)
}

func writeFieldError(w http.ResponseWriter, r *http.Request, status int, msg string, fields map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &errorBody{
		Code:      errorCodeForAPI(status, msg),
		Message:   msg,
		Fields:    fields,
		RequestID: util.RequestIDFromRequest(r),
	}})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound),
		errors.Is(err, app.ErrCardNotFound),
		errors.Is(err, app.ErrChallengeNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrBookNotReady):
		writeError(w, r, http.StatusConflict, "book not ready")
	case errors.Is(err, app.ErrChallengeClosed):
		writeError(w, r, http.StatusConflict, "challenge closed")
	case errors.Is(err, app.ErrNotJoined):
		writeError(w, r, http.StatusConflict, "challenge not joined")
	case errors.Is(err, app.ErrGenerationFailed):
		writeError(w, r, http.StatusBadGateway, "generation failed, try again later")
	default:
		writeError(w, r, http.StatusBadRequest, err.Error())
	}
}

func errorCodeForAPI(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "FORBIDDEN"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "book not ready":
		return "BOOK_NOT_READY"
	case message == "flashcard not found":
		return "CARD_NOT_FOUND"
	case message == "challenge not found":
		return "CHALLENGE_NOT_FOUND"
	case message == "challenge closed":
		return "CHALLENGE_CLOSED"
	case message == "challenge not joined":
		return "CHALLENGE_NOT_JOINED"
	case strings.Contains(message, "generation failed"):
		return "GENERATION_FAILED"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "BOOK_FILE_REQUIRED"
	case strings.Contains(message, "unsupported file type"):
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".pdf", ".epub", ".txt"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
