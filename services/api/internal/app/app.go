package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"readmaster/pkg/ai"
	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
	"readmaster/pkg/queue"
	"readmaster/pkg/srs"
	"readmaster/pkg/storage"
	"readmaster/pkg/store"
)

const (
	xpBookFinished = 50

	maxDisplayNameRunes = 80
)

// ImportQueue enqueues background book import jobs.
type ImportQueue interface {
	Enqueue(ctx context.Context, bookID, kind, sourceURL string) (queue.ImportJob, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore
	RedisAddr      string
	RedisPassword  string
	ImportStream   string
	Imports        ImportQueue
	Board          *leaderboard.Board
	Generator      ai.TextGenerator
}

// App is the core application service wiring storage, the import queue,
// the LLM client and the gamification state together.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	imports ImportQueue
	board   *leaderboard.Board
	gen     ai.TextGenerator
	srs     *srs.Scheduler
}

// New constructs the application. Store, Objects, Imports and Board may be
// injected for tests; otherwise they are built from the connection settings.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	imports := cfg.Imports
	if imports == nil {
		var err error
		imports, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.ImportStream,
			Group:    "imports",
		})
		if err != nil {
			return nil, fmt.Errorf("init import queue: %w", err)
		}
	}
	board := cfg.Board
	if board == nil {
		var err error
		board, err = leaderboard.NewBoard(leaderboard.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return nil, fmt.Errorf("init leaderboard: %w", err)
		}
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}

	return &App{
		store:   dataStore,
		objects: objects,
		imports: imports,
		board:   board,
		gen:     cfg.Generator,
		srs:     srs.NewScheduler(),
	}, nil
}

// EnsureUser creates the local row for an externally authenticated identity
// on first sight and returns the stored profile.
func (a *App) EnsureUser(subject, email, name string) (domain.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.User{}, fmt.Errorf("subject required")
	}
	displayName := strings.TrimSpace(name)
	if displayName == "" {
		displayName = displayNameFromEmail(email)
	}
	now := time.Now().UTC()
	user, err := a.store.EnsureUser(domain.User{
		ID:          subject,
		Email:       strings.TrimSpace(email),
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// ProfilePatch carries optional profile edits; nil fields stay unchanged.
type ProfilePatch struct {
	DisplayName   *string `json:"displayName"`
	PublicProfile *bool   `json:"publicProfile"`
	DigestOptIn   *bool   `json:"digestOptIn"`
}

// UpdateProfile applies a partial profile edit. Toggling the public-profile
// flag adds the user to or removes them from the leaderboards.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, patch ProfilePatch) (domain.User, error) {
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return domain.User{}, fmt.Errorf("displayName required")
		}
		if len([]rune(name)) > maxDisplayNameRunes {
			return domain.User{}, fmt.Errorf("displayName too long (max %d characters)", maxDisplayNameRunes)
		}
		user.DisplayName = name
	}
	visibilityChanged := false
	if patch.PublicProfile != nil && *patch.PublicProfile != user.PublicProfile {
		user.PublicProfile = *patch.PublicProfile
		visibilityChanged = true
	}
	if patch.DigestOptIn != nil {
		user.DigestOptIn = *patch.DigestOptIn
	}
	now := time.Now().UTC()
	user.UpdatedAt = now
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	if visibilityChanged {
		if user.PublicProfile {
			if err := a.enterBoards(ctx, user.ID, now); err != nil {
				return domain.User{}, fmt.Errorf("restore leaderboards: %w", err)
			}
		} else {
			if err := a.board.RemoveUser(ctx, user.ID, now); err != nil {
				return domain.User{}, fmt.Errorf("leave leaderboards: %w", err)
			}
		}
	}
	return user, nil
}

// enterBoards replays a user's persisted totals into the Redis boards when
// their profile turns public.
func (a *App) enterBoards(ctx context.Context, userID string, now time.Time) error {
	stats, ok, err := a.store.GetStats(userID)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	if !ok {
		return nil
	}
	weekXP, err := a.store.SumXPInRange(userID, leaderboard.WeekStart(now), now)
	if err != nil {
		return fmt.Errorf("sum week xp: %w", err)
	}
	if err := a.board.SetXP(ctx, userID, stats.TotalXP, weekXP, now); err != nil {
		return err
	}
	return a.board.SetStreak(ctx, userID, stats.CurrentStreak)
}

// UploadBook stores a new book file and enqueues background processing.
func (a *App) UploadBook(ctx context.Context, owner domain.User, filename, title, author string, r io.Reader, size int64) (domain.Book, error) {
	if filename == "" {
		return domain.Book{}, fmt.Errorf("filename required")
	}
	id := uuid.NewString()
	storageKey := buildStorageKey(id, filename)
	title = strings.TrimSpace(title)
	if title == "" {
		title = titleFromName(filename)
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:               id,
		OwnerID:          owner.ID,
		Title:            title,
		Author:           strings.TrimSpace(author),
		Source:           domain.SourceUpload,
		OriginalFilename: filepath.Base(filename),
		StorageKey:       storageKey,
		Genres:           []string{},
		Tags:             []string{},
		Status:           domain.StatusQueued,
		SizeBytes:        size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, storageKey, r, size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveBook(book); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	if _, err := a.imports.Enqueue(ctx, id, queue.KindUpload, ""); err != nil {
		_ = a.store.SetBookStatus(id, domain.StatusFailed, err.Error())
		return domain.Book{}, fmt.Errorf("enqueue import: %w", err)
	}
	return book, nil
}

// ImportBookFromURL registers a web article for background fetching. Title
// and author are optional; the worker fills blanks from the page itself.
func (a *App) ImportBookFromURL(ctx context.Context, owner domain.User, rawURL, title, author string) (domain.Book, error) {
	sourceURL, err := normalizeImportURL(rawURL)
	if err != nil {
		return domain.Book{}, err
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		Source:    domain.SourceURL,
		SourceURL: sourceURL,
		Genres:    []string{},
		Tags:      []string{},
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	if _, err := a.imports.Enqueue(ctx, book.ID, queue.KindURL, sourceURL); err != nil {
		_ = a.store.SetBookStatus(book.ID, domain.StatusFailed, err.Error())
		return domain.Book{}, fmt.Errorf("enqueue import: %w", err)
	}
	return book, nil
}

func normalizeImportURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("url required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url scheme must be http or https")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid url")
	}
	return parsed.String(), nil
}

// ListBooks returns the caller's books, newest first.
func (a *App) ListBooks(user domain.User) ([]domain.Book, error) {
	return a.store.ListBooksByOwner(user.ID)
}

// BookDetail is a book plus the caller's reading position, if any.
type BookDetail struct {
	domain.Book
	Progress *domain.ReadingProgress `json:"progress,omitempty"`
}

// GetBook retrieves one of the caller's books with their reading position.
func (a *App) GetBook(user domain.User, id string) (BookDetail, error) {
	book, err := a.ownedBook(user, id)
	if err != nil {
		return BookDetail{}, err
	}
	detail := BookDetail{Book: book}
	progress, ok, err := a.store.GetProgress(user.ID, id)
	if err != nil {
		return BookDetail{}, fmt.Errorf("load progress: %w", err)
	}
	if ok {
		detail.Progress = &progress
	}
	return detail, nil
}

func (a *App) ownedBook(user domain.User, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if book.OwnerID != user.ID {
		return domain.Book{}, ErrForbidden
	}
	return book, nil
}

// BookPatch carries optional metadata edits; nil fields stay unchanged.
type BookPatch struct {
	Title  *string   `json:"title"`
	Author *string   `json:"author"`
	Genres *[]string `json:"genres"`
	Tags   *[]string `json:"tags"`
}

// UpdateBook applies a partial metadata edit to one of the caller's books.
func (a *App) UpdateBook(user domain.User, id string, patch BookPatch) (domain.Book, error) {
	book, err := a.ownedBook(user, id)
	if err != nil {
		return domain.Book{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Book{}, fmt.Errorf("title required")
		}
		book.Title = title
	}
	if patch.Author != nil {
		book.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.Genres != nil {
		book.Genres = normalizeLabels(*patch.Genres)
	}
	if patch.Tags != nil {
		book.Tags = normalizeLabels(*patch.Tags)
	}
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	return out
}

// DeleteBook soft-deletes one of the caller's books and drops the stored
// file. Review history and activity rollups referencing the book survive.
func (a *App) DeleteBook(ctx context.Context, user domain.User, id string) error {
	book, err := a.ownedBook(user, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if book.StorageKey != "" {
		if err := a.objects.Delete(ctx, book.StorageKey); err != nil {
			slog.Warn("delete book file failed", "book_id", id, "error", err)
		}
	}
	return nil
}

// ProgressResult reports a progress write plus any gamification side effects.
type ProgressResult struct {
	Progress      domain.ReadingProgress `json:"progress"`
	BookCompleted bool                   `json:"bookCompleted"`
	XPAwarded     int64                  `json:"xpAwarded"`
	Achievements  []domain.Achievement   `json:"achievements,omitempty"`
}

// UpdateProgress records the caller's position in a book. Reaching 100%
// completes the book once, which awards XP and any library achievements.
func (a *App) UpdateProgress(ctx context.Context, user domain.User, bookID string, percent float64, currentPage int) (ProgressResult, error) {
	book, err := a.ownedBook(user, bookID)
	if err != nil {
		return ProgressResult{}, err
	}
	if percent < 0 || percent > 100 {
		return ProgressResult{}, fmt.Errorf("percent must be between 0 and 100")
	}
	if currentPage < 0 {
		return ProgressResult{}, fmt.Errorf("currentPage must be >= 0")
	}
	now := time.Now().UTC()
	progress := domain.ReadingProgress{
		UserID:      user.ID,
		BookID:      bookID,
		Percent:     percent,
		CurrentPage: currentPage,
		UpdatedAt:   now,
	}
	if err := a.store.UpsertProgress(progress); err != nil {
		return ProgressResult{}, fmt.Errorf("save progress: %w", err)
	}
	result := ProgressResult{Progress: progress}
	if percent < 100 || book.Completed {
		return result, nil
	}

	finishedBefore, err := a.store.CountBooksFinishedInRange(user.ID, time.Time{}, now)
	if err != nil {
		return result, fmt.Errorf("count finished books: %w", err)
	}
	book.Completed = true
	book.FinishedAt = &now
	book.UpdatedAt = now
	if err := a.store.SaveBook(book); err != nil {
		return result, fmt.Errorf("complete book: %w", err)
	}
	result.BookCompleted = true
	if _, err := a.store.AddXP(user.ID, xpBookFinished, "book_finished", now); err != nil {
		return result, fmt.Errorf("award xp: %w", err)
	}
	result.XPAwarded = xpBookFinished
	awarded, bonusXP, err := a.awardForCategory(user, domain.CategoryLibrary, finishedBefore+1, now)
	if err != nil {
		return result, err
	}
	result.Achievements = awarded
	result.XPAwarded += bonusXP
	a.mirrorXP(ctx, user, result.XPAwarded, now)
	return result, nil
}

// awardForCategory grants every active achievement in the category whose
// threshold the value now satisfies and which the user does not hold yet.
// Returns the new grants and the XP they carried.
func (a *App) awardForCategory(user domain.User, category domain.AchievementCategory, value int, now time.Time) ([]domain.Achievement, int64, error) {
	defs, err := a.store.ListAchievements(category, true)
	if err != nil {
		return nil, 0, fmt.Errorf("list achievements: %w", err)
	}
	var awarded []domain.Achievement
	var xp int64
	for _, def := range defs {
		if def.Threshold > value {
			continue
		}
		held, err := a.store.HasUserAchievement(user.ID, def.ID)
		if err != nil {
			return awarded, xp, fmt.Errorf("check achievement %s: %w", def.Code, err)
		}
		if held {
			continue
		}
		if err := a.store.AwardAchievement(domain.UserAchievement{
			UserID:        user.ID,
			AchievementID: def.ID,
			EarnedAt:      now,
		}); err != nil {
			return awarded, xp, fmt.Errorf("award achievement %s: %w", def.Code, err)
		}
		if def.XPReward > 0 {
			if _, err := a.store.AddXP(user.ID, def.XPReward, "achievement:"+def.Code, now); err != nil {
				return awarded, xp, fmt.Errorf("award achievement xp: %w", err)
			}
			xp += def.XPReward
		}
		awarded = append(awarded, def)
	}
	return awarded, xp, nil
}

// mirrorXP pushes earned XP onto the Redis boards for public profiles.
// Board writes are best effort; the persistent store already holds the XP.
func (a *App) mirrorXP(ctx context.Context, user domain.User, amount int64, now time.Time) {
	if !user.PublicProfile || amount <= 0 {
		return
	}
	if err := a.board.RecordXP(ctx, user.ID, amount, now); err != nil {
		slog.Warn("leaderboard xp update failed", "user_id", user.ID, "error", err)
	}
}

func displayNameFromEmail(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	if email != "" {
		return email
	}
	return "Reader"
}

func titleFromName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	title := strings.TrimSuffix(base, ext)
	title = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(title))
	if title == "" {
		return "Untitled"
	}
	return title
}

func buildStorageKey(bookID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "book"
	}
	return path.Join("books", bookID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
