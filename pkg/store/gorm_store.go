package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"readmaster/pkg/domain"
)

const migrateLockID int64 = 52815281

const insertBatchSize = 200

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on DDL.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already-open gorm DB and runs migrations
// directly. Used by tests running against in-memory SQLite.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&UserModel{},
		&BookModel{},
		&ChunkModel{},
		&FlashcardModel{},
		&ReviewLogModel{},
		&ReadingProgressModel{},
		&UserStatsModel{},
		&AchievementModel{},
		&UserAchievementModel{},
		&UserSimilarityModel{},
		&ActivityDayModel{},
		&XPEventModel{},
		&ChallengeModel{},
		&ChallengeEntryModel{},
		&DigestModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "public_profile", "digest_opt_in", "updated_at"}),
	}).Create(&model).Error
}

// EnsureUser inserts the user if absent and returns the stored row.
// Existing rows are left untouched so profile edits survive token refreshes.
func (s *GormStore) EnsureUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if err := s.db.Clauses(conflict).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	stored, ok, err := s.GetUserByID(u.ID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("ensure user %s: row missing after insert", u.ID)
	}
	return stored, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsersPage returns one page of users in creation order.
func (s *GormStore) ListUsersPage(offset, limit int) ([]domain.User, error) {
	if limit <= 0 {
		return []domain.User{}, nil
	}
	var models []UserModel
	if err := s.db.Order("created_at ASC, id ASC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, userFromModel(m))
	}
	return users, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "source_url", "original_filename", "storage_key",
			"excerpt", "genres", "tags", "status", "error_message", "size_bytes",
			"completed", "published_at", "finished_at", "updated_at",
		}),
	}).Create(&model).Error
}

// SetBookStatus updates book status/error.
func (s *GormStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByOwner returns the owner's books ordered by created_at.
func (s *GormStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m))
	}
	return books, nil
}

// CountBooksByOwner counts the owner's books.
func (s *GormStore) CountBooksByOwner(ownerID string) (int, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountBooksFinishedInRange counts books the owner finished in [from, to).
func (s *GormStore) CountBooksFinishedInRange(ownerID string, from, to time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).
		Where("owner_id = ? AND completed = ? AND finished_at >= ? AND finished_at < ?", ownerID, true, from, to).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteBook soft-deletes a book. Chunks and progress rows are retained.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

// ReplaceChunks replaces all chunks for a book.
func (s *GormStore) ReplaceChunks(bookID string, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "book_id = ?", bookID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.BookID = bookID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, insertBatchSize).Error
	})
}

// ListChunksByBook returns chunks for a book in reading order.
func (s *GormStore) ListChunksByBook(bookID string, limit int) ([]domain.Chunk, error) {
	tx := s.db.Where("book_id = ?", bookID).Order("idx ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []ChunkModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, m := range models {
		chunks = append(chunks, chunkFromModel(m))
	}
	return chunks, nil
}

// SaveFlashcard stores or updates a flashcard.
func (s *GormStore) SaveFlashcard(card domain.Flashcard) error {
	model := flashcardToModel(card)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"chapter", "front", "back", "due_at", "interval_days", "ease_factor",
			"repetitions", "lapses", "last_reviewed_at", "updated_at",
		}),
	}).Create(&model).Error
}

// CreateFlashcards bulk-inserts new flashcards.
func (s *GormStore) CreateFlashcards(cards []domain.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	models := make([]FlashcardModel, 0, len(cards))
	for _, card := range cards {
		models = append(models, flashcardToModel(card))
	}
	return s.db.CreateInBatches(&models, insertBatchSize).Error
}

// GetFlashcard retrieves a flashcard.
func (s *GormStore) GetFlashcard(id string) (domain.Flashcard, bool, error) {
	var model FlashcardModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Flashcard{}, false, nil
		}
		return domain.Flashcard{}, false, err
	}
	return flashcardFromModel(model), true, nil
}

// ListFlashcardsByOwner returns the owner's cards, optionally filtered by book.
func (s *GormStore) ListFlashcardsByOwner(ownerID, bookID string) ([]domain.Flashcard, error) {
	tx := s.db.Where("owner_id = ?", ownerID)
	if bookID != "" {
		tx = tx.Where("book_id = ?", bookID)
	}
	var models []FlashcardModel
	if err := tx.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	cards := make([]domain.Flashcard, 0, len(models))
	for _, m := range models {
		cards = append(cards, flashcardFromModel(m))
	}
	return cards, nil
}

// ListDueFlashcards returns due cards in review order: never-reviewed cards
// first, then lowest ease factor, then earliest due.
func (s *GormStore) ListDueFlashcards(ownerID string, now time.Time, limit int) ([]domain.Flashcard, error) {
	tx := s.db.Where("owner_id = ? AND due_at <= ?", ownerID, now).
		Order("(last_reviewed_at IS NULL) DESC").
		Order("ease_factor ASC").
		Order("due_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []FlashcardModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	cards := make([]domain.Flashcard, 0, len(models))
	for _, m := range models {
		cards = append(cards, flashcardFromModel(m))
	}
	return cards, nil
}

// CountDueFlashcards counts the owner's currently due cards.
func (s *GormStore) CountDueFlashcards(ownerID string, now time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&FlashcardModel{}).
		Where("owner_id = ? AND due_at <= ?", ownerID, now).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountFlashcardsCreatedInRange counts cards created in [from, to).
func (s *GormStore) CountFlashcardsCreatedInRange(ownerID string, from, to time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&FlashcardModel{}).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", ownerID, from, to).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteFlashcard soft-deletes a flashcard.
func (s *GormStore) DeleteFlashcard(id string) error {
	return s.db.Delete(&FlashcardModel{}, "id = ?", id).Error
}

// AppendReviewLog records one review.
func (s *GormStore) AppendReviewLog(entry domain.ReviewLog) error {
	model := reviewLogToModel(entry)
	return s.db.Create(&model).Error
}

// CountReviewsByUser counts all reviews ever made by the user.
func (s *GormStore) CountReviewsByUser(userID string) (int, error) {
	var count int64
	if err := s.db.Model(&ReviewLogModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountReviewsInRange counts the user's reviews in [from, to).
func (s *GormStore) CountReviewsInRange(userID string, from, to time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&ReviewLogModel{}).
		Where("user_id = ? AND reviewed_at >= ? AND reviewed_at < ?", userID, from, to).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// UpsertProgress stores or updates reading progress for a user+book pair.
func (s *GormStore) UpsertProgress(p domain.ReadingProgress) error {
	model := progressToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"percent", "current_page", "updated_at"}),
	}).Create(&model).Error
}

// GetProgress retrieves reading progress for a user+book pair.
func (s *GormStore) GetProgress(userID, bookID string) (domain.ReadingProgress, bool, error) {
	var model ReadingProgressModel
	if err := s.db.First(&model, "user_id = ? AND book_id = ?", userID, bookID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReadingProgress{}, false, nil
		}
		return domain.ReadingProgress{}, false, err
	}
	return progressFromModel(model), true, nil
}

// CountProgressUpdatesInRange counts progress rows last touched in [from, to).
func (s *GormStore) CountProgressUpdatesInRange(userID string, from, to time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&ReadingProgressModel{}).
		Where("user_id = ? AND updated_at >= ? AND updated_at < ?", userID, from, to).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetStats retrieves a user's streak/XP stats.
func (s *GormStore) GetStats(userID string) (domain.UserStats, bool, error) {
	var model UserStatsModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.UserStats{}, false, nil
		}
		return domain.UserStats{}, false, err
	}
	return statsFromModel(model), true, nil
}

// SaveStats stores or updates stats.
func (s *GormStore) SaveStats(stats domain.UserStats) error {
	model := statsToModel(stats)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_activity_at", "total_xp", "updated_at"}),
	}).Create(&model).Error
}

// AddXP atomically increments the user's XP, records an XP event, and
// returns the new total. A stats row is created when missing.
func (s *GormStore) AddXP(userID string, amount int64, reason string, at time.Time) (int64, error) {
	var total int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		stats := UserStatsModel{UserID: userID, CreatedAt: at, UpdatedAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&stats).Error; err != nil {
			return err
		}
		if err := tx.Model(&UserStatsModel{}).Where("user_id = ?", userID).
			Updates(map[string]any{
				"total_xp":   gorm.Expr("total_xp + ?", amount),
				"updated_at": at,
			}).Error; err != nil {
			return err
		}
		event := XPEventModel{
			ID:        uuid.NewString(),
			UserID:    userID,
			Amount:    amount,
			Reason:    reason,
			CreatedAt: at,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		var current UserStatsModel
		if err := tx.First(&current, "user_id = ?", userID).Error; err != nil {
			return err
		}
		total = current.TotalXP
		return nil
	})
	return total, err
}

// SumXPInRange sums XP awarded to the user in [from, to).
func (s *GormStore) SumXPInRange(userID string, from, to time.Time) (int64, error) {
	var total sql.NullInt64
	if err := s.db.Model(&XPEventModel{}).
		Select("SUM(amount)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// SaveAchievement stores or updates a catalog entry keyed by code.
func (s *GormStore) SaveAchievement(a domain.Achievement) error {
	model := achievementToModel(a)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "threshold", "xp_reward", "active"}),
	}).Create(&model).Error
}

// ListAchievements returns catalog entries, optionally filtered by category
// and active flag, ordered by ascending threshold.
func (s *GormStore) ListAchievements(category domain.AchievementCategory, onlyActive bool) ([]domain.Achievement, error) {
	tx := s.db.Model(&AchievementModel{})
	if category != "" {
		tx = tx.Where("category = ?", string(category))
	}
	if onlyActive {
		tx = tx.Where("active = ?", true)
	}
	var models []AchievementModel
	if err := tx.Order("threshold ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Achievement, 0, len(models))
	for _, m := range models {
		items = append(items, achievementFromModel(m))
	}
	return items, nil
}

// HasUserAchievement checks whether the user already holds the achievement.
func (s *GormStore) HasUserAchievement(userID, achievementID string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserAchievementModel{}).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AwardAchievement grants an achievement. The composite primary key makes
// the grant idempotent: a second award of the same pair is a no-op.
func (s *GormStore) AwardAchievement(ua domain.UserAchievement) error {
	model := userAchievementToModel(ua)
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// ListUserAchievements returns achievements held by the user.
func (s *GormStore) ListUserAchievements(userID string) ([]domain.UserAchievement, error) {
	var models []UserAchievementModel
	if err := s.db.Where("user_id = ?", userID).Order("earned_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.UserAchievement, 0, len(models))
	for _, m := range models {
		items = append(items, userAchievementFromModel(m))
	}
	return items, nil
}

// ReplaceSimilarities replaces the user's similarity list in one transaction.
func (s *GormStore) ReplaceSimilarities(userID string, items []domain.UserSimilarity) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&UserSimilarityModel{}, "user_id = ?", userID).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		models := make([]UserSimilarityModel, 0, len(items))
		for _, item := range items {
			model := similarityToModel(item)
			model.UserID = userID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, insertBatchSize).Error
	})
}

// ListSimilarReaders returns the user's stored similarity list, best first.
func (s *GormStore) ListSimilarReaders(userID string, limit int) ([]domain.UserSimilarity, error) {
	tx := s.db.Where("user_id = ?", userID).Order("score DESC, other_id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []UserSimilarityModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.UserSimilarity, 0, len(models))
	for _, m := range models {
		items = append(items, similarityFromModel(m))
	}
	return items, nil
}

// UpsertActivityDay stores or replaces one daily rollup row.
func (s *GormStore) UpsertActivityDay(day domain.ActivityDay) error {
	model := activityDayToModel(day)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// GetActivityDay retrieves one daily rollup row.
func (s *GormStore) GetActivityDay(userID string, day time.Time) (domain.ActivityDay, bool, error) {
	var model ActivityDayModel
	if err := s.db.First(&model, "user_id = ? AND day = ?", userID, day.UTC().Truncate(24*time.Hour)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ActivityDay{}, false, nil
		}
		return domain.ActivityDay{}, false, err
	}
	return activityDayFromModel(model), true, nil
}

// ListActivityRange returns rollup rows with day in [from, to).
func (s *GormStore) ListActivityRange(userID string, from, to time.Time) ([]domain.ActivityDay, error) {
	var models []ActivityDayModel
	if err := s.db.Where("user_id = ? AND day >= ? AND day < ?", userID, from, to).
		Order("day ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.ActivityDay, 0, len(models))
	for _, m := range models {
		items = append(items, activityDayFromModel(m))
	}
	return items, nil
}

// SaveChallenge stores or updates a catalog entry keyed by code.
func (s *GormStore) SaveChallenge(c domain.Challenge) error {
	model := challengeToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "metric", "target", "starts_at", "ends_at", "active"}),
	}).Create(&model).Error
}

// GetChallenge retrieves a challenge.
func (s *GormStore) GetChallenge(id string) (domain.Challenge, bool, error) {
	var model ChallengeModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Challenge{}, false, nil
		}
		return domain.Challenge{}, false, err
	}
	return challengeFromModel(model), true, nil
}

// ListChallenges returns challenges; with onlyActive it returns those whose
// window contains the given time.
func (s *GormStore) ListChallenges(onlyActive bool, at time.Time) ([]domain.Challenge, error) {
	tx := s.db.Model(&ChallengeModel{})
	if onlyActive {
		tx = tx.Where("active = ? AND starts_at <= ? AND ends_at > ?", true, at, at)
	}
	var models []ChallengeModel
	if err := tx.Order("starts_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Challenge, 0, len(models))
	for _, m := range models {
		items = append(items, challengeFromModel(m))
	}
	return items, nil
}

// JoinChallenge enrolls a user; joining twice is a no-op.
func (s *GormStore) JoinChallenge(entry domain.ChallengeEntry) error {
	model := challengeEntryToModel(entry)
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// GetChallengeEntry retrieves one enrollment.
func (s *GormStore) GetChallengeEntry(userID, challengeID string) (domain.ChallengeEntry, bool, error) {
	var model ChallengeEntryModel
	if err := s.db.First(&model, "user_id = ? AND challenge_id = ?", userID, challengeID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChallengeEntry{}, false, nil
		}
		return domain.ChallengeEntry{}, false, err
	}
	return challengeEntryFromModel(model), true, nil
}

// ListEntriesByUser returns the user's enrollments.
func (s *GormStore) ListEntriesByUser(userID string) ([]domain.ChallengeEntry, error) {
	var models []ChallengeEntryModel
	if err := s.db.Where("user_id = ?", userID).Order("joined_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.ChallengeEntry, 0, len(models))
	for _, m := range models {
		items = append(items, challengeEntryFromModel(m))
	}
	return items, nil
}

// CompleteChallengeEntry stamps completion once; later calls are no-ops.
func (s *GormStore) CompleteChallengeEntry(userID, challengeID string, at time.Time) error {
	return s.db.Model(&ChallengeEntryModel{}).
		Where("user_id = ? AND challenge_id = ? AND completed_at IS NULL", userID, challengeID).
		Update("completed_at", at.UTC()).Error
}

// SaveDigest stores a rendered digest.
func (s *GormStore) SaveDigest(d domain.Digest) error {
	model := digestToModel(d)
	return s.db.Create(&model).Error
}

// MarkDigestDelivered flags a digest as handed to the mailer.
func (s *GormStore) MarkDigestDelivered(id string) error {
	return s.db.Model(&DigestModel{}).Where("id = ?", id).Update("delivered", true).Error
}

func userToModel(u domain.User) UserModel {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	return UserModel{
		ID:            u.ID,
		Email:         email,
		DisplayName:   u.DisplayName,
		PublicProfile: u.PublicProfile,
		DigestOptIn:   u.DigestOptIn,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	var email string
	if m.Email != nil {
		email = *m.Email
	}
	return domain.User{
		ID:            m.ID,
		Email:         email,
		DisplayName:   m.DisplayName,
		PublicProfile: m.PublicProfile,
		DigestOptIn:   m.DigestOptIn,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:               b.ID,
		OwnerID:          b.OwnerID,
		Title:            b.Title,
		Author:           b.Author,
		Source:           string(b.Source),
		OriginalFilename: b.OriginalFilename,
		SourceURL:        b.SourceURL,
		StorageKey:       b.StorageKey,
		Excerpt:          b.Excerpt,
		Genres:           stringsToJSON(b.Genres),
		Tags:             stringsToJSON(b.Tags),
		Status:           string(b.Status),
		ErrorMessage:     b.ErrorMessage,
		SizeBytes:        b.SizeBytes,
		Completed:        b.Completed,
		PublishedAt:      b.PublishedAt,
		FinishedAt:       b.FinishedAt,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		Author:           m.Author,
		Source:           domain.BookSource(m.Source),
		OriginalFilename: m.OriginalFilename,
		SourceURL:        m.SourceURL,
		StorageKey:       m.StorageKey,
		Excerpt:          m.Excerpt,
		Genres:           stringsFromJSON(m.Genres),
		Tags:             stringsFromJSON(m.Tags),
		Status:           domain.BookStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		SizeBytes:        m.SizeBytes,
		Completed:        m.Completed,
		PublishedAt:      m.PublishedAt,
		FinishedAt:       m.FinishedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func chunkToModel(c domain.Chunk) ChunkModel {
	return ChunkModel{
		ID:        c.ID,
		BookID:    c.BookID,
		Idx:       c.Index,
		Section:   c.Section,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func chunkFromModel(m ChunkModel) domain.Chunk {
	return domain.Chunk{
		ID:        m.ID,
		BookID:    m.BookID,
		Index:     m.Idx,
		Section:   m.Section,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func flashcardToModel(card domain.Flashcard) FlashcardModel {
	var bookID *string
	if card.BookID != "" {
		value := card.BookID
		bookID = &value
	}
	return FlashcardModel{
		ID:             card.ID,
		OwnerID:        card.OwnerID,
		BookID:         bookID,
		Chapter:        card.Chapter,
		Front:          card.Front,
		Back:           card.Back,
		DueAt:          card.DueAt,
		IntervalDays:   card.IntervalDays,
		EaseFactor:     card.EaseFactor,
		Repetitions:    card.Repetitions,
		Lapses:         card.Lapses,
		LastReviewedAt: card.LastReviewedAt,
		CreatedAt:      card.CreatedAt,
		UpdatedAt:      card.UpdatedAt,
	}
}

func flashcardFromModel(m FlashcardModel) domain.Flashcard {
	bookID := ""
	if m.BookID != nil {
		bookID = *m.BookID
	}
	return domain.Flashcard{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		BookID:         bookID,
		Chapter:        m.Chapter,
		Front:          m.Front,
		Back:           m.Back,
		DueAt:          m.DueAt,
		IntervalDays:   m.IntervalDays,
		EaseFactor:     m.EaseFactor,
		Repetitions:    m.Repetitions,
		Lapses:         m.Lapses,
		LastReviewedAt: m.LastReviewedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func reviewLogToModel(entry domain.ReviewLog) ReviewLogModel {
	return ReviewLogModel{
		ID:            entry.ID,
		UserID:        entry.UserID,
		CardID:        entry.CardID,
		Quality:       entry.Quality,
		IntervalAfter: entry.IntervalAfter,
		EaseAfter:     entry.EaseAfter,
		ReviewedAt:    entry.ReviewedAt,
	}
}

func progressToModel(p domain.ReadingProgress) ReadingProgressModel {
	return ReadingProgressModel{
		UserID:      p.UserID,
		BookID:      p.BookID,
		Percent:     p.Percent,
		CurrentPage: p.CurrentPage,
		UpdatedAt:   p.UpdatedAt,
	}
}

func progressFromModel(m ReadingProgressModel) domain.ReadingProgress {
	return domain.ReadingProgress{
		UserID:      m.UserID,
		BookID:      m.BookID,
		Percent:     m.Percent,
		CurrentPage: m.CurrentPage,
		UpdatedAt:   m.UpdatedAt,
	}
}

func statsToModel(stats domain.UserStats) UserStatsModel {
	return UserStatsModel{
		UserID:         stats.UserID,
		CurrentStreak:  stats.CurrentStreak,
		LongestStreak:  stats.LongestStreak,
		LastActivityAt: stats.LastActivityAt,
		TotalXP:        stats.TotalXP,
		CreatedAt:      stats.CreatedAt,
		UpdatedAt:      stats.UpdatedAt,
	}
}

func statsFromModel(m UserStatsModel) domain.UserStats {
	return domain.UserStats{
		UserID:         m.UserID,
		CurrentStreak:  m.CurrentStreak,
		LongestStreak:  m.LongestStreak,
		LastActivityAt: m.LastActivityAt,
		TotalXP:        m.TotalXP,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func achievementToModel(a domain.Achievement) AchievementModel {
	return AchievementModel{
		ID:          a.ID,
		Code:        a.Code,
		Name:        a.Name,
		Description: a.Description,
		Category:    string(a.Category),
		Threshold:   a.Threshold,
		XPReward:    a.XPReward,
		Active:      a.Active,
	}
}

func achievementFromModel(m AchievementModel) domain.Achievement {
	return domain.Achievement{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Category:    domain.AchievementCategory(m.Category),
		Threshold:   m.Threshold,
		XPReward:    m.XPReward,
		Active:      m.Active,
	}
}

func userAchievementToModel(ua domain.UserAchievement) UserAchievementModel {
	return UserAchievementModel{
		UserID:        ua.UserID,
		AchievementID: ua.AchievementID,
		EarnedAt:      ua.EarnedAt,
		Notified:      ua.Notified,
	}
}

func userAchievementFromModel(m UserAchievementModel) domain.UserAchievement {
	return domain.UserAchievement{
		UserID:        m.UserID,
		AchievementID: m.AchievementID,
		EarnedAt:      m.EarnedAt,
		Notified:      m.Notified,
	}
}

func similarityToModel(item domain.UserSimilarity) UserSimilarityModel {
	factors, _ := json.Marshal(item.Factors)
	return UserSimilarityModel{
		UserID:     item.UserID,
		OtherID:    item.OtherID,
		Score:      item.Score,
		Factors:    factors,
		ComputedAt: item.ComputedAt,
	}
}

func similarityFromModel(m UserSimilarityModel) domain.UserSimilarity {
	var factors domain.SimilarityFactors
	if len(m.Factors) > 0 {
		_ = json.Unmarshal(m.Factors, &factors)
	}
	return domain.UserSimilarity{
		UserID:     m.UserID,
		OtherID:    m.OtherID,
		Score:      m.Score,
		Factors:    factors,
		ComputedAt: m.ComputedAt,
	}
}

func activityDayToModel(day domain.ActivityDay) ActivityDayModel {
	return ActivityDayModel{
		UserID:          day.UserID,
		Day:             day.Day.UTC().Truncate(24 * time.Hour),
		Reviews:         day.Reviews,
		ProgressUpdates: day.ProgressUpdates,
		CardsCreated:    day.CardsCreated,
		BooksFinished:   day.BooksFinished,
		XPEarned:        day.XPEarned,
	}
}

func activityDayFromModel(m ActivityDayModel) domain.ActivityDay {
	return domain.ActivityDay{
		UserID:          m.UserID,
		Day:             m.Day,
		Reviews:         m.Reviews,
		ProgressUpdates: m.ProgressUpdates,
		CardsCreated:    m.CardsCreated,
		BooksFinished:   m.BooksFinished,
		XPEarned:        m.XPEarned,
	}
}

func challengeToModel(c domain.Challenge) ChallengeModel {
	return ChallengeModel{
		ID:          c.ID,
		Code:        c.Code,
		Name:        c.Name,
		Description: c.Description,
		Metric:      string(c.Metric),
		Target:      c.Target,
		StartsAt:    c.StartsAt,
		EndsAt:      c.EndsAt,
		Active:      c.Active,
	}
}

func challengeFromModel(m ChallengeModel) domain.Challenge {
	return domain.Challenge{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Metric:      domain.ChallengeMetric(m.Metric),
		Target:      m.Target,
		StartsAt:    m.StartsAt,
		EndsAt:      m.EndsAt,
		Active:      m.Active,
	}
}

func challengeEntryToModel(entry domain.ChallengeEntry) ChallengeEntryModel {
	return ChallengeEntryModel{
		UserID:      entry.UserID,
		ChallengeID: entry.ChallengeID,
		JoinedAt:    entry.JoinedAt,
		CompletedAt: entry.CompletedAt,
	}
}

func challengeEntryFromModel(m ChallengeEntryModel) domain.ChallengeEntry {
	return domain.ChallengeEntry{
		UserID:      m.UserID,
		ChallengeID: m.ChallengeID,
		JoinedAt:    m.JoinedAt,
		CompletedAt: m.CompletedAt,
	}
}

func digestToModel(d domain.Digest) DigestModel {
	return DigestModel{
		ID:          d.ID,
		UserID:      d.UserID,
		PeriodStart: d.PeriodStart,
		PeriodEnd:   d.PeriodEnd,
		Body:        d.Body,
		Delivered:   d.Delivered,
		CreatedAt:   d.CreatedAt,
	}
}

func stringsToJSON(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	raw, _ := json.Marshal(values)
	return raw
}

func stringsFromJSON(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	_ = json.Unmarshal(raw, &values)
	return values
}
