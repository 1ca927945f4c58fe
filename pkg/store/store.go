package store

import (
	"time"

	"readmaster/pkg/domain"
)

// Store defines persistence operations shared by the API and worker services.
type Store interface {
	// users
	SaveUser(domain.User) error
	EnsureUser(domain.User) (domain.User, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsersPage(offset, limit int) ([]domain.User, error)

	// books
	SaveBook(domain.Book) error
	SetBookStatus(id string, status domain.BookStatus, errMsg string) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooksByOwner(ownerID string) ([]domain.Book, error)
	CountBooksByOwner(ownerID string) (int, error)
	CountBooksFinishedInRange(ownerID string, from, to time.Time) (int, error)
	DeleteBook(id string) error

	// chunks
	ReplaceChunks(bookID string, chunks []domain.Chunk) error
	ListChunksByBook(bookID string, limit int) ([]domain.Chunk, error)

	// flashcards
	SaveFlashcard(domain.Flashcard) error
	CreateFlashcards([]domain.Flashcard) error
	GetFlashcard(id string) (domain.Flashcard, bool, error)
	ListFlashcardsByOwner(ownerID, bookID string) ([]domain.Flashcard, error)
	ListDueFlashcards(ownerID string, now time.Time, limit int) ([]domain.Flashcard, error)
	CountDueFlashcards(ownerID string, now time.Time) (int, error)
	CountFlashcardsCreatedInRange(ownerID string, from, to time.Time) (int, error)
	DeleteFlashcard(id string) error

	// reviews
	AppendReviewLog(domain.ReviewLog) error
	CountReviewsByUser(userID string) (int, error)
	CountReviewsInRange(userID string, from, to time.Time) (int, error)

	// reading progress
	UpsertProgress(domain.ReadingProgress) error
	GetProgress(userID, bookID string) (domain.ReadingProgress, bool, error)
	CountProgressUpdatesInRange(userID string, from, to time.Time) (int, error)

	// stats and XP
	GetStats(userID string) (domain.UserStats, bool, error)
	SaveStats(domain.UserStats) error
	AddXP(userID string, amount int64, reason string, at time.Time) (int64, error)
	SumXPInRange(userID string, from, to time.Time) (int64, error)

	// achievements
	SaveAchievement(domain.Achievement) error
	ListAchievements(category domain.AchievementCategory, onlyActive bool) ([]domain.Achievement, error)
	HasUserAchievement(userID, achievementID string) (bool, error)
	AwardAchievement(domain.UserAchievement) error
	ListUserAchievements(userID string) ([]domain.UserAchievement, error)

	// reader similarity
	ReplaceSimilarities(userID string, items []domain.UserSimilarity) error
	ListSimilarReaders(userID string, limit int) ([]domain.UserSimilarity, error)

	// daily activity rollups
	UpsertActivityDay(domain.ActivityDay) error
	GetActivityDay(userID string, day time.Time) (domain.ActivityDay, bool, error)
	ListActivityRange(userID string, from, to time.Time) ([]domain.ActivityDay, error)

	// challenges
	SaveChallenge(domain.Challenge) error
	GetChallenge(id string) (domain.Challenge, bool, error)
	ListChallenges(onlyActive bool, at time.Time) ([]domain.Challenge, error)
	JoinChallenge(domain.ChallengeEntry) error
	GetChallengeEntry(userID, challengeID string) (domain.ChallengeEntry, bool, error)
	ListEntriesByUser(userID string) ([]domain.ChallengeEntry, error)
	CompleteChallengeEntry(userID, challengeID string, at time.Time) error

	// digests
	SaveDigest(domain.Digest) error
	MarkDigestDelivered(id string) error
}
