package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GORM models used for persistence.
type UserModel struct {
	ID string `gorm:"primaryKey"`
	// Email is NULL when the identity provider asserted no email claim;
	// the unique index only applies to non-NULL values.
	Email         *string   `gorm:"uniqueIndex"`
	DisplayName   string
	PublicProfile bool      `gorm:"not null;default:false"`
	DigestOptIn   bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time
}

type BookModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Title            string `gorm:"not null"`
	Author           string
	Source           string `gorm:"not null"`
	OriginalFilename string
	SourceURL        string
	StorageKey       string
	Excerpt          string         `gorm:"type:text"`
	Genres           datatypes.JSON `gorm:"type:jsonb"`
	Tags             datatypes.JSON `gorm:"type:jsonb"`
	Status           string         `gorm:"not null"`
	ErrorMessage     string
	SizeBytes        int64 `gorm:"not null"`
	Completed        bool  `gorm:"not null;default:false"`
	PublishedAt      *time.Time
	FinishedAt       *time.Time
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

type ChunkModel struct {
	ID        string `gorm:"primaryKey"`
	BookID    string `gorm:"not null;index"`
	Idx       int    `gorm:"not null"`
	Section   string
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type FlashcardModel struct {
	ID             string  `gorm:"primaryKey"`
	OwnerID        string  `gorm:"not null;index"`
	BookID         *string `gorm:"index"`
	Chapter        string
	Front          string    `gorm:"type:text;not null"`
	Back           string    `gorm:"type:text;not null"`
	DueAt          time.Time `gorm:"not null;index"`
	IntervalDays   int       `gorm:"not null"`
	EaseFactor     float64   `gorm:"not null"`
	Repetitions    int       `gorm:"not null"`
	Lapses         int       `gorm:"not null"`
	LastReviewedAt *time.Time
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

type ReviewLogModel struct {
	ID            string    `gorm:"primaryKey"`
	UserID        string    `gorm:"not null;index:idx_review_user_time"`
	CardID        string    `gorm:"not null;index"`
	Quality       int       `gorm:"not null"`
	IntervalAfter int       `gorm:"not null"`
	EaseAfter     float64   `gorm:"not null"`
	ReviewedAt    time.Time `gorm:"not null;index:idx_review_user_time"`
}

type ReadingProgressModel struct {
	UserID      string    `gorm:"primaryKey"`
	BookID      string    `gorm:"primaryKey"`
	Percent     float64   `gorm:"not null"`
	CurrentPage int       `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;index"`
}

type UserStatsModel struct {
	UserID         string `gorm:"primaryKey"`
	CurrentStreak  int    `gorm:"not null"`
	LongestStreak  int    `gorm:"not null"`
	LastActivityAt *time.Time
	TotalXP        int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type AchievementModel struct {
	ID          string `gorm:"primaryKey"`
	Code        string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Description string
	Category    string `gorm:"not null;index"`
	Threshold   int    `gorm:"not null"`
	XPReward    int64  `gorm:"not null"`
	Active      bool   `gorm:"not null;default:true"`
}

type UserAchievementModel struct {
	UserID        string    `gorm:"primaryKey"`
	AchievementID string    `gorm:"primaryKey"`
	EarnedAt      time.Time `gorm:"not null"`
	Notified      bool      `gorm:"not null;default:false"`
}

type UserSimilarityModel struct {
	UserID     string         `gorm:"primaryKey"`
	OtherID    string         `gorm:"primaryKey"`
	Score      float64        `gorm:"not null;index"`
	Factors    datatypes.JSON `gorm:"type:jsonb"`
	ComputedAt time.Time      `gorm:"not null"`
}

type ActivityDayModel struct {
	UserID          string    `gorm:"primaryKey"`
	Day             time.Time `gorm:"primaryKey"`
	Reviews         int       `gorm:"not null"`
	ProgressUpdates int       `gorm:"not null"`
	CardsCreated    int       `gorm:"not null"`
	BooksFinished   int       `gorm:"not null"`
	XPEarned        int64     `gorm:"not null"`
}

type XPEventModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index:idx_xp_user_time"`
	Amount    int64     `gorm:"not null"`
	Reason    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_xp_user_time"`
}

type ChallengeModel struct {
	ID          string `gorm:"primaryKey"`
	Code        string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Description string
	Metric      string    `gorm:"not null"`
	Target      int       `gorm:"not null"`
	StartsAt    time.Time `gorm:"not null"`
	EndsAt      time.Time `gorm:"not null"`
	Active      bool      `gorm:"not null;default:true"`
}

type ChallengeEntryModel struct {
	UserID      string    `gorm:"primaryKey"`
	ChallengeID string    `gorm:"primaryKey"`
	JoinedAt    time.Time `gorm:"not null"`
	CompletedAt *time.Time
}

type DigestModel struct {
	ID          string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;index"`
	PeriodStart time.Time `gorm:"not null"`
	PeriodEnd   time.Time `gorm:"not null"`
	Body        string    `gorm:"type:text"`
	Delivered   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null"`
}
