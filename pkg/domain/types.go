package domain

import "time"

type BookStatus string

const (
	StatusQueued     BookStatus = "queued"
	StatusProcessing BookStatus = "processing"
	StatusReady      BookStatus = "ready"
	StatusFailed     BookStatus = "failed"
)

type BookSource string

const (
	SourceUpload BookSource = "upload"
	SourceURL    BookSource = "url"
)

type AchievementCategory string

const (
	CategoryStreak  AchievementCategory = "streak"
	CategoryReview  AchievementCategory = "review"
	CategoryLibrary AchievementCategory = "library"
	CategorySocial  AchievementCategory = "social"
)

type ChallengeMetric string

const (
	MetricReviews       ChallengeMetric = "reviews"
	MetricBooksFinished ChallengeMetric = "books_finished"
	MetricStreakDays    ChallengeMetric = "streak_days"
)

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	PublicProfile bool      `json:"publicProfile"`
	DigestOptIn   bool      `json:"digestOptIn"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Book struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Title            string     `json:"title"`
	Author           string     `json:"author,omitempty"`
	Source           BookSource `json:"source"`
	OriginalFilename string     `json:"originalFilename,omitempty"`
	SourceURL        string     `json:"sourceUrl,omitempty"`
	StorageKey       string     `json:"-"`
	Excerpt          string     `json:"excerpt,omitempty"`
	Genres           []string   `json:"genres"`
	Tags             []string   `json:"tags"`
	Status           BookStatus `json:"status"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	SizeBytes        int64      `json:"sizeBytes"`
	Completed        bool       `json:"completed"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Chunk struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	Index     int       `json:"index"`
	Section   string    `json:"section,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Flashcard struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	BookID         string     `json:"bookId,omitempty"`
	Chapter        string     `json:"chapter,omitempty"`
	Front          string     `json:"front"`
	Back           string     `json:"back"`
	DueAt          time.Time  `json:"dueAt"`
	IntervalDays   int        `json:"intervalDays"`
	EaseFactor     float64    `json:"easeFactor"`
	Repetitions    int        `json:"repetitions"`
	Lapses         int        `json:"lapses"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type ReviewLog struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	CardID        string    `json:"cardId"`
	Quality       int       `json:"quality"`
	IntervalAfter int       `json:"intervalAfter"`
	EaseAfter     float64   `json:"easeAfter"`
	ReviewedAt    time.Time `json:"reviewedAt"`
}

type ReadingProgress struct {
	UserID      string    `json:"userId"`
	BookID      string    `json:"bookId"`
	Percent     float64   `json:"percent"`
	CurrentPage int       `json:"currentPage"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type UserStats struct {
	UserID         string     `json:"userId"`
	CurrentStreak  int        `json:"currentStreak"`
	LongestStreak  int        `json:"longestStreak"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	TotalXP        int64      `json:"totalXp"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Achievement struct {
	ID          string              `json:"id"`
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Category    AchievementCategory `json:"category"`
	Threshold   int                 `json:"threshold"`
	XPReward    int64               `json:"xpReward"`
	Active      bool                `json:"active"`
}

type UserAchievement struct {
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	EarnedAt      time.Time `json:"earnedAt"`
	Notified      bool      `json:"notified"`
}

// SimilarityFactors is the per-signal breakdown behind a similarity score.
type SimilarityFactors struct {
	Genre    float64 `json:"genre"`
	Author   float64 `json:"author"`
	Tag      float64 `json:"tag"`
	Behavior float64 `json:"behavior"`
}

type UserSimilarity struct {
	UserID     string            `json:"userId"`
	OtherID    string            `json:"otherId"`
	Score      float64           `json:"score"`
	Factors    SimilarityFactors `json:"factors"`
	ComputedAt time.Time         `json:"computedAt"`
}

// ActivityDay is one user's rolled-up counters for a single UTC calendar day.
type ActivityDay struct {
	UserID          string    `json:"userId"`
	Day             time.Time `json:"day"`
	Reviews         int       `json:"reviews"`
	ProgressUpdates int       `json:"progressUpdates"`
	CardsCreated    int       `json:"cardsCreated"`
	BooksFinished   int       `json:"booksFinished"`
	XPEarned        int64     `json:"xpEarned"`
}

type Challenge struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Metric      ChallengeMetric `json:"metric"`
	Target      int             `json:"target"`
	StartsAt    time.Time       `json:"startsAt"`
	EndsAt      time.Time       `json:"endsAt"`
	Active      bool            `json:"active"`
}

type ChallengeEntry struct {
	UserID      string     `json:"userId"`
	ChallengeID string     `json:"challengeId"`
	JoinedAt    time.Time  `json:"joinedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type Digest struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Body        string    `json:"body"`
	Delivered   bool      `json:"delivered"`
	CreatedAt   time.Time `json:"createdAt"`
}
