// Package readersim scores how alike two readers' libraries and habits are.
// Scores feed the nightly similarity job and the similar-readers endpoint.
package readersim

import (
	"math"
	"sort"
	"strings"

	"readmaster/pkg/domain"
)

const (
	// MinScore is the floor below which a pair is not persisted.
	MinScore = 0.2
	// DefaultTopN is how many similar readers are kept per user.
	DefaultTopN = 10
	// EligibleMinBooks is the library size required to participate.
	EligibleMinBooks = 3

	genreWeight    = 0.35
	authorWeight   = 0.30
	tagWeight      = 0.20
	behaviorWeight = 0.15
)

// Profile condenses a user's library into the signals used for scoring.
type Profile struct {
	UserID          string
	Genres          map[string]int
	Authors         map[string]int
	Tags            map[string]bool
	CompletionRatio float64
}

// Eligible reports whether a user participates in similarity computation:
// profile shared publicly and a library of at least EligibleMinBooks.
func Eligible(user domain.User, bookCount int) bool {
	return user.PublicProfile && bookCount >= EligibleMinBooks
}

// BuildProfile derives a scoring profile from the user's books.
func BuildProfile(userID string, books []domain.Book) Profile {
	p := Profile{
		UserID:  userID,
		Genres:  make(map[string]int),
		Authors: make(map[string]int),
		Tags:    make(map[string]bool),
	}
	completed := 0
	for _, book := range books {
		for _, genre := range book.Genres {
			genre = strings.TrimSpace(genre)
			if genre != "" {
				p.Genres[genre]++
			}
		}
		if author := strings.TrimSpace(book.Author); author != "" {
			p.Authors[author]++
		}
		for _, tag := range book.Tags {
			tag = strings.TrimSpace(tag)
			if tag != "" {
				p.Tags[tag] = true
			}
		}
		if book.Completed {
			completed++
		}
	}
	if len(books) > 0 {
		p.CompletionRatio = float64(completed) / float64(len(books))
	}
	return p
}

// Score combines four weighted signals into a [0, 1] similarity value.
// Set signals use Jaccard over the key sets (counts are ignored); the
// behavior signal compares completion ratios. The result is 1 exactly when
// both readers share identical genre, author, and tag sets and have equal
// completion ratios.
func Score(a, b Profile) (float64, domain.SimilarityFactors) {
	factors := domain.SimilarityFactors{
		Genre:    jaccardCountKeys(a.Genres, b.Genres),
		Author:   jaccardCountKeys(a.Authors, b.Authors),
		Tag:      jaccardSet(a.Tags, b.Tags),
		Behavior: 1 - math.Abs(a.CompletionRatio-b.CompletionRatio),
	}
	score := genreWeight*factors.Genre +
		authorWeight*factors.Author +
		tagWeight*factors.Tag +
		behaviorWeight*factors.Behavior
	return score, factors
}

// TopN sorts pairs by descending score, breaking ties by the other user's
// ID so results are deterministic, and truncates to n entries.
func TopN(items []domain.UserSimilarity, n int) []domain.UserSimilarity {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].OtherID < items[j].OtherID
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

func jaccardCountKeys(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func jaccardSet(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for key := range a {
		if b[key] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
