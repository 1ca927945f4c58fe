package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"readmaster/pkg/domain"
	"readmaster/pkg/textsim"
)

const (
	defaultCardCount = 8
	maxCardCount     = 20

	cardContextChunks  = 8
	guideContextChunks = 6

	maxPassageRunes  = 4000
	maxQuestionRunes = 500
)

// GenerateResult reports which generated cards survived the duplicate filter.
type GenerateResult struct {
	Cards      []domain.Flashcard `json:"cards"`
	Kept       int                `json:"kept"`
	Duplicates int                `json:"duplicates"`
}

type cardCandidate struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// GenerateFlashcards asks the LLM for question/answer pairs over the book's
// content, drops near-duplicates of the user's existing cards, and persists
// the survivors ready for immediate review.
func (a *App) GenerateFlashcards(ctx context.Context, user domain.User, bookID, chapter string, count int) (GenerateResult, error) {
	if count <= 0 {
		count = defaultCardCount
	}
	if count > maxCardCount {
		count = maxCardCount
	}
	book, err := a.ownedBook(user, bookID)
	if err != nil {
		return GenerateResult{}, err
	}
	if book.Status != domain.StatusReady {
		return GenerateResult{}, ErrBookNotReady
	}
	chunks, err := a.store.ListChunksByBook(bookID, cardContextChunks)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return GenerateResult{}, ErrBookNotReady
	}
	existing, err := a.store.ListFlashcardsByOwner(user.ID, bookID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("list flashcards: %w", err)
	}
	existingFronts := make([]string, 0, len(existing))
	for _, card := range existing {
		existingFronts = append(existingFronts, card.Front)
	}

	userPrompt := buildCardPrompt(book, chapter, chunks, count)
	raw, err := a.gen.GenerateText(ctx, cardSystemPrompt, userPrompt)
	if err != nil {
		slog.Error("flashcard generation failed", "book_id", bookID, "error", err)
		return GenerateResult{}, ErrGenerationFailed
	}
	candidates, err := parseCardCandidates(raw)
	if err != nil {
		slog.Error("flashcard generation returned malformed output", "book_id", bookID, "error", err, "head", truncateForLog(raw, 200))
		return GenerateResult{}, ErrGenerationFailed
	}

	fronts := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		fronts = append(fronts, cand.Front)
	}
	kept, dropped := textsim.FilterDuplicates(fronts, existingFronts, textsim.DefaultThreshold)
	result := GenerateResult{Cards: []domain.Flashcard{}, Duplicates: dropped}
	if len(kept) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	chapter = strings.TrimSpace(chapter)
	cards := make([]domain.Flashcard, 0, len(kept))
	next := 0
	for _, cand := range candidates {
		if next >= len(kept) {
			break
		}
		if cand.Front != kept[next] {
			continue
		}
		next++
		card := domain.Flashcard{
			ID:        uuid.NewString(),
			OwnerID:   user.ID,
			BookID:    bookID,
			Chapter:   chapter,
			Front:     cand.Front,
			Back:      cand.Back,
			CreatedAt: now,
			UpdatedAt: now,
		}
		cards = append(cards, a.srs.InitCard(card, now))
	}
	if err := a.store.CreateFlashcards(cards); err != nil {
		return result, fmt.Errorf("save flashcards: %w", err)
	}
	result.Cards = cards
	result.Kept = len(cards)
	return result, nil
}

// Explain answers a reader's question about a passage. The answer is not
// persisted.
func (a *App) Explain(ctx context.Context, user domain.User, passage, question string) (string, error) {
	passage = strings.TrimSpace(passage)
	if passage == "" {
		return "", fmt.Errorf("passage required")
	}
	if len([]rune(passage)) > maxPassageRunes {
		return "", fmt.Errorf("passage too long (max %d characters)", maxPassageRunes)
	}
	question = strings.TrimSpace(question)
	if len([]rune(question)) > maxQuestionRunes {
		return "", fmt.Errorf("question too long (max %d characters)", maxQuestionRunes)
	}
	var sb strings.Builder
	sb.WriteString("Passage:\n")
	sb.WriteString(passage)
	sb.WriteString("\n\n")
	if question != "" {
		sb.WriteString("Question: ")
		sb.WriteString(question)
		sb.WriteString("\n\nAnswer the question using only the passage. If the passage does not contain the answer, say so.")
	} else {
		sb.WriteString("Explain this passage in plain language for a general reader. Clarify difficult terms and the author's point.")
	}
	answer, err := a.gen.GenerateText(ctx, explainSystemPrompt, sb.String())
	if err != nil {
		slog.Error("explanation failed", "user_id", user.ID, "error", err)
		return "", ErrGenerationFailed
	}
	return answer, nil
}

// PreReadingGuide produces a sectioned orientation text for a book before
// the reader starts it.
func (a *App) PreReadingGuide(ctx context.Context, user domain.User, bookID string) (string, error) {
	book, err := a.ownedBook(user, bookID)
	if err != nil {
		return "", err
	}
	if book.Status != domain.StatusReady {
		return "", ErrBookNotReady
	}
	chunks, err := a.store.ListChunksByBook(bookID, guideContextChunks)
	if err != nil {
		return "", fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", ErrBookNotReady
	}
	guide, err := a.gen.GenerateText(ctx, guideSystemPrompt, buildGuidePrompt(book, chunks))
	if err != nil {
		slog.Error("guide generation failed", "book_id", bookID, "error", err)
		return "", ErrGenerationFailed
	}
	return guide, nil
}

const cardSystemPrompt = "You are a study assistant that writes spaced-repetition flashcards. " +
	"Each card asks one specific question answerable from the provided text. " +
	"Respond with a JSON array only, no markdown fences and no commentary."

const explainSystemPrompt = "You are a patient reading tutor. Ground every explanation in the " +
	"provided passage and keep it concise."

const guideSystemPrompt = "You are a reading coach preparing someone to start a book. " +
	"Write plain text with short section headings, no markdown."

func buildCardPrompt(book domain.Book, chapter string, chunks []domain.Chunk, count int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Book: %s\n", book.Title)
	if book.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", book.Author)
	}
	if chapter = strings.TrimSpace(chapter); chapter != "" {
		fmt.Fprintf(&sb, "Focus chapter: %s\n", chapter)
	}
	sb.WriteString("\nExcerpts:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, chunk.Content)
	}
	fmt.Fprintf(&sb, "Write %d flashcards covering the most important facts and ideas in these excerpts.\n", count)
	sb.WriteString(`Return a JSON array in exactly this shape: [{"front": "question", "back": "answer"}]`)
	return sb.String()
}

func buildGuidePrompt(book domain.Book, chunks []domain.Chunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Book: %s\n", book.Title)
	if book.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", book.Author)
	}
	if len(book.Genres) > 0 {
		fmt.Fprintf(&sb, "Genres: %s\n", strings.Join(book.Genres, ", "))
	}
	if book.Excerpt != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", book.Excerpt)
	}
	sb.WriteString("\nOpening excerpts:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, chunk.Content)
	}
	sb.WriteString("Write a pre-reading guide with these sections: What to expect, " +
		"Key themes to watch for, Questions to keep in mind, and Terms worth knowing.")
	return sb.String()
}

// parseCardCandidates decodes the model's JSON array, tolerating markdown
// fences and prose around it.
func parseCardCandidates(raw string) ([]cardCandidate, error) {
	cleaned := cleanJSONArray(raw)
	var decoded []cardCandidate
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	candidates := make([]cardCandidate, 0, len(decoded))
	for _, cand := range decoded {
		cand.Front = strings.TrimSpace(cand.Front)
		cand.Back = strings.TrimSpace(cand.Back)
		if cand.Front == "" || cand.Back == "" {
			continue
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no usable cards in response")
	}
	return candidates, nil
}

// cleanJSONArray strips markdown fences and any prose before the first '['
// or after the last ']'.
func cleanJSONArray(response string) string {
	response = strings.TrimSpace(response)
	if strings.Contains(response, "```") {
		start := strings.Index(response, "```json")
		if start == -1 {
			start = strings.Index(response, "```")
		}
		if start != -1 {
			if nl := strings.Index(response[start:], "\n"); nl != -1 {
				response = response[start+nl+1:]
			}
		}
		if end := strings.LastIndex(response, "```"); end != -1 {
			response = response[:end]
		}
		response = strings.TrimSpace(response)
	}
	if !strings.HasPrefix(response, "[") {
		if idx := strings.Index(response, "["); idx != -1 {
			response = response[idx:]
		}
	}
	if !strings.HasSuffix(response, "]") {
		if idx := strings.LastIndex(response, "]"); idx != -1 {
			response = response[:idx+1]
		}
	}
	return strings.TrimSpace(response)
}

func truncateForLog(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
