package app

import "errors"

var (
	// ErrBookNotReady indicates a book whose content has not finished processing.
	ErrBookNotReady      = errors.New("book not ready")
	ErrBookNotFound      = errors.New("book not found")
	ErrForbidden         = errors.New("forbidden")
	ErrCardNotFound      = errors.New("flashcard not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeClosed   = errors.New("challenge closed")
	ErrNotJoined         = errors.New("challenge not joined")
	// ErrGenerationFailed wraps upstream LLM failures; details stay in the logs.
	ErrGenerationFailed = errors.New("generation failed")
)
