package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"readmaster/pkg/domain"
	"readmaster/pkg/queue"
	"readmaster/pkg/readability"
)

// HandleImport processes one import job from the stream. Returning an
// error hands the job back to the queue for retry; the book is flagged
// failed on each attempt so its status never goes stale, and a later
// successful attempt flips it back to ready.
func (a *App) HandleImport(ctx context.Context, job queue.ImportJob) error {
	book, ok, err := a.store.GetBook(job.BookID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return fmt.Errorf("book %s not found", job.BookID)
	}
	if err := a.store.SetBookStatus(book.ID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	switch job.Kind {
	case queue.KindUpload:
		err = a.importUpload(ctx, book)
	case queue.KindURL:
		err = a.importURL(ctx, book, job.SourceURL)
	default:
		err = fmt.Errorf("unknown import kind %q", job.Kind)
	}
	if err != nil {
		if statusErr := a.store.SetBookStatus(book.ID, domain.StatusFailed, err.Error()); statusErr != nil {
			slog.Error("mark book failed", "book_id", book.ID, "error", statusErr)
		}
		return err
	}
	return a.store.SetBookStatus(book.ID, domain.StatusReady, "")
}

func (a *App) importUpload(ctx context.Context, book domain.Book) error {
	if book.StorageKey == "" {
		return fmt.Errorf("book has no stored file")
	}
	rc, err := a.objects.Get(ctx, book.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch stored file: %w", err)
	}
	defer rc.Close()

	// The PDF and EPUB readers both need a seekable file on disk.
	tmp, err := os.CreateTemp("", "import-*"+filepath.Ext(book.OriginalFilename))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	parts, err := a.parseAndChunk(book.OriginalFilename, tmp.Name())
	if err != nil {
		return err
	}
	return a.storeChunks(book.ID, parts)
}

func (a *App) importURL(ctx context.Context, book domain.Book, sourceURL string) error {
	if sourceURL == "" {
		sourceURL = book.SourceURL
	}
	raw, err := a.fetchPage(ctx, sourceURL)
	if err != nil {
		return err
	}
	article := readability.Extract(raw, sourceURL)
	if article.Content == "" {
		return fmt.Errorf("no readable content at %s", sourceURL)
	}

	// Page metadata fills in whatever the reader left blank at import time.
	changed := false
	if book.Title == "" && article.Title != "" {
		book.Title = article.Title
		changed = true
	}
	if book.Author == "" && article.Author != "" {
		book.Author = article.Author
		changed = true
	}
	if book.Excerpt == "" && article.Excerpt != "" {
		book.Excerpt = article.Excerpt
		changed = true
	}
	if book.PublishedAt == nil && article.PublishedAt != nil {
		book.PublishedAt = article.PublishedAt
		changed = true
	}
	if changed {
		book.UpdatedAt = time.Now().UTC()
		if err := a.store.SaveBook(book); err != nil {
			return fmt.Errorf("save book metadata: %w", err)
		}
	}

	var parts []chunkPart
	for _, piece := range chunkText(article.Content, a.chunkSize, a.chunkOverlap) {
		parts = append(parts, chunkPart{Content: piece})
	}
	return a.storeChunks(book.ID, parts)
}

func (a *App) fetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", a.fetchUserAgent)
	resp, err := a.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch failed: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.fetchMaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if int64(len(data)) > a.fetchMaxBytes {
		return nil, fmt.Errorf("page exceeds %d byte limit", a.fetchMaxBytes)
	}
	return data, nil
}

func (a *App) storeChunks(bookID string, parts []chunkPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("no content extracted")
	}
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			ID:        uuid.NewString(),
			BookID:    bookID,
			Index:     i,
			Section:   part.Section,
			Content:   part.Content,
			CreatedAt: now,
		})
	}
	if err := a.store.ReplaceChunks(bookID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}
