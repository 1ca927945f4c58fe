package app

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// chunkPart is one extracted slice of book text plus the section it came
// from (a PDF page or an EPUB spine file; empty for plain text).
type chunkPart struct {
	Content string
	Section string
}

func (a *App) parseAndChunk(filename, path string) ([]chunkPart, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return a.parsePDF(path)
	case ".epub":
		return a.parseEPUB(path)
	default:
		return a.parseText(path)
	}
}

func (a *App) parsePDF(path string) ([]chunkPart, error) {
	// pdftotext copes with layouts and encodings the pure-Go reader cannot.
	parts, err := a.parsePDFWithPdftotext(path)
	if err == nil && len(parts) > 0 {
		return parts, nil
	}
	return a.parsePDFWithGoLib(path)
}

// parsePDFWithPdftotext shells out to poppler's pdftotext when installed.
func (a *App) parsePDFWithPdftotext(path string) ([]chunkPart, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not found: %w", err)
	}
	cmd := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	text := normalizeText(string(output))
	if text == "" {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	var parts []chunkPart
	for _, piece := range chunkText(text, a.chunkSize, a.chunkOverlap) {
		parts = append(parts, chunkPart{Content: piece})
	}
	return parts, nil
}

func (a *App) parsePDFWithGoLib(path string) ([]chunkPart, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	var parts []chunkPart
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole book.
			continue
		}
		text = normalizeText(text)
		section := fmt.Sprintf("page %d", i)
		for _, piece := range chunkText(text, a.chunkSize, a.chunkOverlap) {
			parts = append(parts, chunkPart{Content: piece, Section: section})
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	return parts, nil
}

func (a *App) parseEPUB(path string) ([]chunkPart, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()
	var parts []chunkPart
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !(strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("read epub file: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse epub html: %w", err)
		}
		text := normalizeText(nodeText(doc))
		section := filepath.Base(file.Name)
		for _, piece := range chunkText(text, a.chunkSize, a.chunkOverlap) {
			parts = append(parts, chunkPart{Content: piece, Section: section})
		}
	}
	return parts, nil
}

func (a *App) parseText(path string) ([]chunkPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	text := normalizeText(string(data))
	pieces := chunkText(text, a.chunkSize, a.chunkOverlap)
	parts := make([]chunkPart, 0, len(pieces))
	for _, piece := range pieces {
		parts = append(parts, chunkPart{Content: piece})
	}
	return parts, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// chunkText splits text into rune windows of the given size, stepping by
// size minus overlap so adjacent chunks share context.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// nodeText flattens an HTML document to plain text, skipping script and
// style elements and spacing out block boundaries.
func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
