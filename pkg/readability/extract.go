// Package readability turns raw article HTML into clean text and metadata
// for URL imports. Extraction degrades instead of failing: missing signals
// fall through priority chains and the worst case is body text under a
// domain-name title.
package readability

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Article is the extraction result for one page.
type Article struct {
	Title       string
	Author      string
	Excerpt     string
	Content     string
	PublishedAt *time.Time
}

const (
	maxExcerptLen   = 300
	minParagraphLen = 80
)

// Tags whose subtrees never contribute article text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"noscript": true,
	"form":     true,
}

// Class/id fragments that suggest a main-content container.
var contentHints = []string{"content", "article", "post", "entry", "story", "body", "text", "main"}

// Extract parses the page and resolves title, author, excerpt, publication
// date, and content through per-field priority chains. It never returns an
// error: malformed HTML still yields a tree, and empty fields simply stay
// empty (the title falls back to the page's domain name).
func Extract(rawHTML []byte, pageURL string) Article {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return Article{Title: domainName(pageURL)}
	}

	meta := collectMetadata(doc)

	article := Article{
		Title:       firstNonEmpty(meta.ogTitle, meta.twitterTitle, meta.htmlTitle, meta.h1, meta.ld.headline, domainName(pageURL)),
		Author:      firstNonEmpty(meta.metaAuthor, meta.articleAuthor, meta.ld.author),
		Content:     extractContent(doc),
		PublishedAt: parsePublished(meta.articlePublished, meta.ld.published, meta.timeDatetime),
	}
	article.Excerpt = firstNonEmpty(meta.ogDescription, meta.metaDescription, meta.ld.description)
	if article.Excerpt == "" {
		article.Excerpt = firstLongParagraph(doc)
	}
	article.Excerpt = truncate(article.Excerpt, maxExcerptLen)
	return article
}

type metadata struct {
	ogTitle          string
	twitterTitle     string
	htmlTitle        string
	h1               string
	ogDescription    string
	metaDescription  string
	metaAuthor       string
	articleAuthor    string
	articlePublished string
	timeDatetime     string
	ld               ldFields
}

func collectMetadata(doc *html.Node) metadata {
	var meta metadata
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				var property, name, content string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "property":
						property = strings.ToLower(attr.Val)
					case "name":
						name = strings.ToLower(attr.Val)
					case "content":
						content = attr.Val
					}
				}
				switch {
				case property == "og:title" && meta.ogTitle == "":
					meta.ogTitle = strings.TrimSpace(content)
				case (name == "twitter:title" || property == "twitter:title") && meta.twitterTitle == "":
					meta.twitterTitle = strings.TrimSpace(content)
				case property == "og:description" && meta.ogDescription == "":
					meta.ogDescription = strings.TrimSpace(content)
				case name == "description" && meta.metaDescription == "":
					meta.metaDescription = strings.TrimSpace(content)
				case name == "author" && meta.metaAuthor == "":
					meta.metaAuthor = strings.TrimSpace(content)
				case property == "article:author" && meta.articleAuthor == "":
					meta.articleAuthor = strings.TrimSpace(content)
				case property == "article:published_time" && meta.articlePublished == "":
					meta.articlePublished = strings.TrimSpace(content)
				}
			case "title":
				if meta.htmlTitle == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.htmlTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			case "h1":
				if meta.h1 == "" {
					meta.h1 = textOf(n)
				}
			case "time":
				if meta.timeDatetime == "" {
					for _, attr := range n.Attr {
						if attr.Key == "datetime" && strings.TrimSpace(attr.Val) != "" {
							meta.timeDatetime = strings.TrimSpace(attr.Val)
						}
					}
				}
			case "script":
				if isJSONLD(n) && n.FirstChild != nil {
					mergeLDFields(&meta.ld, parseJSONLD(n.FirstChild.Data))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

func isJSONLD(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key == "type" && strings.EqualFold(strings.TrimSpace(attr.Val), "application/ld+json") {
			return true
		}
	}
	return false
}

// extractContent picks the best content container: an <article> tag, then
// <main>, then the hinted container with the most text, then the whole
// <body> minus boilerplate subtrees.
func extractContent(doc *html.Node) string {
	if article := findTag(doc, "article"); article != nil {
		if text := blockText(article); text != "" {
			return text
		}
	}
	if main := findTag(doc, "main"); main != nil {
		if text := blockText(main); text != "" {
			return text
		}
	}
	if hinted := findHintedContainer(doc); hinted != nil {
		if text := blockText(hinted); text != "" {
			return text
		}
	}
	if body := findTag(doc, "body"); body != nil {
		return blockText(body)
	}
	return blockText(doc)
}

func findTag(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findHintedContainer(doc *html.Node) *html.Node {
	var best *html.Node
	bestLen := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "div" || n.Data == "section") && hasContentHint(n) {
			if length := len(blockText(n)); length > bestLen {
				best = n
				bestLen = length
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return best
}

func hasContentHint(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" {
			continue
		}
		value := strings.ToLower(attr.Val)
		for _, hint := range contentHints {
			if strings.Contains(value, hint) {
				return true
			}
		}
	}
	return false
}

// blockText renders the node's text with blank lines between block elements,
// skipping boilerplate subtrees.
func blockText(root *html.Node) string {
	var blocks []string
	var current strings.Builder

	flush := func() {
		if text := strings.Join(strings.Fields(current.String()), " "); text != "" {
			blocks = append(blocks, text)
		}
		current.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteString(" ")
		}
		isBlock := n.Type == html.ElementNode && blockTags[n.Data]
		if isBlock {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if isBlock {
			flush()
		}
	}
	walk(root)
	flush()
	return strings.Join(blocks, "\n\n")
}

var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "li": true, "blockquote": true, "pre": true, "br": true,
	"div": true, "section": true, "article": true, "tr": true,
}

// textOf returns the node's text collapsed to single spaces.
func textOf(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func firstLongParagraph(doc *html.Node) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			if text := textOf(n); len(text) >= minParagraphLen {
				found = text
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parsePublished(candidates ...string) *time.Time {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		for _, layout := range publishedLayouts {
			if ts, err := time.Parse(layout, candidate); err == nil {
				utc := ts.UTC()
				return &utc
			}
		}
	}
	return nil
}

func domainName(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return strings.TrimSpace(pageURL)
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
