package readability

import (
	"strings"
	"testing"
	"time"
)

func TestExtractPrefersOpenGraphTitle(t *testing.T) {
	page := `<html><head>
		<meta property="og:title" content="OG Wins">
		<meta name="twitter:title" content="Twitter Title">
		<title>Document Title</title>
	</head><body><h1>Heading Title</h1></body></html>`

	got := Extract([]byte(page), "https://example.com/post")
	if got.Title != "OG Wins" {
		t.Fatalf("title = %q, want %q", got.Title, "OG Wins")
	}
}

func TestExtractTitleChainFallsThrough(t *testing.T) {
	cases := []struct {
		name string
		page string
		want string
	}{
		{
			name: "twitter when og missing",
			page: `<head><meta name="twitter:title" content="From Twitter"><title>Doc</title></head>`,
			want: "From Twitter",
		},
		{
			name: "document title when meta missing",
			page: `<head><title>Doc Title</title></head><body><h1>H1 Title</h1></body>`,
			want: "Doc Title",
		},
		{
			name: "h1 when title missing",
			page: `<body><h1>Only Heading</h1></body>`,
			want: "Only Heading",
		},
		{
			name: "domain when nothing found",
			page: `<body><p>plain</p></body>`,
			want: "example.com",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract([]byte(tc.page), "https://www.example.com/a")
			if got.Title != tc.want {
				t.Fatalf("title = %q, want %q", got.Title, tc.want)
			}
		})
	}
}

func TestExtractArticleContentSkipsBoilerplate(t *testing.T) {
	page := `<html><body>
		<nav>Home About Contact</nav>
		<article>
			<h1>Deep Work</h1>
			<p>Focus is a skill that compounds.</p>
			<script>track();</script>
			<p>Distraction is its tax.</p>
		</article>
		<footer>Copyright</footer>
	</body></html>`

	got := Extract([]byte(page), "https://example.com")
	if strings.Contains(got.Content, "Home About") {
		t.Fatalf("content leaked nav text: %q", got.Content)
	}
	if strings.Contains(got.Content, "track()") {
		t.Fatalf("content leaked script text: %q", got.Content)
	}
	if !strings.Contains(got.Content, "Focus is a skill that compounds.") {
		t.Fatalf("content missing first paragraph: %q", got.Content)
	}
	if !strings.Contains(got.Content, "Distraction is its tax.") {
		t.Fatalf("content missing second paragraph: %q", got.Content)
	}
}

func TestExtractHintedContainerFallback(t *testing.T) {
	page := `<html><body>
		<div class="sidebar">short</div>
		<div class="post-content">
			<p>This paragraph lives inside a hinted container and should win the fallback.</p>
		</div>
	</body></html>`

	got := Extract([]byte(page), "https://example.com")
	if !strings.Contains(got.Content, "hinted container") {
		t.Fatalf("content = %q, want hinted container text", got.Content)
	}
}

func TestExtractPublishedTime(t *testing.T) {
	page := `<head><meta property="article:published_time" content="2026-02-03T10:30:00Z"></head>`

	got := Extract([]byte(page), "https://example.com")
	if got.PublishedAt == nil {
		t.Fatal("expected published time")
	}
	want := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	if !got.PublishedAt.Equal(want) {
		t.Fatalf("published = %v, want %v", got.PublishedAt, want)
	}
}

func TestExtractTimeElementFallback(t *testing.T) {
	page := `<body><time datetime="2025-12-01">Dec 1</time><p>text</p></body>`

	got := Extract([]byte(page), "https://example.com")
	if got.PublishedAt == nil {
		t.Fatal("expected published time from <time> element")
	}
	if got.PublishedAt.Year() != 2025 || got.PublishedAt.Month() != time.December {
		t.Fatalf("published = %v, want 2025-12-01", got.PublishedAt)
	}
}

func TestExtractJSONLD(t *testing.T) {
	page := `<head><script type="application/ld+json">
	{"@type":"NewsArticle","headline":"LD Headline","author":{"name":"Jane Writer"},"datePublished":"2026-01-15T08:00:00Z","description":"An LD description."}
	</script></head><body></body>`

	got := Extract([]byte(page), "https://example.com")
	if got.Title != "LD Headline" {
		t.Fatalf("title = %q, want JSON-LD headline", got.Title)
	}
	if got.Author != "Jane Writer" {
		t.Fatalf("author = %q, want %q", got.Author, "Jane Writer")
	}
	if got.Excerpt != "An LD description." {
		t.Fatalf("excerpt = %q, want LD description", got.Excerpt)
	}
	if got.PublishedAt == nil || got.PublishedAt.Day() != 15 {
		t.Fatalf("published = %v, want Jan 15", got.PublishedAt)
	}
}

func TestExtractExcerptFirstLongParagraph(t *testing.T) {
	long := strings.Repeat("All work and no play makes a dull reader. ", 4)
	page := `<body><p>tiny</p><p>` + long + `</p></body>`

	got := Extract([]byte(page), "https://example.com")
	if !strings.HasPrefix(got.Excerpt, "All work and no play") {
		t.Fatalf("excerpt = %q, want first long paragraph", got.Excerpt)
	}
	if len([]rune(got.Excerpt)) > maxExcerptLen+1 {
		t.Fatalf("excerpt length %d exceeds cap", len([]rune(got.Excerpt)))
	}
}

func TestExtractMalformedHTMLDegrades(t *testing.T) {
	page := `<html><body><p>unclosed paragraph <div>nested <b>bold`

	got := Extract([]byte(page), "https://example.com/x")
	if got.Title != "example.com" {
		t.Fatalf("title = %q, want domain fallback", got.Title)
	}
	if !strings.Contains(got.Content, "unclosed paragraph") {
		t.Fatalf("content = %q, want text from malformed page", got.Content)
	}
}

func TestExtractAuthorMetaBeatsJSONLD(t *testing.T) {
	page := `<head>
		<meta name="author" content="Meta Author">
		<script type="application/ld+json">{"author":"LD Author"}</script>
	</head>`

	got := Extract([]byte(page), "https://example.com")
	if got.Author != "Meta Author" {
		t.Fatalf("author = %q, want meta author first", got.Author)
	}
}
