// Package article converts fetched article markup into self-contained local
// markdown documents and localizes their embedded resources.
package article

import (
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"
)

// FrontMatter is the metadata block at the head of a materialized document.
// Keys with empty values are omitted from the rendered block.
type FrontMatter struct {
	Title       string `yaml:"title,omitempty"`
	Source      string `yaml:"source,omitempty"`
	FeedURL     string `yaml:"feed_url,omitempty"`
	Author      string `yaml:"author,omitempty"`
	PublishedAt string `yaml:"published_at,omitempty"`
	SavedAt     string `yaml:"saved_at,omitempty"`
}

// Document is a materialized article: front matter plus converted body.
type Document struct {
	FrontMatter FrontMatter
	Markdown    string
}

// Render produces the on-disk form: a `---`-delimited block of key: jsonValue
// lines followed by the markdown body.
func (d *Document) Render() string {
	var b strings.Builder
	b.WriteString("---\n")
	writeField(&b, "title", d.FrontMatter.Title)
	writeField(&b, "source", d.FrontMatter.Source)
	writeField(&b, "feed_url", d.FrontMatter.FeedURL)
	writeField(&b, "author", d.FrontMatter.Author)
	writeField(&b, "published_at", d.FrontMatter.PublishedAt)
	writeField(&b, "saved_at", d.FrontMatter.SavedAt)
	b.WriteString("---\n\n")
	b.WriteString(d.Markdown)
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	// JSON scalars are valid YAML, so the block stays parseable both ways.
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", key, encoded)
}

// ParseRendered splits a rendered document back into front matter and body.
// Used by the localization pass, which operates on already-persisted files.
func ParseRendered(content string) (*Document, error) {
	if !strings.HasPrefix(content, "---\n") {
		return &Document{Markdown: content}, nil
	}

	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return &Document{Markdown: content}, nil
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return nil, fmt.Errorf("failed to parse front matter: %w", err)
	}

	body := strings.TrimPrefix(rest[idx+len("\n---\n"):], "\n")
	return &Document{FrontMatter: fm, Markdown: body}, nil
}

// Materializer converts article HTML into markdown documents.
type Materializer struct {
	sanitizer *bluemonday.Policy
}

func NewMaterializer() *Materializer {
	// UGC policy keeps headings, links, lists, and images while dropping
	// script, style, noscript, and frame content outright.
	return &Materializer{sanitizer: bluemonday.UGCPolicy()}
}

// Materialize extracts the primary content region of the page (the whole
// body when no article-like region is found) and converts it to markdown
// preserving headings, links, and images.
func (m *Materializer) Materialize(articleHTML, sourceURL string) (*Document, error) {
	content := articleHTML
	title := ""

	parsed, err := readability.FromReader(strings.NewReader(articleHTML), mustParseURL(sourceURL))
	if err == nil && strings.TrimSpace(parsed.Content) != "" {
		content = parsed.Content
		title = parsed.Title
	}

	content = m.sanitizer.Sanitize(content)

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to convert markup: %w", err)
	}

	return &Document{
		FrontMatter: FrontMatter{
			Title:  title,
			Source: sourceURL,
		},
		Markdown: tidyMarkdown(markdown),
	}, nil
}

// tidyMarkdown collapses runs of blank lines left behind by stripped markup.
func tidyMarkdown(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var cleaned []string

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			if len(cleaned) > 0 && cleaned[len(cleaned)-1] != "" {
				cleaned = append(cleaned, "")
			}
			continue
		}
		cleaned = append(cleaned, trimmed)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
