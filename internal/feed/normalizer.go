// Package feed turns raw feed payloads into canonical records and aggregates
// articles across the subscribed feed set.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"feedvault/internal/model"
)

const snippetMaxLen = 300

// Normalizer parses RSS, Atom, and JSON Feed payloads into one canonical
// shape. Alternate-name lookups (content:encoded vs description, author vs
// dc:creator) are resolved here and never leak past this boundary.
type Normalizer struct {
	parser    *gofeed.Parser
	stripTags *bluemonday.Policy
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		parser:    gofeed.NewParser(),
		stripTags: bluemonday.StrictPolicy(),
	}
}

func (n *Normalizer) Parse(raw []byte, feedURL string) (*model.CanonicalFeed, error) {
	parsed, err := n.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	canonical := &model.CanonicalFeed{
		Title:       parsed.Title,
		Description: optional(parsed.Description),
		Link:        optional(parsed.Link),
		Items:       make([]model.CanonicalItem, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		canonical.Items = append(canonical.Items, n.normalizeItem(item, feedURL))
	}

	return canonical, nil
}

func (n *Normalizer) normalizeItem(item *gofeed.Item, feedURL string) model.CanonicalItem {
	out := model.CanonicalItem{
		FeedURL: feedURL,
		Title:   item.Title,
		Link:    optional(item.Link),
		GUID:    optional(item.GUID),
	}

	// Prefer the explicit encoded-content field over the plain description.
	if item.Content != "" {
		out.BodyHTML = optional(item.Content)
	} else if item.Description != "" {
		out.BodyHTML = optional(item.Description)
	}

	if item.Description != "" {
		out.Snippet = optional(n.snippet(item.Description))
	} else if item.Content != "" {
		out.Snippet = optional(n.snippet(item.Content))
	}

	out.Author = n.author(item)
	out.PublishedAt = publishedAt(item)

	return out
}

// author prefers the explicit author field over the Dublin Core creator.
func (n *Normalizer) author(item *gofeed.Item) *string {
	if item.Author != nil && item.Author.Name != "" {
		return optional(item.Author.Name)
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return optional(item.DublinCoreExt.Creator[0])
	}
	return nil
}

// publishedAt prefers the explicit publish timestamp; the update timestamp
// and a lenient parse of the raw date string are fallbacks.
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func (n *Normalizer) snippet(html string) string {
	text := n.stripTags.Sanitize(html)
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > snippetMaxLen {
		text = text[:snippetMaxLen]
	}
	return text
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
