package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Example Blog</title>
    <link>https://blog.example.com</link>
    <description>Notes on things</description>
    <item>
      <title>Full content wins</title>
      <link>https://blog.example.com/full</link>
      <guid>post-1</guid>
      <description>&lt;p&gt;Short teaser&lt;/p&gt;</description>
      <content:encoded>&lt;p&gt;The &lt;b&gt;whole&lt;/b&gt; article body&lt;/p&gt;</content:encoded>
      <pubDate>Tue, 10 Jun 2025 08:30:00 GMT</pubDate>
      <author>jane@example.com (Jane Writer)</author>
    </item>
    <item>
      <title>Description only</title>
      <link>https://blog.example.com/desc</link>
      <description>&lt;p&gt;Only a description here&lt;/p&gt;</description>
      <dc:creator>DC Author</dc:creator>
      <pubDate>2025-06-11 09:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No date at all</title>
      <link>https://blog.example.com/undated</link>
    </item>
  </channel>
</rss>`

func TestParse_CanonicalShape(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()
	canonical, err := n.Parse([]byte(rssSample), "https://blog.example.com/feed.xml")
	require.NoError(t, err)

	require.Equal(t, "Example Blog", canonical.Title)
	require.NotNil(t, canonical.Description)
	require.Equal(t, "Notes on things", *canonical.Description)
	require.Len(t, canonical.Items, 3)

	for _, item := range canonical.Items {
		require.Equal(t, "https://blog.example.com/feed.xml", item.FeedURL)
	}
}

func TestParse_ContentPreferredOverDescription(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()
	canonical, err := n.Parse([]byte(rssSample), "https://blog.example.com/feed.xml")
	require.NoError(t, err)

	full := canonical.Items[0]
	require.NotNil(t, full.BodyHTML)
	require.Contains(t, *full.BodyHTML, "whole")
	require.NotContains(t, *full.BodyHTML, "teaser")

	// Snippet comes from the description and is tag-free.
	require.NotNil(t, full.Snippet)
	require.Equal(t, "Short teaser", *full.Snippet)

	descOnly := canonical.Items[1]
	require.NotNil(t, descOnly.BodyHTML)
	require.Contains(t, *descOnly.BodyHTML, "Only a description")
}

func TestParse_AuthorFallbacks(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()
	canonical, err := n.Parse([]byte(rssSample), "https://blog.example.com/feed.xml")
	require.NoError(t, err)

	require.NotNil(t, canonical.Items[0].Author)
	require.Contains(t, *canonical.Items[0].Author, "Jane Writer")

	require.NotNil(t, canonical.Items[1].Author)
	require.Equal(t, "DC Author", *canonical.Items[1].Author)

	require.Nil(t, canonical.Items[2].Author)
}

func TestParse_PublishedAtFallbacks(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()
	canonical, err := n.Parse([]byte(rssSample), "https://blog.example.com/feed.xml")
	require.NoError(t, err)

	first := canonical.Items[0].PublishedAt
	require.NotNil(t, first)
	require.Equal(t, time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC), first.UTC())

	// Non-RFC1123 date string still parses through the lenient fallback.
	second := canonical.Items[1].PublishedAt
	require.NotNil(t, second)
	require.Equal(t, 2025, second.UTC().Year())

	require.Nil(t, canonical.Items[2].PublishedAt)
}

func TestParse_SnippetTruncatedAndStripped(t *testing.T) {
	t.Parallel()

	longBody := "<p>" + strings.Repeat("word ", 200) + "</p>"
	payload := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
<item><title>Long</title><description>` + longBody + `</description></item>
</channel></rss>`

	n := NewNormalizer()
	canonical, err := n.Parse([]byte(payload), "https://x.example/feed")
	require.NoError(t, err)
	require.Len(t, canonical.Items, 1)

	snippet := canonical.Items[0].Snippet
	require.NotNil(t, snippet)
	require.LessOrEqual(t, len(*snippet), snippetMaxLen)
	require.NotContains(t, *snippet, "<p>")
}

func TestParse_MalformedPayload(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()
	_, err := n.Parse([]byte("this is not a feed"), "https://x.example/feed")
	require.Error(t, err)
}
