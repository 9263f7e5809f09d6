package model

import (
	"time"
)

type Feed struct {
	URL         string `db:"url" json:"url"`
	DisplayName string `db:"display_name" json:"display_name"`
	CreatedAt   string `db:"created_at" json:"created_at"`
	UpdatedAt   string `db:"updated_at" json:"updated_at"`
}

// CacheKind distinguishes feed payloads from article payloads in the
// persistent cache.
type CacheKind string

const (
	CacheKindFeed    CacheKind = "feed"
	CacheKindArticle CacheKind = "article"
)

type CacheEntry struct {
	URL          string  `db:"url" json:"url"`
	Kind         string  `db:"kind" json:"kind"`
	HTTPStatus   int     `db:"http_status" json:"http_status"`
	ContentType  *string `db:"content_type" json:"content_type,omitempty"`
	ETag         *string `db:"etag" json:"etag,omitempty"`
	LastModified *string `db:"last_modified" json:"last_modified,omitempty"`
	FetchedAt    string  `db:"fetched_at" json:"fetched_at"`
	Body         []byte  `db:"body" json:"-"`
}

type Article struct {
	ID             string  `db:"id" json:"id"`
	FeedURL        string  `db:"feed_url" json:"feed_url"`
	GUID           *string `db:"guid" json:"guid,omitempty"`
	Link           *string `db:"link" json:"link,omitempty"`
	Title          string  `db:"title" json:"title"`
	Author         *string `db:"author" json:"author,omitempty"`
	PublishedAt    *string `db:"published_at" json:"published_at,omitempty"`
	ContentHTML    *string `db:"content_html" json:"content_html,omitempty"`
	ContentSnippet *string `db:"content_snippet" json:"content_snippet,omitempty"`
	MarkdownPath   *string `db:"markdown_path" json:"markdown_path,omitempty"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
	UpdatedAt      string  `db:"updated_at" json:"updated_at"`
}

type ArticleState struct {
	ArticleID  string `db:"article_id" json:"article_id"`
	IsRead     bool   `db:"is_read" json:"is_read"`
	IsFavorite bool   `db:"is_favorite" json:"is_favorite"`
	UpdatedAt  string `db:"updated_at" json:"updated_at"`
}

type ArticleNote struct {
	ID        string `db:"id" json:"id"`
	ArticleID string `db:"article_id" json:"article_id"`
	NotePath  string `db:"note_path" json:"note_path"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

type ActivityType string

const (
	ActivityState       ActivityType = "state"
	ActivityNote        ActivityType = "note"
	ActivityMaterialize ActivityType = "materialize"
)

type ActivityEvent struct {
	ID          int64   `db:"id" json:"id"`
	Type        string  `db:"type" json:"type"`
	ArticleID   *string `db:"article_id" json:"article_id,omitempty"`
	PayloadJSON string  `db:"payload_json" json:"payload_json"`
	CreatedAt   string  `db:"created_at" json:"created_at"`
}

// CanonicalFeed is the normalized shape of a parsed feed, independent of
// whether the source was RSS, Atom, or JSON Feed.
type CanonicalFeed struct {
	Title       string          `json:"title"`
	Description *string         `json:"description,omitempty"`
	Link        *string         `json:"link,omitempty"`
	Items       []CanonicalItem `json:"items"`
}

// CanonicalItem carries one normalized feed entry. Optional fields are nil
// when the source carried nothing; downstream code must treat nil and empty
// identically when deciding whether content exists.
type CanonicalItem struct {
	FeedURL     string     `json:"feed_url"`
	Title       string     `json:"title"`
	Link        *string    `json:"link,omitempty"`
	GUID        *string    `json:"guid,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	BodyHTML    *string    `json:"body_html,omitempty"`
	Snippet     *string    `json:"snippet,omitempty"`
	Author      *string    `json:"author,omitempty"`
}

// Subscription is one candidate feed discovered in an OPML outline tree.
type Subscription struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}
