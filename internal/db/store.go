package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedvault/internal/model"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UpsertFeed creates the feed on first add and updates only the display name
// on re-add. Returns true when a new row was created.
func (db *DB) UpsertFeed(url, displayName string) (bool, error) {
	now := nowRFC3339()

	var existing string
	err := db.Get(&existing, "SELECT url FROM feeds WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := db.Exec(`
			INSERT INTO feeds (url, display_name, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, url, displayName, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert feed: %w", err)
		}
		return true, nil
	} else if err != nil {
		return false, err
	}

	_, err = db.Exec(`
		UPDATE feeds SET display_name = ?, updated_at = ? WHERE url = ?
	`, displayName, now, url)
	if err != nil {
		return false, fmt.Errorf("failed to update feed: %w", err)
	}
	return false, nil
}

func (db *DB) ListFeeds() ([]model.Feed, error) {
	var feeds []model.Feed
	if err := db.Select(&feeds, "SELECT * FROM feeds ORDER BY created_at"); err != nil {
		return nil, err
	}
	return feeds, nil
}

func (db *DB) GetFeed(url string) (*model.Feed, error) {
	var feed model.Feed
	if err := db.Get(&feed, "SELECT * FROM feeds WHERE url = ?", url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &feed, nil
}

func (db *DB) GetCacheEntry(url string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	if err := db.Get(&entry, "SELECT * FROM cache_entries WHERE url = ?", url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// PutCacheEntry overwrites the entry for the URL. Callers only invoke this
// after a fetch produced a usable body, so a failed refresh can never clobber
// a known-good payload.
func (db *DB) PutCacheEntry(entry model.CacheEntry) error {
	_, err := db.Exec(`
		INSERT INTO cache_entries (url, kind, http_status, content_type, etag, last_modified, fetched_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			kind = excluded.kind,
			http_status = excluded.http_status,
			content_type = excluded.content_type,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			fetched_at = excluded.fetched_at,
			body = excluded.body
	`, entry.URL, entry.Kind, entry.HTTPStatus, entry.ContentType, entry.ETag,
		entry.LastModified, entry.FetchedAt, entry.Body)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// UpsertArticle merges metadata into the article row. markdown_path is owned
// by materialization and is never overwritten with null here.
func (db *DB) UpsertArticle(article model.Article) error {
	now := nowRFC3339()
	_, err := db.Exec(`
		INSERT INTO articles (id, feed_url, guid, link, title, author, published_at,
			content_html, content_snippet, markdown_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			feed_url = excluded.feed_url,
			guid = COALESCE(excluded.guid, articles.guid),
			link = COALESCE(excluded.link, articles.link),
			title = excluded.title,
			author = COALESCE(excluded.author, articles.author),
			published_at = COALESCE(excluded.published_at, articles.published_at),
			content_html = COALESCE(excluded.content_html, articles.content_html),
			content_snippet = COALESCE(excluded.content_snippet, articles.content_snippet),
			markdown_path = COALESCE(excluded.markdown_path, articles.markdown_path),
			updated_at = excluded.updated_at
	`, article.ID, article.FeedURL, article.GUID, article.Link, article.Title,
		article.Author, article.PublishedAt, article.ContentHTML,
		article.ContentSnippet, article.MarkdownPath, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}
	return nil
}

func (db *DB) GetArticle(id string) (*model.Article, error) {
	var article model.Article
	if err := db.Get(&article, "SELECT * FROM articles WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &article, nil
}

func (db *DB) SetMarkdownPath(articleID, markdownPath string) error {
	_, err := db.Exec(`
		UPDATE articles SET markdown_path = ?, updated_at = ? WHERE id = ?
	`, markdownPath, nowRFC3339(), articleID)
	if err != nil {
		return fmt.Errorf("failed to set markdown path: %w", err)
	}
	return nil
}

func (db *DB) GetArticleState(articleID string) (*model.ArticleState, error) {
	var state model.ArticleState
	if err := db.Get(&state, "SELECT * FROM article_states WHERE article_id = ?", articleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// UpsertArticleState applies a partial state change. Nil fields leave the
// prior value (or the zero default for a fresh row) unchanged.
func (db *DB) UpsertArticleState(articleID string, isRead, isFavorite *bool) (*model.ArticleState, error) {
	prior, err := db.GetArticleState(articleID)
	if err != nil {
		return nil, err
	}

	state := model.ArticleState{ArticleID: articleID}
	if prior != nil {
		state = *prior
	}
	if isRead != nil {
		state.IsRead = *isRead
	}
	if isFavorite != nil {
		state.IsFavorite = *isFavorite
	}
	state.UpdatedAt = nowRFC3339()

	_, err = db.Exec(`
		INSERT INTO article_states (article_id, is_read, is_favorite, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (article_id) DO UPDATE SET
			is_read = excluded.is_read,
			is_favorite = excluded.is_favorite,
			updated_at = excluded.updated_at
	`, state.ArticleID, state.IsRead, state.IsFavorite, state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert article state: %w", err)
	}

	return &state, nil
}

func (db *DB) InsertArticleNote(note model.ArticleNote) error {
	_, err := db.Exec(`
		INSERT INTO article_notes (id, article_id, note_path, created_at)
		VALUES (?, ?, ?, ?)
	`, note.ID, note.ArticleID, note.NotePath, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert article note: %w", err)
	}
	return nil
}

func (db *DB) ListArticleNotes(articleID string) ([]model.ArticleNote, error) {
	var notes []model.ArticleNote
	err := db.Select(&notes, `
		SELECT * FROM article_notes WHERE article_id = ? ORDER BY created_at
	`, articleID)
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (db *DB) InsertActivityEvent(eventType model.ActivityType, articleID *string, payloadJSON string) error {
	_, err := db.Exec(`
		INSERT INTO activity_events (type, article_id, payload_json, created_at)
		VALUES (?, ?, ?, ?)
	`, string(eventType), articleID, payloadJSON, nowRFC3339())
	if err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}
	return nil
}

func (db *DB) ListActivityEvents(since, until *time.Time, limit int) ([]model.ActivityEvent, error) {
	query := "SELECT * FROM activity_events WHERE 1=1"
	args := []interface{}{}

	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	if until != nil {
		query += " AND created_at <= ?"
		args = append(args, until.UTC().Format(time.RFC3339))
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var events []model.ActivityEvent
	if err := db.Select(&events, query, args...); err != nil {
		return nil, err
	}
	return events, nil
}
