// Package pipeline wires the ingestion components into one service object
// exposing the operations the CLI and HTTP surfaces call. It is constructed
// once at process start and passed by reference wherever fetches originate,
// so the queue and cache stay shared without hidden globals.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"feedvault/internal/activity"
	"feedvault/internal/article"
	"feedvault/internal/db"
	"feedvault/internal/feed"
	"feedvault/internal/httpcache"
	"feedvault/internal/model"
	"feedvault/internal/urlguard"
)

type Service struct {
	store        *db.DB
	validator    *urlguard.Validator
	feeds        *feed.Service
	fetcher      *httpcache.Client
	materializer *article.Materializer
	localizer    *article.Localizer
	activityLog  *activity.Log
	dataDir      string
	logger       *zap.Logger

	// bg tracks detached localization tasks so shutdown can drain them.
	bg sync.WaitGroup
}

func New(store *db.DB, validator *urlguard.Validator, feeds *feed.Service, fetcher *httpcache.Client, activityLog *activity.Log, dataDir string, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		validator:    validator,
		feeds:        feeds,
		fetcher:      fetcher,
		materializer: article.NewMaterializer(),
		localizer:    article.NewLocalizer(fetcher, logger),
		activityLog:  activityLog,
		dataDir:      dataDir,
		logger:       logger,
	}
}

// Wait blocks until all detached background tasks have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

// AddFeed validates the URL and creates or renames the subscription. Returns
// true when the feed was newly added.
func (s *Service) AddFeed(ctx context.Context, feedURL, name string) (bool, error) {
	if err := s.validator.Validate(ctx, feedURL); err != nil {
		return false, fmt.Errorf("feed rejected: %w", err)
	}

	if name == "" {
		if parsed, err := url.Parse(feedURL); err == nil && parsed.Host != "" {
			name = parsed.Host
		} else {
			name = feedURL
		}
	}

	return s.store.UpsertFeed(feedURL, name)
}

// ImportOPML adds every subscription candidate found in the outline tree.
// Rejected or duplicate candidates are skipped, not fatal.
func (s *Service) ImportOPML(ctx context.Context, raw []byte) (int, error) {
	subs, err := feed.ParseOPML(raw)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, sub := range subs {
		wasNew, err := s.AddFeed(ctx, sub.URL, sub.Name)
		if err != nil {
			s.logger.Warn("skipping OPML subscription",
				zap.String("url", sub.URL), zap.Error(err))
			continue
		}
		if wasNew {
			added++
		}
	}

	return added, nil
}

func (s *Service) ListFeeds() ([]model.Feed, error) {
	return s.store.ListFeeds()
}

func (s *Service) FetchFeed(ctx context.Context, feedURL string) (*model.CanonicalFeed, error) {
	return s.feeds.FetchFeed(ctx, feedURL)
}

// FetchPage downloads a page body through the validated, rate-limited queue.
// Used when archiving by URL rather than from supplied HTML.
func (s *Service) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	result, err := s.fetcher.FetchResource(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

func (s *Service) GetAllArticles(ctx context.Context, limit int) ([]model.CanonicalItem, error) {
	return s.feeds.GetAllArticles(ctx, limit)
}

func (s *Service) GetArticlesByDate(ctx context.Context, date time.Time, windowDays int) ([]model.CanonicalItem, error) {
	return s.feeds.GetArticlesByDate(ctx, date, windowDays)
}

// MaterializeArticle converts article HTML into a persisted markdown document
// with front matter, records the article row, and runs an initial resource
// localization pass. Localization failures are logged, never fatal to the
// save.
func (s *Service) MaterializeArticle(ctx context.Context, articleHTML, sourceURL string) (string, *article.FrontMatter, error) {
	doc, err := s.materializer.Materialize(articleHTML, sourceURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to materialize article: %w", err)
	}

	title := doc.FrontMatter.Title
	if title == "" {
		if parsed, err := url.Parse(sourceURL); err == nil && parsed.Host != "" {
			title = parsed.Host
		} else {
			title = "article"
		}
		doc.FrontMatter.Title = title
	}
	doc.FrontMatter.SavedAt = time.Now().UTC().Format(time.RFC3339)

	var link *string
	if sourceURL != "" {
		link = &sourceURL
	}
	articleID := model.ArticleID("", nil, link, title)

	baseName := documentBaseName(title, articleID)
	markdownPath := filepath.Join(s.dataDir, baseName+".md")

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(markdownPath, []byte(doc.Render()), 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write document: %w", err)
	}

	if err := s.store.UpsertArticle(model.Article{
		ID:           articleID,
		FeedURL:      "",
		Link:         link,
		Title:        title,
		MarkdownPath: &markdownPath,
	}); err != nil {
		return "", nil, err
	}

	if err := s.activityLog.Append(model.ActivityMaterialize, articleID, map[string]string{
		"action": "materialize",
		"path":   markdownPath,
	}); err != nil {
		s.logger.Warn("failed to record materialize event", zap.Error(err))
	}

	if err := s.LocalizeArticle(ctx, articleID); err != nil {
		s.logger.Warn("resource localization incomplete",
			zap.String("article_id", articleID), zap.Error(err))
	}

	return markdownPath, &doc.FrontMatter, nil
}

// ExportArticle writes the document for an article to outPath. Materialized
// articles export their on-disk document verbatim; feed-ingested articles
// that were never materialized are converted on the fly from stored content.
func (s *Service) ExportArticle(ctx context.Context, articleID, outPath string) error {
	row, err := s.store.GetArticle(articleID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("article %s not found", articleID)
	}

	if row.MarkdownPath != nil && *row.MarkdownPath != "" {
		content, err := os.ReadFile(*row.MarkdownPath)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		return os.WriteFile(outPath, content, 0644)
	}

	if row.ContentHTML == nil || *row.ContentHTML == "" {
		return fmt.Errorf("article %s has no content to export", articleID)
	}

	source := ""
	if row.Link != nil {
		source = *row.Link
	}
	doc, err := s.materializer.Materialize(*row.ContentHTML, source)
	if err != nil {
		return fmt.Errorf("failed to materialize article: %w", err)
	}

	if doc.FrontMatter.Title == "" {
		doc.FrontMatter.Title = row.Title
	}
	doc.FrontMatter.FeedURL = row.FeedURL
	if row.Author != nil {
		doc.FrontMatter.Author = *row.Author
	}
	if row.PublishedAt != nil {
		doc.FrontMatter.PublishedAt = *row.PublishedAt
	}

	return os.WriteFile(outPath, []byte(doc.Render()), 0644)
}

// LocalizeArticle runs the idempotent resource-localization pass over an
// already-persisted document: distinct embedded images are downloaded into
// the document's asset directory and references rewritten to relative paths.
func (s *Service) LocalizeArticle(ctx context.Context, articleID string) error {
	row, err := s.store.GetArticle(articleID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("article %s not found", articleID)
	}
	if row.MarkdownPath == nil || *row.MarkdownPath == "" {
		return fmt.Errorf("article %s has no materialized document", articleID)
	}

	content, err := os.ReadFile(*row.MarkdownPath)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := article.ParseRendered(string(content))
	if err != nil {
		return err
	}

	baseName := strings.TrimSuffix(filepath.Base(*row.MarkdownPath), ".md")
	assetDirName := baseName + ".assets"
	assetDir := filepath.Join(filepath.Dir(*row.MarkdownPath), assetDirName)

	result, err := s.localizer.Localize(ctx, doc.Markdown, doc.FrontMatter.Source, assetDir, assetDirName)
	if err != nil {
		return err
	}

	if result.Markdown != doc.Markdown {
		doc.Markdown = result.Markdown
		if err := os.WriteFile(*row.MarkdownPath, []byte(doc.Render()), 0644); err != nil {
			return fmt.Errorf("failed to rewrite document: %w", err)
		}
	}

	s.logger.Info("localized article resources",
		zap.String("article_id", articleID),
		zap.Int("downloaded", result.Downloaded),
		zap.Int("failed", result.Failed))

	if result.Failed > 0 {
		return fmt.Errorf("%d resource(s) failed to localize", result.Failed)
	}
	return nil
}

// SetArticleState applies a partial read/favorite update. A favorite
// transition to true on a materialized article triggers a detached
// localization task; the caller never waits for it, and its failure is
// recorded in the activity log instead of surfacing here.
func (s *Service) SetArticleState(ctx context.Context, articleID string, isRead, isFavorite *bool) (*model.ArticleState, error) {
	prior, err := s.store.GetArticleState(articleID)
	if err != nil {
		return nil, err
	}
	wasFavorite := prior != nil && prior.IsFavorite

	state, err := s.store.UpsertArticleState(articleID, isRead, isFavorite)
	if err != nil {
		return nil, err
	}

	if err := s.activityLog.Append(model.ActivityState, articleID, map[string]bool{
		"is_read":     state.IsRead,
		"is_favorite": state.IsFavorite,
	}); err != nil {
		s.logger.Warn("failed to record state event", zap.Error(err))
	}

	if state.IsFavorite && !wasFavorite {
		s.spawnLocalization(articleID)
	}

	return state, nil
}

func (s *Service) spawnLocalization(articleID string) {
	row, err := s.store.GetArticle(articleID)
	if err != nil || row == nil || row.MarkdownPath == nil {
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		// Detached from the triggering request on purpose: callers must not
		// assume localized assets exist immediately after the flag flips.
		ctx := context.Background()
		if err := s.LocalizeArticle(ctx, articleID); err != nil {
			s.logger.Error("background localization failed",
				zap.String("article_id", articleID), zap.Error(err))
			if appendErr := s.activityLog.Append(model.ActivityMaterialize, articleID, map[string]string{
				"action": "localize_failed",
				"error":  err.Error(),
			}); appendErr != nil {
				s.logger.Warn("failed to record localization failure", zap.Error(appendErr))
			}
			return
		}

		if err := s.activityLog.Append(model.ActivityMaterialize, articleID, map[string]string{
			"action": "localize",
		}); err != nil {
			s.logger.Warn("failed to record localization event", zap.Error(err))
		}
	}()
}

// AddNote writes the note text to its own file and records the append-only
// note row.
func (s *Service) AddNote(ctx context.Context, articleID, text string) (*model.ArticleNote, error) {
	row, err := s.store.GetArticle(articleID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("article %s not found", articleID)
	}

	notesDir := filepath.Join(s.dataDir, "notes")
	if err := os.MkdirAll(notesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notes directory: %w", err)
	}

	note := model.ArticleNote{
		ID:        uuid.NewString(),
		ArticleID: articleID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	note.NotePath = filepath.Join(notesDir, note.ID+".md")

	if err := os.WriteFile(note.NotePath, []byte(text), 0644); err != nil {
		return nil, fmt.Errorf("failed to write note: %w", err)
	}

	if err := s.store.InsertArticleNote(note); err != nil {
		return nil, err
	}

	if err := s.activityLog.Append(model.ActivityNote, articleID, map[string]string{
		"note_id": note.ID,
		"path":    note.NotePath,
	}); err != nil {
		s.logger.Warn("failed to record note event", zap.Error(err))
	}

	return &note, nil
}

func (s *Service) ListActivity(since, until *time.Time, limit int) ([]model.ActivityEvent, error) {
	return s.activityLog.List(since, until, limit)
}

func documentBaseName(title, articleID string) string {
	base := slug.Make(title)
	if len(base) > 60 {
		base = base[:60]
	}
	if base == "" {
		base = "article"
	}
	return base + "-" + articleID[:8]
}
