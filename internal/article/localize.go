package article

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"feedvault/internal/httpcache"
)

// imageRefPattern matches markdown image references: ![alt](src).
var imageRefPattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// extByContentType maps the common raster/vector image MIME types to file
// extensions; the URL path extension is the fallback.
var extByContentType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/x-icon":  ".ico",
}

const altSlugMaxLen = 40

// Localizer downloads embedded image resources and rewrites a document to
// reference the local copies.
type Localizer struct {
	fetcher *httpcache.Client
	logger  *zap.Logger
}

func NewLocalizer(fetcher *httpcache.Client, logger *zap.Logger) *Localizer {
	return &Localizer{fetcher: fetcher, logger: logger}
}

// LocalizeResult reports what a localization pass did.
type LocalizeResult struct {
	Markdown   string
	Downloaded int
	Failed     int
}

// Localize scans markdown for embedded-image references, downloads each
// distinct resolvable URL into assetDir, and rewrites every occurrence to the
// relative path under assetDirName. The pass is idempotent: already-relative
// references are skipped, and a resource whose target file exists on disk is
// not downloaded again. Per-URL failures leave that reference unrewritten and
// do not abort the pass.
func (l *Localizer) Localize(ctx context.Context, markdown, sourceURL, assetDir, assetDirName string) (*LocalizeResult, error) {
	refs := imageRefPattern.FindAllStringSubmatch(markdown, -1)
	if len(refs) == 0 {
		return &LocalizeResult{Markdown: markdown}, nil
	}

	var base *url.URL
	if sourceURL != "" {
		if parsed, err := url.Parse(sourceURL); err == nil {
			base = parsed
		}
	}

	result := &LocalizeResult{Markdown: markdown}
	seen := make(map[string]bool)
	dirReady := false

	for _, ref := range refs {
		alt, src := ref[1], ref[2]

		// References already rewritten into the asset directory stay as-is,
		// otherwise a second pass would resolve them against the source URL.
		if strings.HasPrefix(src, assetDirName+"/") {
			continue
		}

		resolved, ok := resolveRef(src, base)
		if !ok {
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true

		if !dirReady {
			if err := os.MkdirAll(assetDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create asset directory: %w", err)
			}
			dirReady = true
		}

		localName, err := l.download(ctx, resolved, alt, assetDir)
		if err != nil {
			l.logger.Warn("failed to localize resource",
				zap.String("url", resolved), zap.Error(err))
			result.Failed++
			continue
		}

		relPath := path.Join(assetDirName, localName)
		result.Markdown = strings.ReplaceAll(result.Markdown, "("+src+")", "("+relPath+")")
		result.Downloaded++
	}

	return result, nil
}

// resolveRef resolves an image reference to an absolute URL. Absolute
// references pass through; relative ones resolve against the document's
// source URL, or are skipped when the source is unknown rather than guessed.
func resolveRef(src string, base *url.URL) (string, bool) {
	if strings.HasPrefix(src, "data:") {
		return "", false
	}

	parsed, err := url.Parse(src)
	if err != nil {
		return "", false
	}

	if parsed.IsAbs() {
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", false
		}
		return parsed.String(), true
	}

	if base == nil {
		return "", false
	}
	return base.ResolveReference(parsed).String(), true
}

func (l *Localizer) download(ctx context.Context, resolved, alt, assetDir string) (string, error) {
	baseName := assetBaseName(resolved, alt)

	// A completed download from an earlier pass keeps its file; matching on
	// the URL-derived prefix makes re-runs after partial failures cheap.
	if existing := findExisting(assetDir, baseName); existing != "" {
		return existing, nil
	}

	resp, err := l.fetcher.FetchResource(ctx, resolved)
	if err != nil {
		return "", err
	}

	name := baseName + extensionFor(resp.ContentType, resolved)
	if err := os.WriteFile(filepath.Join(assetDir, name), resp.Body, 0644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}

	return name, nil
}

// assetBaseName derives a filename stem from a content hash of the URL, so
// the name is stable across runs, plus a sanitized fragment of the alt text.
func assetBaseName(resolved, alt string) string {
	sum := sha256.Sum256([]byte(resolved))
	name := hex.EncodeToString(sum[:])[:12]

	if s := slug.Make(alt); s != "" {
		if len(s) > altSlugMaxLen {
			s = s[:altSlugMaxLen]
		}
		name = name + "-" + s
	}

	return name
}

func findExisting(assetDir, baseName string) string {
	matches, err := filepath.Glob(filepath.Join(assetDir, baseName+"*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return filepath.Base(matches[0])
}

func extensionFor(contentType, resolved string) string {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := extByContentType[mediaType]; ok {
				return ext
			}
		}
	}

	if parsed, err := url.Parse(resolved); err == nil {
		if ext := path.Ext(parsed.Path); ext != "" {
			return ext
		}
	}

	return ""
}

func mustParseURL(rawURL string) *url.URL {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}
