package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// ArticleID derives the stable content-derived identifier for an article:
// a digest of the feed URL and the first available of guid, link, title.
// Identical inputs always produce the identical id, which is what makes
// repeated upserts idempotent.
func ArticleID(feedURL string, guid, link *string, title string) string {
	discriminator := title
	if guid != nil && *guid != "" {
		discriminator = *guid
	} else if link != nil && *link != "" {
		discriminator = *link
	}

	h := sha256.New()
	h.Write([]byte(feedURL))
	h.Write([]byte{0})
	h.Write([]byte(discriminator))
	return hex.EncodeToString(h.Sum(nil))
}
