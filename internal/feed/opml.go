package feed

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/samber/lo"

	"feedvault/internal/model"
)

type opmlDocument struct {
	XMLName xml.Name `xml:"opml"`
	Body    opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// ParseOPML walks the outline tree at arbitrary depth in document order. Any
// node carrying a feed URL becomes a subscription candidate; duplicates by
// URL are dropped.
func ParseOPML(raw []byte) ([]model.Subscription, error) {
	var doc opmlDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	var subs []model.Subscription
	var walk func(outlines []opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, outline := range outlines {
			if outline.XMLURL != "" {
				subs = append(subs, model.Subscription{
					URL:  outline.XMLURL,
					Name: subscriptionName(outline),
				})
			}
			walk(outline.Outlines)
		}
	}
	walk(doc.Body.Outlines)

	return lo.UniqBy(subs, func(s model.Subscription) string { return s.URL }), nil
}

func subscriptionName(outline opmlOutline) string {
	if outline.Title != "" {
		return outline.Title
	}
	if outline.Text != "" {
		return outline.Text
	}
	if u, err := url.Parse(outline.XMLURL); err == nil && u.Host != "" {
		return u.Host
	}
	return outline.XMLURL
}
