// Package opml handles importing and exporting feed subscriptions as OPML.
package opml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/tabink/internal/database"
	"github.com/bryan-buckman/tabink/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a feed, or a folder of outlines in documents written by other
// readers.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one feed found in a document.
type Entry struct {
	Name string
	URL  string
}

// Parse reads an OPML document and returns every feed in document order.
// Folders are flattened and repeated URLs are listed once.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	seen := make(map[string]bool)
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				if seen[u] {
					continue
				}
				seen[u] = true
				name := o.Title
				if name == "" {
					name = o.Text
				}
				entries = append(entries, Entry{Name: name, URL: u})
				continue
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// Export generates a flat OPML document listing feeds.
func Export(title string, feeds []model.Feed, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   f.Name,
			Title:  f.Name,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// ImportResult counts what Import did.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Import subscribes to every feed in the document that is not subscribed
// yet.
func Import(ctx context.Context, db database.Store, r io.Reader) (ImportResult, error) {
	var res ImportResult
	entries, err := Parse(r)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		existing, err := db.GetFeedByURL(ctx, e.URL)
		if err != nil {
			return res, err
		}
		if existing != nil {
			res.Skipped++
			continue
		}
		if _, err := db.AddFeed(ctx, e.Name, e.URL); err != nil {
			return res, fmt.Errorf("add feed %s: %w", e.URL, err)
		}
		res.Added++
	}
	return res, nil
}
