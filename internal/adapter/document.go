package adapter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed provider page handed to adapters.
type Document struct {
	URL string
	doc *goquery.Document
}

// ParseDocument parses raw HTML into a Document.
func ParseDocument(pageURL string, html []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("adapter: parse %s: %w", pageURL, err)
	}
	return &Document{URL: pageURL, doc: doc}, nil
}

// Find exposes goquery selection to adapters.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Title returns the page title, trimmed.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Text returns the whitespace-normalized text of the whole page.
func (d *Document) Text() string {
	return normalizeSpace(d.doc.Text())
}

// ContainsSlot reports whether the page mentions the HH:MM slot anywhere.
// A cheap pre-filter adapters use before walking tables.
func (d *Document) ContainsSlot(slot string) bool {
	return strings.Contains(d.doc.Text(), slot)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
