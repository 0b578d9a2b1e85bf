package collector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locates items and their fields inside a feed column's DOM.
type Selectors struct {
	Item   string
	Text   string
	Author string
}

// Candidate is one potential item scraped from a feed column, before
// dedup and admission.
type Candidate struct {
	NativeID string
	Text     string
	Author   string
	URL      string
}

// ExtractCandidates parses one column's HTML and returns its item
// candidates. Items without extractable text are skipped.
func ExtractCandidates(columnHTML string, sel Selectors) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(columnHTML))
	if err != nil {
		return nil, fmt.Errorf("parse column html: %w", err)
	}

	var out []Candidate
	doc.Find(sel.Item).Each(func(_ int, node *goquery.Selection) {
		text := strings.TrimSpace(node.Text())
		if sel.Text != "" {
			text = strings.TrimSpace(node.Find(sel.Text).First().Text())
		}
		if text == "" {
			return
		}

		c := Candidate{Text: text}
		if sel.Author != "" {
			c.Author = strings.TrimSpace(node.Find(sel.Author).First().Text())
		}
		if id, ok := node.Attr("data-item-id"); ok {
			c.NativeID = strings.TrimSpace(id)
		} else if id, ok := node.Attr("data-id"); ok {
			c.NativeID = strings.TrimSpace(id)
		}
		if href, ok := node.Find("a[href]").First().Attr("href"); ok {
			c.URL = strings.TrimSpace(href)
		}
		out = append(out, c)
	})
	return out, nil
}
