// Package analyzer turns fetched HTML into indexing signals: outbound links,
// a capped and ranked keyword list, and a capped description.
package analyzer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// Options bounds what a single page may contribute.
type Options struct {
	KeywordLimit         int
	DescriptionMaxLength int
	MaxLinks             int
}

// DefaultOptions mirrors the crawler's configured defaults.
func DefaultOptions() Options {
	return Options{
		KeywordLimit:         10,
		DescriptionMaxLength: 200,
		MaxLinks:             50,
	}
}

// Result holds everything extracted from one page.
type Result struct {
	Links       []string
	Keywords    []crawler.KeywordRank
	Description string
}

// KeywordList returns the selected keywords without their ranks.
func (r Result) KeywordList() []string {
	out := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		out = append(out, kw.Keyword)
	}
	return out
}

// Page is a parsed document ready for repeated queries.
type Page struct {
	doc  *goquery.Document
	base *url.URL
	text string
}

// Parse loads html for sourceURL. Blank documents and unusable source URLs yield crawler.ErrParse.
func Parse(html string, sourceURL string) (*Page, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: source url: %w", crawler.ErrParse, err)
	}
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: empty document", crawler.ErrParse)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrParse, err)
	}
	return &Page{doc: doc, base: base}, nil
}

// VisibleText returns the page's rendered text with text nodes space-separated.
func (p *Page) VisibleText() string {
	if p.text == "" {
		p.text = visibleText(p.doc)
	}
	return p.text
}

// Analyze runs link extraction, keyword selection, ranking and description building.
func Analyze(html string, sourceURL string, opts Options) (Result, error) {
	page, err := Parse(html, sourceURL)
	if err != nil {
		return Result{}, err
	}
	return page.Analyze(opts), nil
}

// Analyze extracts every signal from an already parsed page.
func (p *Page) Analyze(opts Options) Result {
	keywords := p.Keywords(opts.KeywordLimit)
	return Result{
		Links:       p.Links(opts.MaxLinks),
		Keywords:    p.Rank(keywords),
		Description: p.Description(opts.DescriptionMaxLength),
	}
}
