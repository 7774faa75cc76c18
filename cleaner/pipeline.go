// Package cleaner is the extraction collaborator: it pulls novel metadata,
// chapter links, pagination and chapter bodies out of fetched documents.
package cleaner

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/lnfetch/config"
	"github.com/use-agent/lnfetch/models"
)

// Cleaner holds the compiled site selectors and a reusable Markdown
// converter. It is safe for concurrent use.
type Cleaner struct {
	sel         *Selectors
	pageParam   string
	tokenParam  string
	maxPages    int
	mdConverter *converter.Converter
}

// New compiles the profile's selectors.
func New(p *config.SiteProfile) (*Cleaner, error) {
	sel, err := CompileSelectors(p.Selectors)
	if err != nil {
		return nil, err
	}
	pageParam, tokenParam := p.PageParam, p.TokenParam
	if pageParam == "" {
		pageParam = "page"
	}
	if tokenParam == "" {
		tokenParam = "wjm"
	}
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = config.DefaultMaxPages
	}
	return &Cleaner{
		sel:         sel,
		pageParam:   pageParam,
		tokenParam:  tokenParam,
		maxPages:    maxPages,
		mdConverter: newMarkdownConverter(),
	}, nil
}

// Chapter is an extracted chapter body.
type Chapter struct {
	Title   string
	Content string

	// Fallback is set when the body selector missed and readability was used.
	Fallback bool
}

// Chapter extracts the chapter body and converts it to format
// ("markdown", "html" or "text"). An empty body is an error.
//
// Flow:
//  1. Remove the profile's noise selectors.
//  2. Select the body; fall back to readability when nothing matches.
//  3. Convert to the requested format.
func (c *Cleaner) Chapter(rawHTML, pageURL, format string) (*Chapter, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInternal, "parse chapter html", err)
	}
	removeMatches(doc, c.sel.Remove)

	out := &Chapter{Title: strings.TrimSpace(first(doc, c.sel.BodyHeading).Text())}

	var bodyHTML, bodyText string
	if body := first(doc, c.sel.Body); body.Length() > 0 {
		bodyHTML, err = body.Html()
		if err != nil {
			return nil, models.NewFetchError(models.ErrCodeInternal, "render chapter body", err)
		}
		bodyText = body.Text()
	} else {
		article, ok := ExtractContent(rawHTML, pageURL)
		if !ok {
			return nil, models.NewFetchError(models.ErrCodeEmptyContent, "chapter body not found", nil)
		}
		out.Fallback = true
		bodyHTML, bodyText = article.Content, article.TextContent
		if out.Title == "" {
			out.Title = article.Title
		}
	}

	switch format {
	case "markdown", "":
		md, err := ToMarkdown(c.mdConverter, bodyHTML, pageURL)
		if err != nil {
			return nil, models.NewFetchError(models.ErrCodeInternal, "markdown conversion failed", err)
		}
		out.Content = strings.TrimSpace(md)
	case "html":
		out.Content = strings.TrimSpace(bodyHTML)
	case "text":
		out.Content = normalizeText(bodyText)
	default:
		return nil, models.NewFetchError(models.ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", format), nil)
	}

	if out.Content == "" {
		return nil, models.NewFetchError(models.ErrCodeEmptyContent, "chapter body is empty", nil)
	}
	return out, nil
}

// normalizeText trims every line and collapses runs of blank lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
