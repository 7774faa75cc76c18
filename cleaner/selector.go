package cleaner

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/lnfetch/config"
)

// Selectors are the site selectors compiled once at startup. Matches come
// back in document order.
type Selectors struct {
	Title           cascadia.Selector
	Cover           cascadia.Selector
	ChapterLinks    cascadia.Selector
	ChapterFallback cascadia.Selector
	Pagination      cascadia.Selector
	Body            cascadia.Selector
	BodyHeading     cascadia.Selector
	Remove          []cascadia.Selector
}

// CompileSelectors compiles every selector in s. Empty selectors stay nil
// and never match.
func CompileSelectors(s config.Selectors) (*Selectors, error) {
	out := &Selectors{}
	fields := []struct {
		name string
		src  string
		dst  *cascadia.Selector
	}{
		{"title", s.Title, &out.Title},
		{"cover", s.Cover, &out.Cover},
		{"chapter_links", s.ChapterLinks, &out.ChapterLinks},
		{"chapter_fallback", s.ChapterFallback, &out.ChapterFallback},
		{"pagination", s.Pagination, &out.Pagination},
		{"body", s.Body, &out.Body},
		{"body_heading", s.BodyHeading, &out.BodyHeading},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		sel, err := cascadia.Compile(f.src)
		if err != nil {
			return nil, fmt.Errorf("cleaner: selector %s %q: %w", f.name, f.src, err)
		}
		*f.dst = sel
	}
	for _, r := range s.Remove {
		sel, err := cascadia.Compile(r)
		if err != nil {
			return nil, fmt.Errorf("cleaner: remove selector %q: %w", r, err)
		}
		out.Remove = append(out.Remove, sel)
	}
	return out, nil
}

// ApplyCSSSelector parses rawHTML, matches elements against the given CSS
// selector, and returns the concatenated outer HTML of all matched elements.
//
// If no elements match, the original rawHTML is returned unchanged so that
// downstream processing still has something to work with.
func ApplyCSSSelector(rawHTML string, selector string) (string, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	matches := cascadia.QueryAll(doc, sel)
	if len(matches) == 0 {
		return rawHTML, nil
	}

	var buf bytes.Buffer
	for _, node := range matches {
		if err := html.Render(&buf, node); err != nil {
			return "", err
		}
	}

	return buf.String(), nil
}
