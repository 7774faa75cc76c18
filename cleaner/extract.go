package cleaner

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/lnfetch/models"
)

// unknown is used for metadata the page does not carry.
const unknown = "Unknown"

// NovelInfo reads the title and cover from the novel page. The target does
// not expose an author, so Author is always "Unknown".
func (c *Cleaner) NovelInfo(rawHTML, pageURL string) models.NovelInfo {
	info := models.NovelInfo{URL: pageURL, Title: unknown, Author: unknown}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return info
	}
	if t := strings.TrimSpace(first(doc, c.sel.Title).Text()); t != "" {
		info.Title = t
	}
	if src, ok := first(doc, c.sel.Cover).Attr("src"); ok && src != "" {
		info.Cover = absoluteURL(pageURL, src)
	}
	return info
}

// ChapterLinks returns the chapter anchors of one listing page in document
// order, with absolute URLs. Duplicates within the page are kept; the
// crawler deduplicates across the whole listing.
func (c *Cleaner) ChapterLinks(rawHTML, pageURL string) []models.ChapterLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	links := find(doc, c.sel.ChapterLinks)
	if links.Length() == 0 {
		links = find(doc, c.sel.ChapterFallback)
	}

	out := make([]models.ChapterLink, 0, links.Length())
	links.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs := absoluteURL(pageURL, href)
		if abs == "" {
			return
		}
		out = append(out, models.ChapterLink{URL: abs, Title: strings.TrimSpace(s.Text())})
	})
	return out
}

// Pagination derives the page descriptor from the last pagination link:
// its path is the base URL, its page parameter the last page index, and its
// token parameter the pagination token. ok is false when the page has no
// pagination control or when the control declares more pages than the
// profile's MaxPages.
func (c *Cleaner) Pagination(rawHTML, pageURL string) (models.PageDescriptor, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return models.PageDescriptor{}, false
	}
	links := find(doc, c.sel.Pagination)
	if links.Length() == 0 {
		return models.PageDescriptor{}, false
	}
	href, ok := links.Last().Attr("href")
	if !ok || href == "" {
		return models.PageDescriptor{}, false
	}
	abs, err := resolve(pageURL, href)
	if err != nil {
		return models.PageDescriptor{}, false
	}

	q := abs.Query()
	count, err := strconv.Atoi(q.Get(c.pageParam))
	if err != nil || count < 0 {
		count = 0
	}
	if count > c.maxPages {
		slog.Warn("pagination control exceeds page cap, ignoring it",
			"url", pageURL, "count", count, "max_pages", c.maxPages)
		return models.PageDescriptor{}, false
	}
	base := *abs
	base.RawQuery = ""
	base.Fragment = ""
	return models.PageDescriptor{
		BaseURL: base.String(),
		Count:   count,
		Token:   q.Get(c.tokenParam),
	}, true
}

// PageURL renders the URL of listing page n.
func (c *Cleaner) PageURL(pd models.PageDescriptor, n int) string {
	// page first, token second, matching the site's own links
	return pd.BaseURL + "?" + c.pageParam + "=" + strconv.Itoa(n) +
		"&" + c.tokenParam + "=" + url.QueryEscape(pd.Token)
}

func first(doc *goquery.Document, sel cascadia.Selector) *goquery.Selection {
	return find(doc, sel).First()
}

func find(doc *goquery.Document, sel cascadia.Selector) *goquery.Selection {
	if sel == nil {
		return doc.Selection.Slice(0, 0)
	}
	return doc.FindMatcher(sel)
}

func resolve(pageURL, href string) (*url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	return base.Parse(strings.TrimSpace(href))
}

// absoluteURL resolves href against pageURL. Non-http(s) links resolve to "".
func absoluteURL(pageURL, href string) string {
	u, err := resolve(pageURL, href)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
