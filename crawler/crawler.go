// Package crawler walks a novel's chapter listing and downloads chapter
// bodies through the retry orchestrator.
package crawler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/use-agent/lnfetch/cleaner"
	"github.com/use-agent/lnfetch/models"
)

// Fetcher is the orchestrator surface the crawler needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) models.Outcome
}

// Extractor pulls listing data and chapter bodies out of fetched HTML.
// *cleaner.Cleaner implements it.
type Extractor interface {
	NovelInfo(rawHTML, pageURL string) models.NovelInfo
	ChapterLinks(rawHTML, pageURL string) []models.ChapterLink
	Pagination(rawHTML, pageURL string) (models.PageDescriptor, bool)
	PageURL(pd models.PageDescriptor, n int) string
	Chapter(rawHTML, pageURL, format string) (*cleaner.Chapter, error)
}

// Crawler runs listing walks and chapter downloads on a bounded worker pool.
type Crawler struct {
	fetcher Fetcher
	extract Extractor
	workers int
	logger  *slog.Logger
}

// New creates a Crawler. workers <= 0 means 4.
func New(f Fetcher, ex Extractor, workers int, logger *slog.Logger) *Crawler {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{fetcher: f, extract: ex, workers: workers, logger: logger}
}

// Listing fetches the novel page, walks every pagination page and returns
// the deduplicated, numbered chapter listing.
//
// A failed novel page is returned as an error. A failed pagination page is
// recorded in FailedPages and the walk continues. A walk that ends with no
// chapters returns the listing together with models.ErrEmptyListing.
func (c *Crawler) Listing(ctx context.Context, novelURL string) (*models.Listing, error) {
	first := c.fetcher.Fetch(ctx, novelURL)
	if !first.OK() {
		c.logger.Error("novel page fetch failed", "url", novelURL, "outcome", first.String())
		return nil, first.Err()
	}
	base := pageBase(first, novelURL)

	listing := &models.Listing{
		Novel:   c.extract.NovelInfo(first.HTML(), base),
		Volumes: []models.Volume{{ID: 1, Title: "Volume 1"}},
		Pages:   1,
	}
	listing.Novel.URL = novelURL

	pages := [][]models.ChapterLink{c.extract.ChapterLinks(first.HTML(), base)}

	if pd, ok := c.extract.Pagination(first.HTML(), base); ok {
		walked, failed := c.walkPages(ctx, pd)
		pages = append(pages, walked...)
		listing.Pages += pd.Count + 1
		listing.FailedPages = failed
	}

	listing.Chapters = mergeListing(pages)

	if listing.Empty() {
		c.logger.Warn("0 chapters found", "url", novelURL, "title", listing.Novel.Title)
		return listing, models.ErrEmptyListing
	}
	c.logger.Info("listing built",
		"url", novelURL,
		"chapters", len(listing.Chapters),
		"pages", listing.Pages,
		"failed_pages", len(listing.FailedPages),
	)
	return listing, nil
}

// walkPages fetches pagination pages 0..pd.Count in parallel. The returned
// slices are in page order regardless of completion order.
func (c *Crawler) walkPages(ctx context.Context, pd models.PageDescriptor) ([][]models.ChapterLink, []int) {
	results := make([][]models.ChapterLink, pd.Count+1)
	failed := make([]bool, pd.Count+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for n := 0; n <= pd.Count; n++ {
		pageURL := c.extract.PageURL(pd, n)
		g.Go(func() error {
			out := c.fetcher.Fetch(gctx, pageURL)
			if !out.OK() {
				c.logger.Warn("listing page failed", "page", n, "url", pageURL, "outcome", out.String())
				failed[n] = true
				return nil
			}
			results[n] = c.extract.ChapterLinks(out.HTML(), pageBase(out, pageURL))
			return nil
		})
	}
	_ = g.Wait()

	var failedPages []int
	for n, f := range failed {
		if f {
			failedPages = append(failedPages, n)
		}
	}
	return results, failedPages
}

// mergeListing flattens pages in order, keeps the first occurrence of each
// URL and numbers the survivors from 1.
func mergeListing(pages [][]models.ChapterLink) []models.ChapterRecord {
	seen := make(map[string]struct{})
	var out []models.ChapterRecord
	for _, links := range pages {
		for _, l := range links {
			if _, dup := seen[l.URL]; dup {
				continue
			}
			seen[l.URL] = struct{}{}
			out = append(out, models.ChapterRecord{
				ID:     len(out) + 1,
				Volume: 1,
				URL:    l.URL,
				Title:  l.Title,
			})
		}
	}
	return out
}

// Chapters downloads the body of every record in format. A chapter that
// cannot be fetched or extracted keeps an empty Content and carries its
// error; the rest of the download continues. Bodies are returned in
// record order. progress, when set, is called once per finished chapter,
// never concurrently.
func (c *Crawler) Chapters(ctx context.Context, records []models.ChapterRecord, format string, progress func(models.ChapterBody)) []models.ChapterBody {
	bodies := make([]models.ChapterBody, len(records))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, rec := range records {
		g.Go(func() error {
			body := c.Chapter(gctx, rec, format)
			bodies[i] = body
			if progress != nil {
				mu.Lock()
				progress(body)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, b := range bodies {
		if b.Error != nil {
			failed++
		}
	}
	c.logger.Info("chapters downloaded", "total", len(bodies), "failed", failed)
	return bodies
}

// Chapter downloads one chapter body.
func (c *Crawler) Chapter(ctx context.Context, rec models.ChapterRecord, format string) models.ChapterBody {
	body := models.ChapterBody{ID: rec.ID, URL: rec.URL, Title: rec.Title}

	out := c.fetcher.Fetch(ctx, rec.URL)
	if !out.OK() {
		c.logger.Warn("chapter fetch failed", "id", rec.ID, "url", rec.URL, "outcome", out.String())
		body.Error = models.DetailFor(out.Err())
		return body
	}

	ch, err := c.extract.Chapter(out.HTML(), pageBase(out, rec.URL), format)
	if err != nil {
		c.logger.Warn("chapter extraction failed", "id", rec.ID, "url", rec.URL, "error", err)
		body.Error = models.DetailFor(err)
		return body
	}
	if ch.Title != "" && body.Title == "" {
		body.Title = ch.Title
	}
	body.Content = ch.Content
	return body
}

// FailedIDs returns the ids of bodies that carry an error, ascending.
func FailedIDs(bodies []models.ChapterBody) []int {
	var ids []int
	for _, b := range bodies {
		if b.Error != nil {
			ids = append(ids, b.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

// pageBase is the URL relative links on a fetched page resolve against.
func pageBase(out models.Outcome, requested string) string {
	if u := out.FinalURL(); u != "" {
		return u
	}
	return requested
}
