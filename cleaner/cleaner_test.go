package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/lnfetch/config"
	"github.com/use-agent/lnfetch/models"
)

const novelPage = `<html><body>
<h1 class="novel-title"> The Long Road </h1>
<figure class="cover"><img src="/covers/long-road.jpg"></figure>
<ul class="chapter-list">
  <li><a href="/novel/long-road/chapter-1.html">Chapter 1</a></li>
  <li><a href="/novel/long-road/chapter-2.html#top"> Chapter 2 </a></li>
  <li><a href="javascript:void(0)">bogus</a></li>
</ul>
<div class="pagination">
  <a data-ajax-update="#chpagedlist" href="/e/extend/fy.php?page=1&wjm=long-road">2</a>
  <a data-ajax-update="#chpagedlist" href="/e/extend/fy.php?page=7&wjm=long-road">Last</a>
  <a href="/other?page=99">unrelated</a>
</div>
</body></html>`

func newTestCleaner(t *testing.T) *Cleaner {
	t.Helper()
	c, err := New(config.DefaultSiteProfile())
	require.NoError(t, err)
	return c
}

func TestNovelInfo(t *testing.T) {
	c := newTestCleaner(t)
	info := c.NovelInfo(novelPage, "https://www.fanmtl.com/novel/long-road.html")

	assert.Equal(t, "The Long Road", info.Title)
	assert.Equal(t, "Unknown", info.Author)
	assert.Equal(t, "https://www.fanmtl.com/covers/long-road.jpg", info.Cover)
}

func TestNovelInfo_Missing(t *testing.T) {
	c := newTestCleaner(t)
	info := c.NovelInfo("<html></html>", "https://x.test/n")
	assert.Equal(t, "Unknown", info.Title)
	assert.Empty(t, info.Cover)
}

func TestChapterLinks(t *testing.T) {
	c := newTestCleaner(t)
	links := c.ChapterLinks(novelPage, "https://www.fanmtl.com/novel/long-road.html")

	require.Len(t, links, 2)
	assert.Equal(t, models.ChapterLink{URL: "https://www.fanmtl.com/novel/long-road/chapter-1.html", Title: "Chapter 1"}, links[0])
	assert.Equal(t, "https://www.fanmtl.com/novel/long-road/chapter-2.html", links[1].URL)
	assert.Equal(t, "Chapter 2", links[1].Title)
}

func TestChapterLinks_Fallback(t *testing.T) {
	c := newTestCleaner(t)
	page := `<div><a href="/n/chapter-9.html">Nine</a><a href="/about">About</a></div>`
	links := c.ChapterLinks(page, "https://x.test/n")

	require.Len(t, links, 1)
	assert.Equal(t, "https://x.test/n/chapter-9.html", links[0].URL)
}

func TestPagination(t *testing.T) {
	c := newTestCleaner(t)
	pd, ok := c.Pagination(novelPage, "https://www.fanmtl.com/novel/long-road.html")

	require.True(t, ok)
	assert.Equal(t, models.PageDescriptor{
		BaseURL: "https://www.fanmtl.com/e/extend/fy.php",
		Count:   7,
		Token:   "long-road",
	}, pd)
	assert.Equal(t, "https://www.fanmtl.com/e/extend/fy.php?page=3&wjm=long-road", c.PageURL(pd, 3))
}

func TestPagination_Absent(t *testing.T) {
	c := newTestCleaner(t)
	_, ok := c.Pagination("<ul class=chapter-list></ul>", "https://x.test/")
	assert.False(t, ok)
}

func TestPagination_PageCountCap(t *testing.T) {
	control := func(page string) string {
		return `<div class="pagination"><a data-ajax-update="#chpagedlist" href="/e/fy.php?page=` +
			page + `&wjm=tok">Last</a></div>`
	}

	c := newTestCleaner(t)
	_, ok := c.Pagination(control("9223372036854775807"), "https://x.test/n")
	assert.False(t, ok, "max int64 page count")
	_, ok = c.Pagination(control("1000001"), "https://x.test/n")
	assert.False(t, ok)

	p := config.DefaultSiteProfile()
	p.MaxPages = 5
	capped, err := New(p)
	require.NoError(t, err)

	pd, ok := capped.Pagination(control("5"), "https://x.test/n")
	require.True(t, ok)
	assert.Equal(t, 5, pd.Count)
	_, ok = capped.Pagination(control("6"), "https://x.test/n")
	assert.False(t, ok)
}

func TestPageURL_CustomParams(t *testing.T) {
	p := config.DefaultSiteProfile()
	p.PageParam, p.TokenParam = "p", "tok"
	c, err := New(p)
	require.NoError(t, err)

	got := c.PageURL(models.PageDescriptor{BaseURL: "https://x.test/list", Token: "a b"}, 0)
	assert.Equal(t, "https://x.test/list?p=0&tok=a+b", got)
}

var chapterPage = `<html><head><title>Ch 1</title></head><body>
<div class="chapter-header"><h2>Chapter 1: Departure</h2></div>
<div id="chapter-article"><div class="chapter-content">
<p>The road was <b>long</b>.</p>
<div align="center">ADVERTISEMENT</div>
<script>track()</script>
<p>They walked on.</p>
</div></div>
</body></html>`

func TestChapter_Formats(t *testing.T) {
	c := newTestCleaner(t)

	md, err := c.Chapter(chapterPage, "https://x.test/c1", "markdown")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1: Departure", md.Title)
	assert.Contains(t, md.Content, "The road was **long**.")
	assert.NotContains(t, md.Content, "ADVERTISEMENT")
	assert.NotContains(t, md.Content, "track()")
	assert.False(t, md.Fallback)

	text, err := c.Chapter(chapterPage, "https://x.test/c1", "text")
	require.NoError(t, err)
	assert.Equal(t, "The road was long.\n\nThey walked on.", text.Content)

	h, err := c.Chapter(chapterPage, "https://x.test/c1", "html")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.Content, "<p>"))
}

func TestChapter_EmptyBody(t *testing.T) {
	c := newTestCleaner(t)
	_, err := c.Chapter(`<div class="chapter-content"><div align="center">ad</div></div>`, "https://x.test/c", "text")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeEmptyContent, models.DetailFor(err).Code)
}

func TestChapter_UnknownFormat(t *testing.T) {
	c := newTestCleaner(t)
	_, err := c.Chapter(chapterPage, "https://x.test/c1", "pdf")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidInput, models.DetailFor(err).Code)
}

func TestCompileSelectors_Bad(t *testing.T) {
	_, err := CompileSelectors(config.Selectors{Body: "div["})
	require.Error(t, err)
}

func TestApplyCSSSelector(t *testing.T) {
	out, err := ApplyCSSSelector(chapterPage, "h2")
	require.NoError(t, err)
	assert.Equal(t, "<h2>Chapter 1: Departure</h2>", out)

	out, err = ApplyCSSSelector("<p>x</p>", "table")
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", out)
}
