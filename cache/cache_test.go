package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/lnfetch/models"
)

func newTestCache(t *testing.T, max int) (*Cache, *time.Time) {
	t.Helper()
	c := New(max)
	t.Cleanup(c.Close)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestKey(t *testing.T) {
	k := Key("https://x.test/c1", "markdown")
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key("https://x.test/c1", "markdown"))
	assert.NotEqual(t, k, Key("https://x.test/c1", "text"))
}

func TestGetSet(t *testing.T) {
	c, now := newTestCache(t, 10)
	resp := &models.ChapterResponse{Success: true, Content: "body"}
	c.Set("k", resp)

	got, ok := c.Get("k", 1000)
	require.True(t, ok)
	assert.Same(t, resp, got)

	_, ok = c.Get("k", 0)
	assert.False(t, ok, "max age 0 disables lookup")

	*now = now.Add(2 * time.Second)
	_, ok = c.Get("k", 1000)
	assert.False(t, ok, "entry older than max age")
}

func TestSet_SkipsFailures(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set("k", &models.ChapterResponse{Success: false})
	c.Set("n", nil)
	assert.Equal(t, 0, c.Len())
}

func TestSet_EvictsAtCapacity(t *testing.T) {
	c, _ := newTestCache(t, 2)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, &models.ChapterResponse{Success: true})
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("c", 1000)
	assert.True(t, ok)

	c.Set("c", &models.ChapterResponse{Success: true, Content: "v2"})
	assert.Equal(t, 2, c.Len(), "overwrite does not evict")
}

func TestSweep(t *testing.T) {
	c, now := newTestCache(t, 10)
	c.Set("old", &models.ChapterResponse{Success: true})
	*now = now.Add(2 * time.Hour)
	c.Set("new", &models.ChapterResponse{Success: true})

	c.sweep()
	assert.Equal(t, 1, c.Len())
}
