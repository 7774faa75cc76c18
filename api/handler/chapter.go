package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/lnfetch/cache"
	"github.com/use-agent/lnfetch/cleaner"
	"github.com/use-agent/lnfetch/models"
)

// Fetcher is the retry orchestrator surface the handlers need.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) models.Outcome
}

// Chapter returns a handler for POST /api/v1/chapter.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age is set.
//  3. Fetch through the orchestrator      (records fetch_ms)
//  4. Extract and convert the body        (records extract_ms)
//  5. Cache store, respond.
func Chapter(f Fetcher, cl *cleaner.Cleaner, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.ChapterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewFetchError(models.ErrCodeInvalidInput, err.Error(), err), models.TimingInfo{})
			return
		}
		req.Defaults()

		cacheKey := cache.Key(req.URL, req.OutputFormat)
		if cc != nil && req.MaxAge > 0 {
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				resp := *cached
				resp.CacheStatus = "hit"
				resp.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		fetchStart := time.Now()
		out := f.Fetch(c.Request.Context(), req.URL)
		fetchMs := time.Since(fetchStart).Milliseconds()
		if !out.OK() {
			respondError(c, out.Err(), models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
				FetchMs: fetchMs,
			})
			return
		}

		finalURL := out.FinalURL()
		if finalURL == "" {
			finalURL = req.URL
		}

		extractStart := time.Now()
		ch, err := cl.Chapter(out.HTML(), finalURL, req.OutputFormat)
		extractMs := time.Since(extractStart).Milliseconds()
		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				FetchMs:   fetchMs,
				ExtractMs: extractMs,
			})
			return
		}

		resp := &models.ChapterResponse{
			Success:  true,
			FinalURL: finalURL,
			Title:    ch.Title,
			Content:  ch.Content,
			Timing: models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				FetchMs:   fetchMs,
				ExtractMs: extractMs,
			},
		}

		if cc != nil && req.MaxAge > 0 {
			cc.Set(cacheKey, resp)
			miss := *resp
			miss.CacheStatus = "miss"
			c.JSON(http.StatusOK, miss)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
