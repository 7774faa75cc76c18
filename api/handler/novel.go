package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/lnfetch/models"
	"github.com/use-agent/lnfetch/webhook"
)

// Crawler is the listing/download surface the novel handlers need.
type Crawler interface {
	Listing(ctx context.Context, novelURL string) (*models.Listing, error)
	Chapters(ctx context.Context, records []models.ChapterRecord, format string, progress func(models.ChapterBody)) []models.ChapterBody
}

// novelStore holds all in-flight and completed novel jobs.
var novelStore sync.Map

func init() {
	// Background goroutine to expire novel jobs older than 6 hours.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-6 * time.Hour).Unix()
			novelStore.Range(func(key, value any) bool {
				job := value.(*models.NovelJob)
				var created int64
				job.Update(func(j *models.NovelJob) { created = j.CreatedAt })
				if created < cutoff {
					novelStore.Delete(key)
				}
				return true
			})
		}
	}()
}

// PostNovel returns a handler for POST /api/v1/novel. The listing walk and
// optional chapter download run in the background; the response carries
// the job id to poll.
func PostNovel(cr Crawler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NovelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NovelResponse{
				Status: "failed",
				Error:  &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		req.Defaults()

		job := &models.NovelJob{
			ID:            "novel-" + uuid.NewString(),
			Status:        "processing",
			CreatedAt:     time.Now().Unix(),
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
		}
		novelStore.Store(job.ID, job)

		go func() {
			defer recoverNovel(job)
			runNovel(context.Background(), cr, job, req)
		}()

		c.JSON(http.StatusOK, models.NovelResponse{ID: job.ID, Status: "processing"})
	}
}

// GetNovel returns a handler for GET /api/v1/novel/:id.
func GetNovel() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := novelStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "novel job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*models.NovelJob).Snapshot())
	}
}

// runNovel builds the listing, downloads bodies when asked, and settles the
// job status: "failed" when nothing was listed, "partial" when a page or a
// chapter failed, "completed" otherwise.
func runNovel(ctx context.Context, cr Crawler, job *models.NovelJob, req models.NovelRequest) {
	listing, err := cr.Listing(ctx, req.URL)
	if err != nil {
		job.Update(func(j *models.NovelJob) {
			j.Status = "failed"
			j.Listing = listing
			j.Error = models.DetailFor(err)
		})
		if errors.Is(err, models.ErrEmptyListing) {
			slog.Warn("novel job found no chapters", "id", job.ID, "url", req.URL)
		} else {
			slog.Error("novel job failed", "id", job.ID, "url", req.URL, "error", err)
		}
		finishNovel(job)
		return
	}

	job.Update(func(j *models.NovelJob) {
		j.Listing = listing
		j.Total = len(listing.Chapters)
		if !req.Download {
			j.Completed = j.Total
		}
	})

	partial := listing.Partial()
	if req.Download {
		bodies := cr.Chapters(ctx, listing.Chapters, req.OutputFormat, func(models.ChapterBody) {
			job.Update(func(j *models.NovelJob) { j.Completed++ })
		})
		for _, b := range bodies {
			if b.Error != nil {
				partial = true
				break
			}
		}
		job.Update(func(j *models.NovelJob) { j.Bodies = bodies })
	}

	job.Update(func(j *models.NovelJob) {
		if partial {
			j.Status = "partial"
		} else {
			j.Status = "completed"
		}
	})
	finishNovel(job)
}

// recoverNovel turns a panic in a novel job into a failed job instead of a
// crashed process.
func recoverNovel(job *models.NovelJob) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("PANIC recovered in novel job", "id", job.ID, "panic", r, "stack_trace", string(debug.Stack()))
	job.Update(func(j *models.NovelJob) {
		j.Status = "failed"
		j.Error = &models.ErrorDetail{Code: models.ErrCodeInternal, Message: fmt.Sprintf("novel job panicked: %v", r)}
	})
	finishNovel(job)
}

// finishNovel logs the final status and fires the completion webhook.
func finishNovel(job *models.NovelJob) {
	snap := job.Snapshot()
	var hookURL, secret string
	job.Update(func(j *models.NovelJob) { hookURL, secret = j.WebhookURL, j.WebhookSecret })

	slog.Info("novel job finished",
		"id", snap.ID,
		"status", snap.Status,
		"total", snap.Total,
		"completed", snap.Completed,
	)

	if hookURL == "" {
		return
	}
	webhook.DeliverAsync(hookURL, secret, &webhook.Event{
		Type:      "novel." + snap.Status,
		JobID:     snap.ID,
		Timestamp: time.Now().Unix(),
		Data:      snap,
	})
}
