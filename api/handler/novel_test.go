package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/lnfetch/models"
)

type panickingCrawler struct{}

func (panickingCrawler) Listing(context.Context, string) (*models.Listing, error) {
	panic("makeslice: len out of range")
}

func (panickingCrawler) Chapters(context.Context, []models.ChapterRecord, string, func(models.ChapterBody)) []models.ChapterBody {
	return nil
}

func TestPostNovel_PanicFailsJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/novel", PostNovel(panickingCrawler{}))
	r.GET("/novel/:id", GetNovel())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/novel", strings.NewReader(`{"url":"https://n.test/dawn.html"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created models.NovelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	var status models.NovelStatusResponse
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/novel/"+created.ID, nil))
		status = models.NovelStatusResponse{}
		_ = json.Unmarshal(w.Body.Bytes(), &status)
		return status.Status != "processing"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "failed", status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, models.ErrCodeInternal, status.Error.Code)
	assert.Contains(t, status.Error.Message, "makeslice")
}
