package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/lnfetch/models"
)

// respondError maps an error to the correct HTTP status code and writes a
// structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		fe = models.NewFetchError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(fe), models.ChapterResponse{
		Success: false,
		Error:   fe.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.FetchError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodePermanent:
		return http.StatusNotFound // 404
	case models.ErrCodeEmptyContent, models.ErrCodeEmptyListing:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeBlocked, models.ErrCodeGateway, models.ErrCodeTransient:
		return http.StatusBadGateway // 502
	case models.ErrCodeSolverFailure, models.ErrCodeRotationTimeout, models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
