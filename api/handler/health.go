package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/lnfetch/models"
	"github.com/use-agent/lnfetch/rotation"
	"github.com/use-agent/lnfetch/session"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SessionReader exposes the shared session for reporting.
type SessionReader interface {
	Snapshot() session.Snapshot
}

// RotationReader exposes rotation activity for reporting.
type RotationReader interface {
	Stats() rotation.Stats
}

// Health returns a handler for GET /api/v1/health. rot may be nil when no
// rotation hook is configured.
//
// Status degrades when the most recent rotation failed to recover.
func Health(sess SessionReader, rot RotationReader, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := sess.Snapshot()
		resp := models.HealthResponse{
			Status: "healthy",
			Uptime: time.Since(startTime).Round(time.Second).String(),
			Session: models.SessionStats{
				Synced:      snap.Synced,
				CookieNames: snap.CookieNames(),
				Identity:    snap.Identity,
			},
			Version: Version,
		}

		if rot != nil {
			st := rot.Stats()
			resp.Rotation = models.RotationStats{Triggers: st.Triggers, LastResult: st.LastResult}
			if !st.LastRotation.IsZero() {
				resp.Rotation.LastRotation = st.LastRotation.UTC().Format(time.RFC3339)
			}
			if st.Triggers > 0 && !st.LastResult {
				resp.Status = "degraded"
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}
