package models

// ChapterResponse is the response for POST /api/v1/chapter.
type ChapterResponse struct {
	// Success indicates whether the chapter was fetched and extracted.
	Success bool `json:"success"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url,omitempty"`

	// Title is the chapter heading, when one was found.
	Title string `json:"title,omitempty"`

	// Content is the chapter body in the requested format.
	Content string `json:"content,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus is "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// FetchMs is the time spent in the fetch pipeline (including escalations).
	FetchMs int64 `json:"fetch_ms"`

	// ExtractMs is the time spent extracting and converting the body.
	ExtractMs int64 `json:"extract_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status   string        `json:"status"` // "healthy" or "degraded"
	Uptime   string        `json:"uptime"`
	Session  SessionStats  `json:"session"`
	Rotation RotationStats `json:"rotation"`
	Version  string        `json:"version"`
}

// SessionStats reports the shared session identity without exposing cookie values.
type SessionStats struct {
	Synced      bool     `json:"synced"`
	CookieNames []string `json:"cookie_names"`
	Identity    string   `json:"identity"`
}

// RotationStats reports identity rotation activity.
type RotationStats struct {
	Triggers     int64  `json:"triggers"`
	LastRotation string `json:"last_rotation,omitempty"`
	LastResult   bool   `json:"last_result"`
}
