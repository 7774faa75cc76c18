package models

import "sync"

// NovelResponse is the immediate response for POST /api/v1/novel.
type NovelResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// NovelStatusResponse is the response for GET /api/v1/novel/:id.
type NovelStatusResponse struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Listing   *Listing      `json:"listing,omitempty"`
	Bodies    []ChapterBody `json:"bodies,omitempty"`
	Error     *ErrorDetail  `json:"error,omitempty"`
}

// NovelJob tracks an in-progress listing walk. It is shared between the
// background crawl goroutine and status readers, so access goes through mu.
type NovelJob struct {
	mu sync.Mutex

	ID            string
	Status        string // "processing", "completed", "partial", "failed"
	Total         int
	Completed     int
	Listing       *Listing
	Bodies        []ChapterBody
	Error         *ErrorDetail
	CreatedAt     int64 // unix timestamp
	WebhookURL    string
	WebhookSecret string
}

// Update runs fn with the job locked.
func (j *NovelJob) Update(fn func(j *NovelJob)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j)
}

// Snapshot returns a consistent copy of the job for API responses.
func (j *NovelJob) Snapshot() NovelStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	bodies := make([]ChapterBody, len(j.Bodies))
	copy(bodies, j.Bodies)
	return NovelStatusResponse{
		ID:        j.ID,
		Status:    j.Status,
		Completed: j.Completed,
		Total:     j.Total,
		Listing:   j.Listing,
		Bodies:    bodies,
		Error:     j.Error,
	}
}
