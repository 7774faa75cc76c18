package models

// NovelRequest is the payload for POST /api/v1/novel.
type NovelRequest struct {
	// URL is the novel info page. Required.
	URL string `json:"url" binding:"required,url"`

	// Download also fetches every chapter body after the listing is built.
	Download bool `json:"download,omitempty"`

	// OutputFormat controls chapter body format when Download is set.
	// Allowed: "markdown" (default), "html", "text".
	OutputFormat string `json:"output_format,omitempty" binding:"omitempty,oneof=markdown html text"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *NovelRequest) Defaults() {
	if r.OutputFormat == "" {
		r.OutputFormat = "markdown"
	}
}

// ChapterRequest is the payload for POST /api/v1/chapter.
type ChapterRequest struct {
	// URL is the chapter page. Required.
	URL string `json:"url" binding:"required,url"`

	// OutputFormat: "markdown" (default), "html", "text".
	OutputFormat string `json:"output_format,omitempty" binding:"omitempty,oneof=markdown html text"`

	// MaxAge is the maximum cache age in milliseconds. 0 disables the cache lookup.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *ChapterRequest) Defaults() {
	if r.OutputFormat == "" {
		r.OutputFormat = "markdown"
	}
}
