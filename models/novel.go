package models

// ChapterLink is a chapter anchor as found on one listing page, before
// deduplication and numbering.
type ChapterLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ChapterRecord is a numbered chapter in a finished listing. IDs are 1-based
// and contiguous in listing order; URL is unique within the listing.
type ChapterRecord struct {
	ID     int    `json:"id"`
	Volume int    `json:"volume"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// Volume groups chapters. The target exposes a single volume.
type Volume struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// PageDescriptor is derived once from the first listing page's pagination control.
type PageDescriptor struct {
	BaseURL string `json:"base_url"`
	Count   int    `json:"count"`
	Token   string `json:"token"`
}

// NovelInfo holds the metadata fields of the novel page.
type NovelInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Cover  string `json:"cover,omitempty"`
}

// Listing is the assembled result of walking a novel's chapter listing.
type Listing struct {
	Novel       NovelInfo       `json:"novel"`
	Volumes     []Volume        `json:"volumes"`
	Chapters    []ChapterRecord `json:"chapters"`
	Pages       int             `json:"pages"`
	FailedPages []int           `json:"failed_pages,omitempty"`
}

// Empty reports whether the walk produced no chapters at all.
func (l *Listing) Empty() bool {
	return l == nil || len(l.Chapters) == 0
}

// Partial reports whether some pagination pages could not be fetched.
func (l *Listing) Partial() bool {
	return l != nil && len(l.FailedPages) > 0
}

// ChapterBody is the downloaded content of one chapter.
type ChapterBody struct {
	ID      int          `json:"id"`
	URL     string       `json:"url"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
	Error   *ErrorDetail `json:"error,omitempty"`
}
