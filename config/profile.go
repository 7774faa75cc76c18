package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// SiteProfile is the site-specific data the pipeline matches against.
// The target changes these strings over time, so they are data, not code.
type SiteProfile struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`

	// ChallengeMarkers are case-insensitive substrings of a challenge page.
	ChallengeMarkers []string `yaml:"challenge_markers"`

	// GatewayMarkers identify an origin/edge error page in the browser.
	GatewayMarkers []string `yaml:"gateway_markers"`

	// ReadyMarkers identify the real target page once a challenge has passed.
	ReadyMarkers []string `yaml:"ready_markers"`

	// ClearanceCookie must be present for a session to be adopted.
	ClearanceCookie string `yaml:"clearance_cookie"`

	// AllowedCookies is the allow-list applied on adoption. The clearance
	// cookie is always allowed.
	AllowedCookies []string `yaml:"allowed_cookies"`

	// DefaultIdentity is the user agent used while no session is adopted.
	DefaultIdentity string `yaml:"default_identity"`

	// MinContentBytes is the body length below which a response is EmptyContent.
	MinContentBytes int `yaml:"min_content_bytes"`

	Selectors Selectors `yaml:"selectors"`

	// PageParam and TokenParam are the pagination query parameter names.
	PageParam  string `yaml:"page_param"`
	TokenParam string `yaml:"token_param"`

	// MaxPages is the largest last-page index a pagination control may
	// declare. A control beyond it is rejected as malformed.
	MaxPages int `yaml:"max_pages"`
}

// Selectors are the CSS selectors used by the extraction collaborator.
type Selectors struct {
	Title           string   `yaml:"title"`
	Cover           string   `yaml:"cover"`
	ChapterLinks    string   `yaml:"chapter_links"`
	ChapterFallback string   `yaml:"chapter_fallback"`
	Pagination      string   `yaml:"pagination"`
	Body            string   `yaml:"body"`
	BodyHeading     string   `yaml:"body_heading"`
	Remove          []string `yaml:"remove"`
}

// DefaultMaxPages caps the pagination walk of one novel.
const DefaultMaxPages = 1000

const defaultIdentity = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultSiteProfile returns the profile for the default target.
func DefaultSiteProfile() *SiteProfile {
	return &SiteProfile{
		Name:    "fanmtl",
		BaseURL: "https://www.fanmtl.com/",
		ChallengeMarkers: []string{
			"just a moment",
			"enable javascript",
			"checking your browser",
			"cf-chl-",
			"challenge-platform",
		},
		GatewayMarkers: []string{
			"bad gateway",
			"error code 502",
			"error code 520",
			"web server is down",
			"origin is unreachable",
		},
		ReadyMarkers: []string{
			"novel-title",
			"chapter-list",
			"chapter-content",
		},
		ClearanceCookie: "cf_clearance",
		AllowedCookies:  []string{"cf_clearance", "__cf_bm"},
		DefaultIdentity: defaultIdentity,
		MinContentBytes: 500,
		Selectors: Selectors{
			Title:           "h1.novel-title",
			Cover:           "figure.cover img, .fixed-img img",
			ChapterLinks:    ".chapter-list a, ul.chapter-list li a",
			ChapterFallback: "a[href*='/chapter-']",
			Pagination:      `.pagination a[data-ajax-update="#chpagedlist"]`,
			Body:            "#chapter-article .chapter-content, .chapter-content",
			BodyHeading:     ".chapter-header h2, h1.chapter-title, h2",
			Remove:          []string{`div[align="center"]`, "script", "ins"},
		},
		PageParam:  "page",
		TokenParam: "wjm",
		MaxPages:   DefaultMaxPages,
	}
}

// LoadSiteProfile reads a YAML profile. Unset fields keep their defaults.
func LoadSiteProfile(path string) (*SiteProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read site profile %s: %w", path, err)
	}
	p := DefaultSiteProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: parse site profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile for values the pipeline cannot work without
// and compiles every selector.
func (p *SiteProfile) Validate() error {
	if strings.TrimSpace(p.ClearanceCookie) == "" {
		return fmt.Errorf("config: site profile %q: clearance_cookie is required", p.Name)
	}
	if len(p.ChallengeMarkers) == 0 {
		return fmt.Errorf("config: site profile %q: at least one challenge marker is required", p.Name)
	}
	if p.MinContentBytes < 0 {
		return fmt.Errorf("config: site profile %q: min_content_bytes must be >= 0", p.Name)
	}
	if p.MaxPages < 0 {
		return fmt.Errorf("config: site profile %q: max_pages must be >= 0", p.Name)
	}
	sels := []string{
		p.Selectors.Title, p.Selectors.Cover, p.Selectors.ChapterLinks,
		p.Selectors.ChapterFallback, p.Selectors.Pagination, p.Selectors.Body,
		p.Selectors.BodyHeading,
	}
	sels = append(sels, p.Selectors.Remove...)
	for _, s := range sels {
		if s == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(s); err != nil {
			return fmt.Errorf("config: site profile %q: bad selector %q: %w", p.Name, s, err)
		}
	}
	return nil
}

// CookieAllowList returns the allow-list including the clearance cookie.
func (p *SiteProfile) CookieAllowList() []string {
	out := make([]string, 0, len(p.AllowedCookies)+1)
	out = append(out, p.ClearanceCookie)
	for _, c := range p.AllowedCookies {
		if c != p.ClearanceCookie {
			out = append(out, c)
		}
	}
	return out
}
