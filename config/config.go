package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Network   NetworkConfig
	Retry     RetryConfig
	Solver    SolverConfig
	Rotation  RotationConfig
	Crawler   CrawlerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Store     StoreConfig
	Log       LogConfig

	// Site is the target-specific data: markers, cookie names, selectors.
	Site *SiteProfile
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// NetworkConfig controls the upstream network path shared by both fetch tiers.
type NetworkConfig struct {
	// ProxyURL is the forward proxy for every fetch and the browser.
	// socks5h:// keeps DNS resolution on the proxy side.
	ProxyURL string

	// HealthURL is polled after a rotation. Defaults to "{proxy base}/".
	HealthURL string

	// RotationHookURL is the secret deploy hook that rotates the upstream IP.
	RotationHookURL string

	// AttemptTimeout bounds one fast-path request.
	AttemptTimeout time.Duration // default: 30s

	// TargetRPS throttles fast-path requests to the target site. 0 disables.
	TargetRPS float64 // default: 4

	// TargetBurst is the limiter burst size.
	TargetBurst int // default: 4
}

// RetryConfig controls the orchestrator's bounded retry budget.
type RetryConfig struct {
	// MaxAttempts bounds retries for transient, empty and gateway outcomes.
	MaxAttempts int // default: 5

	InitialDelay time.Duration // default: 2s
	Multiplier   float64       // default: 2
	MaxDelay     time.Duration // default: 30s

	// GatewayDelay is the fixed wait after a gateway error.
	GatewayDelay time.Duration // default: 10s

	// MaxRotations bounds identity rotations within one fetch.
	MaxRotations int // default: 2
}

// SolverConfig controls the browser challenge solver.
type SolverConfig struct {
	Deadline     time.Duration // default: 90s
	PollInterval time.Duration // default: 2s
	Headless     bool          // default: true
	NoSandbox    bool          // default: false
	BrowserBin   string
}

// RotationConfig controls identity rotation polling.
type RotationConfig struct {
	WarmUp       time.Duration // default: 30s
	PollInterval time.Duration // default: 10s
	Deadline     time.Duration // default: 10m
}

// CrawlerConfig controls listing and chapter download.
type CrawlerConfig struct {
	// Workers is the size of the page/chapter worker pool.
	Workers int // default: 8
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-caller rate limiting on the API. Novel
// submissions start a whole crawl, so they draw from their own slower budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
	NovelPerMinute    float64 // default: 6
	NovelBurst        int     // default: 3
}

// CacheConfig controls the chapter response cache.
type CacheConfig struct {
	MaxEntries int // default: 1000
}

// StoreConfig controls session persistence.
type StoreConfig struct {
	// Dir is the badger directory. Empty disables persistence.
	Dir string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// The site profile is read from LNFETCH_SITE_PROFILE when set.
func Load() (*Config, error) {
	site := DefaultSiteProfile()
	if path := os.Getenv("LNFETCH_SITE_PROFILE"); path != "" {
		p, err := LoadSiteProfile(path)
		if err != nil {
			return nil, err
		}
		site = p
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("LNFETCH_HOST", "0.0.0.0"),
			Port: envIntOr("LNFETCH_PORT", 8080),
			Mode: envOr("LNFETCH_MODE", "release"),
		},
		Network: NetworkConfig{
			ProxyURL:        os.Getenv("LNFETCH_PROXY"),
			HealthURL:       os.Getenv("LNFETCH_HEALTH_URL"),
			RotationHookURL: os.Getenv("LNFETCH_ROTATION_HOOK"),
			AttemptTimeout:  envDurationOr("LNFETCH_ATTEMPT_TIMEOUT", 30*time.Second),
			TargetRPS:       envFloatOr("LNFETCH_TARGET_RPS", 4),
			TargetBurst:     envIntOr("LNFETCH_TARGET_BURST", 4),
		},
		Retry: RetryConfig{
			MaxAttempts:  envIntOr("LNFETCH_MAX_ATTEMPTS", 5),
			InitialDelay: envDurationOr("LNFETCH_BACKOFF_INITIAL", 2*time.Second),
			Multiplier:   envFloatOr("LNFETCH_BACKOFF_MULTIPLIER", 2),
			MaxDelay:     envDurationOr("LNFETCH_BACKOFF_MAX", 30*time.Second),
			GatewayDelay: envDurationOr("LNFETCH_GATEWAY_DELAY", 10*time.Second),
			MaxRotations: envIntOr("LNFETCH_MAX_ROTATIONS", 2),
		},
		Solver: SolverConfig{
			Deadline:     envDurationOr("LNFETCH_SOLVER_DEADLINE", 90*time.Second),
			PollInterval: envDurationOr("LNFETCH_SOLVER_POLL", 2*time.Second),
			Headless:     envBoolOr("LNFETCH_HEADLESS", true),
			NoSandbox:    envBoolOr("LNFETCH_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("LNFETCH_BROWSER_BIN"),
		},
		Rotation: RotationConfig{
			WarmUp:       envDurationOr("LNFETCH_ROTATION_WARMUP", 30*time.Second),
			PollInterval: envDurationOr("LNFETCH_ROTATION_POLL", 10*time.Second),
			Deadline:     envDurationOr("LNFETCH_ROTATION_DEADLINE", 10*time.Minute),
		},
		Crawler: CrawlerConfig{
			Workers: envIntOr("LNFETCH_WORKERS", 8),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LNFETCH_AUTH_ENABLED", true),
			APIKeys: envSliceOr("LNFETCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LNFETCH_RATE_RPS", 5.0),
			Burst:             envIntOr("LNFETCH_RATE_BURST", 10),
			NovelPerMinute:    envFloatOr("LNFETCH_RATE_NOVEL_PER_MIN", 6),
			NovelBurst:        envIntOr("LNFETCH_RATE_NOVEL_BURST", 3),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("LNFETCH_CACHE_MAX_ENTRIES", 1000),
		},
		Store: StoreConfig{
			Dir: os.Getenv("LNFETCH_STATE_DIR"),
		},
		Log: LogConfig{
			Level:  envOr("LNFETCH_LOG_LEVEL", "info"),
			Format: envOr("LNFETCH_LOG_FORMAT", "json"),
		},
		Site: site,
	}
	if cfg.Network.HealthURL == "" {
		cfg.Network.HealthURL = HealthURLFromProxy(cfg.Network.ProxyURL)
	}
	return cfg, nil
}

// HealthURLFromProxy derives "http://host:port/" from the proxy address.
func HealthURLFromProxy(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	rest := proxyURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	rest = strings.TrimRight(rest, "/")
	return "http://" + rest + "/"
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
