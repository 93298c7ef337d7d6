package config

import "time"

// DefaultUserAgent identifies pagepair requests when no user_agent is configured.
const DefaultUserAgent = "pagepair/1.0 (+https://github.com/pagepair/pagepair)"

// DefaultMaxURLs caps how many URLs a single compare run keeps after filtering.
const DefaultMaxURLs = 50

// CompareConfig holds configuration specific to a single reference/test comparison
type CompareConfig struct {
	ReferenceURLs   []string      `yaml:"reference_urls"`             // first entry anchors pairing; >1 enables positional mode
	TestURLs        []string      `yaml:"test_urls"`                  // first entry anchors pairing
	SitemapURL      string        `yaml:"sitemap_url,omitempty"`      // skip discovery, crawl this sitemap directly
	Crawl           bool          `yaml:"crawl,omitempty"`            // crawl for URLs instead of pairing the lists directly
	URLMappings     []string      `yaml:"url_mappings,omitempty"`     // literal "ref:test" entries, bypass pairing
	ExcludePatterns []string      `yaml:"exclude_patterns,omitempty"` // Regex patterns matched against full URLs
	MaxURLs         int           `yaml:"max_urls,omitempty"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
	DelayPerHost    time.Duration `yaml:"delay_per_host,omitempty"`
	LinkFallback    *bool         `yaml:"link_fallback,omitempty"` // tri-state: nil=global, true/false=override
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                   `yaml:"default_user_agent,omitempty"`
	DefaultDelayPerHost     time.Duration            `yaml:"default_delay_per_host,omitempty"`
	FetchTimeout            time.Duration            `yaml:"fetch_timeout,omitempty"` // per-request budget, enforced with an active abort
	MaxRetries              int                      `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration            `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration            `yaml:"max_retry_delay,omitempty"`
	MaxRedirectHops         int                      `yaml:"max_redirect_hops,omitempty"`
	MaxSitemapDepth         int                      `yaml:"max_sitemap_depth,omitempty"`
	MaxSitemapBytes         int64                    `yaml:"max_sitemap_bytes,omitempty"`
	MaxProbeConcurrency     int                      `yaml:"max_probe_concurrency,omitempty"` // parallel discovery probes
	SemaphoreAcquireTimeout time.Duration            `yaml:"semaphore_acquire_timeout,omitempty"`
	LinkFallback            bool                     `yaml:"link_fallback,omitempty"` // crawl homepage links when no sitemap is found
	MaxLinkCrawlPages       int                      `yaml:"max_link_crawl_pages,omitempty"`
	StateDir                string                   `yaml:"state_dir,omitempty"`
	DBGCInterval            time.Duration            `yaml:"db_gc_interval,omitempty"` // value log GC cadence for the run store
	HTTPClientSettings      HTTPClientConfig         `yaml:"http_client_settings,omitempty"`
	Compares                map[string]CompareConfig `yaml:"compares"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Explicitly enable/disable HTTP/2 attempt (use pointer for tri-state: nil=default, true=force, false=disable)
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveUserAgent determines the User-Agent for one compare's requests.
// Compare config (if non-empty) overrides global; both empty falls back to the
// built-in identifying agent.
func GetEffectiveUserAgent(cmpCfg CompareConfig, appCfg AppConfig) string {
	if cmpCfg.UserAgent != "" {
		return cmpCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the per-host politeness delay
func GetEffectiveDelayPerHost(cmpCfg CompareConfig, appCfg AppConfig) time.Duration {
	if cmpCfg.DelayPerHost > 0 {
		return cmpCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveMaxURLs determines the URL cap for one compare run
func GetEffectiveMaxURLs(cmpCfg CompareConfig) int {
	if cmpCfg.MaxURLs > 0 {
		return cmpCfg.MaxURLs
	}
	return DefaultMaxURLs
}

// GetEffectiveLinkFallback determines whether the homepage link crawl runs
// when sitemap discovery comes up empty
func GetEffectiveLinkFallback(cmpCfg CompareConfig, appCfg AppConfig) bool {
	if cmpCfg.LinkFallback != nil {
		return *cmpCfg.LinkFallback
	}
	return appCfg.LinkFallback
}
