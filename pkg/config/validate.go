package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"pagepair/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// FetchTimeout
	if c.FetchTimeout < 0 {
		warnings = append(warnings, "fetch_timeout cannot be negative, defaulting to 15s")
		c.FetchTimeout = 0
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 15 * time.Second
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// MaxRedirectHops
	if c.MaxRedirectHops < 0 {
		warnings = append(warnings, "max_redirect_hops cannot be negative, defaulting to 5")
		c.MaxRedirectHops = 0
	}
	if c.MaxRedirectHops == 0 {
		c.MaxRedirectHops = 5
	}

	// MaxSitemapDepth
	if c.MaxSitemapDepth < 0 {
		warnings = append(warnings, "max_sitemap_depth cannot be negative, defaulting to 5")
		c.MaxSitemapDepth = 0
	}
	if c.MaxSitemapDepth == 0 {
		c.MaxSitemapDepth = 5
	}

	// MaxSitemapBytes
	if c.MaxSitemapBytes < 0 {
		warnings = append(warnings, "max_sitemap_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxSitemapBytes = 0
	}

	// MaxProbeConcurrency
	if c.MaxProbeConcurrency <= 0 {
		c.MaxProbeConcurrency = 4
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// MaxLinkCrawlPages
	if c.MaxLinkCrawlPages <= 0 {
		c.MaxLinkCrawlPages = 25
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './pagepair_state'")
		c.StateDir = "./pagepair_state"
	}

	// DBGCInterval
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks CompareConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (URL trimming, cap defaulting).
func (c *CompareConfig) Validate() (warnings []string, err error) {
	for i := range c.ReferenceURLs {
		c.ReferenceURLs[i] = strings.TrimSpace(c.ReferenceURLs[i])
	}
	for i := range c.TestURLs {
		c.TestURLs[i] = strings.TrimSpace(c.TestURLs[i])
	}

	// Mapping-only compares need no live URLs at all
	if len(c.URLMappings) > 0 {
		if c.MaxURLs < 0 {
			warnings = append(warnings, "max_urls cannot be negative, using default")
			c.MaxURLs = 0
		}
		return warnings, nil
	}

	// Required: ReferenceURLs
	if len(c.ReferenceURLs) == 0 || c.ReferenceURLs[0] == "" {
		return nil, fmt.Errorf("%w: compare has no reference_urls", utils.ErrConfigValidation)
	}

	// Required: TestURLs
	if len(c.TestURLs) == 0 || c.TestURLs[0] == "" {
		return nil, fmt.Errorf("%w: compare has no test_urls", utils.ErrConfigValidation)
	}

	// Anchor URLs must parse with a host; everything downstream derives
	// origins from them
	for _, raw := range []string{c.ReferenceURLs[0], c.TestURLs[0]} {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %q: %v", utils.ErrConfigValidation, raw, parseErr)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("%w: %q must be absolute http(s)", utils.ErrConfigValidation, raw)
		}
		if parsed.Hostname() == "" {
			return nil, fmt.Errorf("%w: %q has no host", utils.ErrConfigValidation, raw)
		}
	}

	if len(c.TestURLs) > 1 && len(c.ReferenceURLs) <= 1 && c.SitemapURL == "" && !c.Crawl {
		warnings = append(warnings, fmt.Sprintf(
			"%d test_urls configured against a single reference_url; each will be paired against it",
			len(c.TestURLs)))
	}

	if c.SitemapURL != "" {
		c.SitemapURL = strings.TrimSpace(c.SitemapURL)
		parsed, parseErr := url.Parse(c.SitemapURL)
		if parseErr != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
			return nil, fmt.Errorf("%w: sitemap_url %q must be absolute", utils.ErrConfigValidation, c.SitemapURL)
		}
	}

	// MaxURLs
	if c.MaxURLs < 0 {
		warnings = append(warnings, "max_urls cannot be negative, using default")
		c.MaxURLs = 0
	}

	return warnings, nil
}
