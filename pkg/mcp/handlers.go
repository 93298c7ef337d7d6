package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/models"
	"pagepair/pkg/sitemap"
)

// handleListCompares handles the list_compares tool
func (s *Server) handleListCompares(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	compares := make([]map[string]interface{}, 0, len(s.cfg.AppConfig.Compares))

	// Get sorted keys for consistent output
	keys := make([]string, 0, len(s.cfg.AppConfig.Compares))
	for k := range s.cfg.AppConfig.Compares {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cmpCfg := s.cfg.AppConfig.Compares[key]
		compareInfo := map[string]interface{}{
			"key":             key,
			"test_urls_count": len(cmpCfg.TestURLs),
		}
		if len(cmpCfg.ReferenceURLs) > 0 {
			compareInfo["reference_url"] = cmpCfg.ReferenceURLs[0]
		}
		if cmpCfg.SitemapURL != "" {
			compareInfo["sitemap_url"] = cmpCfg.SitemapURL
		}
		if cmpCfg.Crawl {
			compareInfo["crawl"] = true
		}
		if len(cmpCfg.URLMappings) > 0 {
			compareInfo["url_mappings_count"] = len(cmpCfg.URLMappings)
		}

		// Check for last run info from the store
		if s.cfg.Store != nil {
			status, manifest, err := s.cfg.Store.LatestManifest(key)
			if err == nil && manifest != nil {
				compareInfo["last_run_status"] = status.String()
				compareInfo["last_run_at"] = manifest.FinishedAt.Format(time.RFC3339)
				compareInfo["last_run_pairs"] = len(manifest.Pairs)
			}
		}

		compares = append(compares, compareInfo)
	}

	result := map[string]interface{}{
		"compares":       compares,
		"config_path":    s.cfg.ConfigPath,
		"total_compares": len(compares),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handlePairURLs handles the pair_urls tool
func (s *Server) handlePairURLs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	compareKey := request.GetString("compare_key", "")
	if compareKey == "" {
		return mcp.NewToolResultError("compare_key parameter is required"), nil
	}

	useCached := request.GetBool("use_cached", false)

	// Check if compare exists
	if _, exists := s.cfg.AppConfig.Compares[compareKey]; !exists {
		availableKeys := make([]string, 0, len(s.cfg.AppConfig.Compares))
		for k := range s.cfg.AppConfig.Compares {
			availableKeys = append(availableKeys, k)
		}
		return mcp.NewToolResultError(fmt.Sprintf("compare '%s' not found. Available compares: %v", compareKey, availableKeys)), nil
	}

	// Serve the last stored manifest when the caller allows it. Failed runs
	// are never served from cache.
	if useCached && s.cfg.Store != nil {
		status, manifest, err := s.cfg.Store.LatestManifest(compareKey)
		if err == nil && manifest != nil && status != models.RunStatusFailure {
			return mcp.NewToolResultText(formatJSON(map[string]interface{}{
				"cached":   true,
				"manifest": manifest,
			})), nil
		}
	}

	manifest, err := s.orchestrator.RunCompare(ctx, compareKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pairing failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cached":   false,
		"manifest": manifest,
	})), nil
}

// handleDiscoverSitemaps handles the discover_sitemaps tool
func (s *Server) handleDiscoverSitemaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteURL := request.GetString("site_url", "")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url parameter is required"), nil
	}

	userAgent := request.GetString("user_agent", "")
	if userAgent == "" {
		userAgent = config.GetEffectiveUserAgent(config.CompareConfig{}, *s.cfg.AppConfig)
	}

	// Create discovery components
	httpClient := fetch.NewClient(s.cfg.AppConfig.HTTPClientSettings, s.log.Logger)
	rateLimiter := fetch.NewRateLimiter(config.GetEffectiveDelayPerHost(config.CompareConfig{}, *s.cfg.AppConfig), s.log.Logger.WithField("component", "ratelimit"))
	fetcher := fetch.NewFetcher(httpClient, s.cfg.AppConfig, rateLimiter, s.log.Logger)
	robots := fetch.NewRobotsHandler(fetcher, s.log.Logger.WithField("component", "robots"))
	discoverer := sitemap.NewDiscoverer(fetcher, robots, *s.cfg.AppConfig, s.log.Logger)

	startTime := time.Now()

	found, err := discoverer.Discover(ctx, siteURL, userAgent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed: %v", err)), nil
	}

	result := map[string]interface{}{
		"site_url":         siteURL,
		"sitemaps":         found,
		"total_sitemaps":   len(found),
		"discover_time_ms": time.Since(startTime).Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRunHistory handles the run_history tool
func (s *Server) handleRunHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	compareKey := request.GetString("compare_key", "")
	if compareKey == "" {
		return mcp.NewToolResultError("compare_key parameter is required"), nil
	}

	if s.cfg.Store == nil {
		return mcp.NewToolResultError("no run store is attached to this server"), nil
	}

	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	manifests, err := s.cfg.Store.ListManifests(compareKey, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	runs := make([]map[string]interface{}, 0, len(manifests))
	for _, m := range manifests {
		run := map[string]interface{}{
			"run_id":      m.RunID,
			"strategy":    m.Strategy,
			"status":      m.Status.String(),
			"started_at":  m.StartedAt.Format(time.RFC3339),
			"finished_at": m.FinishedAt.Format(time.RFC3339),
			"urls_found":  m.URLsFound,
			"urls_kept":   m.URLsKept,
			"pairs":       len(m.Pairs),
		}
		if len(m.Warnings) > 0 {
			run["warnings"] = m.Warnings
		}
		if m.ErrorCategory != "" {
			run["error_category"] = m.ErrorCategory
		}
		runs = append(runs, run)
	}

	result := map[string]interface{}{
		"compare_key": compareKey,
		"runs":        runs,
		"total_runs":  len(runs),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
