package orchestrate

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/filter"
	"pagepair/pkg/models"
	"pagepair/pkg/pairing"
	"pagepair/pkg/sitemap"
	"pagepair/pkg/storage"
	"pagepair/pkg/utils"
)

// CompareResult contains the result of running a single compare
type CompareResult struct {
	CompareKey string
	Success    bool
	Error      error
	Strategy   string
	PairCount  int
	Duration   time.Duration
	Manifest   *models.RunManifest
}

// Orchestrator manages parallel runs of multiple compares
type Orchestrator struct {
	appCfg      *config.AppConfig
	log         *logrus.Entry
	compareKeys []string

	// Shared resources
	fetcher     *fetch.Fetcher
	rateLimiter *fetch.RateLimiter
	robots      *fetch.RobotsHandler
	crawler     *sitemap.Crawler
	discoverer  *sitemap.Discoverer
	linkCrawler *sitemap.LinkCrawler
	engine      *pairing.Engine
	store       storage.RunStore

	// Results
	results   []CompareResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a new orchestrator for the given compare keys.
// store may be nil, which disables run-manifest persistence.
func NewOrchestrator(appCfg *config.AppConfig, compareKeys []string, store storage.RunStore, log *logrus.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	// Create shared HTTP client, rate limiter, and fetcher
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log.WithField("component", "ratelimit"))
	applyDelayFloors(rateLimiter, appCfg)
	fetcher := fetch.NewFetcher(httpClient, appCfg, rateLimiter, log)
	robots := fetch.NewRobotsHandler(fetcher, log.WithField("component", "robots"))

	return &Orchestrator{
		appCfg:      appCfg,
		log:         log.WithField("component", "orchestrator"),
		compareKeys: compareKeys,
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		robots:      robots,
		crawler:     sitemap.NewCrawler(fetcher, *appCfg, log),
		discoverer:  sitemap.NewDiscoverer(fetcher, robots, *appCfg, log),
		linkCrawler: sitemap.NewLinkCrawler(fetcher, robots, *appCfg, log),
		engine:      pairing.NewEngine(log),
		store:       store,
		results:     make([]CompareResult, 0, len(compareKeys)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// applyDelayFloors raises the limiter's per-host delay for the hosts of any
// compare carrying its own delay_per_host. The limiter is shared, so when two
// compares pace the same host the strictest delay applies.
func applyDelayFloors(limiter *fetch.RateLimiter, appCfg *config.AppConfig) {
	for _, cmpCfg := range appCfg.Compares {
		if cmpCfg.DelayPerHost <= 0 {
			continue
		}
		delay := config.GetEffectiveDelayPerHost(cmpCfg, *appCfg)
		rawURLs := append([]string{}, cmpCfg.ReferenceURLs...)
		rawURLs = append(rawURLs, cmpCfg.TestURLs...)
		if cmpCfg.SitemapURL != "" {
			rawURLs = append(rawURLs, cmpCfg.SitemapURL)
		}
		for _, raw := range rawURLs {
			if u, err := url.Parse(raw); err == nil {
				limiter.SetHostFloor(u.Hostname(), delay)
			}
		}
	}
}

// Run executes all compares in parallel and waits for completion
func (o *Orchestrator) Run() []CompareResult {
	startTime := time.Now()
	o.log.Infof("Starting parallel run of %d compare(s): %v", len(o.compareKeys), o.compareKeys)

	var wg sync.WaitGroup

	for _, compareKey := range o.compareKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result := o.runCompare(key)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(compareKey)
	}

	// Wait for all compares to complete
	wg.Wait()

	totalDuration := time.Since(startTime)
	o.logSummary(totalDuration)

	return o.results
}

// runCompare runs a single compare and folds the outcome into a CompareResult
func (o *Orchestrator) runCompare(compareKey string) CompareResult {
	startTime := time.Now()
	result := CompareResult{
		CompareKey: compareKey,
	}

	runCtx, runCancel := context.WithCancel(o.ctx)
	defer runCancel()

	manifest, err := o.RunCompare(runCtx, compareKey)
	if err != nil {
		result.Error = err
		result.Success = false
		o.log.WithField("error_category", utils.CategorizeError(err)).Errorf("Compare '%s' failed: %v", compareKey, err)
	} else {
		result.Success = true
	}

	if manifest != nil {
		result.Manifest = manifest
		result.Strategy = manifest.Strategy
		result.PairCount = len(manifest.Pairs)
	}
	result.Duration = time.Since(startTime)

	return result
}

// RunCompare resolves, filters, and pairs URLs for one configured compare.
// The manifest is returned even when the run fails so callers can surface
// what was attempted; the error is non-nil only for misconfiguration or
// when no strategy produced any pairs.
func (o *Orchestrator) RunCompare(ctx context.Context, compareKey string) (*models.RunManifest, error) {
	cmpCfg, exists := o.appCfg.Compares[compareKey]
	if !exists {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "compare '%s' not found in configuration", compareKey)
	}

	manifest := &models.RunManifest{
		RunID:      uuid.NewString(),
		CompareKey: compareKey,
		StartedAt:  time.Now().UTC(),
		Status:     models.RunStatusRunning,
	}
	if len(cmpCfg.ReferenceURLs) > 0 {
		manifest.ReferenceURL = cmpCfg.ReferenceURLs[0]
	}
	if len(cmpCfg.TestURLs) > 0 {
		manifest.TestURL = cmpCfg.TestURLs[0]
	}

	runLog := o.log.WithFields(logrus.Fields{
		"compare": compareKey,
		"run_id":  manifest.RunID,
	})

	pairs, err := o.resolvePairs(ctx, cmpCfg, manifest, runLog)
	manifest.Pairs = pairs
	manifest.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		manifest.Status = models.RunStatusFailure
		manifest.ErrorCategory = utils.CategorizeError(err)
	case len(manifest.Warnings) > 0:
		manifest.Status = models.RunStatusPartial
	default:
		manifest.Status = models.RunStatusSuccess
	}

	o.persistManifest(manifest, runLog)

	if err != nil {
		return manifest, err
	}

	runLog.WithFields(logrus.Fields{
		"strategy": manifest.Strategy,
		"pairs":    len(pairs),
		"status":   manifest.Status.String(),
	}).Info("Compare run finished.")
	return manifest, nil
}

// resolvePairs walks the strategy chain until one produces pairs: literal
// mappings, explicit URL lists, a configured sitemap URL, sitemap discovery,
// then the homepage link crawl. A strategy that comes up empty degrades to
// the next with a recorded warning; only the whole chain ending with zero
// pairs is an error.
func (o *Orchestrator) resolvePairs(ctx context.Context, cmpCfg config.CompareConfig, manifest *models.RunManifest, runLog *logrus.Entry) ([]models.URLPair, error) {
	// Literal mappings bypass URL resolution and pairing entirely.
	if len(cmpCfg.URLMappings) > 0 {
		pairs := o.engine.PairMappings(cmpCfg.URLMappings)
		if len(pairs) > 0 {
			manifest.Strategy = models.StrategyMappings
			manifest.URLsFound = len(cmpCfg.URLMappings)
			manifest.URLsKept = len(pairs)
			return pairs, nil
		}
		o.warn(manifest, runLog, "no url_mappings entry was usable")
	}

	haveLists := len(cmpCfg.ReferenceURLs) > 0 && len(cmpCfg.TestURLs) > 0

	// Hand-written URL lists pair directly, without crawling.
	if haveLists && !cmpCfg.Crawl && cmpCfg.SitemapURL == "" {
		pairs := o.engine.PairExplicit(cmpCfg.ReferenceURLs, cmpCfg.TestURLs)
		if len(pairs) > 0 {
			manifest.Strategy = models.StrategyExplicit
			manifest.URLsFound = len(cmpCfg.TestURLs)
			manifest.URLsKept = len(pairs)
			return pairs, nil
		}
		o.warn(manifest, runLog, "explicit URL lists produced no pairs")
	}

	if !haveLists {
		return nil, utils.WrapErrorf(utils.ErrNoPairs, "compare '%s' has no pairing inputs", manifest.CompareKey)
	}

	// Crawl path: resolve a URL list, then filter and pair it. The pairing
	// context and filter are built up front so their configuration errors
	// surface before any network work.
	userAgent := config.GetEffectiveUserAgent(cmpCfg, *o.appCfg)

	pairCtx, err := o.engine.NewContext(cmpCfg.ReferenceURLs[0], cmpCfg.TestURLs)
	if err != nil {
		return nil, err
	}
	if len(cmpCfg.TestURLs) > 1 {
		o.warn(manifest, runLog, fmt.Sprintf(
			"%d test_urls configured; only the first governs synthesized pairs", len(cmpCfg.TestURLs)))
	}

	urlFilter, err := filter.NewFilter(cmpCfg.ExcludePatterns, config.GetEffectiveMaxURLs(cmpCfg), o.log.Logger)
	if err != nil {
		return nil, err
	}

	var crawled models.CrawlResult
	if cmpCfg.SitemapURL != "" {
		manifest.Strategy = models.StrategySitemap
		crawled = o.crawler.Crawl(ctx, []string{cmpCfg.SitemapURL}, userAgent)
		if len(crawled.URLs) == 0 {
			o.warn(manifest, runLog, fmt.Sprintf("configured sitemap %s yielded no URLs", cmpCfg.SitemapURL))
		}
	}
	if len(crawled.URLs) == 0 {
		manifest.Strategy = models.StrategyDiscovery
		crawled = o.discoverAndCrawl(ctx, cmpCfg, manifest, runLog, userAgent)
	}

	// Homepage link crawl, strictly a last resort.
	if len(crawled.URLs) == 0 && config.GetEffectiveLinkFallback(cmpCfg, *o.appCfg) {
		manifest.Strategy = models.StrategyLinks
		urls, linkErr := o.linkCrawler.Crawl(ctx, cmpCfg.TestURLs[0], userAgent)
		if linkErr != nil {
			o.warn(manifest, runLog, fmt.Sprintf("link crawl failed: %v", linkErr))
		}
		crawled = models.CrawlResult{URLs: urls}
	}

	if crawled.Skipped > 0 {
		o.warn(manifest, runLog, fmt.Sprintf("%d sitemap document(s) skipped after errors", crawled.Skipped))
	}

	manifest.URLsFound = len(crawled.URLs)

	kept := urlFilter.Apply(crawled.URLs)
	manifest.URLsKept = len(kept)

	pairs := o.engine.PairCrawled(pairCtx, kept)
	if len(pairs) < len(kept) {
		o.warn(manifest, runLog, fmt.Sprintf("%d crawled URL(s) could not be paired", len(kept)-len(pairs)))
	}
	if len(pairs) == 0 {
		return nil, utils.WrapErrorf(utils.ErrNoPairs, "no URL pairs resolved for compare '%s' after all strategies", manifest.CompareKey)
	}
	return pairs, nil
}

// discoverAndCrawl locates sitemaps for the reference site, falling back to
// the test site, and crawls whatever it finds.
func (o *Orchestrator) discoverAndCrawl(ctx context.Context, cmpCfg config.CompareConfig, manifest *models.RunManifest, runLog *logrus.Entry, userAgent string) models.CrawlResult {
	found, err := o.discoverer.Discover(ctx, cmpCfg.ReferenceURLs[0], userAgent)
	if err != nil {
		o.warn(manifest, runLog, fmt.Sprintf("sitemap discovery on the reference site failed: %v", err))
	}
	if len(found) == 0 {
		// The reference site had nothing; the test deployment may still
		// publish its own sitemap.
		found, err = o.discoverer.Discover(ctx, cmpCfg.TestURLs[0], userAgent)
		if err != nil {
			o.warn(manifest, runLog, fmt.Sprintf("sitemap discovery on the test site failed: %v", err))
		}
	}
	if len(found) == 0 {
		o.warn(manifest, runLog, "no sitemap discovered on either deployment")
		return models.CrawlResult{}
	}
	return o.crawler.Crawl(ctx, found, userAgent)
}

// warn records a degradation on the manifest and logs it
func (o *Orchestrator) warn(manifest *models.RunManifest, runLog *logrus.Entry, msg string) {
	manifest.Warnings = append(manifest.Warnings, msg)
	runLog.Warn(msg)
}

// persistManifest saves the manifest when a store is attached. Persistence
// failures never fail the run; the manifest is still handed to the caller.
func (o *Orchestrator) persistManifest(manifest *models.RunManifest, runLog *logrus.Entry) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveManifest(manifest); err != nil {
		runLog.Errorf("Failed to persist run manifest: %v", err)
	}
}

// Cancel cancels all running compares
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all compare runs...")
	o.cancel()
}

// logSummary logs a summary of all compare results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Compare run completed in %v", totalDuration)
	o.log.Info("Compare Results:")

	totalPairs := 0
	successCount := 0
	failCount := 0

	for _, r := range o.results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalPairs += r.PairCount

		o.log.Infof("  %s: %s - %d pairs in %v", r.CompareKey, status, r.PairCount, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d compares (%d success, %d failed), %d pairs resolved",
		len(o.results), successCount, failCount, totalPairs)
	o.log.Info("============================================")
}

// ValidateCompareKeys checks that all provided compare keys exist in the config
func ValidateCompareKeys(appCfg *config.AppConfig, compareKeys []string) error {
	for _, key := range compareKeys {
		if _, exists := appCfg.Compares[key]; !exists {
			available := make([]string, 0, len(appCfg.Compares))
			for k := range appCfg.Compares {
				available = append(available, k)
			}
			return fmt.Errorf("compare '%s' not found. Available compares: %v", key, available)
		}
	}
	return nil
}

// GetAllCompareKeys returns all compare keys from the config
func GetAllCompareKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Compares))
	for k := range appCfg.Compares {
		keys = append(keys, k)
	}
	return keys
}
