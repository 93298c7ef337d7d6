package models

import "time"

// URLPair is a single reference/test comparison target handed to the diff engine.
type URLPair struct {
	Reference string `json:"reference" yaml:"reference"`
	Test      string `json:"test" yaml:"test"`
}

// URLOrigin classifies which deployment a crawled URL's host belongs to.
type URLOrigin string

const (
	OriginReference URLOrigin = "reference" // host matches the reference deployment
	OriginTest      URLOrigin = "test"      // host matches the test deployment
	OriginExternal  URLOrigin = "external"  // host matches neither; paired as test-side
)

// CrawlResult holds the outcome of walking one sitemap tree (or a list of them).
// URLs preserves document order; Skipped counts child documents dropped after
// contained errors.
type CrawlResult struct {
	URLs     []string
	Sitemaps int // sitemap documents parsed successfully
	Skipped  int // sitemap documents skipped due to fetch/parse errors
}

// Merge appends another crawl's results, keeping this result's order first.
func (r *CrawlResult) Merge(other CrawlResult) {
	r.URLs = append(r.URLs, other.URLs...)
	r.Sitemaps += other.Sitemaps
	r.Skipped += other.Skipped
}

// RunManifest records one pairing run end to end. It is persisted to the run
// store and emitted as the pairs JSON output.
type RunManifest struct {
	RunID         string    `json:"run_id"`
	CompareKey    string    `json:"compare_key"`
	Strategy      string    `json:"strategy"` // which resolution strategy produced the URLs
	ReferenceURL  string    `json:"reference_url"`
	TestURL       string    `json:"test_url,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	URLsFound     int       `json:"urls_found"` // before filtering/limiting
	URLsKept      int       `json:"urls_kept"`  // after filtering/limiting
	Pairs         []URLPair `json:"pairs"`
	Warnings      []string  `json:"warnings,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"` // from CategorizeError, failures only
	Status        RunStatus `json:"status"`
}

// Strategy names recorded in RunManifest.Strategy.
const (
	StrategyMappings  = "mappings"  // literal ref:test mapping entries
	StrategyExplicit  = "explicit"  // configured URL lists paired positionally or fanned out
	StrategySitemap   = "sitemap"   // configured sitemap URL crawled
	StrategyDiscovery = "discovery" // sitemap located via conventional paths / robots.txt
	StrategyLinks     = "links"     // homepage link crawl fallback
)
