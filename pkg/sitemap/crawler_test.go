package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
)

// --- Helpers ---

// testLogger returns a logger that discards output
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testAppCfg returns an AppConfig with fast timeouts for testing
func testAppCfg() config.AppConfig {
	return config.AppConfig{
		MaxRetries:              0,
		InitialRetryDelay:       10 * time.Millisecond,
		MaxRetryDelay:           50 * time.Millisecond,
		FetchTimeout:            2 * time.Second,
		MaxRedirectHops:         5,
		MaxSitemapDepth:         5,
		MaxProbeConcurrency:     4,
		SemaphoreAcquireTimeout: 2 * time.Second,
		MaxLinkCrawlPages:       10,
	}
}

// testFetcher builds a real Fetcher whose client hands redirects back to the
// caller, matching the production client
func testFetcher(appCfg *config.AppConfig) *fetch.Fetcher {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return fetch.NewFetcher(client, appCfg, nil, testLogger())
}

// treeServer starts a server backed by a path -> body map. The map starts
// empty so entries can reference the server's own URL; populate it before
// issuing requests. Unknown paths get a 404.
func treeServer(t *testing.T) (*httptest.Server, map[string]string, *atomic.Int32) {
	t.Helper()
	pages := make(map[string]string)
	requests := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server, pages, requests
}

func urlset(locs ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<url><loc>" + loc + "</loc></url>"
	}
	return body + "</urlset>"
}

func sitemapindex(locs ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<sitemap><loc>" + loc + "</loc></sitemap>"
	}
	return body + "</sitemapindex>"
}

func newTestCrawler(appCfg config.AppConfig) *Crawler {
	return NewCrawler(testFetcher(&appCfg), appCfg, testLogger())
}

// --- Crawl Tests ---

func TestCrawl_URLSet(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/sitemap.xml"] = urlset(
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/pricing",
	)

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/sitemap.xml"}, "test-agent")

	want := []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/pricing",
	}
	if !reflect.DeepEqual(result.URLs, want) {
		t.Errorf("result.URLs = %v, want %v", result.URLs, want)
	}
	if result.Sitemaps != 1 || result.Skipped != 0 {
		t.Errorf("Sitemaps = %d, Skipped = %d, want 1 and 0", result.Sitemaps, result.Skipped)
	}
}

func TestCrawl_NestedIndexDepthFirstListedOrder(t *testing.T) {
	server, pages, _ := treeServer(t)
	// section-a is itself an index; its subtree must be fully resolved
	// before flat-b contributes anything
	pages["/index.xml"] = sitemapindex(server.URL+"/section-a.xml", server.URL+"/flat-b.xml")
	pages["/section-a.xml"] = sitemapindex(server.URL + "/a-pages.xml")
	pages["/a-pages.xml"] = urlset("https://example.com/a1", "https://example.com/a2")
	pages["/flat-b.xml"] = urlset("https://example.com/b1")

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/index.xml"}, "test-agent")

	want := []string{
		"https://example.com/a1",
		"https://example.com/a2",
		"https://example.com/b1",
	}
	if !reflect.DeepEqual(result.URLs, want) {
		t.Errorf("result.URLs = %v, want %v (depth-first, listed order)", result.URLs, want)
	}
	if result.Sitemaps != 4 {
		t.Errorf("result.Sitemaps = %d, want 4", result.Sitemaps)
	}
}

func TestCrawl_ChildFailureContained(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/index.xml"] = sitemapindex(server.URL+"/missing.xml", server.URL+"/good.xml")
	pages["/good.xml"] = urlset("https://example.com/kept")

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/index.xml"}, "test-agent")

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/kept"}) {
		t.Errorf("result.URLs = %v, want [https://example.com/kept]", result.URLs)
	}
	if result.Sitemaps != 2 {
		t.Errorf("result.Sitemaps = %d, want 2 (index + good child)", result.Sitemaps)
	}
	if result.Skipped != 1 {
		t.Errorf("result.Skipped = %d, want 1 (missing child)", result.Skipped)
	}
}

func TestCrawl_FailedRootYieldsEmptyNotError(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/good.xml"] = urlset("https://example.com/page")

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{
		server.URL + "/broken.xml",
		server.URL + "/good.xml",
	}, "test-agent")

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/page"}) {
		t.Errorf("result.URLs = %v, want [https://example.com/page]", result.URLs)
	}
	if result.Skipped != 1 {
		t.Errorf("result.Skipped = %d, want 1", result.Skipped)
	}
}

func TestCrawl_TimeoutDoesNotBlockSiblings(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the connection open until the client aborts
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	fast, pages, _ := treeServer(t)
	pages["/sitemap.xml"] = urlset("https://example.com/page")

	appCfg := testAppCfg()
	appCfg.FetchTimeout = 100 * time.Millisecond
	crawler := newTestCrawler(appCfg)

	start := time.Now()
	result := crawler.Crawl(context.Background(), []string{
		slow.URL + "/sitemap.xml",
		fast.URL + "/sitemap.xml",
	}, "test-agent")
	elapsed := time.Since(start)

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/page"}) {
		t.Errorf("result.URLs = %v, want the fast sibling's page", result.URLs)
	}
	if result.Skipped != 1 {
		t.Errorf("result.Skipped = %d, want 1", result.Skipped)
	}
	if elapsed > 2*time.Second {
		t.Errorf("crawl took %v, the hung sitemap should time out at ~100ms", elapsed)
	}
}

func TestCrawl_SelfReferencingIndexTerminates(t *testing.T) {
	server, pages, requests := treeServer(t)
	pages["/loop.xml"] = sitemapindex(server.URL+"/loop.xml", server.URL+"/pages.xml")
	pages["/pages.xml"] = urlset("https://example.com/only")

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/loop.xml"}, "test-agent")

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/only"}) {
		t.Errorf("result.URLs = %v, want [https://example.com/only]", result.URLs)
	}
	// loop.xml once, pages.xml once
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (cycle must not refetch)", got)
	}
}

func TestCrawl_DepthBound(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/root.xml"] = sitemapindex(server.URL + "/mid.xml")
	pages["/mid.xml"] = sitemapindex(server.URL + "/leaf.xml")
	pages["/leaf.xml"] = urlset("https://example.com/too-deep")

	appCfg := testAppCfg()
	appCfg.MaxSitemapDepth = 1
	crawler := newTestCrawler(appCfg)
	result := crawler.Crawl(context.Background(), []string{server.URL + "/root.xml"}, "test-agent")

	if len(result.URLs) != 0 {
		t.Errorf("result.URLs = %v, want empty (leaf is beyond depth 1)", result.URLs)
	}
	if result.Sitemaps != 2 {
		t.Errorf("result.Sitemaps = %d, want 2 (root + mid)", result.Sitemaps)
	}
	if result.Skipped != 1 {
		t.Errorf("result.Skipped = %d, want 1 (leaf rejected)", result.Skipped)
	}
}

func TestCrawl_DuplicateSeedCrawledOnce(t *testing.T) {
	server, pages, requests := treeServer(t)
	pages["/sitemap.xml"] = urlset("https://example.com/page")

	crawler := newTestCrawler(testAppCfg())
	smURL := server.URL + "/sitemap.xml"
	result := crawler.Crawl(context.Background(), []string{smURL, smURL}, "test-agent")

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/page"}) {
		t.Errorf("result.URLs = %v, want single page", result.URLs)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestCrawl_RelativeChildLocs(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/sitemaps/index.xml"] = sitemapindex("/sitemaps/child.xml")
	pages["/sitemaps/child.xml"] = urlset("https://example.com/from-child")

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/sitemaps/index.xml"}, "test-agent")

	if !reflect.DeepEqual(result.URLs, []string{"https://example.com/from-child"}) {
		t.Errorf("result.URLs = %v, want [https://example.com/from-child]", result.URLs)
	}
}

func TestCrawl_EmptyDocument(t *testing.T) {
	server, pages, _ := treeServer(t)
	pages["/sitemap.xml"] = ""

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(context.Background(), []string{server.URL + "/sitemap.xml"}, "test-agent")

	if len(result.URLs) != 0 {
		t.Errorf("result.URLs = %v, want empty", result.URLs)
	}
	if result.Sitemaps != 1 || result.Skipped != 0 {
		t.Errorf("Sitemaps = %d, Skipped = %d, want 1 and 0", result.Sitemaps, result.Skipped)
	}
}

func TestCrawl_ContextCancelled(t *testing.T) {
	server, pages, requests := treeServer(t)
	pages["/sitemap.xml"] = urlset("https://example.com/page")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	crawler := newTestCrawler(testAppCfg())
	result := crawler.Crawl(ctx, []string{server.URL + "/sitemap.xml"}, "test-agent")

	if len(result.URLs) != 0 {
		t.Errorf("result.URLs = %v, want empty with cancelled context", result.URLs)
	}
	if got := requests.Load(); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}
