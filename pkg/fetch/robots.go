package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler manages fetching, parsing, and caching robots.txt data.
// Failures are swallowed: a host whose robots.txt cannot be fetched or parsed
// simply contributes no sitemap declarations and allows all agents.
type RobotsHandler struct {
	fetcher       *Fetcher
	robotsCache   map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	robotsCacheMu sync.Mutex
	log           *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// GetRobotsData retrieves robots.txt data for the targetURL's host, using cache or fetching
// Returns parsed data or nil on any error/4xx/missing file
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, targetURL *url.URL, userAgent string) *robotstxt.RobotsData {
	if ctx == nil {
		ctx = context.Background()
	}

	host := targetURL.Hostname()
	hostLog := rh.log.WithField("host", host)

	// 1. Check Cache
	rh.robotsCacheMu.Lock()
	robotsData, found := rh.robotsCache[host]
	rh.robotsCacheMu.Unlock()
	if found {
		return robotsData // Return cached data (could be nil)
	}

	// 2. Prepare Fetch URL
	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if targetURL.Scheme != "http" && targetURL.Scheme != "https" {
		hostLog.Warnf("Invalid scheme '%s', defaulting to https for robots.txt", targetURL.Scheme)
		robotsURL.Scheme = "https"
	}
	// Credentials never travel to robots.txt
	robotsURL.User = nil
	robotsURLStr := robotsURL.String()
	robotsLog := hostLog.WithField("robots_url", robotsURLStr)
	robotsLog.Info("Fetching robots.txt...") // Log only on cache miss

	cacheResult := func(data *robotstxt.RobotsData) *robotstxt.RobotsData {
		rh.robotsCacheMu.Lock()
		rh.robotsCache[host] = data
		rh.robotsCacheMu.Unlock()
		return data
	}

	// 3. Fetch Request (with retries via Fetcher, under the standard hop timeout)
	fetchCtx, cancel := context.WithTimeout(ctx, rh.fetcher.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, robotsURLStr, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return cacheResult(nil)
	}
	req.Header.Set("User-Agent", userAgent)

	if rh.fetcher.limiter != nil {
		rh.fetcher.limiter.ApplyDelay(ctx, host)
	}
	resp, fetchErr := rh.fetcher.FetchWithRetry(req, fetchCtx)
	if rh.fetcher.limiter != nil {
		rh.fetcher.limiter.UpdateLastRequestTime(host)
	}

	if fetchErr != nil {
		// Fetcher already logged error details
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		robotsLog.Warnf("Fetching robots.txt failed: %v", fetchErr)
		return cacheResult(nil)
	}
	defer resp.Body.Close()

	// Redirected or oddly-statused robots.txt responses are not worth chasing
	if resp.StatusCode != http.StatusOK {
		robotsLog.WithField("status_code", resp.StatusCode).Debug("robots.txt not available")
		io.Copy(io.Discard, resp.Body)
		return cacheResult(nil)
	}

	// 4. Read and Parse Body
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return cacheResult(nil)
	}

	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		return cacheResult(nil)
	}

	robotsLog.Info("Successfully fetched and parsed robots.txt")
	if len(data.Sitemaps) > 0 {
		robotsLog.Infof("Found %d sitemap directive(s)", len(data.Sitemaps))
	}
	return cacheResult(data)
}

// Sitemaps returns the Sitemap declarations from the host's robots.txt, in
// file order. Any failure yields an empty list.
func (rh *RobotsHandler) Sitemaps(ctx context.Context, targetURL *url.URL, userAgent string) []string {
	robotsData := rh.GetRobotsData(ctx, targetURL, userAgent)
	if robotsData == nil {
		return nil
	}
	return robotsData.Sitemaps
}

// TestAgent checks if the user agent is allowed access based on cached/fetched rules
// Returns true if allowed (or robots fetch/parse fails), false otherwise
func (rh *RobotsHandler) TestAgent(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	robotsData := rh.GetRobotsData(ctx, targetURL, userAgent)

	// Assume allowed if robots data could not be obtained
	if robotsData == nil {
		return true
	}

	return robotsData.TestAgent(targetURL.RequestURI(), userAgent)
}
