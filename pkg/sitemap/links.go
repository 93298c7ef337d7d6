package sitemap

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/utils"
)

// skippedLinkSuffixes are asset paths that never make sense as page pairs
var skippedLinkSuffixes = []string{
	".css", ".js", ".json", ".xml",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".woff", ".woff2", ".ttf",
	".pdf", ".zip", ".gz",
}

// LinkCrawler collects page URLs by walking same-host <a href> links when no
// sitemap can be found for a site
type LinkCrawler struct {
	fetcher *fetch.Fetcher
	robots  *fetch.RobotsHandler
	appCfg  config.AppConfig
	log     *logrus.Entry
}

// NewLinkCrawler creates a LinkCrawler
func NewLinkCrawler(fetcher *fetch.Fetcher, robots *fetch.RobotsHandler, appCfg config.AppConfig, log *logrus.Logger) *LinkCrawler {
	return &LinkCrawler{
		fetcher: fetcher,
		robots:  robots,
		appCfg:  appCfg,
		log:     log.WithField("component", "link_crawler"),
	}
}

// Crawl walks outward from startURL breadth-first, staying on the start
// host, and returns discovered page URLs in first-seen order (startURL
// included first)
// At most MaxLinkCrawlPages pages are fetched; fetch and parse failures are
// logged and skipped
func (lc *LinkCrawler) Crawl(ctx context.Context, startURL, userAgent string) ([]string, error) {
	start, err := url.Parse(startURL)
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, utils.WrapErrorf(utils.ErrInvalidURL, "link crawl start URL %q", startURL)
	}
	crawlLog := lc.log.WithField("start_url", start.Redacted())
	crawlLog.Infof("Starting link crawl, page budget %d.", lc.appCfg.MaxLinkCrawlPages)

	host := start.Hostname()
	collected := []string{startURL}
	visited := map[string]bool{startURL: true}
	queue := []string{startURL}
	fetched := 0

	for len(queue) > 0 && fetched < lc.appCfg.MaxLinkCrawlPages {
		select {
		case <-ctx.Done():
			crawlLog.Warnf("Context cancelled, stopping link crawl: %v", ctx.Err())
			return collected, nil
		default:
		}

		pageURL := queue[0]
		queue = queue[1:]
		pageLog := crawlLog.WithField("page_url", pageURL)

		parsedPage, err := url.Parse(pageURL)
		if err != nil {
			pageLog.Warnf("Skipping unparseable page URL: %v", err)
			continue
		}
		if !lc.robots.TestAgent(ctx, parsedPage, userAgent) {
			pageLog.Debug("Disallowed by robots.txt, not fetching.")
			continue
		}

		fetched++
		body, finalURL, err := lc.fetcher.FetchDocument(ctx, pageURL, userAgent)
		if err != nil {
			pageLog.WithField("error_category", utils.CategorizeError(err)).
				Warnf("Page fetch failed, skipping: %v", err)
			continue
		}

		base, err := url.Parse(finalURL)
		if err != nil {
			pageLog.Warnf("Unusable final URL %q: %v", finalURL, err)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			pageLog.Warnf("HTML parse failed, skipping: %v", err)
			continue
		}

		found := 0
		doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
			href, exists := element.Attr("href")
			if !exists || href == "" {
				return
			}

			linkURL, parseErr := base.Parse(href)
			if parseErr != nil {
				pageLog.Debugf("Skipping invalid link href %q: %v", href, parseErr)
				return
			}
			if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
				return
			}
			if linkURL.Hostname() != host {
				return
			}
			if isAssetLink(linkURL.Path) {
				return
			}

			// Fragment variants all render the same document
			linkURL.Fragment = ""
			absolute := linkURL.String()
			if visited[absolute] {
				return
			}
			visited[absolute] = true
			collected = append(collected, absolute)
			queue = append(queue, absolute)
			found++
		})
		pageLog.Debugf("Found %d new links.", found)
	}

	crawlLog.WithFields(logrus.Fields{
		"pages_fetched": fetched,
		"urls_found":    len(collected),
	}).Info("Link crawl finished.")
	return collected, nil
}

// isAssetLink reports whether a path points at a static asset rather than a page
func isAssetLink(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range skippedLinkSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
