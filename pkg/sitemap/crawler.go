package sitemap

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/models"
	"pagepair/pkg/parse"
	"pagepair/pkg/utils"
)

// Crawler walks sitemap trees and collects the page URLs they list
type Crawler struct {
	fetcher *fetch.Fetcher
	appCfg  config.AppConfig
	log     *logrus.Entry
}

// NewCrawler creates a Crawler
func NewCrawler(fetcher *fetch.Fetcher, appCfg config.AppConfig, log *logrus.Logger) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		appCfg:  appCfg,
		log:     log.WithField("component", "sitemap_crawler"),
	}
}

// smItem is one pending sitemap document on the crawl worklist
type smItem struct {
	url   string
	depth int
}

// Crawl fetches each sitemap URL in order and walks its tree of child
// sitemaps, returning every page URL found in document order
// Sitemaps are processed strictly sequentially: one tree is fully resolved
// before the next begins, so results for earlier sitemaps always precede
// results for later ones
// Failures are contained per document: a sitemap that cannot be fetched or
// parsed is logged, counted in Skipped, and never aborts its siblings
func (c *Crawler) Crawl(ctx context.Context, sitemapURLs []string, userAgent string) models.CrawlResult {
	var result models.CrawlResult

	// Shared across trees so a sitemap listed under two roots is crawled once
	seen := make(map[string]bool)

	for _, smURL := range sitemapURLs {
		select {
		case <-ctx.Done():
			c.log.Warnf("Context cancelled, abandoning remaining sitemaps: %v", ctx.Err())
			return result
		default:
		}
		result.Merge(c.crawlTree(ctx, smURL, seen, userAgent))
	}
	return result
}

// crawlTree walks one sitemap and its transitive children with an explicit
// worklist: children are pushed in reverse listed order onto a stack, which
// yields a depth-first traversal that visits entries in the order the index
// listed them
func (c *Crawler) crawlTree(ctx context.Context, rootURL string, seen map[string]bool, userAgent string) models.CrawlResult {
	var tree models.CrawlResult
	treeLog := c.log.WithField("sitemap_url", rootURL)

	if !c.markSeen(seen, rootURL) {
		treeLog.Debug("Sitemap already crawled, skipping.")
		return tree
	}
	treeLog.Info("Crawling sitemap")

	stack := []smItem{{url: rootURL, depth: 0}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			treeLog.Warnf("Context cancelled, abandoning sitemap tree: %v", ctx.Err())
			tree.Skipped += len(stack)
			return tree
		default:
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		docLog := treeLog.WithField("document_url", item.url)

		body, finalURL, err := c.fetcher.FetchDocument(ctx, item.url, userAgent)
		if err != nil {
			docLog.WithField("error_category", utils.CategorizeError(err)).
				Warnf("Sitemap fetch failed, skipping: %v", err)
			tree.Skipped++
			continue
		}

		base, err := url.Parse(finalURL)
		if err != nil {
			// FetchDocument built finalURL itself, so this should not happen
			docLog.Warnf("Unusable final URL %q: %v", finalURL, err)
			base = nil
		}

		doc, err := parse.ParseDocument(body, base)
		if err != nil {
			docLog.WithField("error_category", utils.CategorizeError(err)).
				Warnf("Sitemap parse failed, skipping: %v", err)
			tree.Skipped++
			continue
		}
		for _, loc := range doc.Skipped {
			docLog.Debugf("Dropped unusable <loc> entry: %q", loc)
		}

		switch doc.Kind {
		case parse.DocURLSet:
			docLog.Infof("Parsed as URL Set, found %d URLs.", len(doc.PageURLs))
			for _, pageURL := range doc.PageURLs {
				docLog.Debugf("Found URL: %s", pageURL)
			}
			tree.URLs = append(tree.URLs, doc.PageURLs...)
			tree.Sitemaps++

		case parse.DocSitemapIndex:
			docLog.Infof("Parsed as Sitemap Index, found %d references.", len(doc.ChildSitemaps))
			tree.Sitemaps++

			if item.depth+1 > c.appCfg.MaxSitemapDepth {
				docLog.WithField("depth", item.depth+1).
					Errorf("Skipping %d child sitemaps: %v", len(doc.ChildSitemaps), utils.ErrMaxDepthExceeded)
				tree.Skipped += len(doc.ChildSitemaps)
				continue
			}

			enqueued := 0
			for i := len(doc.ChildSitemaps) - 1; i >= 0; i-- {
				child := doc.ChildSitemaps[i]
				if !c.markSeen(seen, child) {
					docLog.Debugf("Child sitemap already crawled: %s", child)
					continue
				}
				stack = append(stack, smItem{url: child, depth: item.depth + 1})
				enqueued++
			}
			docLog.Debugf("Enqueued %d child sitemaps.", enqueued)

		case parse.DocEmpty:
			docLog.Warn("Sitemap document was empty.")
			tree.Sitemaps++
		}
	}

	treeLog.WithFields(logrus.Fields{
		"urls_found":       len(tree.URLs),
		"sitemaps_parsed":  tree.Sitemaps,
		"sitemaps_skipped": tree.Skipped,
	}).Info("Sitemap crawl finished.")
	return tree
}

// markSeen records a sitemap URL in the visited set, keyed by its normalized
// form so cosmetic spelling differences (and cyclic indexes) cannot cause a
// second fetch
// Returns true if the URL was newly marked
func (c *Crawler) markSeen(seen map[string]bool, rawURL string) bool {
	key, err := parse.NormalizeSitemapURL(rawURL)
	if err != nil {
		key = rawURL
	}
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}
