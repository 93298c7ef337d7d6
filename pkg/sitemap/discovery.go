package sitemap

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"pagepair/pkg/config"
	"pagepair/pkg/fetch"
	"pagepair/pkg/parse"
)

// conventionalSitemapPaths are probed against the site origin, in this order
// Root sitemap first, then index spellings, the WordPress route, a numbered
// variant, and nested directory conventions
var conventionalSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/wp-sitemap.xml",
	"/sitemap1.xml",
	"/sitemap/sitemap.xml",
	"/sitemaps/sitemap.xml",
}

// Discoverer locates sitemaps for a site by probing conventional paths and
// reading robots.txt Sitemap declarations
type Discoverer struct {
	fetcher *fetch.Fetcher
	robots  *fetch.RobotsHandler
	appCfg  config.AppConfig
	log     *logrus.Entry
}

// NewDiscoverer creates a Discoverer
func NewDiscoverer(fetcher *fetch.Fetcher, robots *fetch.RobotsHandler, appCfg config.AppConfig, log *logrus.Logger) *Discoverer {
	return &Discoverer{
		fetcher: fetcher,
		robots:  robots,
		appCfg:  appCfg,
		log:     log.WithField("component", "sitemap_discovery"),
	}
}

// Discover returns the sitemap URLs it could validate for siteURL, in
// discovery order: conventional path candidates first, then robots.txt
// declarations not already present (exact-string dedup)
// Unreachable candidates and robots.txt failures are dropped silently; the
// only error is an unusable siteURL
func (d *Discoverer) Discover(ctx context.Context, siteURL, userAgent string) ([]string, error) {
	base, err := parse.CanonicalizeBase(siteURL)
	if err != nil {
		return nil, err
	}
	siteLog := d.log.WithField("site", base.Redacted())

	candidates := make([]string, 0, len(conventionalSitemapPaths))
	for _, path := range conventionalSitemapPaths {
		candidate := &url.URL{Scheme: base.Scheme, User: base.User, Host: base.Host, Path: path}
		candidates = append(candidates, candidate.String())
	}

	siteLog.Infof("Probing %d conventional sitemap locations.", len(candidates))
	reachable := d.probeAll(ctx, candidates, userAgent)

	found := make([]string, 0, len(candidates))
	for i, ok := range reachable {
		if ok {
			found = append(found, candidates[i])
		}
	}

	declared := d.robots.Sitemaps(ctx, base, userAgent)
	if len(declared) == 0 {
		siteLog.Debug("No robots.txt sitemap declarations.")
	} else {
		siteLog.Infof("robots.txt declares %d sitemaps, probing.", len(declared))
		fresh := make([]string, 0, len(declared))
		for _, smURL := range declared {
			if slices.Contains(found, smURL) || slices.Contains(fresh, smURL) {
				siteLog.Debugf("robots.txt sitemap already discovered: %s", smURL)
				continue
			}
			fresh = append(fresh, smURL)
		}
		reachable = d.probeAll(ctx, fresh, userAgent)
		for i, ok := range reachable {
			if ok {
				found = append(found, fresh[i])
			}
		}
	}

	siteLog.WithField("sitemaps_found", len(found)).Info("Sitemap discovery finished.")
	return found, nil
}

// probeAll reachability-checks every candidate with bounded concurrency
// Results are written into a slice indexed like the input, so the caller
// reads them back in candidate order regardless of completion order
func (d *Discoverer) probeAll(ctx context.Context, candidates []string, userAgent string) []bool {
	reachable := make([]bool, len(candidates))
	if len(candidates) == 0 {
		return reachable
	}

	sem := semaphore.NewWeighted(int64(d.appCfg.MaxProbeConcurrency))
	var wg sync.WaitGroup

	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate string) {
			defer wg.Done()
			probeLog := d.log.WithField("candidate", candidate)

			ctxAcq, cancelAcq := context.WithTimeout(ctx, d.appCfg.SemaphoreAcquireTimeout)
			err := sem.Acquire(ctxAcq, 1)
			cancelAcq()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					probeLog.Errorf("Timeout acquiring probe semaphore: %v", err)
				} else {
					probeLog.Warnf("Could not acquire probe semaphore: %v", err)
				}
				return
			}
			defer sem.Release(1)

			status, err := d.fetcher.Probe(ctx, candidate, userAgent)
			if err != nil {
				probeLog.Debugf("Probe failed: %v", err)
				return
			}
			if status >= 200 && status < 400 {
				probeLog.WithField("status", status).Debug("Sitemap candidate reachable.")
				reachable[i] = true
			} else {
				probeLog.WithField("status", status).Debug("Sitemap candidate not reachable.")
			}
		}(i, candidate)
	}

	wg.Wait()
	return reachable
}
