package pairing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/models"
	"pagepair/pkg/parse"
	"pagepair/pkg/utils"
)

// Context holds the origin and credential state for one pairing run. It is
// derived once from the reference URL and the first test URL and is read-only
// afterwards.
type Context struct {
	referenceOrigin *url.URL      // scheme + host, no userinfo
	testOrigin      *url.URL      // scheme + host, no userinfo
	testCredentials *url.Userinfo // from the first test URL, nil when absent
}

// Engine derives reference/test URL pairs from crawled URL lists
type Engine struct {
	log *logrus.Entry
}

// NewEngine creates an Engine
func NewEngine(log *logrus.Logger) *Engine {
	return &Engine{
		log: log.WithField("component", "pairing"),
	}
}

// NewContext derives the pairing context from the reference URL and the first
// test URL. Additional test URLs do not shape synthesized pairs; a multi-URL
// list alongside sitemap pairing gets a warning so the caller can see the
// ambiguity.
func (e *Engine) NewContext(referenceURL string, testURLs []string) (*Context, error) {
	if len(testURLs) == 0 {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "pairing context needs at least one test URL")
	}

	ref, err := parse.CanonicalizeBase(referenceURL)
	if err != nil {
		return nil, fmt.Errorf("reference URL: %w", err)
	}
	first, err := parse.CanonicalizeBase(testURLs[0])
	if err != nil {
		return nil, fmt.Errorf("test URL: %w", err)
	}
	if len(testURLs) > 1 {
		e.log.Warnf("%d test URLs supplied; only the first (%s) shapes synthesized pairs.",
			len(testURLs), first.Redacted())
	}

	return &Context{
		referenceOrigin: &url.URL{Scheme: ref.Scheme, Host: ref.Host},
		testOrigin:      &url.URL{Scheme: first.Scheme, Host: first.Host},
		testCredentials: first.User,
	}, nil
}

// Classify reports which deployment a crawled URL's host belongs to.
// Reference wins when the two deployments share a hostname.
func (c *Context) Classify(crawled *url.URL) models.URLOrigin {
	host := crawled.Hostname()
	if strings.EqualFold(host, c.referenceOrigin.Hostname()) {
		return models.OriginReference
	}
	if strings.EqualFold(host, c.testOrigin.Hostname()) {
		return models.OriginTest
	}
	return models.OriginExternal
}

// PairCrawled turns a crawled URL list into reference/test pairs, one pair
// per crawled URL, in crawl order.
// A reference-host URL keeps its place on the reference side and gets a
// synthesized test counterpart carrying the context credentials. A test-host
// URL keeps the test side and gets a credential-free reference counterpart.
// A URL on neither host is treated as test-side content (sitemaps served
// from a CDN describe the test site). Unusable entries are logged and
// skipped.
func (e *Engine) PairCrawled(pairCtx *Context, crawled []string) []models.URLPair {
	pairs := make([]models.URLPair, 0, len(crawled))
	for _, rawURL := range crawled {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			e.log.Warnf("Skipping unpairable URL %q: %v", rawURL, err)
			continue
		}
		if parsed.Hostname() == "" {
			e.log.Warnf("Skipping unpairable URL %q: no hostname", rawURL)
			continue
		}

		switch pairCtx.Classify(parsed) {
		case models.OriginReference:
			pairs = append(pairs, models.URLPair{
				Reference: rawURL,
				Test:      synthesizeCounterpart(pairCtx.testOrigin, pairCtx.testCredentials, parsed),
			})
		default: // test-side and external URLs transform the same way
			pairs = append(pairs, models.URLPair{
				Reference: synthesizeCounterpart(pairCtx.referenceOrigin, nil, parsed),
				Test:      rawURL,
			})
		}
	}

	e.log.WithFields(logrus.Fields{
		"urls_in":   len(crawled),
		"pairs_out": len(pairs),
	}).Info("Pairing finished.")
	return pairs
}

// synthesizeCounterpart rebuilds a crawled URL on another origin, keeping the
// crawled path, query, and fragment spelled exactly as found. creds lands in
// the authority when non-nil.
func synthesizeCounterpart(origin *url.URL, creds *url.Userinfo, crawled *url.URL) string {
	synthetic := url.URL{
		Scheme:      origin.Scheme,
		User:        creds,
		Host:        origin.Host,
		Path:        crawled.Path,
		RawPath:     crawled.RawPath,
		ForceQuery:  crawled.ForceQuery,
		RawQuery:    crawled.RawQuery,
		Fragment:    crawled.Fragment,
		RawFragment: crawled.RawFragment,
	}
	return synthetic.String()
}
