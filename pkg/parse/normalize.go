package parse

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/purell"

	"pagepair/pkg/utils"
)

// sitemapKeyFlags is the purell flag set used for sitemap URL comparison
// Query parameter order is left untouched
const sitemapKeyFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments

// NormalizeSitemapURL canonicalizes a sitemap URL for duplicate detection
// The same sitemap is routinely reachable through several routes (a conventional
// path probe, a robots.txt listing, a <sitemapindex> entry) and should only be
// fetched once
// The returned string is a comparison key, never something to fetch or emit
func NormalizeSitemapURL(rawURL string) (string, error) {
	return purell.NormalizeURLString(rawURL, sitemapKeyFlags)
}

// CanonicalizeBase cleans a user-supplied site URL and parses it for origin
// derivation: lowercased scheme/host, default ports stripped, fragments and
// dot segments removed
// Userinfo survives so probes against credentialed deployments authenticate
// Returns an error wrapping utils.ErrInvalidURL unless the result is an
// absolute http(s) URL with a host
func CanonicalizeBase(rawURL string) (*url.URL, error) {
	normalized, err := purell.NormalizeURLString(rawURL, sitemapKeyFlags)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", utils.ErrInvalidURL, rawURL, err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", utils.ErrInvalidURL, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", utils.ErrInvalidURL, rawURL)
	}
	return u, nil
}
