package filter

import (
	"regexp"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/utils"
)

// Filter applies the URL hygiene pipeline to crawled URL lists: exact-match
// dedup first, then exclusion patterns, then the result cap.
type Filter struct {
	excludes []*regexp.Regexp
	maxURLs  int
	log      *logrus.Entry
}

// NewFilter compiles the exclusion patterns and builds a Filter.
// A maxURLs of zero or less disables the cap.
func NewFilter(excludePatterns []string, maxURLs int, log *logrus.Logger) (*Filter, error) {
	compiled, err := utils.CompileRegexPatterns(excludePatterns)
	if err != nil {
		return nil, err
	}
	return &Filter{
		excludes: compiled,
		maxURLs:  maxURLs,
		log:      log.WithField("component", "url_filter"),
	}, nil
}

// Apply runs dedup, exclusion, and the cap in that order. Input order is
// preserved at every stage.
func (f *Filter) Apply(urls []string) []string {
	deduped := Dedupe(urls)
	kept := f.exclude(deduped)
	capped := Limit(kept, f.maxURLs)

	f.log.WithFields(logrus.Fields{
		"input":    len(urls),
		"deduped":  len(deduped),
		"kept":     len(kept),
		"returned": len(capped),
	}).Info("URL filtering finished.")
	return capped
}

// Dedupe drops exact duplicate URLs, keeping the first occurrence of each
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, pageURL := range urls {
		if seen[pageURL] {
			continue
		}
		seen[pageURL] = true
		out = append(out, pageURL)
	}
	return out
}

// exclude drops every URL whose full string matches any exclusion pattern
func (f *Filter) exclude(urls []string) []string {
	if len(f.excludes) == 0 {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, pageURL := range urls {
		isExcluded := false
		for _, pattern := range f.excludes {
			if pattern.MatchString(pageURL) {
				f.log.Debugf("Excluded URL %s (pattern '%s')", pageURL, pattern.String())
				isExcluded = true
				break
			}
		}
		if isExcluded {
			continue
		}
		out = append(out, pageURL)
	}
	return out
}

// Limit truncates the list to at most max entries, keeping the prefix.
// A max of zero or less means no cap.
func Limit(urls []string, max int) []string {
	if max <= 0 || len(urls) <= max {
		return urls
	}
	return urls[:max]
}
