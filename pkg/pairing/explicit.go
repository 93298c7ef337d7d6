package pairing

import (
	"net/url"
	"strings"

	"pagepair/pkg/models"
	"pagepair/pkg/utils"
)

// PairExplicit pairs caller-supplied URL lists without crawling. When both
// lists carry more than one entry the pairing is positional up to the shorter
// length; otherwise every test URL pairs against the single reference URL.
func (e *Engine) PairExplicit(referenceURLs, testURLs []string) []models.URLPair {
	if len(referenceURLs) == 0 || len(testURLs) == 0 {
		return nil
	}

	if len(referenceURLs) > 1 && len(testURLs) > 1 {
		count := min(len(referenceURLs), len(testURLs))
		if len(referenceURLs) != len(testURLs) {
			e.log.Debugf("URL list lengths differ (%d reference, %d test), pairing the first %d positionally.",
				len(referenceURLs), len(testURLs), count)
		}
		pairs := make([]models.URLPair, 0, count)
		for i := 0; i < count; i++ {
			pairs = append(pairs, models.URLPair{Reference: referenceURLs[i], Test: testURLs[i]})
		}
		return pairs
	}

	reference := referenceURLs[0]
	pairs := make([]models.URLPair, 0, len(testURLs))
	for _, testURL := range testURLs {
		pairs = append(pairs, models.URLPair{Reference: reference, Test: testURL})
	}
	return pairs
}

// PairMappings turns literal "reference:test" entries into pairs verbatim,
// bypassing classification. Each side is trimmed and bare host/path strings
// get an https:// prefix; nothing else is rewritten. Malformed entries are
// logged and skipped.
func (e *Engine) PairMappings(entries []string) []models.URLPair {
	pairs := make([]models.URLPair, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		refPart, testPart, ok := splitMapping(entry)
		if !ok {
			e.log.Warnf("Skipping url mapping %q: no reference:test separator found", entry)
			continue
		}
		reference, err := normalizeMappingURL(refPart)
		if err != nil {
			e.log.Warnf("Skipping url mapping %q: reference side: %v", entry, err)
			continue
		}
		test, err := normalizeMappingURL(testPart)
		if err != nil {
			e.log.Warnf("Skipping url mapping %q: test side: %v", entry, err)
			continue
		}
		pairs = append(pairs, models.URLPair{Reference: reference, Test: test})
	}
	return pairs
}

// splitMapping finds the colon separating the reference side from the test
// side. Colons inside a scheme separator (://) and port colons (digits up to
// the next delimiter) do not qualify.
func splitMapping(entry string) (string, string, bool) {
	for i := 0; i < len(entry); i++ {
		if entry[i] != ':' {
			continue
		}
		if strings.HasPrefix(entry[i:], "://") {
			i += 2
			continue
		}
		if isPortColon(entry[i+1:]) {
			continue
		}
		left, right := entry[:i], entry[i+1:]
		if left == "" || right == "" {
			return "", "", false
		}
		return left, right, true
	}
	return "", "", false
}

// isPortColon reports whether rest starts with a run of digits ending at a
// URL delimiter or the end of the string, i.e. looks like a port number
// rather than the start of the test side.
func isPortColon(rest string) bool {
	if rest == "" || rest[0] < '0' || rest[0] > '9' {
		return false
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c >= '0' && c <= '9' {
			continue
		}
		return c == '/' || c == ':' || c == '?' || c == '#'
	}
	return true
}

// normalizeMappingURL trims one mapping side and prefixes https:// when no
// scheme is present. The returned string is otherwise the caller's spelling.
func normalizeMappingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", utils.WrapErrorf(utils.ErrInvalidURL, "empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", utils.WrapErrorf(utils.ErrInvalidURL, "%q is not a usable http(s) URL", raw)
	}
	return raw, nil
}
