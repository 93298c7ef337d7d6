package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"

	"pagepair/pkg/utils"
)

// --- XML Structs for Sitemap Parsing ---

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element in a sitemap
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// --- Document Classification ---

// DocumentKind classifies what a fetched sitemap document turned out to be
type DocumentKind int

const (
	// DocEmpty means the document held no sitemap content (zero bytes or whitespace)
	DocEmpty DocumentKind = iota
	// DocURLSet means the document was a <urlset> listing page URLs
	DocURLSet
	// DocSitemapIndex means the document was a <sitemapindex> listing child sitemaps
	DocSitemapIndex
)

// Document is the classified result of parsing one sitemap document
// Exactly one of PageURLs or ChildSitemaps is populated depending on Kind; both
// preserve the order the entries appeared in the XML
type Document struct {
	Kind          DocumentKind
	PageURLs      []string // Absolute page URLs from a <urlset>, in listed order
	ChildSitemaps []string // Absolute child sitemap URLs from a <sitemapindex>, in listed order
	Skipped       []string // Raw <loc> values dropped as empty, unparseable, or not http(s)
}

// ParseDocument parses raw sitemap XML and classifies it as a URL set, a sitemap index, or empty
// Relative <loc> values are resolved against base (the URL the document was fetched from)
// Entries that cannot yield an absolute http(s) URL land in Skipped rather than failing the document
// Returns an error wrapping utils.ErrParsing when the body is not sitemap XML at all
func ParseDocument(data []byte, base *url.URL) (*Document, error) {
	// Windows-generated sitemaps often lead with a UTF-8 BOM, which the xml
	// package surfaces as character data
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	decoder := xml.NewDecoder(bytes.NewReader(data))

	root, err := rootElement(decoder)
	if err == io.EOF {
		return &Document{Kind: DocEmpty}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sitemap XML: %w", utils.ErrParsing, err)
	}

	switch root.Name.Local {
	case "urlset":
		var urlSet XMLURLSet
		if err := decoder.DecodeElement(&urlSet, root); err != nil {
			return nil, fmt.Errorf("%w: decoding <urlset>: %w", utils.ErrParsing, err)
		}
		doc := &Document{Kind: DocURLSet}
		for _, entry := range urlSet.URLs {
			resolved, ok := resolveLoc(base, entry.Loc)
			if !ok {
				doc.Skipped = append(doc.Skipped, entry.Loc)
				continue
			}
			doc.PageURLs = append(doc.PageURLs, resolved)
		}
		return doc, nil

	case "sitemapindex":
		var index XMLSitemapIndex
		if err := decoder.DecodeElement(&index, root); err != nil {
			return nil, fmt.Errorf("%w: decoding <sitemapindex>: %w", utils.ErrParsing, err)
		}
		doc := &Document{Kind: DocSitemapIndex}
		for _, entry := range index.Sitemaps {
			resolved, ok := resolveLoc(base, entry.Loc)
			if !ok {
				doc.Skipped = append(doc.Skipped, entry.Loc)
				continue
			}
			doc.ChildSitemaps = append(doc.ChildSitemaps, resolved)
		}
		return doc, nil

	default:
		return nil, fmt.Errorf("%w: unrecognized root element <%s>", utils.ErrParsing, root.Name.Local)
	}
}

// rootElement advances the decoder to the first start element, skipping the XML
// declaration, comments, directives, and leading whitespace
// Returns io.EOF if the document ends before any element appears
func rootElement(decoder *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return &t, nil
		case xml.CharData:
			// Whitespace before the root element is fine; anything else means
			// the body is plain text (an error page, usually), not XML
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("document body is plain text, not XML")
			}
		}
	}
}

// resolveLoc trims a raw <loc> value and resolves it to an absolute http(s) URL string
// Absolute locs return verbatim after trimming so the discovered URL survives byte-for-byte; relative locs resolve against base
// The second return value is false when the entry should be skipped
func resolveLoc(base *url.URL, loc string) (string, bool) {
	trimmed := strings.TrimSpace(loc)
	if trimmed == "" {
		return "", false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	if !ref.IsAbs() {
		if base == nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
		trimmed = ref.String()
	}

	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return "", false
	}
	return trimmed, true
}
