package fetch

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"pagepair/pkg/utils"
)

// decodeBody reads a response body, decompressing according to the
// Content-Encoding header. Bodies without an encoding header are still
// sniffed for the gzip magic bytes: .xml.gz sitemaps are routinely served
// as raw gzip with a plain content type. maxBytes caps the decoded size
// (0 = unlimited).
func decodeBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(reader)
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", utils.ErrResponseBodyRead, err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(reader)
		defer fl.Close()
		reader = fl
	case "", "identity":
		buffered := bufio.NewReader(reader)
		if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
			gz, gzErr := gzip.NewReader(buffered)
			if gzErr != nil {
				return nil, fmt.Errorf("%w: gzip: %v", utils.ErrResponseBodyRead, gzErr)
			}
			defer gz.Close()
			reader = gz
		} else {
			reader = buffered
		}
	default:
		// Unknown encoding: pass through and let the parser complain
		reader = resp.Body
	}

	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", utils.ErrResponseBodyRead, maxBytes)
	}
	return data, nil
}
