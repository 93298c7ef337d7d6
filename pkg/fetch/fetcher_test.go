package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/utils"
)

// testConfig returns an AppConfig with fast retry delays for testing
func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:        maxRetries,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
		FetchTimeout:      5 * time.Second,
		MaxRedirectHops:   5,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testClient returns an http.Client suitable for testing. Like the production
// client it hands redirects back to the caller.
func testClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func newTestFetcher(cfg *config.AppConfig) *Fetcher {
	return NewFetcher(testClient(), cfg, nil, testLogger())
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetchWithRetry_Success(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"204 No Content", http.StatusNoContent},
		{"301 Moved Permanently", http.StatusMovedPermanently},
		{"302 Found", http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.statusCode})

			fetcher := newTestFetcher(testConfig(3))
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, err := fetcher.FetchWithRetry(req, context.Background())

			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if resp == nil {
				t.Fatal("expected response, got nil")
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, resp.StatusCode)
			}
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts.Load())
			}
		})
	}
}

func TestFetchWithRetry_ServerError_RetrySuccess(t *testing.T) {
	// 500 → 500 → 200 (succeeds on 3rd attempt)
	server, attempts := mockServer(t, []int{500, 500, 200})

	fetcher := newTestFetcher(testConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(req, context.Background())

	if err != nil {
		t.Fatalf("expected no error after retry, got: %v", err)
	}
	if resp == nil {
		t.Fatal("expected response, got nil")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_ServerError_AllRetriesFail(t *testing.T) {
	// 500 × 4 (initial + 3 retries = 4 attempts)
	server, attempts := mockServer(t, []int{500, 500, 500, 500})

	fetcher := newTestFetcher(testConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(req, context.Background())

	if err == nil {
		t.Fatal("expected error after all retries failed")
	}
	if resp != nil {
		resp.Body.Close()
		t.Error("expected nil response when all retries fail")
	}
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Errorf("expected ErrRetryFailed, got: %v", err)
	}
	if !errors.Is(err, utils.ErrServerHTTPError) {
		t.Errorf("expected wrapped ErrServerHTTPError, got: %v", err)
	}
	if attempts.Load() != 4 {
		t.Errorf("expected 4 attempts (initial + 3 retries), got %d", attempts.Load())
	}
}

func TestFetchWithRetry_RateLimit_RetrySuccess(t *testing.T) {
	// 429 → 200 (succeeds on 2nd attempt)
	server, attempts := mockServer(t, []int{429, 200})

	fetcher := newTestFetcher(testConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(req, context.Background())

	if err != nil {
		t.Fatalf("expected no error after retry, got: %v", err)
	}
	if resp == nil {
		t.Fatal("expected response, got nil")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_ClientError_NoRetry(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"404 Not Found", http.StatusNotFound},
		{"403 Forbidden", http.StatusForbidden},
		{"401 Unauthorized", http.StatusUnauthorized},
		{"400 Bad Request", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.statusCode})

			fetcher := newTestFetcher(testConfig(3))
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, err := fetcher.FetchWithRetry(req, context.Background())

			// 4xx errors return both response AND error (caller may need response)
			if err == nil {
				t.Fatal("expected error for 4xx status")
			}
			if !errors.Is(err, utils.ErrClientHTTPError) {
				t.Errorf("expected ErrClientHTTPError, got: %v", err)
			}
			if resp == nil {
				t.Fatal("expected response for 4xx (caller may need to inspect)")
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, resp.StatusCode)
			}
			// No retry for 4xx (except 429)
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt (no retry for 4xx), got %d", attempts.Load())
			}
		})
	}
}

func TestFetchWithRetry_ContextCancelled_BeforeAttempt(t *testing.T) {
	server, attempts := mockServer(t, []int{200})

	fetcher := newTestFetcher(testConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	// Cancel context before calling FetchWithRetry
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := fetcher.FetchWithRetry(req, ctx)

	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
		t.Error("expected nil response for cancelled context")
	}
	if attempts.Load() != 0 {
		t.Errorf("expected 0 attempts (cancelled before first attempt), got %d", attempts.Load())
	}
}

func TestFetchWithRetry_NetworkError_RetrySuccess(t *testing.T) {
	attemptCount := &atomic.Int32{}

	// Handler that fails first request, succeeds on second
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := attemptCount.Add(1)
		if attempt == 1 {
			// Close connection to simulate network error
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server doesn't support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(req, context.Background())

	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if resp == nil {
		t.Fatal("expected response")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if attemptCount.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attemptCount.Load())
	}
}

func TestFetchWithRetry_ZeroRetries(t *testing.T) {
	// With maxRetries=0, only initial attempt should be made
	server, attempts := mockServer(t, []int{500})

	fetcher := newTestFetcher(testConfig(0))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(req, context.Background())

	if err == nil {
		t.Fatal("expected error with no retries")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Errorf("expected ErrRetryFailed, got: %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retries), got %d", attempts.Load())
	}
}

// --- FetchDocument Tests ---

func TestFetchDocument_PlainBody(t *testing.T) {
	const body = `<?xml version="1.0"?><urlset></urlset>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent/1.0" {
			t.Errorf("expected User-Agent test-agent/1.0, got %q", got)
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	data, finalURL, err := fetcher.FetchDocument(context.Background(), server.URL+"/sitemap.xml", "test-agent/1.0")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != body {
		t.Errorf("body mismatch: got %q", string(data))
	}
	if finalURL != server.URL+"/sitemap.xml" {
		t.Errorf("expected final URL %q, got %q", server.URL+"/sitemap.xml", finalURL)
	}
}

func TestFetchDocument_FollowsRedirectChain(t *testing.T) {
	const body = "final content"
	hops := &atomic.Int32{}

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		io.WriteString(w, body)
	})

	fetcher := newTestFetcher(testConfig(0))
	data, finalURL, err := fetcher.FetchDocument(context.Background(), server.URL+"/a", "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != body {
		t.Errorf("expected final body, got %q", string(data))
	}
	if finalURL != server.URL+"/c" {
		t.Errorf("expected final URL %s/c, got %q", server.URL, finalURL)
	}
	if hops.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hops.Load())
	}
}

func TestFetchDocument_RedirectLoop(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})

	cfg := testConfig(0)
	cfg.MaxRedirectHops = 3

	fetcher := newTestFetcher(cfg)
	_, _, err := fetcher.FetchDocument(context.Background(), server.URL+"/a", "test-agent")

	if err == nil {
		t.Fatal("expected error for redirect loop")
	}
	if !errors.Is(err, utils.ErrRedirectLoop) {
		t.Errorf("expected ErrRedirectLoop, got: %v", err)
	}
	// Loops count as timeout-class failures
	if !errors.Is(err, utils.ErrTimeout) {
		t.Errorf("expected timeout classification, got: %v", err)
	}
}

func TestFetchDocument_RelativeRedirect(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/old/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "../new/sitemap.xml")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "relocated")
	})

	fetcher := newTestFetcher(testConfig(0))
	data, finalURL, err := fetcher.FetchDocument(context.Background(), server.URL+"/old/sitemap.xml", "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != "relocated" {
		t.Errorf("expected relocated body, got %q", string(data))
	}
	if !strings.HasSuffix(finalURL, "/new/sitemap.xml") {
		t.Errorf("expected final URL under /new/, got %q", finalURL)
	}
}

func TestFetchDocument_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // Hold the response open past the fetch deadline
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	cfg := testConfig(0)
	cfg.FetchTimeout = 100 * time.Millisecond

	fetcher := newTestFetcher(cfg)
	start := time.Now()
	_, _, err := fetcher.FetchDocument(context.Background(), server.URL, "test-agent")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, utils.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got: %v", err)
	}
	// The abort must be active, not a full-read wait
	if elapsed > 2*time.Second {
		t.Errorf("fetch took %v, expected active abort near 100ms", elapsed)
	}
}

func TestFetchDocument_HTTPError(t *testing.T) {
	server, _ := mockServer(t, []int{404})

	fetcher := newTestFetcher(testConfig(0))
	_, _, err := fetcher.FetchDocument(context.Background(), server.URL, "test-agent")

	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !errors.Is(err, utils.ErrClientHTTPError) {
		t.Errorf("expected ErrClientHTTPError, got: %v", err)
	}
}

func TestFetchDocument_InvalidURL(t *testing.T) {
	fetcher := newTestFetcher(testConfig(0))
	_, _, err := fetcher.FetchDocument(context.Background(), "http://bad url/sitemap.xml", "test-agent")

	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
	if !errors.Is(err, utils.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got: %v", err)
	}
}

func TestFetchDocument_GzipContentEncoding(t *testing.T) {
	const body = `<?xml version="1.0"?><urlset><url><loc>https://example.com/</loc></url></urlset>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		io.WriteString(gz, body)
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	data, _, err := fetcher.FetchDocument(context.Background(), server.URL, "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != body {
		t.Errorf("expected decoded body, got %q", string(data))
	}
}

func TestFetchDocument_GzipMagicBytesWithoutHeader(t *testing.T) {
	// .xml.gz files are often served as raw gzip bytes with no Content-Encoding
	const body = `<urlset><url><loc>https://example.com/page</loc></url></urlset>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		io.WriteString(gz, body)
		gz.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	data, _, err := fetcher.FetchDocument(context.Background(), server.URL+"/sitemap.xml.gz", "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != body {
		t.Errorf("expected sniffed+decoded body, got %q", string(data))
	}
}

func TestFetchDocument_BrotliContentEncoding(t *testing.T) {
	const body = "brotli encoded document"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		io.WriteString(bw, body)
		bw.Close()
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	data, _, err := fetcher.FetchDocument(context.Background(), server.URL, "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(data) != body {
		t.Errorf("expected decoded body, got %q", string(data))
	}
}

func TestFetchDocument_SizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 4096))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.MaxSitemapBytes = 1024

	fetcher := newTestFetcher(cfg)
	_, _, err := fetcher.FetchDocument(context.Background(), server.URL, "test-agent")

	if err == nil {
		t.Fatal("expected error for oversized document")
	}
	if !errors.Is(err, utils.ErrResponseBodyRead) {
		t.Errorf("expected ErrResponseBodyRead, got: %v", err)
	}
}

// --- Probe Tests ---

func TestProbe_StatusPassthrough(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"301 Redirect", http.StatusMovedPermanently},
		{"404 Not Found", http.StatusNotFound},
		{"500 Server Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("expected HEAD request, got %s", r.Method)
				}
				w.WriteHeader(tt.statusCode)
			}))
			t.Cleanup(server.Close)

			fetcher := newTestFetcher(testConfig(0))
			status, err := fetcher.Probe(context.Background(), server.URL+"/sitemap.xml", "test-agent")

			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if status != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, status)
			}
		})
	}
}

func TestProbe_HeadRejectedFallsBackToGet(t *testing.T) {
	var sawGet atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			sawGet.Store(true)
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "<urlset/>")
		}
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	status, err := fetcher.Probe(context.Background(), server.URL+"/sitemap.xml", "test-agent")

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200 from GET fallback, got %d", status)
	}
	if !sawGet.Load() {
		t.Error("expected GET fallback request")
	}
}

func TestProbe_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close() // Connection refused from here on

	fetcher := newTestFetcher(testConfig(0))
	_, err := fetcher.Probe(context.Background(), serverURL, "test-agent")

	if err == nil {
		t.Fatal("expected network error")
	}
	if !errors.Is(err, utils.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got: %v", err)
	}
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	cfg := testConfig(0)
	cfg.FetchTimeout = 100 * time.Millisecond

	fetcher := newTestFetcher(cfg)
	_, err := fetcher.Probe(context.Background(), server.URL, "test-agent")

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, utils.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got: %v", err)
	}
}

// --- RobotsHandler Tests ---

func robotsTestServer(t *testing.T, robotsBody string, robotsStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(robotsStatus)
		io.WriteString(w, robotsBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRobotsHandler_SitemapsExtracted(t *testing.T) {
	robots := `User-agent: *
Disallow: /admin/

Sitemap: https://example.com/sitemap.xml
Sitemap: https://example.com/sitemap-news.xml
`
	server := robotsTestServer(t, robots, http.StatusOK)

	fetcher := newTestFetcher(testConfig(0))
	handler := NewRobotsHandler(fetcher, logrus.NewEntry(testLogger()))

	base := mustParseURL(t, server.URL)
	sitemaps := handler.Sitemaps(context.Background(), base, "test-agent")

	want := []string{"https://example.com/sitemap.xml", "https://example.com/sitemap-news.xml"}
	if len(sitemaps) != len(want) {
		t.Fatalf("expected %d sitemaps, got %d: %v", len(want), len(sitemaps), sitemaps)
	}
	for i := range want {
		if sitemaps[i] != want[i] {
			t.Errorf("sitemap[%d] = %q, want %q", i, sitemaps[i], want[i])
		}
	}
}

func TestRobotsHandler_MissingRobotsYieldsNothing(t *testing.T) {
	server := robotsTestServer(t, "not found", http.StatusNotFound)

	fetcher := newTestFetcher(testConfig(0))
	handler := NewRobotsHandler(fetcher, logrus.NewEntry(testLogger()))

	base := mustParseURL(t, server.URL)
	sitemaps := handler.Sitemaps(context.Background(), base, "test-agent")

	if len(sitemaps) != 0 {
		t.Errorf("expected no sitemaps for missing robots.txt, got %v", sitemaps)
	}
}

func TestRobotsHandler_CachesPerHost(t *testing.T) {
	requests := &atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		io.WriteString(w, "Sitemap: https://example.com/sitemap.xml\n")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0))
	handler := NewRobotsHandler(fetcher, logrus.NewEntry(testLogger()))

	base := mustParseURL(t, server.URL)
	handler.Sitemaps(context.Background(), base, "test-agent")
	handler.Sitemaps(context.Background(), base, "test-agent")
	handler.TestAgent(context.Background(), base, "test-agent")

	if requests.Load() != 1 {
		t.Errorf("expected 1 robots.txt fetch, got %d", requests.Load())
	}
}

func TestRobotsHandler_TestAgentDisallow(t *testing.T) {
	robots := `User-agent: *
Disallow: /private/
`
	server := robotsTestServer(t, robots, http.StatusOK)

	fetcher := newTestFetcher(testConfig(0))
	handler := NewRobotsHandler(fetcher, logrus.NewEntry(testLogger()))

	allowed := mustParseURL(t, server.URL+"/public/page")
	blocked := mustParseURL(t, server.URL+"/private/page")

	if !handler.TestAgent(context.Background(), allowed, "test-agent") {
		t.Error("expected /public/page to be allowed")
	}
	if handler.TestAgent(context.Background(), blocked, "test-agent") {
		t.Error("expected /private/page to be disallowed")
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}
