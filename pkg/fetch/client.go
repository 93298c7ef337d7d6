package fetch

import (
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
)

// NewClient builds the shared HTTP client for sitemap fetches and probes.
// Redirects are not followed automatically: the Fetcher walks them hop by hop
// so each hop gets its own timeout and the hop count stays bounded.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Logger) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20, // response header cap
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	log.WithFields(logrus.Fields{
		"max_idle_conns": cfg.MaxIdleConns,
		"dialer_timeout": cfg.DialerTimeout,
	}).Debug("HTTP client initialized.")

	return &http.Client{
		// No client-level Timeout: every request carries a context deadline
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Hand the 3xx back to the Fetcher
		},
	}
}
