package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrNetwork          = errors.New("network error")                    // Wraps transport-level failures (DNS, conn refused, TLS)
	ErrTimeout          = errors.New("request timed out")                // Wraps deadline/cancellation failures
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-success)")   // Wraps original error/status
	ErrRedirectLoop     = errors.New("redirect chain exceeded hop limit")
	ErrMaxDepthExceeded = errors.New("maximum sitemap depth exceeded")
	ErrParsing          = errors.New("parsing error")         // Wraps specific parsing error (XML, URL, JSON)
	ErrInvalidURL       = errors.New("invalid URL")           // Wraps url.Parse failures on user/sitemap input
	ErrNoPairs          = errors.New("no URL pairs resolved") // All strategies exhausted without output
	ErrFilesystem       = errors.New("filesystem error")      // Wraps os errors
	ErrDatabase         = errors.New("database error")        // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf wraps err with a formatted message prefix. Returns nil for a nil err.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// CategorizeError maps an error to a stable category string recorded in logs
// and run manifests. Sentinel checks run first in declaration-priority order
// (a redirect loop wrapping ErrTimeout reports as the loop), then context and
// transport fallbacks.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		return "RetryFailed_" + retryFailureCause(err)
	case errors.Is(err, ErrRedirectLoop):
		return "Network_RedirectLoop"
	case errors.Is(err, ErrTimeout):
		return "Network_Timeout"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTP_" + clientStatusLabel(err.Error())
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrInvalidURL):
		return "Content_InvalidURL"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing" + parsingKind(err.Error())
	case errors.Is(err, ErrNoPairs):
		return "Pairing_NoPairs"
	case errors.Is(err, ErrFilesystem):
		switch {
		case errors.Is(err, os.ErrPermission):
			return "Filesystem_Permission"
		case errors.Is(err, os.ErrNotExist):
			return "Filesystem_NotExist"
		case errors.Is(err, os.ErrExist):
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrNetwork):
		return "Network_Other"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Semaphore acquisition surfaces as a deadline error
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	// Last resort: recognize transport failures by message text. Order matters,
	// a message can hold more than one marker.
	msg := strings.ToLower(err.Error())
	for _, probe := range []struct {
		marker   string
		category string
	}{
		{"timeout", "Network_TimeoutGeneric"},
		{"connection refused", "Network_ConnectionRefused"},
		{"no such host", "Network_DNSLookup"},
		{"tls", "Network_TLS"},
		{"certificate", "Network_TLS"},
		{"reset by peer", "Network_ConnectionReset"},
		{"broken pipe", "Network_BrokenPipe"},
	} {
		if strings.Contains(msg, probe.marker) {
			return probe.category
		}
	}

	return "Unknown"
}

// retryFailureCause names what exhausted the retry budget. The wrapped chain
// may be a multi-error (%w: %w), so checks go through errors.Is/As on the
// whole chain rather than a single Unwrap.
func retryFailureCause(err error) string {
	switch {
	case errors.Is(err, ErrServerHTTPError):
		return "HTTPServer"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTPClient"
	case errors.Is(err, ErrTimeout):
		return "NetworkTimeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "NetworkTimeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "NetworkTimeout"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "DNSLookup"
	}
	return "NetworkOther"
}

// clientStatusLabel pulls a status code worth its own category out of a 4xx
// error message. Codes appear space-delimited in fetch error text.
func clientStatusLabel(msg string) string {
	for _, code := range []string{"404", "403", "401", "429"} {
		if strings.Contains(msg, " "+code+" ") {
			return code
		}
	}
	return "4xx"
}

// parsingKind distinguishes what failed to parse from the error text
func parsingKind(msg string) string {
	for _, kind := range []string{"URL", "JSON", "XML"} {
		if strings.Contains(msg, kind) {
			return kind
		}
	}
	return "Other"
}
