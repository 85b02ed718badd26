// Package httpclient provides the retrying HTTP client used for every
// upstream call (APOD pages, NASA API, translation and concept services).
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/johann/apod/internal/logging"
	"go.uber.org/zap"
)

// Options configures New
type Options struct {
	Timeout time.Duration
	Retries int
	Logger  *zap.SugaredLogger
	// Wrap decorates the underlying transport, e.g. with metrics
	Wrap func(http.RoundTripper) http.RoundTripper
}

// New returns a standard *http.Client that retries connection errors and
// 5xx responses with exponential backoff. 4xx responses are returned as is.
func New(opts Options) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	if opts.Wrap != nil {
		rc.HTTPClient.Transport = opts.Wrap(rc.HTTPClient.Transport)
	}
	if opts.Logger != nil {
		rc.Logger = logging.Leveled{S: opts.Logger}
	} else {
		rc.Logger = nil
	}
	// hand the final response back once retries are exhausted so callers
	// can inspect upstream status codes
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}
