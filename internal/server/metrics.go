package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/johann/apod/internal/apod"
	"github.com/johann/apod/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	rateLimited       prometheus.Counter
	nasaRateRemaining prometheus.Gauge
	entriesTotal      prometheus.Gauge
	pagesTotal        prometheus.Gauge
	pageBytes         prometheus.Gauge
}

// NewMetrics creates and registers all metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apod_requests_total",
			Help: "Total number of apod requests by mode and status code",
		}, []string{"mode", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apod_request_duration_seconds",
			Help:    "Duration of apod requests by mode",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apod_cache_lookups_total",
			Help: "Entry cache lookups by result",
		}, []string{"result"}),
		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apod_upstream_requests_total",
			Help: "Requests sent to upstream services",
		}, []string{"code", "method"}),
		upstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apod_upstream_request_duration_seconds",
			Help:    "Duration of upstream requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "apod_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter",
		}),
		nasaRateRemaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "apod_nasa_ratelimit_remaining",
			Help: "Last X-RateLimit-Remaining reported by the NASA API",
		}),
		entriesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "apod_cache_entries",
			Help: "Number of cached entries",
		}),
		pagesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "apod_archived_pages",
			Help: "Number of archived APOD pages",
		}),
		pageBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "apod_archived_page_bytes",
			Help: "Total size of archived APOD pages in bytes",
		}),
	}
}

// observe records one apod request
func (m *Metrics) observe(mode string, code int, start time.Time) {
	m.requestsTotal.WithLabelValues(mode, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// setStats updates the cache gauges
func (m *Metrics) setStats(st storage.Stats) {
	m.entriesTotal.Set(float64(st.Entries))
	m.pagesTotal.Set(float64(st.Pages))
	m.pageBytes.Set(float64(st.PageBytes))
}

// instrumentTransport counts and times every upstream round trip
func (m *Metrics) instrumentTransport(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.upstreamRequests,
		promhttp.InstrumentRoundTripperDuration(m.upstreamDuration, next))
}

// instrumentedCache counts entry cache hits and misses
type instrumentedCache struct {
	apod.Cache
	lookups *prometheus.CounterVec
}

func (c instrumentedCache) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.Cache.GetEntry(ctx, key)
	switch {
	case err != nil:
		c.lookups.WithLabelValues("error").Inc()
	case ok:
		c.lookups.WithLabelValues("hit").Inc()
	default:
		c.lookups.WithLabelValues("miss").Inc()
	}
	return data, ok, err
}
