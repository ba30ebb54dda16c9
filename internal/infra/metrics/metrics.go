package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a generate request.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomeTooLarge     = "too_large"
	OutcomeRenderFailed = "render_failed"
	OutcomeTimeout      = "timeout"
)

var (
	// HTTP
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfgen_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfgen_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Generation
	GenerateRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfgen_generate_requests_total",
			Help: "PDF generation requests by outcome",
		},
		[]string{"outcome"}, // ok|invalid|too_large|render_failed|timeout
	)
	RenderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfgen_render_duration_seconds",
			Help:    "Renderer wall-clock time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms..25.6s
		},
		[]string{"engine"},
	)
	RendersInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdfgen_renders_in_flight",
			Help: "Renders currently running",
		},
	)
	PDFSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfgen_pdf_size_bytes",
			Help:    "Size of generated PDF documents",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9), // 1KiB..64MiB
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPDurationSeconds,
		GenerateRequests,
		RenderDurationSeconds,
		RendersInFlight,
		PDFSizeBytes,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

func IncGenerate(outcome string) {
	GenerateRequests.WithLabelValues(outcome).Inc()
}

// StartRender marks a render as in flight and returns a func that records
// its duration under engine.
func StartRender(engine string) func() {
	start := time.Now()
	RendersInFlight.Inc()
	return func() {
		RendersInFlight.Dec()
		RenderDurationSeconds.WithLabelValues(engine).Observe(time.Since(start).Seconds())
	}
}

func ObservePDFSize(n int) {
	PDFSizeBytes.Observe(float64(n))
}
