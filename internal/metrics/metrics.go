// Package metrics provides Prometheus metrics for the personal-drive server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personaldrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personaldrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File transfer metrics
	fileBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "personaldrive_file_bytes_downloaded_total",
			Help: "Total bytes streamed from the download endpoint",
		},
	)

	fileBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "personaldrive_file_bytes_uploaded_total",
			Help: "Total bytes written by the upload endpoint",
		},
	)

	fileDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personaldrive_file_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"status"},
	)

	fileUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personaldrive_file_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personaldrive_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Guard metrics
	pathTraversalRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "personaldrive_path_traversal_rejections_total",
			Help: "Total requests rejected by the path confinement guard",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFileDownload records a file download.
func RecordFileDownload(bytes int64, success bool) {
	fileBytesDownloaded.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	fileDownloadsTotal.WithLabelValues(status).Inc()
}

// RecordFileUpload records a file upload.
func RecordFileUpload(bytes int64, success bool) {
	fileBytesUploaded.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	fileUploadsTotal.WithLabelValues(status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPathTraversalRejection records a path confinement rejection.
func RecordPathTraversalRejection() {
	pathTraversalRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
