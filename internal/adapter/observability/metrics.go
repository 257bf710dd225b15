// Package observability provides logging, metrics, and tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ScreeningsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenings_enqueued_total",
			Help: "Total number of screening analysis jobs enqueued",
		},
	)
	ScreeningsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenings_processing",
			Help: "Number of screening analysis jobs currently processing",
		},
	)
	ScreeningsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenings_completed_total",
			Help: "Total number of screening analysis jobs finished",
		},
		[]string{"outcome"},
	)

	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialogue_sessions_live",
			Help: "Number of sessions with a live connection",
		},
	)
	SessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogue_session_events_total",
			Help: "Total dialogue events by type",
		},
		[]string{"event"},
	)
	SessionsDisplacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dialogue_sessions_displaced_total",
			Help: "Connections displaced by a takeover reconnect",
		},
	)
	TranscriptMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogue_transcript_messages_total",
			Help: "Transcript messages appended by sender",
		},
		[]string{"sender"},
	)

	// Screening outcome distributions
	OverallMatchHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screening_overall_match_pct",
			Help:    "Distribution of overall_match_pct (0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screening_verdicts_total",
			Help: "Total verdicts produced",
		},
		[]string{"verdict"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ScreeningsEnqueuedTotal)
	prometheus.MustRegister(ScreeningsProcessing)
	prometheus.MustRegister(ScreeningsCompletedTotal)
	prometheus.MustRegister(SessionsLive)
	prometheus.MustRegister(SessionEventsTotal)
	prometheus.MustRegister(SessionsDisplacedTotal)
	prometheus.MustRegister(TranscriptMessagesTotal)
	prometheus.MustRegister(OverallMatchHistogram)
	prometheus.MustRegister(VerdictsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueScreening() { ScreeningsEnqueuedTotal.Inc() }

func StartProcessingScreening() { ScreeningsProcessing.Inc() }

func CompleteScreening() {
	ScreeningsProcessing.Dec()
	ScreeningsCompletedTotal.WithLabelValues("ok").Inc()
}

func FailScreening() {
	ScreeningsProcessing.Dec()
	ScreeningsCompletedTotal.WithLabelValues("failed").Inc()
}

func SessionConnected()    { SessionsLive.Inc() }
func SessionDisconnected() { SessionsLive.Dec() }
func SessionDisplaced()    { SessionsDisplacedTotal.Inc() }

func SessionEvent(event string) { SessionEventsTotal.WithLabelValues(event).Inc() }

func TranscriptAppended(sender string) { TranscriptMessagesTotal.WithLabelValues(sender).Inc() }

// ObserveScreeningScore records the outcome of a completed scoring run.
func ObserveScreeningScore(overallPct int, verdict string) {
	if overallPct >= 0 && overallPct <= 100 {
		OverallMatchHistogram.Observe(float64(overallPct))
	}
	VerdictsTotal.WithLabelValues(verdict).Inc()
}
