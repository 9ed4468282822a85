package metrics

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/DMarby/imageservice-client/internal/handler"
	"github.com/DMarby/imageservice-client/internal/health"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "image_service"

var (
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Hosting url cache lookups by result (hit, miss).",
	}, []string{"result"})
	hostingURLResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hosting_url_resolutions_total",
		Help:      "Hosting urls resolved from the image service by result (success, failure).",
	}, []string{"result"})
	hostingURLBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hosting_url_batch_size",
		Help:      "Number of hosting urls requested from the image service per batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	clientInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "client_requests_in_flight",
		Help:      "Requests to the image service currently in flight.",
	})
	clientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_requests_total",
		Help:      "Requests made to the image service.",
	}, []string{"code", "method"})
	clientRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "client_request_duration_seconds",
		Help:      "Duration of requests made to the image service.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 10},
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(cacheLookups)
	prometheus.MustRegister(hostingURLResolutions)
	prometheus.MustRegister(hostingURLBatchSize)
	prometheus.MustRegister(clientInFlight)
	prometheus.MustRegister(clientRequests)
	prometheus.MustRegister(clientRequestDuration)
}

// CacheLookup records a hosting url cache lookup
func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
}

// HostingURLResolution records the outcome of resolving a hosting url from the image service
func HostingURLResolution(err error) {
	if err != nil {
		hostingURLResolutions.WithLabelValues("failure").Inc()
	} else {
		hostingURLResolutions.WithLabelValues("success").Inc()
	}
}

// HostingURLBatch records the number of hosting urls fetched in one batch
func HostingURLBatch(size int) {
	hostingURLBatchSize.Observe(float64(size))
}

// InstrumentRoundTripper wraps an http.RoundTripper with request metrics
func InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperInFlight(clientInFlight,
		promhttp.InstrumentRoundTripperCounter(clientRequests,
			promhttp.InstrumentRoundTripperDuration(clientRequestDuration, next),
		),
	)
}

// Serve starts an http server for metrics and healthchecks
func Serve(ctx context.Context, log *logger.Logger, healthChecker *health.Checker, listenAddress string) {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/health", handler.Health(healthChecker))

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:     listenAddress,
		Handler:  router,
		ErrorLog: logger.NewHTTPErrorLog(log),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Infof("shutting down the metrics http server: %s", err)
		}
	}()

	log.Infof("metrics http server listening on %s", listenAddress)

	<-ctx.Done()

	if err := server.Close(); err != nil {
		log.Warnf("error shutting down metrics http server: %s", err)
	}
}
