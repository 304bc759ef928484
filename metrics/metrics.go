// Package metrics exposes the RPC instrumentation over a Prometheus
// scrape endpoint.
//
// Instruments are grouped in a Metrics value so tests can construct their
// own against a private registry; production code normally uses the
// process-wide Default() set, which registers itself exactly once.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Side labels whether an observation came from the client or the server
// half of a call.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// Labels identify one observation. Host and namespace are resolved once
// per process and attached automatically; the rest are computed per
// call/connection.
type Labels struct {
	Side    Side
	Remote  string
	Handler string
	Auth    bool
	TLS     bool
}

var labelNames = []string{"host", "namespace", "side", "remote", "handler", "auth", "tls"}

// Metrics is one set of RPC instruments bound to a Prometheus registerer.
type Metrics struct {
	durations *prometheus.HistogramVec
	sizes     *prometheus.HistogramVec
	errors    *prometheus.CounterVec
}

// New builds and registers the instrument set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arrpc",
				Name:      "request_duration_seconds",
				Help:      "RPC round trip duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			labelNames,
		),
		sizes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arrpc",
				Name:      "request_size_bytes",
				Help:      "Encoded request size in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
			labelNames,
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arrpc",
				Name:      "errors_total",
				Help:      "RPC errors by reason.",
			},
			append(append([]string{}, labelNames...), "reason"),
		),
	}
	reg.MustRegister(m.durations, m.sizes, m.errors)
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide instrument set, registering it on the
// default Prometheus registry on first use. Safe under concurrent first
// use from multiple Client/Server instances.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveDuration records one round trip duration in seconds.
func (m *Metrics) ObserveDuration(l Labels, seconds float64) {
	m.durations.With(l.values()).Observe(seconds)
}

// ObserveSize records one encoded message size in bytes.
func (m *Metrics) ObserveSize(l Labels, bytes float64) {
	m.sizes.With(l.values()).Observe(bytes)
}

// IncError counts one error with a free-text reason.
func (m *Metrics) IncError(l Labels, reason string) {
	values := l.values()
	values["reason"] = reason
	m.errors.With(values).Inc()
}

func (l Labels) values() prometheus.Labels {
	return prometheus.Labels{
		"host":      Hostname(),
		"namespace": Namespace(),
		"side":      string(l.Side),
		"remote":    l.Remote,
		"handler":   l.Handler,
		"auth":      strconv.FormatBool(l.Auth),
		"tls":       strconv.FormatBool(l.TLS),
	}
}

var (
	scrapeMu      sync.Mutex
	scrapeStarted bool
)

// StartScrapeServer serves the default Prometheus registry on
// :port/metrics in a background goroutine. Started at most once per
// process; later calls (any port) are no-ops.
func StartScrapeServer(port int) {
	scrapeMu.Lock()
	defer scrapeMu.Unlock()
	if scrapeStarted {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error().Err(err).Msg("metrics scrape server stopped")
		}
	}()
	scrapeStarted = true
	log.Info().Int("port", port).Msg("Serving prometheus metrics")
}

var (
	hostnameOnce  sync.Once
	hostnameValue string

	namespaceOnce  sync.Once
	namespaceValue string
)

// Hostname resolves the host label once per process: /etc/hostname when
// present, otherwise the kernel hostname, otherwise empty.
func Hostname() string {
	hostnameOnce.Do(func() {
		if b, err := os.ReadFile("/etc/hostname"); err == nil {
			hostnameValue = strings.TrimSpace(string(b))
			return
		}
		if hn, err := os.Hostname(); err == nil {
			hostnameValue = hn
		}
	})
	return hostnameValue
}

// Namespace resolves the Kubernetes namespace label once per process.
// Empty when not running on Kubernetes.
func Namespace() string {
	namespaceOnce.Do(func() {
		b, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
		if err != nil {
			return
		}
		namespaceValue = strings.TrimSpace(string(b))
	})
	return namespaceValue
}
