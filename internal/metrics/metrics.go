// Package metrics contains the prometheus metrics of the content-blocking
// subsystem.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the namespace of all metrics.
const Namespace = "trackershield"

// Label names.
const (
	labelKind     = "kind"
	labelRuleList = "rule_list"
)

// Reporter is a [cbevent.Reporter] that updates the metrics.
type Reporter struct {
	// errors counts the reported errors by kind and scope.
	errors *prometheus.CounterVec

	// compilationDuration is the duration of successful compilations by rule
	// list.
	compilationDuration *prometheus.HistogramVec

	// generation is the generation of the published rules.
	generation prometheus.Gauge

	// lists is the number of published rule lists.
	lists prometheus.Gauge
}

// NewReporter returns a new reporter with its metrics registered in reg.
func NewReporter(reg prometheus.Registerer) (r *Reporter, err error) {
	r = &Reporter{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "content_blocking",
			Name:      "errors_total",
			Help:      "The number of content-blocking errors by kind.",
		}, []string{labelKind, labelRuleList}),
		compilationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rules",
			Name:      "compilation_duration_seconds",
			Help:      "The duration of rule-list compilations.",
			// From 1ms to about 16 seconds.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{labelRuleList}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rules",
			Name:      "generation",
			Help:      "The generation of the published rules.",
		}),
		lists: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rules",
			Name:      "published_lists",
			Help:      "The number of published rule lists.",
		}),
	}

	collectors := []prometheus.Collector{
		r.errors,
		r.compilationDuration,
		r.generation,
		r.lists,
	}

	var errs []error
	for _, c := range collectors {
		regErr := reg.Register(c)
		if regErr != nil {
			errs = append(errs, regErr)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return r, nil
}

// type check
var _ cbevent.Reporter = (*Reporter)(nil)

// Report implements the [cbevent.Reporter] interface for *Reporter.
func (r *Reporter) Report(_ context.Context, e *cbevent.Event) {
	if e.Kind == cbevent.KindCompilationTime {
		r.compilationDuration.WithLabelValues(e.Scope).Observe(e.Duration.Seconds())

		return
	}

	r.errors.WithLabelValues(string(e.Kind), e.Scope).Inc()
}

// SetPublished updates the metrics of the published rules.
func (r *Reporter) SetPublished(generation uint64, numLists int) {
	r.generation.Set(float64(generation))
	r.lists.Set(float64(numLists))
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) (h http.Handler) {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
