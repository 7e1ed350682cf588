// Package metrics provides Prometheus metrics for the supervised server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/frontman/internal/process"
)

// Phases lists every supervisor phase label, in lifecycle order.
var Phases = phaseLabels()

func phaseLabels() []string {
	labels := make([]string, len(process.Phases))
	for i, p := range process.Phases {
		labels[i] = string(p)
	}
	return labels
}

var (
	supervisorPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "frontman",
		Subsystem: "supervisor",
		Name:      "phase",
		Help:      "1 for the current phase of the supervised server, 0 for the others",
	}, []string{"identifier", "phase"})

	startDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "frontman",
		Subsystem: "supervisor",
		Name:      "start_duration_seconds",
		Help:      "Time from launch until the server accepted connections",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 25, 60},
	}, []string{"identifier"})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "frontman",
		Subsystem: "supervisor",
		Name:      "reloads_total",
		Help:      "Reload attempts by result",
	}, []string{"identifier", "result"})

	exitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "frontman",
		Subsystem: "supervisor",
		Name:      "exits_total",
		Help:      "Exits of the server that were not requested",
	}, []string{"identifier"})
)

// SetPhase marks phase as the current one for identifier.
func SetPhase(identifier, phase string) {
	for _, p := range Phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		supervisorPhase.WithLabelValues(identifier, p).Set(v)
	}
}

// ObserveStartDuration records how long a successful start took.
func ObserveStartDuration(identifier string, d time.Duration) {
	startDuration.WithLabelValues(identifier).Observe(d.Seconds())
}

// IncReload counts a reload attempt; failed reports whether it returned an error.
func IncReload(identifier string, failed bool) {
	result := "success"
	if failed {
		result = "error"
	}
	reloadsTotal.WithLabelValues(identifier, result).Inc()
}

// IncExit counts an exit the supervisor did not request.
func IncExit(identifier string) {
	exitsTotal.WithLabelValues(identifier).Inc()
}

// Delete removes all series for identifier.
func Delete(identifier string) {
	for _, p := range Phases {
		supervisorPhase.DeleteLabelValues(identifier, p)
	}
	startDuration.DeleteLabelValues(identifier)
	reloadsTotal.DeleteLabelValues(identifier, "success")
	reloadsTotal.DeleteLabelValues(identifier, "error")
	exitsTotal.DeleteLabelValues(identifier)
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
