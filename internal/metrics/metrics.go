package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	incidents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rendersup",
			Subsystem: "surface",
			Name:      "incidents_total",
			Help:      "Number of detected renderer crash incidents.",
		}, []string{"surface", "reason"},
	)
	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rendersup",
			Subsystem: "surface",
			Name:      "recoveries_total",
			Help:      "Recovery outcomes per incident (succeeded, failed, skipped).",
		}, []string{"surface", "outcome"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rendersup",
			Subsystem: "surface",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"surface", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rendersup",
			Subsystem: "surface",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"surface", "state"},
	)
	attachedSurfaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rendersup",
			Subsystem: "surface",
			Name:      "attached",
			Help:      "Number of surfaces currently supervised.",
		},
	)
	listenerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rendersup",
			Name:      "listener_errors_total",
			Help:      "Crash report listeners that returned an error or panicked.",
		}, []string{"surface"},
	)
	historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rendersup",
			Name:      "history_errors_total",
			Help:      "Failed or dropped history sink writes.",
		}, []string{"reason"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{incidents, recoveries, stateTransitions, currentStates, attachedSurfaces, listenerErrors, historyErrors}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncIncident(surface, reason string) {
	if regOK.Load() {
		incidents.WithLabelValues(surface, reason).Inc()
	}
}

func IncRecovery(surface, outcome string) {
	if regOK.Load() {
		recoveries.WithLabelValues(surface, outcome).Inc()
	}
}

// RecordStateTransition counts the transition and moves the current_state gauge.
func RecordStateTransition(surface, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(surface, from, to).Inc()
		currentStates.WithLabelValues(surface, from).Set(0)
		currentStates.WithLabelValues(surface, to).Set(1)
	}
}

// ForgetSurface drops per-state gauges of a detached surface.
func ForgetSurface(surface string) {
	if regOK.Load() {
		currentStates.DeletePartialMatch(prometheus.Labels{"surface": surface})
	}
}

func SetAttached(n int) {
	if regOK.Load() {
		attachedSurfaces.Set(float64(n))
	}
}

func IncListenerError(surface string) {
	if regOK.Load() {
		listenerErrors.WithLabelValues(surface).Inc()
	}
}

func IncHistoryError(reason string) {
	if regOK.Load() {
		historyErrors.WithLabelValues(reason).Inc()
	}
}
