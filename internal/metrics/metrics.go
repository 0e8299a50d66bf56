// Package metrics exposes Prometheus instrumentation for the companion daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tskodi_documents_fetched_total",
		Help: "Total number of resource-graph documents fetched, by HTTP method",
	}, []string{"method"})

	documentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tskodi_document_errors_total",
		Help: "Total number of failed document fetches, by error kind",
	}, []string{"kind"})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tskodi_session_state",
		Help: "Playback RPC session state (exactly one state has value 1)",
	}, []string{"state"})

	sessionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tskodi_session_reconnects_total",
		Help: "Total number of reconnect attempts after an unexpected close",
	})

	commandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tskodi_commands_sent_total",
		Help: "Total number of outbound RPC commands, by method",
	}, []string{"method"})

	statePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tskodi_state_pushes_total",
		Help: "Total number of player state pushes, by kind (full or diff)",
	}, []string{"kind"})

	ticksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tskodi_ticks_skipped_total",
		Help: "Total number of update ticks skipped because the local player state could not be read",
	})
)

var sessionStates = []string{"disconnected", "connecting", "open", "registered", "closed"}

// RecordDocumentFetch increments the fetched-documents counter.
func RecordDocumentFetch(method string) {
	documentsFetched.WithLabelValues(method).Inc()
}

// RecordDocumentError increments the failed-fetch counter.
func RecordDocumentError(kind string) {
	documentErrors.WithLabelValues(kind).Inc()
}

// SetSessionState records the active RPC session state.
func SetSessionState(state string) {
	for _, s := range sessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		sessionState.WithLabelValues(s).Set(value)
	}
}

// RecordSessionReconnect increments the reconnect counter.
func RecordSessionReconnect() {
	sessionReconnects.Inc()
}

// RecordCommandSent increments the outbound-command counter.
func RecordCommandSent(method string) {
	commandsSent.WithLabelValues(method).Inc()
}

// RecordStatePush increments the state-push counter.
func RecordStatePush(kind string) {
	statePushes.WithLabelValues(kind).Inc()
}

// RecordTickSkipped increments the skipped-tick counter.
func RecordTickSkipped() {
	ticksSkipped.Inc()
}
