package supervisor

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kivikakk/recogedor/lalog"
)

// Metrics is the small set of counters exposed for every folder task,
// grounded on daemon/maintenance/perfmetrics.go's pattern of wrapping
// internal events in prometheus.CounterVec fields keyed by a folder
// label, registered against a private registry rather than the global
// default one.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSeen     *prometheus.CounterVec
	MessagesAppended *prometheus.CounterVec
	MessagesFlagged  *prometheus.CounterVec
	MessagesHalted   *prometheus.CounterVec
	ScriptErrors     *prometheus.CounterVec
	EndpointErrors   *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
}

// NewMetrics constructs and registers every counter against a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	newCounterVec := func(name, help string) *prometheus.CounterVec {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recogedor",
			Name:      name,
			Help:      help,
		}, []string{"folder"})
		registry.MustRegister(vec)
		return vec
	}
	return &Metrics{
		Registry:         registry,
		MessagesSeen:     newCounterVec("messages_seen_total", "Number of messages observed in a monitored folder."),
		MessagesAppended: newCounterVec("messages_appended_total", "Number of messages appended to a destination store."),
		MessagesFlagged:  newCounterVec("messages_flagged_total", "Number of label updates applied to source messages."),
		MessagesHalted:   newCounterVec("messages_halted_total", "Number of messages whose script execution ran into a halt!."),
		ScriptErrors:     newCounterVec("script_errors_total", "Number of runtime errors raised while interpreting a compiled script."),
		EndpointErrors:   newCounterVec("endpoint_errors_total", "Number of errors communicating with a source or destination endpoint."),
		Reconnects:       newCounterVec("reconnects_total", "Number of times a folder task had to reconnect to its source endpoint."),
	}
}

// Serve exposes the metrics registry over HTTP at /metrics until ctx is
// canceled, matching the teacher's habit of giving every long-running
// daemon a narrow, single-purpose HTTP listener.
func (m *Metrics) Serve(ctx context.Context, listenAddress string, logger lalog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listenAddress, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		logger.Info("Serve", nil, "shutting down metrics listener on %s", listenAddress)
		return server.Close()
	case err := <-errCh:
		return err
	}
}
