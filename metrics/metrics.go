// Package metrics exposes Prometheus metrics on a dedicated listener,
// separate from the API server, plus counters for the registry's
// enrollment and registration outcomes.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var namespace = "iot_provisioning_auth"

// MetricsServer serves the Prometheus text exposition on its own address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given namespace and listen address.
// The namespace is prepended to every metric name.
func New(ns, listenAddr string) (*MetricsServer, error) {
	if listenAddr == "" {
		return nil, fmt.Errorf("metrics listen address is empty")
	}
	if ns != "" {
		namespace = ns
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// IncEnrollmentWrite counts a stored enrollment record, by record kind.
func IncEnrollmentWrite(kind string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`%s_enrollment_writes_total{kind=%q}`, namespace, kind)).Inc()
}

// IncEnrollmentDelete counts a deleted enrollment record, by record kind.
func IncEnrollmentDelete(kind string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`%s_enrollment_deletes_total{kind=%q}`, namespace, kind)).Inc()
}

// IncRegistrationSuccess counts a device registration that was assigned.
func IncRegistrationSuccess() {
	metrics.GetOrCreateCounter(fmt.Sprintf("%s_registrations_success_total", namespace)).Inc()
}

// IncRegistrationDenied counts a device registration rejected for bad or
// expired credentials.
func IncRegistrationDenied() {
	metrics.GetOrCreateCounter(fmt.Sprintf("%s_registrations_denied_total", namespace)).Inc()
}
