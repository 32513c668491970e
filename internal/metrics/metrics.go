/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// NodeState is 1 for the current state of each service, 0 for the others.
	// Labels: project, service, state
	NodeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stackd",
		Subsystem: "node",
		Name:      "state",
		Help:      "Current lifecycle state of each service",
	}, []string{"project", "service", "state"})

	// Restarts counts restarts applied by the restart policy.
	// Labels: project, service
	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stackd",
		Subsystem: "node",
		Name:      "restarts_total",
		Help:      "Total restarts of each service",
	}, []string{"project", "service"})

	// StartLatency measures the time from Starting to Ready.
	// Labels: project, service
	StartLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stackd",
		Subsystem: "node",
		Name:      "start_latency_seconds",
		Help:      "Time for a service to become ready",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"project", "service"})

	// ProbeFailures counts failed health probes.
	// Labels: service
	ProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stackd",
		Subsystem: "health",
		Name:      "probe_failures_total",
		Help:      "Total failed health probes",
	}, []string{"service"})
)

// SetNodeState records the current state of a service
func SetNodeState(project, service, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		NodeState.WithLabelValues(project, service, s).Set(v)
	}
}

// Serve exposes the metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logrus.Debugf("serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
