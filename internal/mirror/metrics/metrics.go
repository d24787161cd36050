/*
Copyright 2024 The Ceph-CSI Authors.

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

// Package metrics exposes the peer's operational counters over Prometheus,
// grounded on the teacher's internal/liveness.Run (ticker-driven gauge
// updates plus a bare http.ListenAndServe endpoint).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

var (
	workersRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rbd_mirror_peer",
		Name:      "workers_running",
		Help:      "Number of image replayer workers currently running, by pool id.",
	}, []string{"pool_id"})

	reconcileTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rbd_mirror_peer",
		Name:      "reconcile_ticks_total",
		Help:      "Number of control loop reconciliation passes performed.",
	})

	deletionsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rbd_mirror_peer",
		Name:      "deletions_scheduled_total",
		Help:      "Number of image deletions scheduled with the image deleter.",
	})
)

func init() {
	prometheus.MustRegister(workersRunning, reconcileTicks, deletionsScheduled)
}

// SetWorkersRunning records the current running-worker count for a pool.
func SetWorkersRunning(poolID string, count int) {
	workersRunning.WithLabelValues(poolID).Set(float64(count))
}

// IncReconcileTick counts one control loop pass.
func IncReconcileTick() {
	reconcileTicks.Inc()
}

// IncDeletionsScheduled counts one deletion handed to the image deleter.
func IncDeletionsScheduled() {
	deletionsScheduled.Inc()
}

// Serve starts the Prometheus HTTP endpoint. It blocks and should be run in
// its own goroutine, matching liveness.Run's use of a bare
// http.ListenAndServe rather than a managed http.Server.
func Serve(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.ErrorLogMsg("metrics server on %s exited: %v", address, http.ListenAndServe(address, mux))
}
