/*
Copyright (c) Facebook, Inc. and its affiliates.

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

// Package metrics exposes a node's failure-detector and consensus state as
// Prometheus metrics, plus a plaintext /status endpoint for quick curl-based
// inspection.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	log "github.com/sirupsen/logrus"
)

// Registry owns the Prometheus collectors for one node process.
type Registry struct {
	reg *prometheus.Registry

	suspects   prometheus.Gauge
	neighbors  prometheus.Gauge
	round      prometheus.Gauge
	heartbeat  prometheus.Histogram
	cpuPercent prometheus.Gauge
	memPercent prometheus.Gauge

	mu           sync.Mutex
	jitterMean   *prometheus.GaugeVec
	jitterVar    *prometheus.GaugeVec
	statusLookup func() Status
}

// Status is a point-in-time snapshot served at /status.
type Status struct {
	Self      string   `json:"self"`
	Neighbors []string `json:"neighbors"`
	Suspects  []string `json:"suspects"`
	Round     int      `json:"round"`
	Value     string   `json:"value"`
}

// NewRegistry constructs a Registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.suspects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pnode_suspects",
		Help: "Size of the local suspected set.",
	})
	r.neighbors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pnode_neighbors",
		Help: "Size of the local neighbor set.",
	})
	r.round = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pnode_consensus_round",
		Help: "Current consensus round, 0 when idle.",
	})
	r.heartbeat = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "p2pnode_heartbeat_gap_ms",
		Help:    "Observed inter-arrival gap per received heartbeat, in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(50, 2, 10),
	})
	r.jitterMean = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p2pnode_jitter_mean_ms",
		Help: "Welford running mean of roundtrip jitter per peer.",
	}, []string{"peer"})
	r.jitterVar = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p2pnode_jitter_variance_ms2",
		Help: "Welford running variance of roundtrip jitter per peer.",
	}, []string{"peer"})
	r.cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pnode_cpu_percent",
		Help: "Host CPU utilization percent, sampled every MetricsAggregationWindow.",
	})
	r.memPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pnode_mem_percent",
		Help: "Host memory utilization percent, sampled every MetricsAggregationWindow.",
	})

	r.reg.MustRegister(r.suspects, r.neighbors, r.round, r.heartbeat, r.jitterMean, r.jitterVar, r.cpuPercent, r.memPercent)
	return r
}

// SetCounts updates the suspect and neighbor gauges.
func (r *Registry) SetCounts(suspects, neighbors int) {
	r.suspects.Set(float64(suspects))
	r.neighbors.Set(float64(neighbors))
}

// SetRound updates the consensus round gauge.
func (r *Registry) SetRound(round int) {
	r.round.Set(float64(round))
}

// ObserveHeartbeatGap records one inter-arrival gap.
func (r *Registry) ObserveHeartbeatGap(gap time.Duration) {
	r.heartbeat.Observe(float64(gap.Milliseconds()))
}

// SetJitter updates the per-peer welford mean/variance gauges.
func (r *Registry) SetJitter(peer string, mean, variance float64) {
	r.jitterMean.WithLabelValues(peer).Set(mean)
	r.jitterVar.WithLabelValues(peer).Set(variance)
}

// SetStatusSource wires the callback used to answer /status.
func (r *Registry) SetStatusSource(f func() Status) {
	r.mu.Lock()
	r.statusLookup = f
	r.mu.Unlock()
}

// RunHostSampler periodically refreshes the cpu_percent/mem_percent gauges
// from gopsutil, mirroring sptp/client.updateSysStatsForever.
func (r *Registry) RunHostSampler(stop <-chan struct{}, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sampleHost()
		}
	}
}

func (r *Registry) sampleHost() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.cpuPercent.Set(pct[0])
	} else if err != nil {
		log.Warningf("metrics: failed to sample cpu: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.memPercent.Set(vm.UsedPercent)
	} else {
		log.Warningf("metrics: failed to sample mem: %v", err)
	}
}

// Serve starts the /metrics and /status HTTP endpoints and blocks until the
// server stops (or fails to start). Call it in its own goroutine.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", r.serveStatus)
	mux.HandleFunc("/status.json", r.serveStatusJSON)
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serving on %s: %w", addr, err)
	}
	return nil
}

func (r *Registry) serveStatus(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	f := r.statusLookup
	r.mu.Unlock()
	if f == nil {
		http.Error(w, "status source not wired", http.StatusServiceUnavailable)
		return
	}
	s := f()
	fmt.Fprintf(w, "self: %s\n", s.Self)
	fmt.Fprintf(w, "round: %d\n", s.Round)
	fmt.Fprintf(w, "value: %s\n", s.Value)
	fmt.Fprintf(w, "neighbors: %v\n", s.Neighbors)
	fmt.Fprintf(w, "suspects: %v\n", s.Suspects)
}

func (r *Registry) serveStatusJSON(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	f := r.statusLookup
	r.mu.Unlock()
	if f == nil {
		http.Error(w, "status source not wired", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f()); err != nil {
		log.Errorf("metrics: encoding /status.json: %v", err)
	}
}

// Hostname returns the local host name, or "unknown" if it cannot be
// determined.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
