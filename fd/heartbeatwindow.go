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

package fd

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

type windowPeer struct {
	lastReceivedHeartbeat time.Time
	window                *slidingWindow
	suspected             bool
	suspectedSince         time.Time // lastReceivedHeartbeat at the moment of conviction
}

// HeartbeatWindow tracks, per peer, the acceptable roundtrip as the mean of
// its last slidingWindowSize samples rather than a fixed or
// monotonically-growing constant.
type HeartbeatWindow struct {
	self      endpoint.Endpoint
	tr        transport.Transport
	onFailure OnFailure
	onGap     func(endpoint.Endpoint, time.Duration)

	mu        sync.Mutex
	neighbors *endpoint.Set
	peers     map[endpoint.Endpoint]*windowPeer
}

// NewHeartbeatWindow constructs an uninitialized sliding-window heartbeat
// detector.
func NewHeartbeatWindow() *HeartbeatWindow {
	return &HeartbeatWindow{peers: map[endpoint.Endpoint]*windowPeer{}}
}

// Initialize implements Detector.
func (h *HeartbeatWindow) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.self = self
	h.tr = tr
	h.onFailure = onFailure
	h.neighbors = endpoint.NewSet(self, neighbors...)
	for _, n := range h.neighbors.List() {
		h.peers[n] = &windowPeer{window: newSlidingWindow()}
	}
}

// SetGapObserver wires a callback invoked with every observed inter-arrival
// gap, for /metrics histogram reporting. Optional.
func (h *HeartbeatWindow) SetGapObserver(f func(endpoint.Endpoint, time.Duration)) {
	h.mu.Lock()
	h.onGap = f
	h.mu.Unlock()
}

// AddNeighbor implements Detector.
func (h *HeartbeatWindow) AddNeighbor(n endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addNeighborLocked(n)
}

func (h *HeartbeatWindow) addNeighborLocked(n endpoint.Endpoint) {
	if h.neighbors.Add(h.self, n) {
		h.peers[n] = &windowPeer{window: newSlidingWindow()}
	}
}

// AddSuspects implements Detector.
func (h *HeartbeatWindow) AddSuspects(list []endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range list {
		if n == h.self {
			continue
		}
		h.addNeighborLocked(n)
		if peer := h.peers[n]; peer != nil && !peer.suspected {
			peer.suspected = true
			peer.suspectedSince = peer.lastReceivedHeartbeat
		}
	}
}

// GetSuspectedList implements Detector.
func (h *HeartbeatWindow) GetSuspectedList() []endpoint.Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []endpoint.Endpoint
	for n, peer := range h.peers {
		if peer.suspected {
			out = append(out, n)
		}
	}
	return out
}

// DetectFailures implements Detector.
func (h *HeartbeatWindow) DetectFailures(ctx context.Context) {
	go h.reportHealthLoop(ctx)
	go h.detectFailuresLoop(ctx)
}

func (h *HeartbeatWindow) reportHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reportHealth()
		}
	}
}

func (h *HeartbeatWindow) reportHealth() {
	h.mu.Lock()
	var targets []endpoint.Endpoint
	for n, peer := range h.peers {
		if !peer.suspected {
			targets = append(targets, n)
		}
	}
	self, tr := h.self, h.tr
	h.mu.Unlock()

	for _, n := range targets {
		send(tr, self, n, wire.Heartbeat{})
	}
}

func (h *HeartbeatWindow) detectFailuresLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatDetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.detectFailures()
		}
	}
}

func (h *HeartbeatWindow) detectFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for n, peer := range h.peers {
		if peer.suspected || peer.lastReceivedHeartbeat.IsZero() {
			continue
		}
		threshold := peer.window.mean() + heartbeatInterval
		// Gaps are compared in whole milliseconds, so a gap of exactly the
		// threshold does not convict.
		if now.Sub(peer.lastReceivedHeartbeat).Truncate(time.Millisecond) > threshold {
			peer.suspected = true
			peer.suspectedSince = peer.lastReceivedHeartbeat
			log.Debugf("heartbeat-window: %s suspected (acceptable %v)", n, peer.window.mean())
			if h.onFailure != nil {
				go h.onFailure(n)
			}
		}
	}
}

// JitterSnapshot is one peer's running roundtrip jitter statistics,
// reported independently of the fixed-size window used for conviction.
type JitterSnapshot struct {
	Peer     endpoint.Endpoint
	Mean     float64
	Variance float64
}

// JitterStats reports a JitterSnapshot per known peer.
func (h *HeartbeatWindow) JitterStats() []JitterSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]JitterSnapshot, 0, len(h.peers))
	for n, peer := range h.peers {
		out = append(out, JitterSnapshot{Peer: n, Mean: peer.window.jitter.Mean(), Variance: peer.window.jitter.Variance()})
	}
	return out
}

// ReceiveMessage implements Detector.
func (h *HeartbeatWindow) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
	if _, ok := msg.(*wire.Heartbeat); !ok {
		return false
	}
	h.mu.Lock()
	if !h.neighbors.Contains(sender) {
		h.mu.Unlock()
		learnNeighbor(sender)
		h.mu.Lock()
	}
	now := time.Now()
	if peer, ok := h.peers[sender]; ok {
		var sample time.Duration
		if peer.suspected {
			sample = now.Sub(peer.suspectedSince)
			peer.suspected = false
		} else if !peer.lastReceivedHeartbeat.IsZero() {
			sample = now.Sub(peer.lastReceivedHeartbeat)
		} else {
			sample = 0
		}
		if sample > 0 {
			peer.window.add(sample)
		}
		peer.lastReceivedHeartbeat = now
		if onGap := h.onGap; onGap != nil && sample > 0 {
			go onGap(sender, sample)
		}
	}
	h.mu.Unlock()
	return true
}
