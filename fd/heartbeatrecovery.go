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

type recoveryPeer struct {
	lastReceivedHeartbeat time.Time
	roundtripTime         time.Duration // mutable, starts at fixedRoundtripTime
	suspected             bool
}

// HeartbeatRecovery is like the fixed detector, but the per-peer roundtrip
// grows to absorb whatever gap a peer was silent for. There is no periodic
// unmark: recovery happens only when a heartbeat actually arrives from a
// suspected peer.
type HeartbeatRecovery struct {
	self      endpoint.Endpoint
	tr        transport.Transport
	onFailure OnFailure

	mu        sync.Mutex
	neighbors *endpoint.Set
	peers     map[endpoint.Endpoint]*recoveryPeer
}

// NewHeartbeatRecovery constructs an uninitialized recovery-adjusted
// heartbeat detector.
func NewHeartbeatRecovery() *HeartbeatRecovery {
	return &HeartbeatRecovery{peers: map[endpoint.Endpoint]*recoveryPeer{}}
}

// Initialize implements Detector.
func (h *HeartbeatRecovery) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.self = self
	h.tr = tr
	h.onFailure = onFailure
	h.neighbors = endpoint.NewSet(self, neighbors...)
	for _, n := range h.neighbors.List() {
		h.peers[n] = &recoveryPeer{roundtripTime: fixedRoundtripTime}
	}
}

// AddNeighbor implements Detector.
func (h *HeartbeatRecovery) AddNeighbor(n endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addNeighborLocked(n)
}

func (h *HeartbeatRecovery) addNeighborLocked(n endpoint.Endpoint) {
	if h.neighbors.Add(h.self, n) {
		h.peers[n] = &recoveryPeer{roundtripTime: fixedRoundtripTime}
	}
}

// AddSuspects implements Detector.
func (h *HeartbeatRecovery) AddSuspects(list []endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range list {
		if n == h.self {
			continue
		}
		h.addNeighborLocked(n)
		if peer := h.peers[n]; peer != nil {
			peer.suspected = true
		}
	}
}

// GetSuspectedList implements Detector.
func (h *HeartbeatRecovery) GetSuspectedList() []endpoint.Endpoint {
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
func (h *HeartbeatRecovery) DetectFailures(ctx context.Context) {
	go h.reportHealthLoop(ctx)
	go h.detectFailuresLoop(ctx)
}

func (h *HeartbeatRecovery) reportHealthLoop(ctx context.Context) {
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

func (h *HeartbeatRecovery) reportHealth() {
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

func (h *HeartbeatRecovery) detectFailuresLoop(ctx context.Context) {
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

// detectFailures only ever marks: recovery happens exclusively in
// ReceiveMessage, when a heartbeat finally arrives.
func (h *HeartbeatRecovery) detectFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for n, peer := range h.peers {
		if peer.suspected || peer.lastReceivedHeartbeat.IsZero() {
			continue
		}
		gap := now.Sub(peer.lastReceivedHeartbeat)
		if gap > peer.roundtripTime+heartbeatInterval {
			peer.suspected = true
			log.Debugf("heartbeat-recovery: %s suspected (gap %v > %v)", n, gap, peer.roundtripTime+heartbeatInterval)
			if h.onFailure != nil {
				go h.onFailure(n)
			}
		}
	}
}

// ReceiveMessage implements Detector.
func (h *HeartbeatRecovery) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
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
		if peer.suspected {
			peer.roundtripTime = now.Sub(peer.lastReceivedHeartbeat)
			peer.suspected = false
			log.Debugf("heartbeat-recovery: %s recovered, new roundtrip %v", sender, peer.roundtripTime)
		}
		peer.lastReceivedHeartbeat = now
	}
	h.mu.Unlock()
	return true
}
