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

const (
	heartbeatInterval         = 2 * time.Second
	heartbeatDetectionInterval = 4 * time.Second
	fixedRoundtripTime        = 500 * time.Millisecond
)

type heartbeatPeer struct {
	lastReceivedHeartbeat time.Time
	suspected             bool
}

// Heartbeat is the fixed-tolerance passive detector: every peer gets the
// same acceptable roundtrip (500ms), and conviction is a plain gap check
// against heartbeatInterval + roundtripTime.
type Heartbeat struct {
	self      endpoint.Endpoint
	tr        transport.Transport
	onFailure OnFailure

	mu        sync.Mutex
	neighbors *endpoint.Set
	peers     map[endpoint.Endpoint]*heartbeatPeer
}

// NewHeartbeat constructs an uninitialized fixed-heartbeat detector.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{peers: map[endpoint.Endpoint]*heartbeatPeer{}}
}

// Initialize implements Detector.
func (h *Heartbeat) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.self = self
	h.tr = tr
	h.onFailure = onFailure
	h.neighbors = endpoint.NewSet(self, neighbors...)
	for _, n := range h.neighbors.List() {
		h.peers[n] = &heartbeatPeer{}
	}
}

// AddNeighbor implements Detector.
func (h *Heartbeat) AddNeighbor(n endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addNeighborLocked(n)
}

func (h *Heartbeat) addNeighborLocked(n endpoint.Endpoint) {
	if h.neighbors.Add(h.self, n) {
		h.peers[n] = &heartbeatPeer{}
	}
}

// AddSuspects implements Detector.
func (h *Heartbeat) AddSuspects(list []endpoint.Endpoint) {
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
func (h *Heartbeat) GetSuspectedList() []endpoint.Endpoint {
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
func (h *Heartbeat) DetectFailures(ctx context.Context) {
	go h.reportHealthLoop(ctx)
	go h.detectFailuresLoop(ctx)
}

func (h *Heartbeat) reportHealthLoop(ctx context.Context) {
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

func (h *Heartbeat) reportHealth() {
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

func (h *Heartbeat) detectFailuresLoop(ctx context.Context) {
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

func (h *Heartbeat) detectFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for n, peer := range h.peers {
		if peer.lastReceivedHeartbeat.IsZero() {
			continue
		}
		// Gaps are compared in whole milliseconds, so a gap of exactly the
		// threshold does not convict.
		gap := now.Sub(peer.lastReceivedHeartbeat).Truncate(time.Millisecond)
		threshold := fixedRoundtripTime + heartbeatInterval
		if gap > threshold {
			if !peer.suspected {
				peer.suspected = true
				log.Debugf("heartbeat: %s suspected (gap %v > %v)", n, gap, threshold)
				if h.onFailure != nil {
					go h.onFailure(n)
				}
			}
		} else if peer.suspected {
			peer.suspected = false
			log.Debugf("heartbeat: %s recovered", n)
		}
	}
}

// ReceiveMessage implements Detector.
func (h *Heartbeat) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
	hb, ok := msg.(*wire.Heartbeat)
	if !ok {
		return false
	}
	_ = hb
	h.mu.Lock()
	if !h.neighbors.Contains(sender) {
		h.mu.Unlock()
		learnNeighbor(sender)
		h.mu.Lock()
	}
	if peer, ok := h.peers[sender]; ok {
		peer.lastReceivedHeartbeat = time.Now()
		peer.suspected = false
	}
	h.mu.Unlock()
	return true
}
