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

// suspectLevelMaximum is the number of consecutive missed windows that
// promotes a soft suspicion into a hard conviction.
const suspectLevelMaximum = 3

type suspectLevelPeer struct {
	lastReceivedHeartbeat time.Time
	window                *slidingWindow
	suspected             bool
	suspectedSince        time.Time

	// suspectLevel has its own RWMutex rather than sharing the detector's
	// coarser peer-map mutex: reduceSuspicion updates it after
	// ReceiveMessage has released the peer-map mutex, and level() reads it
	// under a read lock.
	levelMu      sync.RWMutex
	suspectLevel int
}

func (p *suspectLevelPeer) setLevel(n int) {
	p.levelMu.Lock()
	p.suspectLevel = n
	p.levelMu.Unlock()
}

func (p *suspectLevelPeer) level() int {
	p.levelMu.RLock()
	defer p.levelMu.RUnlock()
	return p.suspectLevel
}

// reduceSuspicion decrements the level by one, floored at 0.
func (p *suspectLevelPeer) reduceSuspicion() {
	p.levelMu.Lock()
	if p.suspectLevel > 0 {
		p.suspectLevel--
	}
	p.levelMu.Unlock()
}

// HeartbeatSuspectLevel combines a sliding-window acceptable roundtrip with
// a soft suspectLevel counter, promoted to a hard conviction only after
// suspectLevelMaximum consecutive missed windows. This is the variant that
// most directly approximates an eventually strong failure detector.
type HeartbeatSuspectLevel struct {
	self      endpoint.Endpoint
	tr        transport.Transport
	onFailure OnFailure

	mu        sync.Mutex
	neighbors *endpoint.Set
	peers     map[endpoint.Endpoint]*suspectLevelPeer
}

// NewHeartbeatSuspectLevel constructs an uninitialized suspect-level
// heartbeat detector.
func NewHeartbeatSuspectLevel() *HeartbeatSuspectLevel {
	return &HeartbeatSuspectLevel{peers: map[endpoint.Endpoint]*suspectLevelPeer{}}
}

// Initialize implements Detector.
func (h *HeartbeatSuspectLevel) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.self = self
	h.tr = tr
	h.onFailure = onFailure
	h.neighbors = endpoint.NewSet(self, neighbors...)
	for _, n := range h.neighbors.List() {
		h.peers[n] = &suspectLevelPeer{window: newSlidingWindow()}
	}
}

// AddNeighbor implements Detector.
func (h *HeartbeatSuspectLevel) AddNeighbor(n endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addNeighborLocked(n)
}

func (h *HeartbeatSuspectLevel) addNeighborLocked(n endpoint.Endpoint) {
	if h.neighbors.Add(h.self, n) {
		h.peers[n] = &suspectLevelPeer{window: newSlidingWindow()}
	}
}

// AddSuspects implements Detector.
func (h *HeartbeatSuspectLevel) AddSuspects(list []endpoint.Endpoint) {
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
			peer.setLevel(suspectLevelMaximum)
		}
	}
}

// GetSuspectedList implements Detector.
func (h *HeartbeatSuspectLevel) GetSuspectedList() []endpoint.Endpoint {
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
func (h *HeartbeatSuspectLevel) DetectFailures(ctx context.Context) {
	go h.reportHealthLoop(ctx)
	go h.detectFailuresLoop(ctx)
}

func (h *HeartbeatSuspectLevel) reportHealthLoop(ctx context.Context) {
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

func (h *HeartbeatSuspectLevel) reportHealth() {
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

func (h *HeartbeatSuspectLevel) detectFailuresLoop(ctx context.Context) {
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

func (h *HeartbeatSuspectLevel) detectFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for n, peer := range h.peers {
		if peer.suspected || peer.lastReceivedHeartbeat.IsZero() {
			continue
		}
		acceptable := peer.window.mean()
		gap := now.Sub(peer.lastReceivedHeartbeat)
		level := int(gap / acceptable)
		if level <= 0 {
			continue
		}
		peer.setLevel(level)
		if level >= suspectLevelMaximum {
			peer.suspected = true
			peer.suspectedSince = peer.lastReceivedHeartbeat
			log.Debugf("heartbeat-suspect-level: %s suspected (level %d)", n, level)
			if h.onFailure != nil {
				go h.onFailure(n)
			}
		}
	}
}

// ReceiveMessage implements Detector.
func (h *HeartbeatSuspectLevel) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
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
	peer, ok := h.peers[sender]
	if ok {
		var sample time.Duration
		if peer.suspected {
			sample = now.Sub(peer.suspectedSince)
			peer.suspected = false
		} else if !peer.lastReceivedHeartbeat.IsZero() {
			sample = now.Sub(peer.lastReceivedHeartbeat)
		}
		if sample > 0 {
			peer.window.add(sample)
		}
		peer.lastReceivedHeartbeat = now
	}
	h.mu.Unlock()
	if ok {
		peer.reduceSuspicion()
	}
	return true
}
