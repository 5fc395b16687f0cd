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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

const (
	pingInterval             = 4 * time.Second
	pingFailureDetectionInterval = 6 * time.Second
	tolerateFailureFor       = 10 * time.Second
)

type pingAckPeer struct {
	lastSentPing     time.Time
	lastReceivedAck  time.Time
	suspected        bool
}

// PingAck is the active-probe detector: it pings every non-suspected
// neighbor on a fixed interval and convicts whoever's ping/ack gap exceeds
// a fixed tolerance window.
type PingAck struct {
	self      endpoint.Endpoint
	tr        transport.Transport
	onFailure OnFailure

	mu        sync.Mutex
	neighbors *endpoint.Set
	peers     map[endpoint.Endpoint]*pingAckPeer

	idCounter int64
}

// NewPingAck constructs an uninitialized PingAck detector.
func NewPingAck() *PingAck {
	return &PingAck{peers: map[endpoint.Endpoint]*pingAckPeer{}}
}

// Initialize implements Detector.
func (p *PingAck) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = self
	p.tr = tr
	p.onFailure = onFailure
	p.neighbors = endpoint.NewSet(self, neighbors...)
	for _, n := range p.neighbors.List() {
		p.peers[n] = &pingAckPeer{}
	}
}

// AddNeighbor implements Detector.
func (p *PingAck) AddNeighbor(n endpoint.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addNeighborLocked(n)
}

func (p *PingAck) addNeighborLocked(n endpoint.Endpoint) {
	if p.neighbors.Add(p.self, n) {
		p.peers[n] = &pingAckPeer{}
	}
}

// AddSuspects implements Detector.
func (p *PingAck) AddSuspects(list []endpoint.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range list {
		if n == p.self {
			continue
		}
		p.addNeighborLocked(n)
		if peer := p.peers[n]; peer != nil {
			peer.suspected = true
		}
	}
}

// GetSuspectedList implements Detector.
func (p *PingAck) GetSuspectedList() []endpoint.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []endpoint.Endpoint
	for n, peer := range p.peers {
		if peer.suspected {
			out = append(out, n)
		}
	}
	return out
}

// DetectFailures implements Detector.
func (p *PingAck) DetectFailures(ctx context.Context) {
	go p.reportHealthLoop(ctx)
	go p.detectFailuresLoop(ctx)
}

func (p *PingAck) reportHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reportHealth()
		}
	}
}

func (p *PingAck) reportHealth() {
	now := time.Now()
	p.mu.Lock()
	type target struct {
		ep endpoint.Endpoint
		id string
	}
	var targets []target
	for n, peer := range p.peers {
		if peer.suspected {
			continue
		}
		peer.lastSentPing = now
		id := atomic.AddInt64(&p.idCounter, 1)
		targets = append(targets, target{ep: n, id: fmt.Sprintf("%s-%d", p.self, id)})
	}
	self, tr := p.self, p.tr
	p.mu.Unlock()

	for _, t := range targets {
		send(tr, self, t.ep, wire.Ping{MessageID: t.id})
	}
}

func (p *PingAck) detectFailuresLoop(ctx context.Context) {
	ticker := time.NewTicker(pingFailureDetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.detectFailures()
		}
	}
}

func (p *PingAck) detectFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n, peer := range p.peers {
		if peer.lastSentPing.IsZero() {
			continue
		}
		if peer.lastReceivedAck.IsZero() {
			// No ack has ever arrived from this peer. Comparing a zero
			// time against lastSentPing would produce a huge gap and
			// spuriously convict it, so a peer that has simply never
			// answered yet is treated as not-yet-suspected rather than
			// failed.
			continue
		}
		gap := peer.lastReceivedAck.Sub(peer.lastSentPing)
		if gap < 0 {
			gap = -gap
		}
		if gap > tolerateFailureFor {
			if !peer.suspected {
				peer.suspected = true
				log.Debugf("pingack: %s suspected (gap %v)", n, gap)
				if p.onFailure != nil {
					go p.onFailure(n)
				}
			}
		} else if peer.suspected {
			peer.suspected = false
			log.Debugf("pingack: %s recovered", n)
		}
	}
}

// ReceiveMessage implements Detector.
func (p *PingAck) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
	switch m := msg.(type) {
	case *wire.Ping:
		p.mu.Lock()
		if !p.neighbors.Contains(sender) {
			p.mu.Unlock()
			learnNeighbor(sender)
			p.mu.Lock()
		}
		if peer, ok := p.peers[sender]; ok {
			peer.suspected = false
		}
		self, tr := p.self, p.tr
		p.mu.Unlock()
		send(tr, self, sender, wire.Ack{MessageID: fmt.Sprintf("%s-ack-%s", self, m.MessageID), InResponse: m.MessageID})
		return true
	case *wire.Ack:
		p.mu.Lock()
		if !p.neighbors.Contains(sender) {
			p.mu.Unlock()
			learnNeighbor(sender)
			p.mu.Lock()
		}
		if peer, ok := p.peers[sender]; ok {
			peer.lastReceivedAck = time.Now()
			peer.suspected = false
		}
		p.mu.Unlock()
		return true
	default:
		return false
	}
}
