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

// gossipInterval is how often the gossip decorator broadcasts its inner
// detector's current suspect list.
const gossipInterval = 10 * time.Second

// Gossip wraps any Detector and periodically broadcasts its suspect list
// to every known neighbor, merging remote suspect lists back in on
// receipt. It holds the inner detector by shared ownership and delegates
// everything except the SuspectList wire kind and the gossip loop itself.
type Gossip struct {
	inner Detector

	self endpoint.Endpoint
	tr   transport.Transport

	mu        sync.Mutex
	neighbors *endpoint.Set
}

// NewGossip wraps inner with suspect-set propagation.
func NewGossip(inner Detector) *Gossip {
	return &Gossip{inner: inner}
}

// Inner returns the wrapped detector, so callers that need a capability
// beyond the Detector interface (e.g. HeartbeatWindow's jitter stats) can
// reach past the decorator.
func (g *Gossip) Inner() Detector {
	return g.inner
}

// Initialize implements Detector.
func (g *Gossip) Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure) {
	g.mu.Lock()
	g.self = self
	g.tr = tr
	g.neighbors = endpoint.NewSet(self, neighbors...)
	g.mu.Unlock()
	g.inner.Initialize(self, tr, neighbors, onFailure)
}

// AddNeighbor implements Detector.
func (g *Gossip) AddNeighbor(n endpoint.Endpoint) {
	g.mu.Lock()
	g.neighbors.Add(g.self, n)
	g.mu.Unlock()
	g.inner.AddNeighbor(n)
}

// AddSuspects implements Detector.
func (g *Gossip) AddSuspects(list []endpoint.Endpoint) {
	g.inner.AddSuspects(list)
}

// GetSuspectedList implements Detector.
func (g *Gossip) GetSuspectedList() []endpoint.Endpoint {
	return g.inner.GetSuspectedList()
}

// DetectFailures implements Detector: starts the inner detector's
// workflows plus this decorator's own gossip loop.
func (g *Gossip) DetectFailures(ctx context.Context) {
	g.inner.DetectFailures(ctx)
	go g.gossipLoop(ctx)
}

func (g *Gossip) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.gossip()
		}
	}
}

func (g *Gossip) gossip() {
	suspects := g.inner.GetSuspectedList()
	if len(suspects) == 0 {
		return
	}
	g.mu.Lock()
	targets := g.neighbors.List()
	self, tr := g.self, g.tr
	g.mu.Unlock()

	log.Debugf("gossip: broadcasting %d suspects to %d neighbors", len(suspects), len(targets))
	for _, n := range targets {
		send(tr, self, n, wire.SuspectList{Suspects: suspects})
	}
}

// ReceiveMessage implements Detector: offers msg to the inner detector
// first, then tries to consume it as a SuspectList.
func (g *Gossip) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool {
	wrappedLearn := func(n endpoint.Endpoint) {
		g.mu.Lock()
		g.neighbors.Add(g.self, n)
		g.mu.Unlock()
		learnNeighbor(n)
	}
	if g.inner.ReceiveMessage(msg, sender, wrappedLearn) {
		return true
	}
	sl, ok := msg.(*wire.SuspectList)
	if !ok {
		return false
	}
	if !g.neighbors.Contains(sender) {
		wrappedLearn(sender)
	}
	g.inner.AddSuspects(sl.Suspects)
	return true
}
