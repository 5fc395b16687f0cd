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

// Package node wires a Transport, a fd.Detector, and a consensus.Engine
// together into one running peer: it decodes inbound frames, routes them
// through the FD -> consensus -> user-handler chain, and supervises every
// long-lived loop under one errgroup.Group, the same "if any goroutine
// finishes, we're done" contract as ptp4u/server.Server.Start's
// sync.WaitGroup.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebookincubator/p2pfd/alert"
	"github.com/facebookincubator/p2pfd/consensus"
	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/fd"
	"github.com/facebookincubator/p2pfd/metrics"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

// UserHandler is offered any message neither the detector nor the
// consensus engine consumed. It reports whether it handled the message.
type UserHandler func(msg wire.Message, sender endpoint.Endpoint) bool

// Node owns the transport exclusively; the detector and consensus engine
// only ever borrow it through the send helpers they were initialized with.
// There is a single owner, never a shared mutable reference.
type Node struct {
	cfg *Config

	tr       transport.Transport
	detector fd.Detector
	engine   *consensus.Engine
	metrics  *metrics.Registry
	alert    *alert.Rule

	userHandler UserHandler

	mu        sync.Mutex
	neighbors *endpoint.Set
}

// New constructs a Node from cfg, building the transport and detector
// named by cfg.Protocol/cfg.Detector/cfg.Gossip. Call Resolve on cfg
// before this.
func New(cfg *Config) (*Node, error) {
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	det, err := newDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if cfg.Gossip {
		det = fd.NewGossip(det)
	}

	rule, err := alert.NewRule(cfg.AlertRule)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		tr:        tr,
		detector:  det,
		metrics:   metrics.NewRegistry(),
		alert:     rule,
		neighbors: endpoint.NewSet(cfg.Self, cfg.Neighbors...),
	}

	n.engine = consensus.New(cfg.Self, tr, cfg.Neighbors, cfg.InitialValue, n.onDecide)
	n.detector.Initialize(cfg.Self, tr, cfg.Neighbors, n.onFailure)
	n.metrics.SetStatusSource(n.status)

	gapSource := det
	if g, ok := gapSource.(*fd.Gossip); ok {
		gapSource = g.Inner()
	}
	if gr, ok := gapSource.(interface {
		SetGapObserver(func(endpoint.Endpoint, time.Duration))
	}); ok {
		gr.SetGapObserver(func(_ endpoint.Endpoint, gap time.Duration) {
			n.metrics.ObserveHeartbeatGap(gap)
		})
	}

	return n, nil
}

// SetUserHandler wires a handler for message kinds outside the FD and
// consensus protocols. Optional.
func (n *Node) SetUserHandler(h UserHandler) {
	n.userHandler = h
}

func newTransport(cfg *Config) (transport.Transport, error) {
	switch cfg.Protocol {
	case "tcp":
		return transport.NewStream(cfg.Self)
	case "udp", "":
		return transport.NewDatagram(cfg.Self)
	default:
		return nil, fmt.Errorf("node: unknown protocol %q", cfg.Protocol)
	}
}

func newDetector(name string) (fd.Detector, error) {
	switch name {
	case DetectorPingAck:
		return fd.NewPingAck(), nil
	case DetectorHeartbeat:
		return fd.NewHeartbeat(), nil
	case DetectorHeartbeatRecovery:
		return fd.NewHeartbeatRecovery(), nil
	case DetectorHeartbeatWindow, "":
		return fd.NewHeartbeatWindow(), nil
	case DetectorHeartbeatSuspectLv:
		return fd.NewHeartbeatSuspectLevel(), nil
	default:
		return nil, fmt.Errorf("unknown detector %q (want one of %v)", name, ValidDetectors())
	}
}

// Run starts the node and blocks until ctx is canceled or a supervised
// loop fails. It is the single entry point cmd/p2pnode calls.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.tr.ReceiveLoop(ctx, n.handleFrame)
		if err != nil && ctx.Err() != nil {
			return nil // canceled on purpose, not a real failure
		}
		return err
	})

	g.Go(func() error {
		n.detector.DetectFailures(ctx)
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		n.engine.WarmUpAndStart(ctx, n.cfg.WarmUp)
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		runWatchdog(ctx)
		return nil
	})

	g.Go(func() error {
		n.metrics.RunHostSampler(ctx.Done(), n.cfg.MetricsAggregationWindow)
		return nil
	})

	if n.cfg.MonitoringPort > 0 {
		go func() {
			if err := n.metrics.Serve(n.cfg.MonitoringPort); err != nil {
				log.Errorf("node: metrics server stopped: %v", err)
			}
		}()
	}

	if err := sdNotifyReady(); err != nil {
		log.Warningf("node: sd_notify failed: %v", err)
	}

	return g.Wait()
}

// handleFrame is the router: decode, then FD -> consensus -> user handler.
// Decode failures are transport-transient: log and continue.
func (n *Node) handleFrame(payload []byte) {
	msg, sender, protoVersion, err := wire.Decode(payload)
	if err != nil {
		log.Errorf("node: decoding inbound frame: %v", err)
		return
	}
	wire.CheckVersion(protoVersion)
	if log.GetLevel() >= log.TraceLevel {
		log.Tracef("node: received %s from %s: %s", msg.Kind(), sender, spew.Sdump(msg))
	}

	if n.detector.ReceiveMessage(msg, sender, n.learnNeighbor) {
		n.refreshMetrics()
		return
	}
	if n.engine.ReceiveMessage(msg, sender) {
		n.metrics.SetRound(n.engine.Round())
		return
	}
	if n.userHandler != nil && n.userHandler(msg, sender) {
		return
	}
	log.Debugf("node: no handler consumed %s from %s", msg.Kind(), sender)
}

// learnNeighbor is handed to the detector's ReceiveMessage so a message
// from a previously-unknown sender grows both the detector's and the
// consensus engine's membership: neighbors are learned opportunistically
// from traffic, not only from the configured seed list.
func (n *Node) learnNeighbor(ep endpoint.Endpoint) {
	n.mu.Lock()
	added := n.neighbors.Add(n.cfg.Self, ep)
	n.mu.Unlock()
	if !added {
		return
	}
	log.Infof("node: learned neighbor %s", ep)
	n.detector.AddNeighbor(ep)
	n.engine.AddNeighbor(ep)
	n.refreshMetrics()
}

// onFailure is handed to the detector as its OnFailure callback: it tells
// the consensus engine (which may abandon a round whose coordinator just
// died) and runs the optional alert rule.
func (n *Node) onFailure(ep endpoint.Endpoint) {
	log.Warningf("node: %s suspected failed", ep)
	n.engine.OnFailureDetected(ep)
	n.refreshMetrics()
	n.maybeAlert()
}

func (n *Node) onDecide(value string) {
	log.Infof("node: consensus decided %q", value)
	n.metrics.SetRound(n.engine.Round())
}

// jitterReporter is implemented by HeartbeatWindow only; other detectors
// don't track running jitter.
type jitterReporter interface {
	JitterStats() []fd.JitterSnapshot
}

func (n *Node) refreshMetrics() {
	n.mu.Lock()
	neighborCount := n.neighbors.Len()
	n.mu.Unlock()
	n.metrics.SetCounts(len(n.detector.GetSuspectedList()), neighborCount)

	det := n.detector
	if g, ok := det.(*fd.Gossip); ok {
		det = g.Inner()
	}
	if jr, ok := det.(jitterReporter); ok {
		for _, snap := range jr.JitterStats() {
			n.metrics.SetJitter(snap.Peer.String(), snap.Mean, snap.Variance)
		}
	}
}

func (n *Node) maybeAlert() {
	if n.alert == nil {
		return
	}
	n.mu.Lock()
	neighborCount := n.neighbors.Len()
	n.mu.Unlock()
	suspects := len(n.detector.GetSuspectedList())
	round := n.engine.Round()
	fired, err := n.alert.Evaluate(suspects, neighborCount, round)
	if err != nil {
		log.Warningf("node: alert rule error: %v", err)
		return
	}
	if fired {
		log.Warningf("node: alert rule %q fired (suspects=%d neighbors=%d round=%d)", n.alert, suspects, neighborCount, round)
	}
}

func (n *Node) status() metrics.Status {
	n.mu.Lock()
	neighbors := n.neighbors.List()
	n.mu.Unlock()
	strs := make([]string, len(neighbors))
	for i, ep := range neighbors {
		strs[i] = ep.String()
	}
	suspects := n.detector.GetSuspectedList()
	suspectStrs := make([]string, len(suspects))
	for i, ep := range suspects {
		suspectStrs[i] = ep.String()
	}
	return metrics.Status{
		Self:      n.cfg.Self.String(),
		Neighbors: strs,
		Suspects:  suspectStrs,
		Round:     n.engine.Round(),
		Value:     n.engine.Value(),
	}
}

// Close releases the underlying transport socket(s).
func (n *Node) Close() error {
	return n.tr.Close()
}
